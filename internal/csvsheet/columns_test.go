package csvsheet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindColumnIndex(t *testing.T) {
	tests := []struct {
		name       string
		header     []string
		candidates []string
		want       int
	}{
		{
			name:       "substring match on first candidate",
			header:     []string{"Company_ID", "Name", "Image_Path"},
			candidates: []string{"id", "company_id"},
			want:       0,
		},
		{
			name:       "candidate order beats column order",
			header:     []string{"Photo", "Image_URL"},
			candidates: []string{"image_url", "photo"},
			want:       1,
		},
		{
			name:       "quotes and case normalised",
			header:     []string{`"NAME"`, " 'Description' "},
			candidates: []string{"description"},
			want:       1,
		},
		{
			name:       "falls through to later candidate",
			header:     []string{"ID", "Title"},
			candidates: []string{"name", "title", "project_name"},
			want:       1,
		},
		{
			name:       "absent",
			header:     []string{"ID", "Name"},
			candidates: []string{"active", "status"},
			want:       -1,
		},
		{
			name:       "empty header",
			header:     nil,
			candidates: []string{"id"},
			want:       -1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, FindColumnIndex(tc.header, tc.candidates))
		})
	}
}

func TestMapColumnsAndMissing(t *testing.T) {
	header := []string{"ID", "Name", "Description", "NULL", "Image_Path", "Active"}
	table := Synonyms{
		"id":     {"id", "company_id"},
		"name":   {"name", "title"},
		"image":  {"image_url", "image", "image_path"},
		"active": {"active", "status"},
		"loc":    {"id_loc", "location_id", "loc"},
	}

	indexes := MapColumns(header, table)
	require.Equal(t, map[string]int{
		"id":     0,
		"name":   1,
		"image":  4,
		"active": 5,
		"loc":    -1,
	}, indexes)

	require.Empty(t, Missing(indexes, "id", "name"))
	require.Equal(t, []string{"loc", "other"}, Missing(indexes, "loc", "name", "other"))
}
