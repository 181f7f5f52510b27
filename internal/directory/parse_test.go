package directory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/sheets"
)

var fetchedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestParseCompanies(t *testing.T) {
	text := "ID,Name,Description,NULL,Image_Path,Active\n" +
		"1,Acme Homes,\"Riverside, towers\",,https://img/1.png,1\n" +
		"2.0,Globex,Villas,,,0\n" +
		",Nameless,,,,1\n" +
		"3,,No name,,,1\n"

	companies, err := ParseCompanies(text, fetchedAt)
	require.NoError(t, err)
	require.Equal(t, []models.Company{
		{ID: "1", Name: "Acme Homes", Description: "Riverside, towers", ImageURL: "https://img/1.png", Active: 1, FetchedAt: fetchedAt},
		{ID: "2", Name: "Globex", Description: "Villas", Active: 0, FetchedAt: fetchedAt},
	}, companies)
}

func TestParseProjectsUsesProjectIDBeforeCompanyReference(t *testing.T) {
	text := "Company_ID,Project_ID,Project_Name,Feature,Photo,Status,Location_ID\n" +
		"1,p-10,Harbor Tower,Sea view,pic.jpg,active,L1\n"

	projects, err := ParseProjects(text, fetchedAt)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, models.Project{
		ID:          "p-10",
		CompanyID:   "1",
		Name:        "Harbor Tower",
		Description: "Sea view",
		ImageURL:    "pic.jpg",
		Active:      1,
		LocationID:  "L1",
		FetchedAt:   fetchedAt,
	}, projects[0])
}

func TestParsePlaces(t *testing.T) {
	text := "id,title,address,img\nA1,Old Town,\"1 Main St\nFloor 2\",a.png\n"

	places, err := ParsePlaces(text, fetchedAt)
	require.NoError(t, err)
	require.Equal(t, []models.Place{{
		ID:        "A1",
		Name:      "Old Town",
		Address:   "1 Main St\nFloor 2",
		ImageURL:  "a.png",
		Active:    1,
		FetchedAt: fetchedAt,
	}}, places)
}

func TestParseMissingRequiredColumns(t *testing.T) {
	_, err := ParseCompanies("Description,Photo\nx,y\n", fetchedAt)

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, sheets.Companies, parseErr.Sheet)
	require.Equal(t, []string{FieldID, FieldName}, parseErr.Missing)
	require.Contains(t, err.Error(), "missing required column(s): id, name")
}

func TestParseEmptySheet(t *testing.T) {
	_, err := ParsePlaces("\n\n", fetchedAt)
	require.ErrorIs(t, err, sheets.ErrEmptySheet)
}

func TestNormalizeID(t *testing.T) {
	require.Equal(t, "7", normalizeID("7.0"))
	require.Equal(t, "7", normalizeID(" 7 "))
	require.Equal(t, "p-1", normalizeID("p-1"))
	require.Equal(t, "7.5", normalizeID("7.5"))
	require.Equal(t, "", normalizeID(""))
}

func TestParseActive(t *testing.T) {
	for _, v := range []string{"1", "", "TRUE", "yes", "Active"} {
		require.Equal(t, 1, parseActive(v), v)
	}
	for _, v := range []string{"0", "false", "No", "inactive"} {
		require.Equal(t, 0, parseActive(v), v)
	}
}
