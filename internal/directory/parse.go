package directory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charlesng35/estatedir/internal/csvsheet"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/sheets"
)

// ParseError reports a sheet whose header lacks required columns.
type ParseError struct {
	Sheet   sheets.Sheet
	Missing []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s sheet is missing required column(s): %s", e.Sheet, strings.Join(e.Missing, ", "))
}

type rowBuilder[T any] func(row []string, idx map[string]int) T

func parseSheet[T any](sheet sheets.Sheet, text string, table csvsheet.Synonyms, build rowBuilder[T]) ([]T, error) {
	rows := csvsheet.Parse(text)
	if len(rows) == 0 {
		return nil, sheets.ErrEmptySheet
	}

	idx := csvsheet.MapColumns(rows[0], table)
	if missing := csvsheet.Missing(idx, requiredFields...); len(missing) > 0 {
		return nil, &ParseError{Sheet: sheet, Missing: missing}
	}

	out := make([]T, 0, len(rows)-1)
	for _, row := range rows[1:] {
		// Rows without an id or name cannot be addressed and are skipped.
		if csvsheet.Field(row, idx[FieldID]) == "" || csvsheet.Field(row, idx[FieldName]) == "" {
			continue
		}
		out = append(out, build(row, idx))
	}
	return out, nil
}

// ParseCompanies maps the companies sheet export onto Company records.
func ParseCompanies(text string, fetchedAt time.Time) ([]models.Company, error) {
	return parseSheet(sheets.Companies, text, CompanyColumns, func(row []string, idx map[string]int) models.Company {
		return models.Company{
			ID:          normalizeID(csvsheet.Field(row, idx[FieldID])),
			Name:        csvsheet.Field(row, idx[FieldName]),
			Description: csvsheet.Field(row, idx[FieldDescription]),
			ImageURL:    csvsheet.Field(row, idx[FieldImage]),
			Active:      parseActive(csvsheet.Field(row, idx[FieldActive])),
			LocationID:  normalizeID(csvsheet.Field(row, idx[FieldLocationID])),
			FetchedAt:   fetchedAt,
		}
	})
}

// ParseProjects maps the projects sheet export onto Project records.
func ParseProjects(text string, fetchedAt time.Time) ([]models.Project, error) {
	return parseSheet(sheets.Projects, text, ProjectColumns, func(row []string, idx map[string]int) models.Project {
		return models.Project{
			ID:          normalizeID(csvsheet.Field(row, idx[FieldID])),
			CompanyID:   normalizeID(csvsheet.Field(row, idx[FieldCompanyID])),
			Name:        csvsheet.Field(row, idx[FieldName]),
			Description: csvsheet.Field(row, idx[FieldDescription]),
			ImageURL:    csvsheet.Field(row, idx[FieldImage]),
			Active:      parseActive(csvsheet.Field(row, idx[FieldActive])),
			LocationID:  normalizeID(csvsheet.Field(row, idx[FieldLocationID])),
			FetchedAt:   fetchedAt,
		}
	})
}

// ParsePlaces maps the places sheet export onto Place records.
func ParsePlaces(text string, fetchedAt time.Time) ([]models.Place, error) {
	return parseSheet(sheets.Places, text, PlaceColumns, func(row []string, idx map[string]int) models.Place {
		return models.Place{
			ID:          normalizeID(csvsheet.Field(row, idx[FieldID])),
			Name:        csvsheet.Field(row, idx[FieldName]),
			Description: csvsheet.Field(row, idx[FieldDescription]),
			Address:     csvsheet.Field(row, idx[FieldAddress]),
			ImageURL:    csvsheet.Field(row, idx[FieldImage]),
			Active:      parseActive(csvsheet.Field(row, idx[FieldActive])),
			FetchedAt:   fetchedAt,
		}
	})
}

// normalizeID keeps numeric ids as their decimal text, so "7.0" from a number-formatted cell
// becomes "7".
func normalizeID(value string) string {
	value = strings.TrimSpace(value)
	if f, err := strconv.ParseFloat(value, 64); err == nil && f == float64(int64(f)) && strings.ContainsAny(value, ".eE") {
		return strconv.FormatInt(int64(f), 10)
	}
	return value
}

// parseActive reads the active/status cell. A missing or blank cell counts as active.
func parseActive(value string) int {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "no", "n", "inactive", "hidden", "disabled":
		return 0
	default:
		return 1
	}
}
