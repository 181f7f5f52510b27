package directory

import "github.com/charlesng35/estatedir/internal/csvsheet"

// Logical fields shared by the sheets.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldDescription = "description"
	FieldImage       = "image"
	FieldActive      = "active"
	FieldLocationID  = "location_id"
	FieldCompanyID   = "company_id"
	FieldAddress     = "address"
)

var (
	nameSynonyms        = []string{"name", "title", "project_name"}
	descriptionSynonyms = []string{"description", "desc", "detail", "feature"}
	imageSynonyms       = []string{"image_url", "image", "image_path", "photo", "pic", "img"}
	activeSynonyms      = []string{"active", "status"}
	locationSynonyms    = []string{"id_loc", "location_id", "loc"}
)

// CompanyColumns resolves the companies sheet.
var CompanyColumns = csvsheet.Synonyms{
	FieldID:          {"id", "company_id"},
	FieldName:        nameSynonyms,
	FieldDescription: descriptionSynonyms,
	FieldImage:       imageSynonyms,
	FieldActive:      activeSynonyms,
	FieldLocationID:  locationSynonyms,
}

// ProjectColumns resolves the projects sheet. The id candidates start with project_id so the
// company reference column is not taken for the project's own id.
var ProjectColumns = csvsheet.Synonyms{
	FieldID:          {"project_id", "id"},
	FieldCompanyID:   {"company_id", "company", "developer"},
	FieldName:        nameSynonyms,
	FieldDescription: descriptionSynonyms,
	FieldImage:       imageSynonyms,
	FieldActive:      activeSynonyms,
	FieldLocationID:  locationSynonyms,
}

// PlaceColumns resolves the places sheet.
var PlaceColumns = csvsheet.Synonyms{
	FieldID:          {"place_id", "id"},
	FieldName:        nameSynonyms,
	FieldDescription: descriptionSynonyms,
	FieldAddress:     {"address", "location", "place"},
	FieldImage:       imageSynonyms,
	FieldActive:      activeSynonyms,
}

var requiredFields = []string{FieldID, FieldName}
