package models

import "time"

// Company is a property-development company row from the companies sheet.
type Company struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	Active      int       `gorm:"not null" json:"active"`
	LocationID  string    `gorm:"size:64;index" json:"location_id,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// IsActive reports whether the sheet marks the company as shown.
func (c Company) IsActive() bool { return c.Active != 0 }

// Project is a development project row from the projects sheet.
type Project struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	CompanyID   string    `gorm:"size:64;index" json:"company_id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	Active      int       `gorm:"not null" json:"active"`
	LocationID  string    `gorm:"size:64;index" json:"location_id,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// IsActive reports whether the sheet marks the project as shown.
func (p Project) IsActive() bool { return p.Active != 0 }

// Place is a location row from the places sheet.
type Place struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	ImageURL    string    `json:"image_url"`
	Active      int       `gorm:"not null" json:"active"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// IsActive reports whether the sheet marks the place as shown.
func (p Place) IsActive() bool { return p.Active != 0 }
