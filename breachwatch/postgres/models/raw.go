// File: raw.go
package models

import (
	"time"
)

// RawIncident is an externally reported breach as loaded from the incident CSV.
type RawIncident struct {
	EventID         string     `gorm:"primaryKey;size:255" json:"event_id"`
	EventDate       *time.Time `gorm:"type:date" json:"event_date,omitempty"`
	Organization    *string    `json:"organization,omitempty"`
	Industry        *string    `json:"industry,omitempty"`
	BreachType      *string    `json:"breach_type,omitempty"`
	RecordsAffected *int64     `json:"records_affected,omitempty"`
	Location        *string    `json:"location,omitempty"`
	Description     *string    `gorm:"type:text" json:"description,omitempty"`
	SourceURL       *string    `json:"source_url,omitempty"`
}

func (RawIncident) TableName() string {
	return "raw_breach_events"
}

// RawIncidentColumns is the column order used when upserting raw incidents.
var RawIncidentColumns = []string{
	"event_id", "event_date", "organization", "industry", "breach_type",
	"records_affected", "location", "description", "source_url",
}

// Row flattens the record in RawIncidentColumns order.
func (r RawIncident) Row() []any {
	return []any{
		r.EventID, r.EventDate, r.Organization, r.Industry, r.BreachType,
		r.RecordsAffected, r.Location, r.Description, r.SourceURL,
	}
}

// RawVulnerability is one entry of the known-exploited-vulnerabilities feed.
// The same cve_id may appear several times with different date_added values.
type RawVulnerability struct {
	CVEID                      string     `gorm:"primaryKey;size:64" json:"cve_id"`
	DateAdded                  time.Time  `gorm:"primaryKey;type:date" json:"date_added"`
	VendorProject              *string    `json:"vendor_project,omitempty"`
	Product                    *string    `json:"product,omitempty"`
	VulnerabilityName          *string    `json:"vulnerability_name,omitempty"`
	ShortDescription           *string    `gorm:"type:text" json:"short_description,omitempty"`
	RequiredAction             *string    `gorm:"type:text" json:"required_action,omitempty"`
	DueDate                    *time.Time `gorm:"type:date" json:"due_date,omitempty"`
	KnownRansomwareCampaignUse *string    `json:"known_ransomware_campaign_use,omitempty"`
	Notes                      *string    `gorm:"type:text" json:"notes,omitempty"`
	SourceURL                  *string    `json:"source_url,omitempty"`
}

func (RawVulnerability) TableName() string {
	return "raw_kev_cves"
}

// RawVulnerabilityColumns is the column order used when upserting feed entries.
var RawVulnerabilityColumns = []string{
	"cve_id", "vendor_project", "product", "vulnerability_name", "date_added",
	"short_description", "required_action", "due_date",
	"known_ransomware_campaign_use", "notes", "source_url",
}

// Row flattens the record in RawVulnerabilityColumns order.
func (r RawVulnerability) Row() []any {
	return []any{
		r.CVEID, r.VendorProject, r.Product, r.VulnerabilityName, r.DateAdded,
		r.ShortDescription, r.RequiredAction, r.DueDate,
		r.KnownRansomwareCampaignUse, r.Notes, r.SourceURL,
	}
}
