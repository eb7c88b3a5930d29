// File: staging.go
package models

import (
	"time"
)

// StagingIncident is a cleaned incident with defaults applied and flags derived.
type StagingIncident struct {
	EventID         string    `gorm:"primaryKey;size:255" json:"event_id"`
	EventDate       time.Time `gorm:"type:date;not null;index" json:"event_date"`
	Industry        string    `gorm:"not null" json:"industry"`
	BreachType      string    `gorm:"not null" json:"breach_type"`
	RecordsAffected *int64    `json:"records_affected,omitempty"`
	Location        *string   `json:"location,omitempty"`
	RansomwareFlag  bool      `gorm:"not null" json:"ransomware_flag"`
	MegaBreach      bool      `gorm:"not null" json:"mega_breach"`
	SourceURL       *string   `json:"source_url,omitempty"`
}

func (StagingIncident) TableName() string {
	return "staging_breach_events"
}

// StagingVulnerability is the newest feed entry for a cve_id.
type StagingVulnerability struct {
	CVEID                      string     `gorm:"primaryKey;size:64" json:"cve_id"`
	VendorProject              *string    `json:"vendor_project,omitempty"`
	Product                    *string    `json:"product,omitempty"`
	VulnerabilityName          *string    `json:"vulnerability_name,omitempty"`
	DateAdded                  time.Time  `gorm:"type:date;not null;index" json:"date_added"`
	DueDate                    *time.Time `gorm:"type:date" json:"due_date,omitempty"`
	KnownRansomwareCampaignUse bool       `gorm:"not null" json:"known_ransomware_campaign_use"`
	Notes                      *string    `gorm:"type:text" json:"notes,omitempty"`
	SourceURL                  *string    `json:"source_url,omitempty"`
}

func (StagingVulnerability) TableName() string {
	return "staging_kev_cves"
}

// EnrichedVulnerability holds severity and classification detail from NVD.
type EnrichedVulnerability struct {
	CVEID         string     `gorm:"primaryKey;size:64" json:"cve_id"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	LastModified  *time.Time `json:"last_modified,omitempty"`
	CVSSBaseScore *float64   `json:"cvss_base_score,omitempty"`
	CVSSSeverity  *string    `json:"cvss_severity,omitempty"`
	AttackVector  *string    `json:"attack_vector,omitempty"`
	CWEID         *string    `gorm:"column:cwe_id" json:"cwe_id,omitempty"`
}

func (EnrichedVulnerability) TableName() string {
	return "staging_cve_enriched"
}

// EnrichedVulnerabilityColumns is the column order used when upserting NVD detail.
var EnrichedVulnerabilityColumns = []string{
	"cve_id", "published_date", "last_modified", "cvss_base_score",
	"cvss_severity", "attack_vector", "cwe_id",
}

// Row flattens the record in EnrichedVulnerabilityColumns order.
func (e EnrichedVulnerability) Row() []any {
	return []any{
		e.CVEID, e.PublishedDate, e.LastModified, e.CVSSBaseScore,
		e.CVSSSeverity, e.AttackVector, e.CWEID,
	}
}
