// File: mart.go
package models

import (
	"time"
)

// IndustryTimeMetric is the monthly incident aggregate for one industry.
type IndustryTimeMetric struct {
	PeriodStart     time.Time `gorm:"primaryKey;type:date" json:"period_start"`
	Industry        string    `gorm:"primaryKey" json:"industry"`
	BreachCount     int       `gorm:"not null" json:"breach_count"`
	RansomwareCount int       `gorm:"not null" json:"ransomware_count"`
	RansomwareShare float64   `gorm:"not null" json:"ransomware_share"`
	MedianRecords   *float64  `json:"median_records,omitempty"`
	MegaBreachRate  float64   `gorm:"not null" json:"mega_breach_rate"`
}

func (IndustryTimeMetric) TableName() string {
	return "mart_industry_time_metrics"
}

// KEVPressure is the monthly vulnerability-pressure aggregate.
type KEVPressure struct {
	PeriodStart   time.Time `gorm:"primaryKey;type:date" json:"period_start"`
	KEVAddedCount int       `gorm:"column:kev_added_count;not null" json:"kev_added_count"`
	KEVAdded30d   int       `gorm:"column:kev_added_30d;not null" json:"kev_added_30d"`
	KEVAdded90d   int       `gorm:"column:kev_added_90d;not null" json:"kev_added_90d"`
	AvgCVSSRecent *float64  `gorm:"column:avg_cvss_recent" json:"avg_cvss_recent"`
}

func (KEVPressure) TableName() string {
	return "mart_kev_pressure"
}

// TrainingExample is one labeled feature row per staged incident.
type TrainingExample struct {
	EventID          string    `gorm:"primaryKey;size:255" json:"event_id"`
	EventDate        time.Time `gorm:"type:date;not null" json:"event_date"`
	Industry         string    `gorm:"not null" json:"industry"`
	BreachType       string    `gorm:"not null" json:"breach_type"`
	RansomwareFlag   bool      `gorm:"not null" json:"ransomware_flag"`
	KEVAdded30d      int       `gorm:"column:kev_added_30d;not null" json:"kev_added_30d"`
	KEVAdded90d      int       `gorm:"column:kev_added_90d;not null" json:"kev_added_90d"`
	AvgCVSSRecent    *float64  `gorm:"column:avg_cvss_recent" json:"avg_cvss_recent"`
	TargetHighImpact bool      `gorm:"not null" json:"target_high_impact"`
}

func (TrainingExample) TableName() string {
	return "mart_model_training_set"
}

// All lists every pipeline table model in dependency order, for migrations.
func All() []any {
	return []any{
		&RawIncident{},
		&RawVulnerability{},
		&StagingIncident{},
		&StagingVulnerability{},
		&EnrichedVulnerability{},
		&IndustryTimeMetric{},
		&KEVPressure{},
		&TrainingExample{},
	}
}
