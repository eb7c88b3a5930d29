package pipeline

import (
	"fmt"
	"strings"
)

// Stage names one independently runnable step.
type Stage string

const (
	StageIngestBreaches Stage = "ingest-breaches"
	StageIngestKEV      Stage = "ingest-kev"
	StageStaging        Stage = "staging"
	StageEnrich         Stage = "enrich"
	StageMarts          Stage = "marts"
	// StageAll runs every stage in Order.
	StageAll Stage = "all"
)

// Order is the dependency order StageAll follows.
var Order = []Stage{StageIngestBreaches, StageIngestKEV, StageStaging, StageEnrich, StageMarts}

// ParseStage accepts a stage name in any case, ignoring surrounding space.
func ParseStage(s string) (Stage, error) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	if st == StageAll {
		return st, nil
	}
	for _, known := range Order {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}
