package mart

import (
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/dates"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
)

// FeatureColumns are the training-set columns a classifier fits and scores on.
var FeatureColumns = []string{
	"industry", "breach_type", "ransomware_flag",
	"kev_added_30d", "kev_added_90d", "avg_cvss_recent",
}

// LabelColumn is the supervised target. It is the staged mega_breach flag
// copied verbatim.
const LabelColumn = "target_high_impact"

// ScoringInput is a training row without its label, the shape handed to the
// classifier at inference time.
type ScoringInput struct {
	EventID        string    `json:"event_id"`
	EventDate      time.Time `json:"event_date"`
	Industry       string    `json:"industry"`
	BreachType     string    `json:"breach_type"`
	RansomwareFlag bool      `json:"ransomware_flag"`
	KEVAdded30d    int       `json:"kev_added_30d"`
	KEVAdded90d    int       `json:"kev_added_90d"`
	AvgCVSSRecent  *float64  `json:"avg_cvss_recent"`
}

// BuildTrainingSet emits one example per incident, joined to the pressure
// row of the incident's own month. Incidents outside the window keep zero
// counts and a nil average.
func BuildTrainingSet(incidents []models.StagingIncident, pressure []models.KEVPressure) []models.TrainingExample {
	byMonth := make(map[time.Time]models.KEVPressure, len(pressure))
	for _, p := range pressure {
		byMonth[p.PeriodStart] = p
	}

	out := make([]models.TrainingExample, 0, len(incidents))
	for _, inc := range incidents {
		ex := models.TrainingExample{
			EventID:          inc.EventID,
			EventDate:        inc.EventDate,
			Industry:         inc.Industry,
			BreachType:       inc.BreachType,
			RansomwareFlag:   inc.RansomwareFlag,
			TargetHighImpact: inc.MegaBreach,
		}
		if p, ok := byMonth[dates.MonthStart(inc.EventDate)]; ok {
			ex.KEVAdded30d = p.KEVAdded30d
			ex.KEVAdded90d = p.KEVAdded90d
			ex.AvgCVSSRecent = p.AvgCVSSRecent
		}
		out = append(out, ex)
	}
	return out
}

// ScoringInputs strips the label from each example.
func ScoringInputs(examples []models.TrainingExample) []ScoringInput {
	out := make([]ScoringInput, len(examples))
	for i, ex := range examples {
		out[i] = ScoringInput{
			EventID:        ex.EventID,
			EventDate:      ex.EventDate,
			Industry:       ex.Industry,
			BreachType:     ex.BreachType,
			RansomwareFlag: ex.RansomwareFlag,
			KEVAdded30d:    ex.KEVAdded30d,
			KEVAdded90d:    ex.KEVAdded90d,
			AvgCVSSRecent:  ex.AvgCVSSRecent,
		}
	}
	return out
}
