package mart

import (
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/dates"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
)

// DefaultWindowMonths is how far back the pressure window reaches.
const DefaultWindowMonths = 36

const day = 24 * time.Hour

// Window lists the month starts from months before now's month through now's
// month inclusive, so it always holds months+1 entries.
func Window(now time.Time, months int) []time.Time {
	last := dates.MonthStart(now)
	return dates.Months(dates.AddMonths(last, -months), last)
}

// BuildPressure computes one row per window month. Counts for month m are
// anchored at m's first day: kev_added_count covers the calendar month, the
// 30d and 90d counts cover [m, m+30d) and [m, m+90d) and may reach past the
// run date. avg_cvss_recent averages scores published in m and is nil when
// nothing scored was published.
func BuildPressure(window []time.Time, vulns []models.StagingVulnerability, enriched []models.EnrichedVulnerability) []models.KEVPressure {
	added := make([]time.Time, len(vulns))
	monthly := make(map[time.Time]int, len(window))
	for i, v := range vulns {
		added[i] = dates.Day(v.DateAdded)
		monthly[dates.MonthStart(v.DateAdded)]++
	}

	type acc struct {
		sum float64
		n   int
	}
	scores := make(map[time.Time]*acc)
	for _, e := range enriched {
		if e.CVSSBaseScore == nil || e.PublishedDate == nil {
			continue
		}
		m := dates.MonthStart(*e.PublishedDate)
		a, ok := scores[m]
		if !ok {
			a = &acc{}
			scores[m] = a
		}
		a.sum += *e.CVSSBaseScore
		a.n++
	}

	out := make([]models.KEVPressure, 0, len(window))
	for _, m := range window {
		row := models.KEVPressure{
			PeriodStart:   m,
			KEVAddedCount: monthly[m],
			KEVAdded30d:   countIn(added, m, m.Add(30*day)),
			KEVAdded90d:   countIn(added, m, m.Add(90*day)),
		}
		if a, ok := scores[m]; ok {
			avg := a.sum / float64(a.n)
			row.AvgCVSSRecent = &avg
		}
		out = append(out, row)
	}
	return out
}

// countIn counts ts in [from, to).
func countIn(ts []time.Time, from, to time.Time) int {
	n := 0
	for _, t := range ts {
		if !t.Before(from) && t.Before(to) {
			n++
		}
	}
	return n
}
