package mart

import (
	"sort"
	"time"

	"github.com/SiriusScan/breachwatch/breachwatch/dates"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
)

type bucketKey struct {
	period   time.Time
	industry string
}

type bucket struct {
	count      int
	ransomware int
	mega       int
	records    []float64
}

// BuildIndustryMetrics groups incidents by calendar month and industry. Only
// observed pairs produce a row; no empty months are synthesized.
func BuildIndustryMetrics(incidents []models.StagingIncident) []models.IndustryTimeMetric {
	buckets := make(map[bucketKey]*bucket)
	for _, inc := range incidents {
		k := bucketKey{period: dates.MonthStart(inc.EventDate), industry: inc.Industry}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{}
			buckets[k] = b
		}
		b.count++
		if inc.RansomwareFlag {
			b.ransomware++
		}
		if inc.MegaBreach {
			b.mega++
		}
		if inc.RecordsAffected != nil {
			b.records = append(b.records, float64(*inc.RecordsAffected))
		}
	}

	out := make([]models.IndustryTimeMetric, 0, len(buckets))
	for k, b := range buckets {
		out = append(out, models.IndustryTimeMetric{
			PeriodStart:     k.period,
			Industry:        k.industry,
			BreachCount:     b.count,
			RansomwareCount: b.ransomware,
			RansomwareShare: ratio(b.ransomware, b.count),
			MedianRecords:   median(b.records),
			MegaBreachRate:  ratio(b.mega, b.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].Industry < out[j].Industry
	})
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// median of the present values; nil when there are none.
func median(vs []float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	s := append([]float64(nil), vs...)
	sort.Float64s(s)
	mid := len(s) / 2
	m := s[mid]
	if len(s)%2 == 0 {
		m = (s[mid-1] + s[mid]) / 2
	}
	return &m
}
