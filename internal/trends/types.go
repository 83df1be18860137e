package trends

import (
	"time"

	"github.com/good-yellow-bee/carealert/internal/models"
)

// Window is the span counted by Snapshot.Count24h and Snapshot.Hourly.
const Window = 24 * time.Hour

// Bucket is one histogram entry.
type Bucket struct {
	SymptomType models.SymptomType `json:"symptom_type"`
	Count       int                `json:"count"`
	// Percent is round(Count / total * 100).
	Percent int `json:"percent"`
}

// HourSlot counts alerts detected in [Start, Start+1h).
type HourSlot struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Snapshot is a trend summary of one alert collection. It is always
// computed fresh and never cached.
type Snapshot struct {
	Total       int     `json:"total"`
	Count24h    int     `json:"count_24h"`
	Critical    int     `json:"critical"`
	AvgSeverity float64 `json:"avg_severity"`
	// Histogram lists categories in first-encounter order.
	Histogram  []Bucket            `json:"histogram"`
	MostCommon *models.SymptomType `json:"most_common"`

	Acknowledged   int `json:"acknowledged"`
	Unacknowledged int `json:"unacknowledged"`
	// BySeverity[i] counts alerts with severity i+1.
	BySeverity [models.SeverityMax]int `json:"by_severity"`
	// Hourly covers the 24h window oldest first; the last slot ends at now.
	Hourly []HourSlot `json:"hourly"`

	GeneratedAt time.Time `json:"generated_at"`
}

// MostCommonBucket returns the histogram entry for MostCommon.
func (s Snapshot) MostCommonBucket() (Bucket, bool) {
	if s.MostCommon == nil {
		return Bucket{}, false
	}
	for _, b := range s.Histogram {
		if b.SymptomType == *s.MostCommon {
			return b, true
		}
	}
	return Bucket{}, false
}
