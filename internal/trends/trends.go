// Package trends computes rolling statistics over an alert collection.
// All functions are pure: the result depends only on the input and now.
package trends

import (
	"math"
	"time"

	"github.com/good-yellow-bee/carealert/internal/models"
)

// Summarize computes a Snapshot of alerts as seen at now.
func Summarize(alerts []models.Alert, now time.Time) Snapshot {
	snap := Snapshot{
		Total:       len(alerts),
		Histogram:   []Bucket{},
		Hourly:      hourlySlots(now),
		GeneratedAt: now,
	}

	windowStart := now.Add(-Window)
	counts := make(map[models.SymptomType]int)
	var order []models.SymptomType
	sum := 0

	for _, a := range alerts {
		sum += a.SeverityScore
		if a.IsCritical() {
			snap.Critical++
		}
		if a.Acknowledged {
			snap.Acknowledged++
		} else {
			snap.Unacknowledged++
		}
		if a.SeverityScore >= models.SeverityMin && a.SeverityScore <= models.SeverityMax {
			snap.BySeverity[a.SeverityScore-1]++
		}
		if _, seen := counts[a.SymptomType]; !seen {
			order = append(order, a.SymptomType)
		}
		counts[a.SymptomType]++

		if inWindow(a.DetectedAt, windowStart, now) {
			snap.Count24h++
			snap.Hourly[hourIndex(a.DetectedAt, windowStart)].Count++
		}
	}

	if len(alerts) == 0 {
		return snap
	}

	snap.AvgSeverity = roundTo(float64(sum)/float64(len(alerts)), 1)

	best := -1
	for _, t := range order {
		c := counts[t]
		snap.Histogram = append(snap.Histogram, Bucket{
			SymptomType: t,
			Count:       c,
			Percent:     int(math.Round(float64(c) / float64(len(alerts)) * 100)),
		})
		// Strictly greater keeps the first-encountered category on ties.
		if c > best {
			best = c
			mc := t
			snap.MostCommon = &mc
		}
	}
	return snap
}

// inWindow reports whether t lies in [start, end], both inclusive.
func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

func hourlySlots(now time.Time) []HourSlot {
	start := now.Add(-Window)
	slots := make([]HourSlot, int(Window/time.Hour))
	for i := range slots {
		slots[i].Start = start.Add(time.Duration(i) * time.Hour)
	}
	return slots
}

func hourIndex(t, windowStart time.Time) int {
	i := int(t.Sub(windowStart) / time.Hour)
	if last := int(Window/time.Hour) - 1; i > last {
		// t == now lands exactly on the window end.
		i = last
	}
	return i
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
