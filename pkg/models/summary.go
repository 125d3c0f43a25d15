package models

import "time"

// Summary holds the aggregated counters for one notebook.
// It is always written as a whole; callers never patch individual counters.
type Summary struct {
	NotebookID      int64     `json:"-"`
	Views           int64     `json:"views"`
	UniqueViews     int64     `json:"unique_views"`
	Downloads       int64     `json:"downloads"`
	UniqueDownloads int64     `json:"unique_downloads"`
	Runs            int64     `json:"runs"`
	UniqueRuns      int64     `json:"unique_runs"`
	Stars           int64     `json:"stars"`
	Health          *float64  `json:"health,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewSummary returns the summary a notebook starts with before any aggregation:
// the creator's own view counts once.
func NewSummary(notebookID int64) *Summary {
	return &Summary{
		NotebookID:  notebookID,
		Views:       1,
		UniqueViews: 1,
	}
}

// SameCounters reports whether two summaries carry identical aggregated values.
// UpdatedAt is bookkeeping and is ignored.
func (s *Summary) SameCounters(o *Summary) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Views != o.Views || s.UniqueViews != o.UniqueViews ||
		s.Downloads != o.Downloads || s.UniqueDownloads != o.UniqueDownloads ||
		s.Runs != o.Runs || s.UniqueRuns != o.UniqueRuns || s.Stars != o.Stars {
		return false
	}
	if (s.Health == nil) != (o.Health == nil) {
		return false
	}
	return s.Health == nil || *s.Health == *o.Health
}

// HealthRatio returns successes/total, or nil when there were no executions.
func HealthRatio(successes, total int64) *float64 {
	if total <= 0 {
		return nil
	}
	h := float64(successes) / float64(total)
	return &h
}

// SummaryField reads one ranking field from a summary.
type SummaryField func(*Summary) float64

// SummaryFields maps ranking field names to their accessors. The search index
// denormalizes exactly these fields; health reads as -1 when undefined so it
// sorts below every recorded value.
var SummaryFields = map[string]SummaryField{
	"views":            func(s *Summary) float64 { return float64(s.Views) },
	"unique_views":     func(s *Summary) float64 { return float64(s.UniqueViews) },
	"downloads":        func(s *Summary) float64 { return float64(s.Downloads) },
	"unique_downloads": func(s *Summary) float64 { return float64(s.UniqueDownloads) },
	"runs":             func(s *Summary) float64 { return float64(s.Runs) },
	"unique_runs":      func(s *Summary) float64 { return float64(s.UniqueRuns) },
	"stars":            func(s *Summary) float64 { return float64(s.Stars) },
	"health": func(s *Summary) float64 {
		if s.Health == nil {
			return -1
		}
		return *s.Health
	},
}
