package models

// HealthStatus classifies a notebook's execution health.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthPolicy decides when a notebook counts as healthy.
// A notebook is healthy when its score is above MinScore and fewer than
// MaxFailedCells cells failed on their latest run.
type HealthPolicy struct {
	MinScore       float64 `yaml:"min_score" env:"HEALTH_MIN_SCORE" env-default:"0.75"`
	MaxFailedCells int64   `yaml:"max_failed_cells" env:"HEALTH_MAX_FAILED_CELLS" env-default:"2"`
}

// DefaultHealthPolicy returns the stock thresholds.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{MinScore: 0.75, MaxFailedCells: 2}
}

// Classify applies the policy. A nil score means no executions were recorded.
func (p HealthPolicy) Classify(score *float64, failedCells int64) HealthStatus {
	if score == nil {
		return HealthUnknown
	}
	if *score > p.MinScore && failedCells < p.MaxFailedCells {
		return HealthHealthy
	}
	return HealthUnhealthy
}
