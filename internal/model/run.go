package model

import "time"

// Run status values.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run records the outcome of one skid invocation.
type Run struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	PointsAdded     int       `json:"points_added"`
	CountiesUpdated int       `json:"counties_updated"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
}

// Duration returns the wall-clock duration of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
