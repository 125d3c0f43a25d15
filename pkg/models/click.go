package models

import "time"

// ClickAction enumerates the events recorded against a notebook.
type ClickAction string

const (
	ActionCreated    ClickAction = "created notebook"
	ActionEdited     ClickAction = "edited notebook"
	ActionViewed     ClickAction = "viewed notebook"
	ActionDownloaded ClickAction = "downloaded notebook"
	ActionRan        ClickAction = "ran notebook"
)

// AggregatedActions are the actions the metrics aggregator counts.
var AggregatedActions = []ClickAction{ActionViewed, ActionDownloaded, ActionRan}

// Valid reports whether a is a known action.
func (a ClickAction) Valid() bool {
	switch a {
	case ActionCreated, ActionEdited, ActionViewed, ActionDownloaded, ActionRan:
		return true
	}
	return false
}

// Click is an immutable event log entry. UserID is nil for anonymous actors.
type Click struct {
	ID         int64       `json:"id"`
	NotebookID int64       `json:"-"`
	UserID     *string     `json:"user_id,omitempty"`
	Action     ClickAction `json:"action"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ActionCount is the per-action result of grouping a notebook's click log.
type ActionCount struct {
	Action   ClickAction
	Total    int64
	Distinct int64
}
