package models

import "time"

// Execution records one run of a code cell.
type Execution struct {
	ID         int64         `json:"id"`
	NotebookID int64         `json:"-"`
	CellNumber int           `json:"cell_number"`
	UserID     string        `json:"user_id"`
	Success    bool          `json:"success"`
	Runtime    time.Duration `json:"runtime"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ExecutionCounts is the success tally over a notebook's execution log.
type ExecutionCounts struct {
	Successes   int64
	Total       int64
	FailedCells int64 // cells whose most recent execution failed
}
