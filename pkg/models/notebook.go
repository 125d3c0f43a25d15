package models

import (
	"time"

	"github.com/google/uuid"
)

// Notebook is a catalogued notebook document.
// ID is the numeric storage key; UUID is the stable identifier exposed to clients.
type Notebook struct {
	ID               int64     `json:"-"`
	UUID             uuid.UUID `json:"uuid"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Lang             string    `json:"lang"`
	LangVersion      string    `json:"lang_version"`
	Owner            Owner     `json:"owner"`
	Public           bool      `json:"public"`
	Tags             []string  `json:"tags,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ContentUpdatedAt time.Time `json:"content_updated_at"`
}

// NotebookWithSummary pairs a notebook with its ranking fields, as returned by listings.
type NotebookWithSummary struct {
	Notebook *Notebook `json:"notebook"`
	Summary  *Summary  `json:"summary"`
	// Score is the similarity score when the row came from a similarity query.
	Score float64 `json:"score,omitempty"`
}
