package models

// Similarity is a directed edge from one notebook to another.
type Similarity struct {
	NotebookID      int64   `json:"-"`
	OtherNotebookID int64   `json:"-"`
	Score           float64 `json:"score"`
}
