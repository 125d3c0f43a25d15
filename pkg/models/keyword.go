package models

// Keyword is a weighted term describing a notebook.
type Keyword struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}
