package models

import "strings"

// Suggestion is an externally computed recommendation of a notebook to a user.
type Suggestion struct {
	UserID     string  `json:"user_id"`
	NotebookID int64   `json:"-"`
	Reason     string  `json:"reason"`
	Score      float64 `json:"score"`
}

// IsRandom reports whether the suggestion came from random exploration rather
// than a real signal. Random suggestions never influence ranking.
func (s *Suggestion) IsRandom() bool {
	return strings.HasPrefix(s.Reason, "random")
}
