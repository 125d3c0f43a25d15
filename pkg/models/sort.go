package models

// SortField names a field results can be ordered by.
type SortField string

const (
	SortTitle   SortField = "title"
	SortCreated SortField = "created_at"
	SortUpdated SortField = "updated_at"
	SortViews   SortField = "views"
	SortStars   SortField = "stars"
	SortRuns    SortField = "runs"
	SortHealth  SortField = "health"
	// SortScore orders by relevance or similarity score. Listings have no score.
	SortScore SortField = "score"
)

// ListingSortFields are the fields every retrieval mode accepts. SortScore is
// not listed: a score exists only for full-text and similarity
// queries, so a plain listing sorted by score is rejected as ErrInvalidQuery.
var ListingSortFields = []SortField{
	SortTitle, SortCreated, SortUpdated, SortViews, SortStars, SortRuns, SortHealth,
}

// Sort is a field plus direction. The numeric notebook key is always appended
// as a tiebreaker so paging is deterministic.
type Sort struct {
	Field SortField `json:"field"`
	Desc  bool      `json:"desc"`
}
