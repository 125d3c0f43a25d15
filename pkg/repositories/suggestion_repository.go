package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// SuggestionRepository reads externally computed recommendations.
type SuggestionRepository interface {
	// ForUser returns the user's suggestions, skipping random exploration
	// picks, keyed by notebook ID.
	ForUser(ctx context.Context, userID string) (map[int64]*models.Suggestion, error)
}

type suggestionRepository struct{}

// NewSuggestionRepository creates a new suggestion repository.
func NewSuggestionRepository() SuggestionRepository {
	return &suggestionRepository{}
}

var _ SuggestionRepository = (*suggestionRepository)(nil)

func (r *suggestionRepository) ForUser(ctx context.Context, userID string) (map[int64]*models.Suggestion, error) {
	result := make(map[int64]*models.Suggestion)
	if userID == "" {
		return result, nil
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT user_id, notebook_id, reason, score
		FROM suggestions
		WHERE user_id = $1 AND reason NOT LIKE 'random%'`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.Suggestion
		if err := rows.Scan(&s.UserID, &s.NotebookID, &s.Reason, &s.Score); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		if s.IsRandom() {
			continue
		}
		result[s.NotebookID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating suggestions: %w", err)
	}
	return result, nil
}
