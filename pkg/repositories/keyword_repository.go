package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// KeywordRepository reads the weighted terms describing a notebook.
type KeywordRepository interface {
	ForNotebook(ctx context.Context, notebookID int64) ([]models.Keyword, error)
}

type keywordRepository struct{}

// NewKeywordRepository creates a new keyword repository.
func NewKeywordRepository() KeywordRepository {
	return &keywordRepository{}
}

var _ KeywordRepository = (*keywordRepository)(nil)

func (r *keywordRepository) ForNotebook(ctx context.Context, notebookID int64) ([]models.Keyword, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT term, weight
		FROM keywords
		WHERE notebook_id = $1
		ORDER BY weight DESC, term`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to get keywords: %w", err)
	}
	defer rows.Close()

	var keywords []models.Keyword
	for rows.Next() {
		var k models.Keyword
		if err := rows.Scan(&k.Term, &k.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keywords: %w", err)
	}
	return keywords, nil
}
