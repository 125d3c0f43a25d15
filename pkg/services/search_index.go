package services

import (
	"context"

	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/search"
)

// SearchIndex is the part of the full-text index the services use.
// *search.Index implements it.
type SearchIndex interface {
	Upsert(ctx context.Context, doc *search.Document) error
	Delete(ctx context.Context, notebookID int64) error
	IDs(ctx context.Context) ([]int64, error)
	UpdateRankingFields(ctx context.Context, s *models.Summary) error
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

var _ SearchIndex = (*search.Index)(nil)
