package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/fingerprint"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
	"github.com/ekaya-inc/ekaya-gallery/pkg/search"
)

const rebuildBatchSize = 200

// IndexService keeps the search index in step with the relational store.
type IndexService interface {
	// Reindex rewrites the notebook's index document from the store.
	Reindex(ctx context.Context, notebookID int64) error
	// Remove drops the notebook from the index. Absent notebooks are not an error.
	Remove(ctx context.Context, notebookID int64) error
	// Rebuild reindexes every notebook and returns how many were written.
	// Documents of notebooks no longer in the store are pruned.
	Rebuild(ctx context.Context) (int, error)
}

type indexService struct {
	withScope database.ScopeFunc
	notebooks repositories.NotebookRepository
	summaries repositories.SummaryRepository
	index     SearchIndex
	logger    *zap.Logger
}

func NewIndexService(
	withScope database.ScopeFunc,
	notebooks repositories.NotebookRepository,
	summaries repositories.SummaryRepository,
	index SearchIndex,
	logger *zap.Logger,
) IndexService {
	return &indexService{
		withScope: withScope,
		notebooks: notebooks,
		summaries: summaries,
		index:     index,
		logger:    logger.Named("index-service"),
	}
}

var _ IndexService = (*indexService)(nil)

func (s *indexService) Reindex(ctx context.Context, notebookID int64) error {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	nb, err := s.notebooks.Get(ctx, notebookID)
	if err != nil {
		return fmt.Errorf("failed to load notebook: %w", err)
	}
	return s.write(ctx, nb)
}

func (s *indexService) write(ctx context.Context, nb *models.Notebook) error {
	shared, err := s.notebooks.SharedWith(ctx, nb.ID)
	if err != nil {
		return fmt.Errorf("failed to load shares: %w", err)
	}
	content, err := s.notebooks.Content(ctx, nb.ID)
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}
	summary, err := s.summaries.GetOrCreate(ctx, nb.ID)
	if err != nil {
		return fmt.Errorf("failed to load summary: %w", err)
	}

	// An unparseable document is still searchable by its metadata.
	body, err := fingerprint.Text(content)
	if err != nil {
		s.logger.Warn("Indexing notebook without body",
			zap.Int64("notebook_id", nb.ID),
			zap.Error(err))
		body = ""
	}

	if err := s.index.Upsert(ctx, search.NewDocument(nb, shared, body, summary)); err != nil {
		return fmt.Errorf("failed to index notebook %d: %w", nb.ID, err)
	}
	return nil
}

func (s *indexService) Remove(ctx context.Context, notebookID int64) error {
	if err := s.index.Delete(ctx, notebookID); err != nil {
		return fmt.Errorf("failed to remove notebook %d from index: %w", notebookID, err)
	}
	return nil
}

func (s *indexService) Rebuild(ctx context.Context) (int, error) {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	// Snapshot before listing so notebooks created mid-rebuild are not pruned.
	indexed, err := s.index.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list indexed notebooks: %w", err)
	}

	written := 0
	seen := make(map[int64]struct{})
	for page := 1; ; page++ {
		batch, err := s.notebooks.List(ctx, repositories.ListQuery{
			Filter:   access.Const(true),
			Sort:     models.Sort{Field: models.SortCreated},
			Page:     page,
			PageSize: rebuildBatchSize,
		})
		if err != nil {
			return written, fmt.Errorf("failed to list notebooks: %w", err)
		}
		for _, item := range batch.Items {
			if err := s.write(ctx, item.Notebook); err != nil {
				return written, err
			}
			seen[item.Notebook.ID] = struct{}{}
			written++
		}
		if len(batch.Items) < rebuildBatchSize {
			break
		}
	}

	pruned := 0
	for _, id := range indexed {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.Remove(ctx, id); err != nil {
			return written, err
		}
		pruned++
	}

	s.logger.Info("Search index rebuilt",
		zap.Int("notebooks", written),
		zap.Int("pruned", pruned))
	return written, nil
}
