package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/artifacts"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
)

// NotebookService coordinates the per-notebook operations that touch more
// than one subsystem. Callers check permissions before calling it.
type NotebookService interface {
	// WordCloud returns the notebook's current word cloud, generating it
	// when missing or stale.
	WordCloud(ctx context.Context, nb *models.Notebook) (artifacts.Paths, error)

	// RecordClick appends to the click log. The summary picks it up on the
	// next recompute.
	RecordClick(ctx context.Context, nb *models.Notebook, userID string, action models.ClickAction) error

	// RecordExecution appends to the execution log.
	RecordExecution(ctx context.Context, nb *models.Notebook, exec *models.Execution) error

	// Delete removes the notebook from the store, the index and the
	// artifact cache.
	Delete(ctx context.Context, nb *models.Notebook) error
}

type notebookService struct {
	withScope  database.ScopeFunc
	notebooks  repositories.NotebookRepository
	keywords   repositories.KeywordRepository
	clicks     repositories.ClickRepository
	executions repositories.ExecutionRepository
	cache      ArtifactCache
	indexer    IndexService
	logger     *zap.Logger
}

func NewNotebookService(
	withScope database.ScopeFunc,
	notebooks repositories.NotebookRepository,
	keywords repositories.KeywordRepository,
	clicks repositories.ClickRepository,
	executions repositories.ExecutionRepository,
	cache ArtifactCache,
	indexer IndexService,
	logger *zap.Logger,
) NotebookService {
	return &notebookService{
		withScope:  withScope,
		notebooks:  notebooks,
		keywords:   keywords,
		clicks:     clicks,
		executions: executions,
		cache:      cache,
		indexer:    indexer,
		logger:     logger.Named("notebook-service"),
	}
}

var _ NotebookService = (*notebookService)(nil)

func (s *notebookService) WordCloud(ctx context.Context, nb *models.Notebook) (artifacts.Paths, error) {
	p, fresh, err := s.cache.Current(nb)
	if err != nil {
		return artifacts.Paths{}, err
	}
	if fresh {
		return p, nil
	}

	// Keywords are read here, on the caller's connection, so the shared
	// generation never touches the database.
	keywords, err := s.loadKeywords(ctx, nb.ID)
	if err != nil {
		return artifacts.Paths{}, err
	}
	return s.cache.EnsureCurrent(ctx, nb, keywords)
}

func (s *notebookService) loadKeywords(ctx context.Context, notebookID int64) ([]models.Keyword, error) {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	keywords, err := s.keywords.ForNotebook(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load keywords: %w", err)
	}
	return keywords, nil
}

func (s *notebookService) RecordClick(ctx context.Context, nb *models.Notebook, userID string, action models.ClickAction) error {
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrInvalidQuery, action)
	}

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	click := &models.Click{NotebookID: nb.ID, Action: action}
	if userID != "" {
		click.UserID = &userID
	}
	if err := s.clicks.Append(ctx, click); err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}
	return nil
}

func (s *notebookService) RecordExecution(ctx context.Context, nb *models.Notebook, exec *models.Execution) error {
	if exec.CellNumber < 0 {
		return fmt.Errorf("%w: negative cell number %d", apperrors.ErrInvalidQuery, exec.CellNumber)
	}

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	exec.NotebookID = nb.ID
	if err := s.executions.Append(ctx, exec); err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

func (s *notebookService) Delete(ctx context.Context, nb *models.Notebook) error {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	if err := s.notebooks.Delete(ctx, nb.ID); err != nil {
		return fmt.Errorf("failed to delete notebook: %w", err)
	}

	// The store is the source of truth; leftovers elsewhere are only logged.
	if err := s.indexer.Remove(ctx, nb.ID); err != nil {
		s.logger.Error("Deleted notebook is still indexed",
			zap.String("notebook_id", nb.UUID.String()),
			zap.Error(err))
	}
	if err := s.cache.Remove(nb); err != nil {
		s.logger.Warn("Failed to remove artifacts of deleted notebook",
			zap.String("notebook_id", nb.UUID.String()),
			zap.Error(err))
	}
	s.logger.Info("Notebook deleted", zap.String("notebook_id", nb.UUID.String()))
	return nil
}
