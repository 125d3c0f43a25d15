package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
)

// AccessService answers single-notebook permission questions with the same
// predicate the listings and the search index use.
type AccessService interface {
	CanRead(ctx context.Context, p access.Principal, notebookID int64) (bool, error)
	CanEdit(ctx context.Context, p access.Principal, notebookID int64) (bool, error)

	// Readable loads a notebook the principal may read. Notebooks the
	// principal cannot read are reported as ErrNotFound.
	Readable(ctx context.Context, p access.Principal, id uuid.UUID) (*models.Notebook, error)

	// Editable loads a notebook the principal may edit. A readable but not
	// editable notebook yields ErrForbidden.
	Editable(ctx context.Context, p access.Principal, id uuid.UUID) (*models.Notebook, error)
}

type accessService struct {
	withScope database.ScopeFunc
	builder   *access.Builder
	notebooks repositories.NotebookRepository
	logger    *zap.Logger
}

func NewAccessService(
	withScope database.ScopeFunc,
	builder *access.Builder,
	notebooks repositories.NotebookRepository,
	logger *zap.Logger,
) AccessService {
	return &accessService{
		withScope: withScope,
		builder:   builder,
		notebooks: notebooks,
		logger:    logger.Named("access-service"),
	}
}

var _ AccessService = (*accessService)(nil)

func (s *accessService) CanRead(ctx context.Context, p access.Principal, notebookID int64) (bool, error) {
	return s.check(ctx, p, access.IntentRead, notebookID)
}

func (s *accessService) CanEdit(ctx context.Context, p access.Principal, notebookID int64) (bool, error) {
	return s.check(ctx, p, access.IntentEdit, notebookID)
}

func (s *accessService) check(ctx context.Context, p access.Principal, intent access.Intent, notebookID int64) (bool, error) {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return false, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	ok, err := s.notebooks.Matches(ctx, notebookID, s.builder.Build(p, intent))
	if err != nil {
		return false, fmt.Errorf("failed to check %s access: %w", intent, err)
	}
	return ok, nil
}

func (s *accessService) Readable(ctx context.Context, p access.Principal, id uuid.UUID) (*models.Notebook, error) {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	nb, err := s.notebooks.GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanRead(ctx, p, nb.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Debug("Notebook hidden from principal",
			zap.String("notebook_id", id.String()),
			zap.String("user_id", p.UserID))
		return nil, apperrors.ErrNotFound
	}
	return nb, nil
}

func (s *accessService) Editable(ctx context.Context, p access.Principal, id uuid.UUID) (*models.Notebook, error) {
	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	nb, err := s.Readable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanEdit(ctx, p, nb.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrForbidden
	}
	return nb, nil
}
