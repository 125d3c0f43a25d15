package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// SummaryRepository defines the interface for per-notebook summaries.
// Every read and write touches the whole row in one statement.
type SummaryRepository interface {
	// GetOrCreate returns the stored summary, inserting a fresh one
	// (views=1, unique_views=1) when the notebook has none yet.
	GetOrCreate(ctx context.Context, notebookID int64) (*models.Summary, error)
	// Save overwrites every counter of the summary.
	Save(ctx context.Context, s *models.Summary) error
}

type summaryRepository struct{}

// NewSummaryRepository creates a new summary repository.
func NewSummaryRepository() SummaryRepository {
	return &summaryRepository{}
}

var _ SummaryRepository = (*summaryRepository)(nil)

const insertSummarySQL = `
	INSERT INTO summaries (notebook_id, views, unique_views, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (notebook_id) DO NOTHING`

func (r *summaryRepository) GetOrCreate(ctx context.Context, notebookID int64) (*models.Summary, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	initial := models.NewSummary(notebookID)
	if _, err := scope.Conn.Exec(ctx, insertSummarySQL,
		initial.NotebookID, initial.Views, initial.UniqueViews, time.Now()); err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to create summary: %w", err)
	}

	query := `
		SELECT notebook_id, views, unique_views, downloads, unique_downloads,
		       runs, unique_runs, stars, health, updated_at
		FROM summaries
		WHERE notebook_id = $1`

	var s models.Summary
	err := scope.Conn.QueryRow(ctx, query, notebookID).Scan(
		&s.NotebookID, &s.Views, &s.UniqueViews, &s.Downloads, &s.UniqueDownloads,
		&s.Runs, &s.UniqueRuns, &s.Stars, &s.Health, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &s, nil
}

func (r *summaryRepository) Save(ctx context.Context, s *models.Summary) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	s.UpdatedAt = time.Now()
	query := `
		INSERT INTO summaries (notebook_id, views, unique_views, downloads, unique_downloads,
			runs, unique_runs, stars, health, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (notebook_id) DO UPDATE SET
			views = EXCLUDED.views,
			unique_views = EXCLUDED.unique_views,
			downloads = EXCLUDED.downloads,
			unique_downloads = EXCLUDED.unique_downloads,
			runs = EXCLUDED.runs,
			unique_runs = EXCLUDED.unique_runs,
			stars = EXCLUDED.stars,
			health = EXCLUDED.health,
			updated_at = EXCLUDED.updated_at`

	_, err := scope.Conn.Exec(ctx, query,
		s.NotebookID, s.Views, s.UniqueViews, s.Downloads, s.UniqueDownloads,
		s.Runs, s.UniqueRuns, s.Stars, s.Health, s.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}
