package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// ExecutionRepository reads and appends to the execution log.
type ExecutionRepository interface {
	Append(ctx context.Context, exec *models.Execution) error
	Counts(ctx context.Context, notebookID int64) (*models.ExecutionCounts, error)
}

type executionRepository struct{}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository() ExecutionRepository {
	return &executionRepository{}
}

var _ ExecutionRepository = (*executionRepository)(nil)

func (r *executionRepository) Append(ctx context.Context, exec *models.Execution) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO executions (notebook_id, cell_number, user_id, success, runtime_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		exec.NotebookID, exec.CellNumber, exec.UserID, exec.Success,
		exec.Runtime.Milliseconds(), exec.CreatedAt,
	).Scan(&exec.ID)
	if err != nil {
		return fmt.Errorf("failed to append execution: %w", err)
	}
	return nil
}

func (r *executionRepository) Counts(ctx context.Context, notebookID int64) (*models.ExecutionCounts, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE success),
			COUNT(*),
			(SELECT COUNT(*) FROM (
				SELECT DISTINCT ON (cell_number) success
				FROM executions
				WHERE notebook_id = $1
				ORDER BY cell_number, created_at DESC, id DESC
			) latest WHERE NOT latest.success)
		FROM executions
		WHERE notebook_id = $1`

	var c models.ExecutionCounts
	if err := scope.Conn.QueryRow(ctx, query, notebookID).Scan(&c.Successes, &c.Total, &c.FailedCells); err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	return &c, nil
}
