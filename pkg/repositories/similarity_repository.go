package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// SimilarityRepository stores similarity edges between notebooks.
type SimilarityRepository interface {
	// ListFrom returns the notebooks reachable by an edge from notebookID
	// that also satisfy filter, highest score first. Score is set on each item.
	ListFrom(ctx context.Context, notebookID int64, filter access.Expr, page, pageSize int) (*NotebookPage, error)
	// ReplaceFrom swaps every outgoing edge of notebookID for edges in one
	// transaction. An edge to a missing notebook fails with ErrNotFound and
	// leaves the previous edges in place.
	ReplaceFrom(ctx context.Context, notebookID int64, edges []models.Similarity) error
}

type similarityRepository struct{}

// NewSimilarityRepository creates a new similarity repository.
func NewSimilarityRepository() SimilarityRepository {
	return &similarityRepository{}
}

var _ SimilarityRepository = (*similarityRepository)(nil)

func (r *similarityRepository) ListFrom(ctx context.Context, notebookID int64, filter access.Expr, page, pageSize int) (*NotebookPage, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("%w: page %d size %d", apperrors.ErrInvalidQuery, page, pageSize)
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	where, args := access.RenderSQL(filter, "n", 2)
	args = append([]any{notebookID}, args...)

	var total int64
	countQuery := `
		SELECT COUNT(*)
		FROM similarities sim
		JOIN notebooks n ON n.id = sim.other_notebook_id
		WHERE sim.notebook_id = $1 AND ` + where
	if err := scope.Conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count similar notebooks: %w", err)
	}

	limitArg := len(args) + 1
	query := fmt.Sprintf(`SELECT %s, %s, sim.score
		FROM similarities sim
		JOIN notebooks n ON n.id = sim.other_notebook_id %s %s
		WHERE sim.notebook_id = $1 AND %s
		ORDER BY sim.score DESC, n.id ASC
		LIMIT $%d OFFSET $%d`,
		notebookColumns, summaryColumns, notebookJoins, summaryJoin,
		where, limitArg, limitArg+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list similar notebooks: %w", err)
	}
	defer rows.Close()

	result := &NotebookPage{Items: make([]*models.NotebookWithSummary, 0, pageSize), Total: total}
	for rows.Next() {
		var score float64
		item, err := scanNotebookWithSummary(scoredRow{row: rows, score: &score})
		if err != nil {
			return nil, fmt.Errorf("failed to scan similar notebook: %w", err)
		}
		item.Score = score
		result.Items = append(result.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar notebooks: %w", err)
	}
	return result, nil
}

func (r *similarityRepository) ReplaceFrom(ctx context.Context, notebookID int64, edges []models.Similarity) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	seen := make(map[int64]struct{}, len(edges))
	rows := make([][]any, 0, len(edges))
	for _, e := range edges {
		if e.NotebookID != notebookID || e.OtherNotebookID == notebookID {
			return fmt.Errorf("edge %d->%d does not start at notebook %d", e.NotebookID, e.OtherNotebookID, notebookID)
		}
		if _, dup := seen[e.OtherNotebookID]; dup {
			return fmt.Errorf("duplicate edge %d->%d", e.NotebookID, e.OtherNotebookID)
		}
		seen[e.OtherNotebookID] = struct{}{}
		rows = append(rows, []any{e.NotebookID, e.OtherNotebookID, e.Score})
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM similarities WHERE notebook_id = $1`, notebookID); err != nil {
		return fmt.Errorf("failed to clear similarities: %w", err)
	}
	if len(rows) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"similarities"},
			[]string{"notebook_id", "other_notebook_id", "score"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("failed to insert similarities: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit similarities: %w", err)
	}
	return nil
}

// scoredRow appends a trailing score column to a notebook+summary scan.
type scoredRow struct {
	row   interface{ Scan(dest ...any) error }
	score *float64
}

func (s scoredRow) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.score)...)
}
