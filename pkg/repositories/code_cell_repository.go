package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// CodeCellRepository stores per-notebook code cell fingerprints.
type CodeCellRepository interface {
	// ReplaceAll swaps the notebook's cell set in one transaction. On error
	// the previous set is left untouched.
	ReplaceAll(ctx context.Context, notebookID int64, cells []models.CodeCell) error
	List(ctx context.Context, notebookID int64) ([]models.CodeCell, error)
	// SharedDigests counts, per other notebook, the cells of notebookID
	// whose exact digest also occurs in that notebook.
	SharedDigests(ctx context.Context, notebookID int64) (map[int64]int, error)
}

type codeCellRepository struct{}

// NewCodeCellRepository creates a new code cell repository.
func NewCodeCellRepository() CodeCellRepository {
	return &codeCellRepository{}
}

var _ CodeCellRepository = (*codeCellRepository)(nil)

func (r *codeCellRepository) ReplaceAll(ctx context.Context, notebookID int64, cells []models.CodeCell) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	if err := checkCellSequence(notebookID, cells); err != nil {
		return err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the notebook row so concurrent replacements from other processes
	// serialize too.
	var locked int64
	if err := tx.QueryRow(ctx, `SELECT id FROM notebooks WHERE id = $1 FOR UPDATE`, notebookID).Scan(&locked); err != nil {
		return fmt.Errorf("failed to lock notebook %d: %w", notebookID, err)
	}
	if err := replaceCells(ctx, tx, notebookID, cells); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit code cells: %w", err)
	}
	return nil
}

// checkCellSequence rejects cells of another notebook and gaps in numbering.
func checkCellSequence(notebookID int64, cells []models.CodeCell) error {
	for i, c := range cells {
		if c.NotebookID != notebookID || c.CellNumber != i {
			return fmt.Errorf("cell %d of notebook %d is out of sequence", c.CellNumber, c.NotebookID)
		}
	}
	return nil
}

// replaceCells swaps the cell set inside tx. The caller holds the notebook
// row lock.
func replaceCells(ctx context.Context, tx pgx.Tx, notebookID int64, cells []models.CodeCell) error {
	if _, err := tx.Exec(ctx, `DELETE FROM code_cells WHERE notebook_id = $1`, notebookID); err != nil {
		return fmt.Errorf("failed to clear code cells: %w", err)
	}
	if len(cells) == 0 {
		return nil
	}

	rows := make([][]any, len(cells))
	for i, c := range cells {
		rows[i] = []any{c.NotebookID, c.CellNumber, c.Digest, c.FuzzyDigest}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"code_cells"},
		[]string{"notebook_id", "cell_number", "digest", "fuzzy_digest"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert code cells: %w", err)
	}
	return nil
}

func (r *codeCellRepository) List(ctx context.Context, notebookID int64) ([]models.CodeCell, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT notebook_id, cell_number, digest, fuzzy_digest
		FROM code_cells
		WHERE notebook_id = $1
		ORDER BY cell_number`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list code cells: %w", err)
	}
	defer rows.Close()

	var cells []models.CodeCell
	for rows.Next() {
		var c models.CodeCell
		if err := rows.Scan(&c.NotebookID, &c.CellNumber, &c.Digest, &c.FuzzyDigest); err != nil {
			return nil, fmt.Errorf("failed to scan code cell: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating code cells: %w", err)
	}
	return cells, nil
}

func (r *codeCellRepository) SharedDigests(ctx context.Context, notebookID int64) (map[int64]int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT o.notebook_id, COUNT(DISTINCT c.cell_number)
		FROM code_cells c
		JOIN code_cells o ON o.digest = c.digest AND o.notebook_id <> c.notebook_id
		WHERE c.notebook_id = $1
		GROUP BY o.notebook_id`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to count shared digests: %w", err)
	}
	defer rows.Close()

	shared := make(map[int64]int)
	for rows.Next() {
		var other int64
		var n int
		if err := rows.Scan(&other, &n); err != nil {
			return nil, fmt.Errorf("failed to scan shared digests: %w", err)
		}
		shared[other] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shared digests: %w", err)
	}
	return shared, nil
}
