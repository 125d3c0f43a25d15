package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// ClickRepository reads and appends to the click event log.
type ClickRepository interface {
	Append(ctx context.Context, click *models.Click) error
	// CountByAction groups the notebook's clicks by action, returning the
	// total and distinct-actor count for each requested action. Actions with
	// no clicks are returned with zero counts.
	CountByAction(ctx context.Context, notebookID int64, actions []models.ClickAction) ([]models.ActionCount, error)
}

type clickRepository struct{}

// NewClickRepository creates a new click repository.
func NewClickRepository() ClickRepository {
	return &clickRepository{}
}

var _ ClickRepository = (*clickRepository)(nil)

func (r *clickRepository) Append(ctx context.Context, click *models.Click) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	if !click.Action.Valid() {
		return fmt.Errorf("unknown click action %q", click.Action)
	}

	if click.CreatedAt.IsZero() {
		click.CreatedAt = time.Now()
	}
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO clicks (notebook_id, user_id, action, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		click.NotebookID, click.UserID, string(click.Action), click.CreatedAt,
	).Scan(&click.ID)
	if err != nil {
		return fmt.Errorf("failed to append click: %w", err)
	}
	return nil
}

func (r *clickRepository) CountByAction(ctx context.Context, notebookID int64, actions []models.ClickAction) ([]models.ActionCount, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	// Anonymous clicks count toward the total but not the distinct actors.
	query := `
		SELECT action, COUNT(*), COUNT(DISTINCT user_id)
		FROM clicks
		WHERE notebook_id = $1 AND action = ANY($2)
		GROUP BY action`

	rows, err := scope.Conn.Query(ctx, query, notebookID, names)
	if err != nil {
		return nil, fmt.Errorf("failed to count clicks: %w", err)
	}
	defer rows.Close()

	byAction := make(map[models.ClickAction]models.ActionCount, len(actions))
	for rows.Next() {
		var c models.ActionCount
		var action string
		if err := rows.Scan(&action, &c.Total, &c.Distinct); err != nil {
			return nil, fmt.Errorf("failed to scan click counts: %w", err)
		}
		c.Action = models.ClickAction(action)
		byAction[c.Action] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating click counts: %w", err)
	}

	counts := make([]models.ActionCount, len(actions))
	for i, a := range actions {
		c := byAction[a]
		c.Action = a
		counts[i] = c
	}
	return counts, nil
}
