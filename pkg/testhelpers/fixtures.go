package testhelpers

import (
	"context"
	"testing"

	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// Exec runs a statement on the scoped connection in ctx, failing the test on error.
func Exec(t *testing.T, ctx context.Context, query string, args ...any) {
	t.Helper()
	scope, ok := database.GetScope(ctx)
	if !ok {
		t.Fatal("no database scope in context")
	}
	if _, err := scope.Conn.Exec(ctx, query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// EnsureUser inserts a user if it does not exist.
func EnsureUser(t *testing.T, ctx context.Context, u *models.User) {
	t.Helper()
	Exec(t, ctx, `
		INSERT INTO users (id, user_name, first_name, last_name, email, admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.UserName, u.FirstName, u.LastName, u.Email, u.Admin)
}

// EnsureGroup inserts a group if it does not exist.
func EnsureGroup(t *testing.T, ctx context.Context, g *models.Group) {
	t.Helper()
	Exec(t, ctx, `
		INSERT INTO groups (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		g.ID, g.Name, g.Description)
}

// Share grants a user access to a notebook.
func Share(t *testing.T, ctx context.Context, notebookID int64, userID string) {
	t.Helper()
	Exec(t, ctx, `INSERT INTO notebook_shares (notebook_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		notebookID, userID)
}

// Star records that a user starred a notebook.
func Star(t *testing.T, ctx context.Context, notebookID int64, userID string) {
	t.Helper()
	Exec(t, ctx, `INSERT INTO notebook_stars (notebook_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		notebookID, userID)
}

// Truncate clears all gallery tables.
func Truncate(t *testing.T, ctx context.Context) {
	t.Helper()
	Exec(t, ctx, `TRUNCATE keywords, suggestions, similarities, code_cells, executions, clicks,
		summaries, notebook_tags, notebook_stars, notebook_shares, notebooks,
		group_members, groups, users RESTART IDENTITY CASCADE`)
}
