package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// ListQuery selects one page of notebooks visible through Filter.
type ListQuery struct {
	Filter   access.Expr
	Sort     models.Sort
	Page     int // 1-based
	PageSize int
}

// NotebookPage is one page of a listing plus the total number of matches.
type NotebookPage struct {
	Items []*models.NotebookWithSummary `json:"items"`
	Total int64                         `json:"total"`
}

// NotebookRepository defines the interface for notebook data access.
type NotebookRepository interface {
	Get(ctx context.Context, id int64) (*models.Notebook, error)
	GetByUUID(ctx context.Context, id uuid.UUID) (*models.Notebook, error)
	// GetMany loads notebooks with their summaries, keyed by notebook ID.
	// Missing IDs are absent from the result.
	GetMany(ctx context.Context, ids []int64) (map[int64]*models.NotebookWithSummary, error)
	// List returns one page of notebooks matching the filter, joined with
	// their summaries. Sorting by score is rejected with ErrInvalidQuery.
	List(ctx context.Context, q ListQuery) (*NotebookPage, error)
	// Matches reports whether the notebook satisfies the filter.
	Matches(ctx context.Context, id int64, filter access.Expr) (bool, error)
	Content(ctx context.Context, id int64) ([]byte, error)
	// Create inserts the notebook together with its tags and initial summary.
	Create(ctx context.Context, nb *models.Notebook, content []byte) error
	// UpdateContent stores a new document, bumps content_updated_at and
	// replaces the code cell set, all in one transaction. On error neither
	// the document nor the cells change.
	UpdateContent(ctx context.Context, id int64, content []byte, cells []models.CodeCell) (time.Time, error)
	Delete(ctx context.Context, id int64) error
	SharedWith(ctx context.Context, id int64) ([]string, error)
	CountStars(ctx context.Context, id int64) (int64, error)
}

type notebookRepository struct{}

// NewNotebookRepository creates a new notebook repository.
func NewNotebookRepository() NotebookRepository {
	return &notebookRepository{}
}

var _ NotebookRepository = (*notebookRepository)(nil)

// listingSortColumns maps sortable fields to SQL expressions over the
// notebooks (n) and summaries (s) aliases. Missing summaries read as the
// values a fresh summary starts with.
var listingSortColumns = map[models.SortField]string{
	models.SortTitle:   "n.title",
	models.SortCreated: "n.created_at",
	models.SortUpdated: "n.updated_at",
	models.SortViews:   "COALESCE(s.views, 1)",
	models.SortStars:   "COALESCE(s.stars, 0)",
	models.SortRuns:    "COALESCE(s.runs, 0)",
	models.SortHealth:  "COALESCE(s.health, -1)",
}

// notebookColumns selects a notebook row including owner display fields.
const notebookColumns = `
	n.id, n.uuid, n.title, n.description, n.lang, n.lang_version,
	n.owner_type, n.owner_id,
	CASE WHEN n.owner_type = 'user'
		THEN COALESCE(NULLIF(TRIM(ou.first_name || ' ' || ou.last_name), ''), ou.user_name, n.owner_id)
		ELSE COALESCE(og.name, n.owner_id) END,
	COALESCE(og.description, ''),
	n.public, n.created_at, n.updated_at, n.content_updated_at,
	ARRAY(SELECT tg.tag FROM notebook_tags tg WHERE tg.notebook_id = n.id ORDER BY tg.tag)`

const summaryColumns = `
	COALESCE(s.views, 1), COALESCE(s.unique_views, 1),
	COALESCE(s.downloads, 0), COALESCE(s.unique_downloads, 0),
	COALESCE(s.runs, 0), COALESCE(s.unique_runs, 0),
	COALESCE(s.stars, 0), s.health, COALESCE(s.updated_at, n.created_at)`

const notebookJoins = `
	LEFT JOIN users ou ON n.owner_type = 'user' AND ou.id = n.owner_id
	LEFT JOIN groups og ON n.owner_type = 'group' AND og.id = n.owner_id`

const summaryJoin = `
	LEFT JOIN summaries s ON s.notebook_id = n.id`

func (r *notebookRepository) Get(ctx context.Context, id int64) (*models.Notebook, error) {
	return r.getOne(ctx, "n.id = $1", id)
}

func (r *notebookRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*models.Notebook, error) {
	return r.getOne(ctx, "n.uuid = $1", id)
}

func (r *notebookRepository) getOne(ctx context.Context, where string, arg any) (*models.Notebook, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT ` + notebookColumns + ` FROM notebooks n` + notebookJoins + ` WHERE ` + where

	nb, err := scanNotebook(scope.Conn.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notebook: %w", err)
	}
	return nb, nil
}

func (r *notebookRepository) GetMany(ctx context.Context, ids []int64) (map[int64]*models.NotebookWithSummary, error) {
	result := make(map[int64]*models.NotebookWithSummary, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT ` + notebookColumns + `,` + summaryColumns + `
		FROM notebooks n` + notebookJoins + summaryJoin + `
		WHERE n.id = ANY($1)`

	rows, err := scope.Conn.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load notebooks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanNotebookWithSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notebook: %w", err)
		}
		result[item.Notebook.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notebooks: %w", err)
	}
	return result, nil
}

func (r *notebookRepository) List(ctx context.Context, q ListQuery) (*NotebookPage, error) {
	column, ok := listingSortColumns[q.Sort.Field]
	if !ok {
		return nil, fmt.Errorf("%w: cannot sort listing by %q", apperrors.ErrInvalidQuery, q.Sort.Field)
	}
	if q.Page < 1 || q.PageSize < 1 {
		return nil, fmt.Errorf("%w: page %d size %d", apperrors.ErrInvalidQuery, q.Page, q.PageSize)
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	where, args := access.RenderSQL(q.Filter, "n", 1)

	var total int64
	countQuery := `SELECT COUNT(*) FROM notebooks n WHERE ` + where
	if err := scope.Conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count notebooks: %w", err)
	}

	dir := orderDirection(q.Sort.Desc)
	limitArg := len(args) + 1
	query := fmt.Sprintf(`SELECT %s, %s
		FROM notebooks n %s %s
		WHERE %s
		ORDER BY %s %s, n.id %s
		LIMIT $%d OFFSET $%d`,
		notebookColumns, summaryColumns, notebookJoins, summaryJoin,
		where, column, dir, dir, limitArg, limitArg+1)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notebooks: %w", err)
	}
	defer rows.Close()

	page := &NotebookPage{Items: make([]*models.NotebookWithSummary, 0, q.PageSize), Total: total}
	for rows.Next() {
		item, err := scanNotebookWithSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notebook: %w", err)
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notebooks: %w", err)
	}
	return page, nil
}

func (r *notebookRepository) Matches(ctx context.Context, id int64, filter access.Expr) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	where, args := access.RenderSQL(filter, "n", 2)
	query := `SELECT ` + where + ` FROM notebooks n WHERE n.id = $1`

	var matches bool
	err := scope.Conn.QueryRow(ctx, query, append([]any{id}, args...)...).Scan(&matches)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.ErrNotFound
		}
		return false, fmt.Errorf("failed to check notebook access: %w", err)
	}
	return matches, nil
}

func (r *notebookRepository) Content(ctx context.Context, id int64) ([]byte, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var content string
	err := scope.Conn.QueryRow(ctx, `SELECT content FROM notebooks WHERE id = $1`, id).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notebook content: %w", err)
	}
	return []byte(content), nil
}

func (r *notebookRepository) Create(ctx context.Context, nb *models.Notebook, content []byte) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	if !nb.Owner.Kind.Valid() {
		return fmt.Errorf("invalid owner kind %q", nb.Owner.Kind)
	}

	if nb.UUID == uuid.Nil {
		nb.UUID = uuid.New()
	}
	now := time.Now()
	nb.CreatedAt = now
	nb.UpdatedAt = now
	nb.ContentUpdatedAt = now

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO notebooks (uuid, title, description, lang, lang_version,
			owner_type, owner_id, public, content, created_at, updated_at, content_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10)
		RETURNING id`
	err = tx.QueryRow(ctx, query,
		nb.UUID, nb.Title, nb.Description, nb.Lang, nb.LangVersion,
		string(nb.Owner.Kind), nb.Owner.ID, nb.Public, string(content), now,
	).Scan(&nb.ID)
	if err != nil {
		return fmt.Errorf("failed to create notebook: %w", err)
	}

	for _, tag := range nb.Tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO notebook_tags (notebook_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			nb.ID, tag); err != nil {
			return fmt.Errorf("failed to tag notebook: %w", err)
		}
	}

	initial := models.NewSummary(nb.ID)
	if _, err := tx.Exec(ctx, insertSummarySQL,
		initial.NotebookID, initial.Views, initial.UniqueViews, now); err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit notebook: %w", err)
	}
	return nil
}

func (r *notebookRepository) UpdateContent(ctx context.Context, id int64, content []byte, cells []models.CodeCell) (time.Time, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return time.Time{}, fmt.Errorf("no database scope in context")
	}
	if err := checkCellSequence(id, cells); err != nil {
		return time.Time{}, err
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The UPDATE takes the same row lock ReplaceAll does.
	now := time.Now()
	result, err := tx.Exec(ctx, `
		UPDATE notebooks
		SET content = $1, content_updated_at = $2, updated_at = $2
		WHERE id = $3`, string(content), now, id)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update notebook content: %w", err)
	}
	if result.RowsAffected() == 0 {
		return time.Time{}, apperrors.ErrNotFound
	}
	if err := replaceCells(ctx, tx, id, cells); err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("failed to commit notebook content: %w", err)
	}
	return now, nil
}

func (r *notebookRepository) Delete(ctx context.Context, id int64) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM notebooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notebook: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *notebookRepository) SharedWith(ctx context.Context, id int64) ([]string, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := scope.Conn.Query(ctx,
		`SELECT user_id FROM notebook_shares WHERE notebook_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan shares: %w", err)
	}
	return users, nil
}

func (r *notebookRepository) CountStars(ctx context.Context, id int64) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	var n int64
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM notebook_stars WHERE notebook_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stars: %w", err)
	}
	return n, nil
}

func orderDirection(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

func scanNotebook(row pgx.Row) (*models.Notebook, error) {
	var nb models.Notebook
	var ownerKind string
	err := row.Scan(
		&nb.ID, &nb.UUID, &nb.Title, &nb.Description, &nb.Lang, &nb.LangVersion,
		&ownerKind, &nb.Owner.ID, &nb.Owner.Name, &nb.Owner.Description,
		&nb.Public, &nb.CreatedAt, &nb.UpdatedAt, &nb.ContentUpdatedAt,
		&nb.Tags,
	)
	if err != nil {
		return nil, err
	}
	nb.Owner.Kind = models.OwnerKind(ownerKind)
	return &nb, nil
}

func scanNotebookWithSummary(row pgx.Row) (*models.NotebookWithSummary, error) {
	var nb models.Notebook
	var s models.Summary
	var ownerKind string
	err := row.Scan(
		&nb.ID, &nb.UUID, &nb.Title, &nb.Description, &nb.Lang, &nb.LangVersion,
		&ownerKind, &nb.Owner.ID, &nb.Owner.Name, &nb.Owner.Description,
		&nb.Public, &nb.CreatedAt, &nb.UpdatedAt, &nb.ContentUpdatedAt,
		&nb.Tags,
		&s.Views, &s.UniqueViews, &s.Downloads, &s.UniqueDownloads,
		&s.Runs, &s.UniqueRuns, &s.Stars, &s.Health, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	nb.Owner.Kind = models.OwnerKind(ownerKind)
	s.NotebookID = nb.ID
	return &models.NotebookWithSummary{Notebook: &nb, Summary: &s}, nil
}

// isForeignKeyViolation reports whether err is a PostgreSQL FK violation,
// which the repositories surface as a missing parent row.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
