// Package search maintains the full-text notebook index on SQLite FTS5.
//
// Each notebook is one FTS5 row (rowid = notebook ID) plus a doc_fields row
// holding the denormalized ranking fields and a set of doc_access rows
// holding its access terms. Queries combine an FTS5 match, an access filter
// over doc_access and additive boost clauses evaluated inside the query, so
// ordering and pagination follow the boosted score.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/logging"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// MemoryPath opens a private in-memory index.
const MemoryPath = ":memory:"

const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS docs USING fts5(
    title, body, description, tags, owner_name, owner_description,
    tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS doc_fields (
    notebook_id INTEGER PRIMARY KEY,
    title       TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    views       REAL NOT NULL DEFAULT 1,
    stars       REAL NOT NULL DEFAULT 0,
    runs        REAL NOT NULL DEFAULT 0,
    health      REAL NOT NULL DEFAULT -1
);

CREATE TABLE IF NOT EXISTS doc_access (
    notebook_id INTEGER NOT NULL,
    term        TEXT NOT NULL,
    PRIMARY KEY (notebook_id, term)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_doc_access_term ON doc_access(term, notebook_id);
`

// bm25 column weights, in docs column order.
const relevanceExpr = `-bm25(docs, 10.0, 1.0, 4.0, 3.0, 2.0, 1.0)`

// highlightFields lists the docs columns in order; snippets are cut from the
// long ones and whole-field highlights returned for the rest.
var highlightFields = []struct {
	name    string
	snippet bool
}{
	{"title", false},
	{"body", true},
	{"description", true},
	{"tags", false},
	{"owner_name", false},
	{"owner_description", true},
}

// snippetOrder is the preference order for a hit's display snippet.
var snippetOrder = []string{"body", "description", "title", "tags", "owner_name", "owner_description"}

// rankingColumns are the summary fields denormalized into doc_fields.
var rankingColumns = []models.SortField{
	models.SortViews, models.SortStars, models.SortRuns, models.SortHealth,
}

// sortColumns maps sort fields to columns of the inner search query.
var sortColumns = map[models.SortField]string{
	models.SortScore:   "score",
	models.SortTitle:   "s_title COLLATE NOCASE",
	models.SortCreated: "s_created_at",
	models.SortUpdated: "s_updated_at",
	models.SortViews:   "s_views",
	models.SortStars:   "s_stars",
	models.SortRuns:    "s_runs",
	models.SortHealth:  "s_health",
}

// Document is the indexed form of a notebook.
type Document struct {
	NotebookID       int64
	Title            string
	Description      string
	Body             string
	Tags             []string
	OwnerName        string
	OwnerDescription string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AccessTerms      []string
	// Summary supplies the ranking fields; nil indexes a fresh summary.
	Summary *models.Summary
}

// NewDocument denormalizes a notebook for indexing.
func NewDocument(nb *models.Notebook, sharedWith []string, body string, s *models.Summary) *Document {
	return &Document{
		NotebookID:       nb.ID,
		Title:            nb.Title,
		Description:      nb.Description,
		Body:             body,
		Tags:             nb.Tags,
		OwnerName:        nb.Owner.Name,
		OwnerDescription: nb.Owner.Description,
		CreatedAt:        nb.CreatedAt,
		UpdatedAt:        nb.UpdatedAt,
		AccessTerms:      access.AccessTerms(access.RowOf(nb, sharedWith)),
		Summary:          s,
	}
}

// FieldBoost adds field × Weight to the score of documents whose ranking
// field is above Above.
type FieldBoost struct {
	Field  models.SortField
	Above  float64
	Weight float64
}

// Query is a full-text search request.
type Query struct {
	Text   string
	Filter access.IndexFilter
	// DocBoosts adds a fixed amount to the score of specific notebooks.
	DocBoosts   map[int64]float64
	FieldBoosts []FieldBoost
	Sort        models.Sort
	Page        int // 1-based
	PageSize    int
}

// Hit is one ranked search result.
type Hit struct {
	NotebookID int64
	// Relevance is the base bm25 relevance, higher is better.
	Relevance float64
	// Boost is the sum of all boost clauses that applied.
	Boost float64
	Score float64
	// Highlights holds HTML-safe fragments for the fields that matched.
	Highlights map[string]string
	// Snippet is the preferred fragment for display.
	Snippet string
}

// Result is one page of hits plus the total number of matches.
type Result struct {
	Hits  []Hit
	Total int64
}

// Index is the SQLite FTS5 notebook index. It is safe for concurrent use.
type Index struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the index at path. Use MemoryPath for a private
// in-memory index.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Index, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	if path == MemoryPath {
		// Every new connection to :memory: would be a different database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize search schema: %w", err)
	}

	return &Index{db: db, logger: logger.Named("search-index")}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Ping reports whether the index is reachable.
func (ix *Index) Ping(ctx context.Context) error {
	return ix.db.PingContext(ctx)
}

// Upsert replaces the notebook's document, ranking fields and access terms.
func (ix *Index) Upsert(ctx context.Context, doc *Document) error {
	s := doc.Summary
	if s == nil {
		s = models.NewSummary(doc.NotebookID)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin index transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM docs WHERE rowid = ?`, doc.NotebookID); err != nil {
		return unavailable("delete document", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO docs (rowid, title, body, description, tags, owner_name, owner_description)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.NotebookID, clean(doc.Title), clean(doc.Body), clean(doc.Description),
		clean(strings.Join(doc.Tags, " ")), clean(doc.OwnerName), clean(doc.OwnerDescription))
	if err != nil {
		return unavailable("insert document", err)
	}

	fieldArgs := []any{doc.NotebookID, doc.Title, doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano()}
	fieldArgs = append(fieldArgs, rankingValues(s)...)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO doc_fields (notebook_id, title, created_at, updated_at, views, stars, runs, health)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (notebook_id) DO UPDATE SET
			title = excluded.title,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			views = excluded.views,
			stars = excluded.stars,
			runs = excluded.runs,
			health = excluded.health`, fieldArgs...)
	if err != nil {
		return unavailable("write ranking fields", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM doc_access WHERE notebook_id = ?`, doc.NotebookID); err != nil {
		return unavailable("clear access terms", err)
	}
	for _, term := range doc.AccessTerms {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO doc_access (notebook_id, term) VALUES (?, ?)`,
			doc.NotebookID, term); err != nil {
			return unavailable("write access term", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit document", err)
	}
	return nil
}

// Delete removes a notebook from the index. Deleting an unknown notebook is a no-op.
func (ix *Index) Delete(ctx context.Context, notebookID int64) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin index transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM docs WHERE rowid = ?`,
		`DELETE FROM doc_fields WHERE notebook_id = ?`,
		`DELETE FROM doc_access WHERE notebook_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, notebookID); err != nil {
			return unavailable("delete document", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit delete", err)
	}
	return nil
}

// IDs lists every notebook ID that has a document in the index.
func (ix *Index) IDs(ctx context.Context) ([]int64, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT notebook_id FROM doc_fields ORDER BY notebook_id`)
	if err != nil {
		return nil, unavailable("list documents", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan document id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list documents", err)
	}
	return ids, nil
}

// UpdateRankingFields copies a summary's ranking fields into the index.
// Notebooks that are not indexed yet are skipped; Upsert writes the fields
// when they are.
func (ix *Index) UpdateRankingFields(ctx context.Context, s *models.Summary) error {
	args := append(rankingValues(s), s.NotebookID)
	result, err := ix.db.ExecContext(ctx,
		`UPDATE doc_fields SET views = ?, stars = ?, runs = ?, health = ? WHERE notebook_id = ?`, args...)
	if err != nil {
		return unavailable("update ranking fields", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		ix.logger.Debug("Ranking fields for unindexed notebook skipped", zap.Int64("notebook_id", s.NotebookID))
	}
	return nil
}

// Search runs a full-text query. Malformed text, unknown sort fields and
// boosts on unknown fields fail with ErrInvalidQuery; storage failures fail
// with ErrBackendUnavailable, never with an empty result.
func (ix *Index) Search(ctx context.Context, q Query) (*Result, error) {
	match, err := MatchExpression(q.Text)
	if err != nil {
		return nil, err
	}
	if hit := CheckInjection(q.Text); hit != nil {
		ix.logger.Warn("Search text matches SQL injection pattern",
			zap.String("fingerprint", hit.Fingerprint),
			zap.String("query", logging.SanitizeSearchQuery(hit.Query)))
	}
	sortColumn, ok := sortColumns[q.Sort.Field]
	if !ok {
		return nil, fmt.Errorf("%w: cannot sort search results by %q", apperrors.ErrInvalidQuery, q.Sort.Field)
	}
	if q.Page < 1 || q.PageSize < 1 {
		return nil, fmt.Errorf("%w: page %d size %d", apperrors.ErrInvalidQuery, q.Page, q.PageSize)
	}
	boostSQL, boostArgs, err := renderBoosts(q.DocBoosts, q.FieldBoosts)
	if err != nil {
		return nil, err
	}
	filterSQL, filterArgs := renderFilter(q.Filter, "docs.rowid")

	var total int64
	countSQL := `SELECT COUNT(*) FROM docs JOIN doc_fields f ON f.notebook_id = docs.rowid
		WHERE docs MATCH ? AND ` + filterSQL
	countArgs := append([]any{match}, filterArgs...)
	if err := ix.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, classify("count matches", err)
	}

	highlightCols := make([]string, len(highlightFields))
	for i, f := range highlightFields {
		if f.snippet {
			highlightCols[i] = fmt.Sprintf("snippet(docs, %d, char(2), char(3), '…', 24)", i)
		} else {
			highlightCols[i] = fmt.Sprintf("highlight(docs, %d, char(2), char(3))", i)
		}
	}

	dir := "ASC"
	if q.Sort.Desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT id, relevance, boost, relevance + boost AS score, %s
		FROM (
			SELECT docs.rowid AS id,
			       %s AS relevance,
			       %s AS boost,
			       f.title AS s_title, f.created_at AS s_created_at, f.updated_at AS s_updated_at,
			       f.views AS s_views, f.stars AS s_stars, f.runs AS s_runs, f.health AS s_health,
			       %s
			FROM docs JOIN doc_fields f ON f.notebook_id = docs.rowid
			WHERE docs MATCH ? AND %s
		)
		ORDER BY %s %s, id %s
		LIMIT ? OFFSET ?`,
		highlightAliases(), relevanceExpr, boostSQL,
		aliasHighlightCols(highlightCols), filterSQL,
		sortColumn, dir, dir)

	args := make([]any, 0, len(boostArgs)+len(filterArgs)+3)
	args = append(args, boostArgs...)
	args = append(args, match)
	args = append(args, filterArgs...)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("search", err)
	}
	defer rows.Close()

	result := &Result{Hits: make([]Hit, 0, q.PageSize), Total: total}
	for rows.Next() {
		var h Hit
		fragments := make([]sql.NullString, len(highlightFields))
		dest := []any{&h.NotebookID, &h.Relevance, &h.Boost, &h.Score}
		for i := range fragments {
			dest = append(dest, &fragments[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, classify("scan hit", err)
		}

		h.Highlights = make(map[string]string)
		for i, f := range highlightFields {
			if frag := fragments[i].String; hasMatch(frag) {
				h.Highlights[f.name] = SafeHighlight(frag)
			}
		}
		for _, name := range snippetOrder {
			if frag, ok := h.Highlights[name]; ok {
				h.Snippet = frag
				break
			}
		}
		result.Hits = append(result.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate hits", err)
	}
	return result, nil
}

func highlightAliases() string {
	names := make([]string, len(highlightFields))
	for i, f := range highlightFields {
		names[i] = "h_" + f.name
	}
	return strings.Join(names, ", ")
}

func aliasHighlightCols(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c + " AS h_" + highlightFields[i].name
	}
	return strings.Join(out, ",\n\t\t\t       ")
}

// renderBoosts builds the additive boost expression. Doc boosts are emitted
// in ascending notebook order so equal inputs produce identical SQL.
func renderBoosts(docBoosts map[int64]float64, fieldBoosts []FieldBoost) (string, []any, error) {
	var parts []string
	var args []any

	if len(docBoosts) > 0 {
		ids := make([]int64, 0, len(docBoosts))
		for id := range docBoosts {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		var sb strings.Builder
		sb.WriteString("CASE docs.rowid")
		for _, id := range ids {
			sb.WriteString(" WHEN ? THEN ?")
			args = append(args, id, docBoosts[id])
		}
		sb.WriteString(" ELSE 0 END")
		parts = append(parts, sb.String())
	}

	for _, fb := range fieldBoosts {
		if !isRankingColumn(fb.Field) {
			return "", nil, fmt.Errorf("%w: cannot boost by %q", apperrors.ErrInvalidQuery, fb.Field)
		}
		col := "f." + string(fb.Field)
		parts = append(parts, fmt.Sprintf("CASE WHEN %s > ? THEN %s * ? ELSE 0 END", col, col))
		args = append(args, fb.Above, fb.Weight)
	}

	if len(parts) == 0 {
		return "0.0", nil, nil
	}
	return "(" + strings.Join(parts, " + ") + ")", args, nil
}

func isRankingColumn(f models.SortField) bool {
	for _, c := range rankingColumns {
		if c == f {
			return true
		}
	}
	return false
}

func rankingValues(s *models.Summary) []any {
	values := make([]any, len(rankingColumns))
	for i, c := range rankingColumns {
		values[i] = models.SummaryFields[string(c)](s)
	}
	return values
}

func clean(text string) string {
	return markStripper.Replace(text)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrBackendUnavailable, err)
}

// classify maps FTS5 syntax errors to ErrInvalidQuery and everything else
// to ErrBackendUnavailable.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if strings.Contains(err.Error(), "fts5: syntax error") {
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrInvalidQuery, err)
	}
	return unavailable(op, err)
}
