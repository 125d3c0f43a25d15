package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/artifacts"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
	"github.com/ekaya-inc/ekaya-gallery/pkg/search"
	"github.com/ekaya-inc/ekaya-gallery/pkg/wordcloud"
)

// noScope stands in for the connection pool; the mocks never look at it.
func noScope(ctx context.Context) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func floatPtr(v float64) *float64 { return &v }

// ----- notebooks -----

type mockNotebookRepo struct {
	mu        sync.Mutex
	notebooks map[int64]*models.Notebook
	content   map[int64][]byte
	shares    map[int64][]string
	stars     map[int64]int64
	summaries map[int64]*models.Summary

	starsErr    error
	updateErr   error
	listErr     error
	lastList    *repositories.ListQuery
	updateCalls int
	deleted     []int64

	// cells receives the cell set written by UpdateContent.
	cells *mockCodeCellRepo
}

func newMockNotebookRepo() *mockNotebookRepo {
	return &mockNotebookRepo{
		notebooks: make(map[int64]*models.Notebook),
		content:   make(map[int64][]byte),
		shares:    make(map[int64][]string),
		stars:     make(map[int64]int64),
		summaries: make(map[int64]*models.Summary),
	}
}

func (m *mockNotebookRepo) add(nb *models.Notebook, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if nb.UUID == uuid.Nil {
		nb.UUID = uuid.New()
	}
	m.notebooks[nb.ID] = nb
	m.content[nb.ID] = []byte(content)
}

func (m *mockNotebookRepo) Get(ctx context.Context, id int64) (*models.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nb, ok := m.notebooks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return nb, nil
}

func (m *mockNotebookRepo) GetByUUID(ctx context.Context, id uuid.UUID) (*models.Notebook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, nb := range m.notebooks {
		if nb.UUID == id {
			return nb, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockNotebookRepo) GetMany(ctx context.Context, ids []int64) (map[int64]*models.NotebookWithSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*models.NotebookWithSummary)
	for _, id := range ids {
		if nb, ok := m.notebooks[id]; ok {
			out[id] = &models.NotebookWithSummary{Notebook: nb, Summary: m.summaryLocked(id)}
		}
	}
	return out, nil
}

func (m *mockNotebookRepo) summaryLocked(id int64) *models.Summary {
	if s, ok := m.summaries[id]; ok {
		return s
	}
	return models.NewSummary(id)
}

func (m *mockNotebookRepo) List(ctx context.Context, q repositories.ListQuery) (*repositories.NotebookPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastList = &q
	if m.listErr != nil {
		return nil, m.listErr
	}

	var ids []int64
	for id, nb := range m.notebooks {
		if access.Eval(q.Filter, access.RowOf(nb, m.shares[id])) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	page := &repositories.NotebookPage{Total: int64(len(ids))}
	start := (q.Page - 1) * q.PageSize
	for i := start; i < len(ids) && i < start+q.PageSize; i++ {
		page.Items = append(page.Items, &models.NotebookWithSummary{
			Notebook: m.notebooks[ids[i]],
			Summary:  m.summaryLocked(ids[i]),
		})
	}
	return page, nil
}

func (m *mockNotebookRepo) Matches(ctx context.Context, id int64, filter access.Expr) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nb, ok := m.notebooks[id]
	if !ok {
		return false, nil
	}
	return access.Eval(filter, access.RowOf(nb, m.shares[id])), nil
}

func (m *mockNotebookRepo) Content(ctx context.Context, id int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (m *mockNotebookRepo) Create(ctx context.Context, nb *models.Notebook, content []byte) error {
	m.add(nb, string(content))
	return nil
}

func (m *mockNotebookRepo) UpdateContent(ctx context.Context, id int64, content []byte, cells []models.CodeCell) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.updateErr != nil {
		return time.Time{}, m.updateErr
	}
	nb, ok := m.notebooks[id]
	if !ok {
		return time.Time{}, apperrors.ErrNotFound
	}
	// Content and cells share a transaction: a cell failure writes neither.
	if m.cells != nil {
		if err := m.cells.ReplaceAll(ctx, id, cells); err != nil {
			return time.Time{}, err
		}
	}
	m.content[id] = content
	nb.ContentUpdatedAt = time.Now()
	return nb.ContentUpdatedAt, nil
}

func (m *mockNotebookRepo) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notebooks[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.notebooks, id)
	delete(m.content, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockNotebookRepo) SharedWith(ctx context.Context, id int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shares[id], nil
}

func (m *mockNotebookRepo) CountStars(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.starsErr != nil {
		return 0, m.starsErr
	}
	return m.stars[id], nil
}

// ----- summaries -----

type mockSummaryRepo struct {
	mu        sync.Mutex
	summaries map[int64]*models.Summary
	saves     int
	saveErr   error
}

func newMockSummaryRepo() *mockSummaryRepo {
	return &mockSummaryRepo{summaries: make(map[int64]*models.Summary)}
}

func (m *mockSummaryRepo) GetOrCreate(ctx context.Context, notebookID int64) (*models.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[notebookID]
	if !ok {
		s = models.NewSummary(notebookID)
		m.summaries[notebookID] = s
	}
	cp := *s
	return &cp, nil
}

func (m *mockSummaryRepo) Save(ctx context.Context, s *models.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	s.UpdatedAt = time.Now()
	cp := *s
	m.summaries[s.NotebookID] = &cp
	return nil
}

func (m *mockSummaryRepo) get(id int64) *models.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaries[id]
}

// ----- event logs -----

type mockClickRepo struct {
	mu       sync.Mutex
	counts   map[int64][]models.ActionCount
	err      error
	failFor  map[int64]bool
	appended []*models.Click
}

func newMockClickRepo() *mockClickRepo {
	return &mockClickRepo{counts: make(map[int64][]models.ActionCount), failFor: make(map[int64]bool)}
}

func (m *mockClickRepo) Append(ctx context.Context, click *models.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, click)
	return nil
}

func (m *mockClickRepo) CountByAction(ctx context.Context, notebookID int64, actions []models.ClickAction) ([]models.ActionCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.failFor[notebookID] {
		return nil, fmt.Errorf("connection reset")
	}
	byAction := make(map[models.ClickAction]models.ActionCount)
	for _, c := range m.counts[notebookID] {
		byAction[c.Action] = c
	}
	out := make([]models.ActionCount, len(actions))
	for i, a := range actions {
		c := byAction[a]
		c.Action = a
		out[i] = c
	}
	return out, nil
}

type mockExecutionRepo struct {
	mu       sync.Mutex
	counts   map[int64]*models.ExecutionCounts
	err      error
	appended []*models.Execution
}

func newMockExecutionRepo() *mockExecutionRepo {
	return &mockExecutionRepo{counts: make(map[int64]*models.ExecutionCounts)}
}

func (m *mockExecutionRepo) Append(ctx context.Context, exec *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, exec)
	return nil
}

func (m *mockExecutionRepo) Counts(ctx context.Context, notebookID int64) (*models.ExecutionCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.counts[notebookID]; ok {
		cp := *c
		return &cp, nil
	}
	return &models.ExecutionCounts{}, nil
}

// ----- code cells -----

type mockCodeCellRepo struct {
	mu         sync.Mutex
	cells      map[int64][]models.CodeCell
	replaceErr error
	replaces   int
}

func newMockCodeCellRepo() *mockCodeCellRepo {
	return &mockCodeCellRepo{cells: make(map[int64][]models.CodeCell)}
}

func (m *mockCodeCellRepo) ReplaceAll(ctx context.Context, notebookID int64, cells []models.CodeCell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.replaces++
	m.cells[notebookID] = append([]models.CodeCell(nil), cells...)
	return nil
}

func (m *mockCodeCellRepo) List(ctx context.Context, notebookID int64) ([]models.CodeCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CodeCell(nil), m.cells[notebookID]...), nil
}

func (m *mockCodeCellRepo) SharedDigests(ctx context.Context, notebookID int64) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shared := make(map[int64]int)
	for other, cells := range m.cells {
		if other == notebookID {
			continue
		}
		digests := make(map[string]bool, len(cells))
		for _, c := range cells {
			digests[c.Digest] = true
		}
		for _, c := range m.cells[notebookID] {
			if digests[c.Digest] {
				shared[other]++
			}
		}
	}
	return shared, nil
}

// ----- ranking inputs -----

type mockSimilarityRepo struct {
	edges      map[int64][]models.Similarity
	notebooks  *mockNotebookRepo
	lastFilter access.Expr
}

func (m *mockSimilarityRepo) ListFrom(ctx context.Context, notebookID int64, filter access.Expr, page, pageSize int) (*repositories.NotebookPage, error) {
	m.lastFilter = filter
	edges := append([]models.Similarity(nil), m.edges[notebookID]...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].Score > edges[j].Score })

	out := &repositories.NotebookPage{}
	for _, e := range edges {
		nb, _ := m.notebooks.Get(ctx, e.OtherNotebookID)
		if nb == nil {
			continue
		}
		shared, _ := m.notebooks.SharedWith(ctx, nb.ID)
		if !access.Eval(filter, access.RowOf(nb, shared)) {
			continue
		}
		out.Total++
		out.Items = append(out.Items, &models.NotebookWithSummary{
			Notebook: nb, Summary: models.NewSummary(nb.ID), Score: e.Score,
		})
	}
	return out, nil
}

func (m *mockSimilarityRepo) ReplaceFrom(ctx context.Context, notebookID int64, edges []models.Similarity) error {
	m.edges[notebookID] = append([]models.Similarity(nil), edges...)
	return nil
}

type mockSuggestionRepo struct {
	byUser map[string]map[int64]*models.Suggestion
	err    error
}

func (m *mockSuggestionRepo) ForUser(ctx context.Context, userID string) (map[int64]*models.Suggestion, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[int64]*models.Suggestion)
	for id, s := range m.byUser[userID] {
		out[id] = s
	}
	return out, nil
}

type mockKeywordRepo struct {
	keywords map[int64][]models.Keyword
	calls    int
}

func (m *mockKeywordRepo) ForNotebook(ctx context.Context, notebookID int64) ([]models.Keyword, error) {
	m.calls++
	return m.keywords[notebookID], nil
}

// ----- search index -----

type mockSearchIndex struct {
	mu         sync.Mutex
	docs       map[int64]*search.Document
	ranking    []*models.Summary
	rankingErr error
	searchErr  error
	deleted    []int64
}

func newMockSearchIndex() *mockSearchIndex {
	return &mockSearchIndex{docs: make(map[int64]*search.Document)}
}

func (m *mockSearchIndex) Upsert(ctx context.Context, doc *search.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.NotebookID] = doc
	return nil
}

func (m *mockSearchIndex) Delete(ctx context.Context, notebookID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, notebookID)
	m.deleted = append(m.deleted, notebookID)
	return nil
}

func (m *mockSearchIndex) IDs(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *mockSearchIndex) UpdateRankingFields(ctx context.Context, s *models.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rankingErr != nil {
		return m.rankingErr
	}
	m.ranking = append(m.ranking, s)
	return nil
}

func (m *mockSearchIndex) Search(ctx context.Context, q search.Query) (*search.Result, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return &search.Result{}, nil
}

// ----- artifacts -----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockArtifactStore struct {
	mu        sync.Mutex
	clock     *fakeClock
	published map[uuid.UUID]artifacts.Paths
	publishes int
	removed   []uuid.UUID
}

func newMockArtifactStore(clock *fakeClock) *mockArtifactStore {
	return &mockArtifactStore{clock: clock, published: make(map[uuid.UUID]artifacts.Paths)}
}

func (m *mockArtifactStore) Stat(id uuid.UUID) (artifacts.Paths, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.published[id]
	return p, ok, nil
}

func (m *mockArtifactStore) Publish(id uuid.UUID, image, imageMap []byte) (artifacts.Paths, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishes++
	p := artifacts.Paths{
		Dir:         "/artifacts/" + id.String(),
		Image:       "/artifacts/" + id.String() + "/" + artifacts.ImageFile,
		Map:         "/artifacts/" + id.String() + "/" + artifacts.MapFile,
		GeneratedAt: m.clock.Now(),
	}
	m.published[id] = p
	return p, nil
}

func (m *mockArtifactStore) Remove(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.published, id)
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockArtifactStore) publishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishes
}

// mockGenerator counts generations. When gate is set, Generate blocks until
// the gate is closed or ctx ends.
type mockGenerator struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	started chan struct{}
}

func (g *mockGenerator) Generate(ctx context.Context, keywords []models.Keyword) (*wordcloud.Cloud, error) {
	g.mu.Lock()
	g.calls++
	gate, started := g.gate, g.started
	g.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	regions := make([]wordcloud.Region, len(keywords))
	for i, k := range keywords {
		regions[i] = wordcloud.Region{Word: k.Term}
	}
	return &wordcloud.Cloud{PNG: []byte("png"), Regions: regions}, nil
}

func (g *mockGenerator) ImageMap(name string, regions []wordcloud.Region) []byte {
	return []byte(name)
}

func (g *mockGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type mockLease struct {
	mu       sync.Mutex
	err      error
	held     bool
	acquires int
	releases int
}

func (l *mockLease) Acquire(ctx context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.acquires++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.releases++
	}, true, nil
}

var (
	_ repositories.NotebookRepository   = (*mockNotebookRepo)(nil)
	_ repositories.SummaryRepository    = (*mockSummaryRepo)(nil)
	_ repositories.ClickRepository      = (*mockClickRepo)(nil)
	_ repositories.ExecutionRepository  = (*mockExecutionRepo)(nil)
	_ repositories.CodeCellRepository   = (*mockCodeCellRepo)(nil)
	_ repositories.SimilarityRepository = (*mockSimilarityRepo)(nil)
	_ repositories.SuggestionRepository = (*mockSuggestionRepo)(nil)
	_ repositories.KeywordRepository    = (*mockKeywordRepo)(nil)
	_ SearchIndex                       = (*mockSearchIndex)(nil)
	_ ArtifactStore                     = (*mockArtifactStore)(nil)
	_ CloudGenerator                    = (*mockGenerator)(nil)
	_ Lease                             = (*mockLease)(nil)
)
