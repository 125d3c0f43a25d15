package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/config"
	"github.com/ekaya-inc/ekaya-gallery/pkg/database"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/repositories"
	"github.com/ekaya-inc/ekaya-gallery/pkg/search"
)

// sortAliases accepts the short names the listing UI uses.
var sortAliases = map[string]models.SortField{
	"created": models.SortCreated,
	"updated": models.SortUpdated,
}

// RetrievalRequest is one listing or search request. An empty Query lists;
// anything else is a full-text search.
type RetrievalRequest struct {
	Principal access.Principal
	Query     string
	Sort      string // empty selects the mode default
	Order     string // "asc", "desc" or empty for the field default
	Page      int    // 1-based; values below 1 mean 1
}

// RetrievalItem is one decorated result.
type RetrievalItem struct {
	Notebook *models.Notebook `json:"notebook"`
	Summary  *models.Summary  `json:"summary"`
	// Score is the boosted relevance for searches and the edge score for
	// similarity queries.
	Score            float64           `json:"score,omitempty"`
	Relevance        float64           `json:"relevance,omitempty"`
	Snippet          string            `json:"snippet,omitempty"`
	Highlights       map[string]string `json:"highlights,omitempty"`
	SuggestionReason string            `json:"suggestion_reason,omitempty"`
}

// RetrievalPage is one page of results.
type RetrievalPage struct {
	Items    []RetrievalItem `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Sort     models.Sort     `json:"sort"`
}

// RetrievalService ranks the notebooks a principal may read.
type RetrievalService interface {
	Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalPage, error)
	// SimilarFor lists notebooks similar to notebookID that the principal
	// may read, most similar first.
	SimilarFor(ctx context.Context, notebookID int64, p access.Principal, page int) (*RetrievalPage, error)
}

type retrievalService struct {
	withScope    database.ScopeFunc
	builder      *access.Builder
	notebooks    repositories.NotebookRepository
	similarities repositories.SimilarityRepository
	suggestions  repositories.SuggestionRepository
	index        SearchIndex
	ranking      config.RankingConfig
	pageSize     int
	logger       *zap.Logger
}

func NewRetrievalService(
	withScope database.ScopeFunc,
	builder *access.Builder,
	notebooks repositories.NotebookRepository,
	similarities repositories.SimilarityRepository,
	suggestions repositories.SuggestionRepository,
	index SearchIndex,
	ranking config.RankingConfig,
	pageSize int,
	logger *zap.Logger,
) RetrievalService {
	return &retrievalService{
		withScope:    withScope,
		builder:      builder,
		notebooks:    notebooks,
		similarities: similarities,
		suggestions:  suggestions,
		index:        index,
		ranking:      ranking,
		pageSize:     pageSize,
		logger:       logger.Named("retrieval-service"),
	}
}

var _ RetrievalService = (*retrievalService)(nil)

// ParseSort resolves the requested field and order. Listings default to most
// recently updated first; searches to best score first. Title sorts
// ascending unless told otherwise, every other field descending. Score is
// only accepted for searches.
func ParseSort(field, order string, fullText bool) (models.Sort, error) {
	var sort models.Sort
	switch f := models.SortField(strings.ToLower(strings.TrimSpace(field))); {
	case f == "" && fullText:
		sort.Field = models.SortScore
	case f == "":
		sort.Field = models.SortUpdated
	case f == models.SortScore:
		if !fullText {
			return sort, fmt.Errorf("%w: sort by score requires a search query", apperrors.ErrInvalidQuery)
		}
		sort.Field = f
	default:
		if alias, ok := sortAliases[string(f)]; ok {
			f = alias
		}
		known := false
		for _, lf := range models.ListingSortFields {
			if lf == f {
				known = true
				break
			}
		}
		if !known {
			return sort, fmt.Errorf("%w: unknown sort field %q", apperrors.ErrInvalidQuery, field)
		}
		sort.Field = f
	}

	switch strings.ToLower(strings.TrimSpace(order)) {
	case "":
		sort.Desc = sort.Field != models.SortTitle
	case "asc":
		sort.Desc = false
	case "desc":
		sort.Desc = true
	default:
		return sort, fmt.Errorf("%w: unknown sort order %q", apperrors.ErrInvalidQuery, order)
	}
	return sort, nil
}

func (s *retrievalService) Retrieve(ctx context.Context, req RetrievalRequest) (*RetrievalPage, error) {
	text := strings.TrimSpace(req.Query)
	sort, err := ParseSort(req.Sort, req.Order, text != "")
	if err != nil {
		return nil, err
	}
	page := max(req.Page, 1)

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	if text == "" {
		return s.list(ctx, req.Principal, sort, page)
	}
	return s.search(ctx, req.Principal, text, sort, page)
}

func (s *retrievalService) list(ctx context.Context, p access.Principal, sort models.Sort, page int) (*RetrievalPage, error) {
	res, err := s.notebooks.List(ctx, repositories.ListQuery{
		Filter:   s.builder.Build(p, access.IntentRead),
		Sort:     sort,
		Page:     page,
		PageSize: s.pageSize,
	})
	if err != nil {
		return nil, backendError("list notebooks", err)
	}
	out := s.newPage(sort, page, res.Total, len(res.Items))
	for _, item := range res.Items {
		out.Items = append(out.Items, RetrievalItem{Notebook: item.Notebook, Summary: item.Summary})
	}
	return out, nil
}

func (s *retrievalService) search(ctx context.Context, p access.Principal, text string, sort models.Sort, page int) (*RetrievalPage, error) {
	suggested, err := s.suggestions.ForUser(ctx, p.UserID)
	if err != nil {
		return nil, backendError("load suggestions", err)
	}
	docBoosts := make(map[int64]float64, len(suggested))
	for id, sg := range suggested {
		if sg.IsRandom() {
			continue
		}
		docBoosts[id] = sg.Score * s.ranking.SuggestionWeight
	}

	res, err := s.index.Search(ctx, search.Query{
		Text:      text,
		Filter:    s.builder.Index(p, access.IntentRead),
		DocBoosts: docBoosts,
		FieldBoosts: []search.FieldBoost{{
			Field:  models.SortHealth,
			Above:  s.ranking.HealthBoostThreshold,
			Weight: s.ranking.HealthWeight,
		}},
		Sort:     sort,
		Page:     page,
		PageSize: s.pageSize,
	})
	if err != nil {
		return nil, backendError("search", err)
	}

	ids := make([]int64, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.NotebookID
	}
	loaded, err := s.notebooks.GetMany(ctx, ids)
	if err != nil {
		return nil, backendError("load hits", err)
	}

	out := s.newPage(sort, page, res.Total, len(res.Hits))
	for _, h := range res.Hits {
		nb, ok := loaded[h.NotebookID]
		if !ok {
			s.logger.Debug("Index hit missing from store",
				zap.Int64("notebook_id", h.NotebookID))
			continue
		}
		item := RetrievalItem{
			Notebook:   nb.Notebook,
			Summary:    nb.Summary,
			Score:      h.Score,
			Relevance:  h.Relevance,
			Snippet:    h.Snippet,
			Highlights: h.Highlights,
		}
		if sg, ok := suggested[h.NotebookID]; ok && !sg.IsRandom() {
			item.SuggestionReason = sg.Reason
			item.Snippet = joinReason(sg.Reason, h.Snippet)
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (s *retrievalService) SimilarFor(ctx context.Context, notebookID int64, p access.Principal, page int) (*RetrievalPage, error) {
	page = max(page, 1)

	ctx, release, err := database.EnsureScope(ctx, s.withScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	defer release()

	res, err := s.similarities.ListFrom(ctx, notebookID, s.builder.Build(p, access.IntentRead), page, s.pageSize)
	if err != nil {
		return nil, backendError("list similar notebooks", err)
	}
	out := s.newPage(models.Sort{Field: models.SortScore, Desc: true}, page, res.Total, len(res.Items))
	for _, item := range res.Items {
		out.Items = append(out.Items, RetrievalItem{
			Notebook: item.Notebook,
			Summary:  item.Summary,
			Score:    item.Score,
		})
	}
	return out, nil
}

func (s *retrievalService) newPage(sort models.Sort, page int, total int64, n int) *RetrievalPage {
	return &RetrievalPage{
		Items:    make([]RetrievalItem, 0, n),
		Total:    total,
		Page:     page,
		PageSize: s.pageSize,
		Sort:     sort,
	}
}

// joinReason prefixes an HTML snippet with the escaped suggestion reason.
func joinReason(reason, snippet string) string {
	reason = html.EscapeString(reason)
	if snippet == "" {
		return reason
	}
	return reason + "<br>" + snippet
}

// backendError passes query errors through and reports everything else as
// an unavailable backend, so a failure never looks like an empty page.
func backendError(op string, err error) error {
	if errors.Is(err, apperrors.ErrInvalidQuery) || errors.Is(err, apperrors.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %w", apperrors.ErrBackendUnavailable, op, err)
}
