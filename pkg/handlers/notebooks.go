package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
	"github.com/ekaya-inc/ekaya-gallery/pkg/services"
)

// MaxNotebookSize bounds uploaded notebook documents.
const MaxNotebookSize = 16 << 20

// ScopeMiddleware attaches a database connection to the request context.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// NotebooksHandler serves retrieval and per-notebook operations.
type NotebooksHandler struct {
	retrieval   services.RetrievalService
	access      services.AccessService
	metrics     services.MetricsAggregator
	fingerprint services.FingerprintService
	notebooks   services.NotebookService
	logger      *zap.Logger
}

// NewNotebooksHandler creates a new notebooks handler.
func NewNotebooksHandler(
	retrieval services.RetrievalService,
	access services.AccessService,
	metrics services.MetricsAggregator,
	fingerprint services.FingerprintService,
	notebooks services.NotebookService,
	logger *zap.Logger,
) *NotebooksHandler {
	return &NotebooksHandler{
		retrieval:   retrieval,
		access:      access,
		metrics:     metrics,
		fingerprint: fingerprint,
		notebooks:   notebooks,
		logger:      logger,
	}
}

// RegisterRoutes registers the notebook routes on the given mux.
func (h *NotebooksHandler) RegisterRoutes(mux *http.ServeMux, scope ScopeMiddleware) {
	base := "/api/notebooks"
	nb := base + "/{nid}"

	mux.HandleFunc("GET "+base, scope(h.List))
	mux.HandleFunc("DELETE "+nb, scope(h.Delete))
	mux.HandleFunc("GET "+nb+"/similar", scope(h.Similar))
	mux.HandleFunc("GET "+nb+"/compare/{other}", scope(h.Compare))
	mux.HandleFunc("GET "+nb+"/wordcloud", scope(h.WordCloud))
	mux.HandleFunc("GET "+nb+"/health", scope(h.Health))
	mux.HandleFunc("POST "+nb+"/metrics", scope(h.RecomputeMetrics))
	mux.HandleFunc("POST "+nb+"/cells", scope(h.Rehash))
	mux.HandleFunc("PUT "+nb+"/content", scope(h.UpdateContent))
	mux.HandleFunc("POST "+nb+"/clicks", scope(h.RecordClick))
	mux.HandleFunc("POST "+nb+"/executions", scope(h.RecordExecution))
}

// List handles GET /api/notebooks?q=&sort=&order=&page=
// Without q it lists readable notebooks; with q it runs a full-text search.
func (h *NotebooksHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r, h.logger)
	if !ok {
		return
	}
	q := r.URL.Query()

	result, err := h.retrieval.Retrieve(r.Context(), services.RetrievalRequest{
		Principal: PrincipalFromRequest(r),
		Query:     q.Get("q"),
		Sort:      q.Get("sort"),
		Order:     q.Get("order"),
		Page:      page,
	})
	if err != nil {
		writeServiceError(w, err, "search_unavailable", h.logger)
		return
	}
	h.ok(w, result)
}

// Similar handles GET /api/notebooks/{nid}/similar?page=
func (h *NotebooksHandler) Similar(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.readable(w, r)
	if !ok {
		return
	}
	page, ok := parsePage(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.retrieval.SimilarFor(r.Context(), nb.ID, PrincipalFromRequest(r), page)
	if err != nil {
		writeServiceError(w, err, "search_unavailable", h.logger)
		return
	}
	h.ok(w, result)
}

// Compare handles GET /api/notebooks/{nid}/compare/{other}
func (h *NotebooksHandler) Compare(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.readable(w, r)
	if !ok {
		return
	}
	otherID, ok := parseUUID(w, r, "other", "invalid_notebook_id", "Invalid notebook ID format", h.logger)
	if !ok {
		return
	}
	other, err := h.access.Readable(r.Context(), PrincipalFromRequest(r), otherID)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}

	matches, err := h.fingerprint.CompareNotebooks(r.Context(), nb.ID, other.ID)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	h.ok(w, map[string]any{"matches": matches})
}

// WordCloud handles GET /api/notebooks/{nid}/wordcloud
func (h *NotebooksHandler) WordCloud(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.readable(w, r)
	if !ok {
		return
	}
	paths, err := h.notebooks.WordCloud(r.Context(), nb)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	h.ok(w, paths)
}

// Health handles GET /api/notebooks/{nid}/health
func (h *NotebooksHandler) Health(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.readable(w, r)
	if !ok {
		return
	}
	report, err := h.metrics.HealthStatus(r.Context(), nb.ID)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	h.ok(w, report)
}

type recomputeResponse struct {
	Summary *models.Summary `json:"summary"`
	Changed bool            `json:"changed"`
}

// RecomputeMetrics handles POST /api/notebooks/{nid}/metrics
func (h *NotebooksHandler) RecomputeMetrics(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.readable(w, r)
	if !ok {
		return
	}
	summary, changed, err := h.metrics.Recompute(r.Context(), nb.ID)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	h.ok(w, recomputeResponse{Summary: summary, Changed: changed})
}

type cellsResponse struct {
	Cells []models.CodeCell `json:"cells"`
}

// Rehash handles POST /api/notebooks/{nid}/cells
func (h *NotebooksHandler) Rehash(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.editable(w, r)
	if !ok {
		return
	}
	cells, err := h.fingerprint.Rehash(r.Context(), nb.ID)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	h.ok(w, cellsResponse{Cells: cells})
}

// UpdateContent handles PUT /api/notebooks/{nid}/content with the notebook
// document as the request body.
func (h *NotebooksHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.editable(w, r)
	if !ok {
		return
	}
	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxNotebookSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = ErrorResponse(w, http.StatusRequestEntityTooLarge, "notebook_too_large", "Notebook document is too large")
			return
		}
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	cells, err := h.fingerprint.ContentChanged(r.Context(), nb.ID, content)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	h.ok(w, cellsResponse{Cells: cells})
}

type clickRequest struct {
	Action models.ClickAction `json:"action"`
}

// RecordClick handles POST /api/notebooks/{nid}/clicks
func (h *NotebooksHandler) RecordClick(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.readable(w, r)
	if !ok {
		return
	}
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	p := PrincipalFromRequest(r)
	if err := h.notebooks.RecordClick(r.Context(), nb, p.UserID, req.Action); err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type executionRequest struct {
	CellNumber int   `json:"cell_number"`
	Success    bool  `json:"success"`
	RuntimeMS  int64 `json:"runtime_ms"`
}

// RecordExecution handles POST /api/notebooks/{nid}/executions
func (h *NotebooksHandler) RecordExecution(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.readable(w, r)
	if !ok {
		return
	}
	var req executionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	exec := &models.Execution{
		CellNumber: req.CellNumber,
		UserID:     PrincipalFromRequest(r).UserID,
		Success:    req.Success,
		Runtime:    time.Duration(req.RuntimeMS) * time.Millisecond,
	}
	if err := h.notebooks.RecordExecution(r.Context(), nb, exec); err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/notebooks/{nid}
func (h *NotebooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	nb, ok := h.editable(w, r)
	if !ok {
		return
	}
	if err := h.notebooks.Delete(r.Context(), nb); err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotebooksHandler) readable(w http.ResponseWriter, r *http.Request) (*models.Notebook, bool) {
	id, ok := ParseNotebookID(w, r, h.logger)
	if !ok {
		return nil, false
	}
	nb, err := h.access.Readable(r.Context(), PrincipalFromRequest(r), id)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return nil, false
	}
	return nb, true
}

func (h *NotebooksHandler) editable(w http.ResponseWriter, r *http.Request) (*models.Notebook, bool) {
	id, ok := ParseNotebookID(w, r, h.logger)
	if !ok {
		return nil, false
	}
	nb, err := h.access.Editable(r.Context(), PrincipalFromRequest(r), id)
	if err != nil {
		writeServiceError(w, err, "backend_unavailable", h.logger)
		return nil, false
	}
	return nb, true
}

func (h *NotebooksHandler) ok(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
