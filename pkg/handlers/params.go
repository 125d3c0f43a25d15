package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
)

// Headers set by the trusted upstream that resolved the caller's identity.
const (
	HeaderUserID     = "X-User-ID"
	HeaderReadGroups = "X-Read-Groups"
	HeaderEditGroups = "X-Edit-Groups"
	HeaderAdmin      = "X-Admin"
	HeaderUseAdmin   = "X-Use-Admin"
)

// PrincipalFromRequest reads the acting principal from the upstream headers.
// A request without X-User-ID is anonymous. Group lists are comma separated.
func PrincipalFromRequest(r *http.Request) access.Principal {
	p := access.Principal{
		UserID:     strings.TrimSpace(r.Header.Get(HeaderUserID)),
		ReadGroups: splitList(r.Header.Get(HeaderReadGroups)),
		EditGroups: splitList(r.Header.Get(HeaderEditGroups)),
	}
	if p.UserID == "" {
		return access.Anonymous()
	}
	p.IsAdmin, _ = strconv.ParseBool(r.Header.Get(HeaderAdmin))
	p.UseAdmin, _ = strconv.ParseBool(r.Header.Get(HeaderUseAdmin))
	return p
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseNotebookID extracts and validates the notebook ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: nid
func ParseNotebookID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "nid", "invalid_notebook_id", "Invalid notebook ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// parsePage reads the 1-based page query parameter. Missing means page 1.
func parsePage(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int, bool) {
	v := r.URL.Query().Get("page")
	if v == "" {
		return 1, true
	}
	page, err := strconv.Atoi(v)
	if err != nil || page < 1 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_page", "page must be a positive integer"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return page, true
}
