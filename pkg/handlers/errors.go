package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
)

// writeServiceError maps a service error to its HTTP status. unavailableCode
// is the error code reported when the backing store or index is down.
func writeServiceError(w http.ResponseWriter, err error, unavailableCode string, logger *zap.Logger) {
	status, code, message := http.StatusInternalServerError, "internal_error", "Internal server error"
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "Notebook not found"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code, message = http.StatusForbidden, "forbidden", "Not allowed to modify this notebook"
	case errors.Is(err, apperrors.ErrInvalidQuery):
		status, code, message = http.StatusBadRequest, "invalid_query", err.Error()
	case errors.Is(err, apperrors.ErrBackendUnavailable):
		status, code, message = http.StatusServiceUnavailable, unavailableCode, "Service temporarily unavailable"
	case errors.Is(err, apperrors.ErrDataUnavailable):
		status, code, message = http.StatusServiceUnavailable, "data_unavailable", "Event data temporarily unavailable"
	case errors.Is(err, apperrors.ErrGenerationTimeout):
		status, code, message = http.StatusGatewayTimeout, "generation_timeout", "Artifact generation timed out"
	case errors.Is(err, apperrors.ErrFingerprintFailure):
		status, code, message = http.StatusUnprocessableEntity, "unprocessable_notebook", "Notebook document could not be parsed"
	case errors.Is(err, context.Canceled):
		logger.Debug("Request cancelled", zap.Error(err))
		return
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	if werr := ErrorResponse(w, status, code, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}
