package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
	}{
		{"invalid query", http.StatusBadRequest, "invalid_query"},
		{"not found", http.StatusNotFound, "not_found"},
		{"search down", http.StatusServiceUnavailable, "search_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, ErrorResponse(rec, tt.statusCode, tt.errorCode, "details"))

			assert.Equal(t, tt.statusCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.errorCode, body["error"])
			assert.Equal(t, "details", body["message"])
		})
	}
}

func TestWriteJSON_WrapsApiResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusOK, ApiResponse{Success: true, Data: map[string]int{"total": 3}}))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool           `json:"success"`
		Data    map[string]int `json:"data"`
		Error   string         `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, 3, body.Data["total"])
	assert.Empty(t, body.Error)
}

func TestWriteJSON_NonOKStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusAccepted, ApiResponse{Success: true}))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWriteJSON_UnencodableData(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, http.StatusOK, map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}
