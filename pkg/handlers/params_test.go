package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseNotebookID(t *testing.T) {
	valid := uuid.New()
	tests := []struct {
		name       string
		value      string
		wantOK     bool
		wantStatus int
	}{
		{"valid", valid.String(), true, http.StatusOK},
		{"empty", "", false, http.StatusBadRequest},
		{"numeric key is not accepted", "42", false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/notebooks/x", nil)
			req.SetPathValue("nid", tt.value)
			rr := httptest.NewRecorder()

			id, ok := ParseNotebookID(rr, req, zap.NewNop())
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantOK {
				assert.Equal(t, valid, id)
			} else {
				assert.Equal(t, uuid.Nil, id)
			}
		})
	}
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query  string
		want   int
		wantOK bool
	}{
		{"", 1, true},
		{"page=4", 4, true},
		{"page=0", 0, false},
		{"page=-2", 0, false},
		{"page=two", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/notebooks?"+tt.query, nil)
			rr := httptest.NewRecorder()

			page, ok := parsePage(rr, req, zap.NewNop())
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, page)
		})
	}
}
