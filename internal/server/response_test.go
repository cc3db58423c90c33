package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/session"
)

func TestWriteHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	writeSuccess(w)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text is required")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":{"code":"INVALID_REQUEST","message":"text is required"}}`, w.Body.String())
}

func TestDecodeBody(t *testing.T) {
	var req PromptRequest

	r := httptest.NewRequest(http.MethodPost, "/session/prompt", strings.NewReader(""))
	w := httptest.NewRecorder()
	assert.True(t, decodeBody(w, r, &req))
	assert.Empty(t, req.Text)

	r = httptest.NewRequest(http.MethodPost, "/session/prompt", strings.NewReader(`{"text":"hi"}`))
	assert.True(t, decodeBody(w, r, &req))
	assert.Equal(t, "hi", req.Text)

	r = httptest.NewRequest(http.MethodPost, "/session/prompt", strings.NewReader(`{"text":`))
	w = httptest.NewRecorder()
	assert.False(t, decodeBody(w, r, &req))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteEngineError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		details map[string]any
	}{
		{"concurrency", &agent.ConcurrencyError{Op: "prompt"}, http.StatusConflict, ErrCodeBusy, map[string]any{"operation": "prompt"}},
		{"wrapped reference", fmt.Errorf("navigate: %w", &session.ReferenceError{ID: "x"}), http.StatusNotFound, ErrCodeNotFound, map[string]any{"id": "x"}},
		{"cancelled compaction", compaction.ErrCompactionCancelled, http.StatusUnprocessableEntity, ErrCodeCompactionCancelled, nil},
		{"nothing to compact", compaction.ErrNotApplicable, http.StatusUnprocessableEntity, ErrCodeNotApplicable, nil},
		{"invalid branch entry", agent.ErrInvalidBranchEntry, http.StatusBadRequest, ErrCodeInvalidRequest, nil},
		{"no model", agent.ErrNoModel, http.StatusBadRequest, ErrCodeInvalidRequest, nil},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeEngineError(w, tt.err)

			require.Equal(t, tt.status, w.Code)
			res := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, res.Error.Code)
			assert.Equal(t, tt.err.Error(), res.Error.Message)
			assert.Equal(t, tt.details, res.Error.Details)
		})
	}
}
