package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pi-agent/pi/internal/agent"
	"github.com/pi-agent/pi/internal/compaction"
	"github.com/pi-agent/pi/internal/session"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBusy                = "AGENT_BUSY"
	ErrCodeCompactionCancelled = "COMPACTION_CANCELLED"
	ErrCodeNotApplicable       = "NOT_APPLICABLE"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeEngineError maps errors of the engine and its collaborators to
// status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var (
		busy   *agent.ConcurrencyError
		refErr *session.ReferenceError
	)
	switch {
	case errors.As(err, &busy):
		writeErrorWithDetails(w, http.StatusConflict, ErrCodeBusy, err.Error(), map[string]any{"operation": busy.Op})
	case errors.As(err, &refErr):
		writeErrorWithDetails(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), map[string]any{"id": refErr.ID})
	case errors.Is(err, compaction.ErrCompactionCancelled):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeCompactionCancelled, err.Error())
	case errors.Is(err, compaction.ErrNotApplicable):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeNotApplicable, err.Error())
	case errors.Is(err, agent.ErrInvalidBranchEntry), errors.Is(err, agent.ErrNoModel):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
