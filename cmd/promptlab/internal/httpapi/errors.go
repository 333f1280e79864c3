package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/session"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// statusFor maps application errors to HTTP status codes. Configuration is
// checked before Model because a model error usually wraps the missing
// setting that caused it.
func statusFor(err error) int {
	switch {
	case apperr.IsValidation(err):
		return http.StatusBadRequest
	case apperr.IsTemplate(err):
		return http.StatusNotFound
	case apperr.IsConfiguration(err):
		return http.StatusBadRequest
	case apperr.IsModel(err):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrTaskNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: status})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
