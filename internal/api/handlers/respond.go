package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	middleware "github.com/markdave123-py/ToolSuite/internal/api/middlewares"
	"github.com/markdave123-py/ToolSuite/internal/core"
	"github.com/markdave123-py/ToolSuite/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy to a status code. Unclassified errors
// are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrUpstream):
		status = http.StatusBadGateway
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.ForRequest(r).Error("request failed", zap.Int("status", status), zap.Error(err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.InvalidState("invalid request body")
	}
	return nil
}

// currentUser writes a 401 and returns false when the request carries no user.
func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := middleware.CurrentUserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return "", false
	}
	return id, true
}

// logFailure records a failure on routes that answer with a redirect.
func logFailure(r *http.Request, err error) {
	logger.ForRequest(r).Warn("request failed", zap.Error(err))
}
