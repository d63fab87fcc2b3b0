package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/escalator/internal/model"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// deskError maps a desk error onto an HTTP status.
func deskError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, model.ErrValidation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case model.IsCollaborator(err):
		slog.Error(action+" failed", "error", err)
		httpError(w, http.StatusServiceUnavailable, "storage_error", "failed to %s: %v", action, err)
	default:
		slog.Error(action+" failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to %s: %v", action, err)
	}
}
