package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"faccende/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"url", r.URL.Path,
			"status", status,
			"error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInsufficientBudget),
		errors.Is(err, core.ErrBudgetExhausted):
		return http.StatusPaymentRequired
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDimension),
		errors.Is(err, core.ErrInvalidSignal),
		errors.Is(err, core.ErrEmptyTitle),
		errors.Is(err, core.ErrEmptySummary),
		errors.Is(err, core.ErrInvalidSource),
		errors.Is(err, core.ErrInvalidSort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrServiceUnavailable),
		errors.Is(err, core.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
