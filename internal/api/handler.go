// Package api provides HTTP handlers for the tutoring API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

// Tutor is the request coordinator the handlers drive.
type Tutor interface {
	Submit(ctx context.Context, in orchestrator.InboundRequest) (orchestrator.Result, error)
	HintContext(ctx context.Context, source, problemTitle string) (orchestrator.HintState, bool, error)
	ResetHint(ctx context.Context, source, problemTitle string) error
	Wipe(ctx context.Context) error
	Stats(ctx context.Context) (orchestrator.Stats, error)
}

// History reads the audit log. It is optional.
type History interface {
	ListHintTurns(ctx context.Context, source, problemKey string, limit int) ([]domain.HintTurnRecord, error)
	CountOutcomes(ctx context.Context, since time.Time) (map[string]int64, error)
}

// Handler serves the tutoring endpoints.
type Handler struct {
	tutor   Tutor
	history History
	maxBody int64
}

// NewHandler creates a Handler. history may be nil when auditing is disabled.
func NewHandler(tutor Tutor, history History, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{tutor: tutor, history: history, maxBody: maxBody}
}

// RegisterRoutes registers the tutoring API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/assist", h.Assist)
		r.Get("/hints", h.GetHint)
		r.Delete("/hints", h.ResetHint)
		r.Get("/hints/history", h.HintHistory)
		r.Get("/stats", h.Stats)
		r.Post("/wipe", h.Wipe)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
