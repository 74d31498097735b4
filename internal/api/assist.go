package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/hint"
	"github.com/ashureev/codetutor/internal/identity"
	"github.com/ashureev/codetutor/internal/orchestrator"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	statsWindow         = 24 * time.Hour
)

// Assist submits one tutoring request and writes its terminal result.
func (h *Handler) Assist(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var in orchestrator.InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		JSON(w, http.StatusBadRequest, orchestrator.Failure{
			Error:         "invalid JSON body",
			ErrorCategory: orchestrator.CategoryValidation,
		})
		return
	}
	in.TabID = resolveTab(in.TabID, identity.SourceFromContext(r.Context()))

	res, err := h.tutor.Submit(r.Context(), in)
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}
	writeResult(w, res)
}

// resolveTab prefers a body tab identifier over the request source.
func resolveTab(bodyTab, source string) string {
	if bodyTab == "" {
		return source
	}
	return identity.SanitizeSource(bodyTab)
}

func writeResult(w http.ResponseWriter, res orchestrator.Result) {
	if res.OK() {
		JSON(w, http.StatusOK, res)
		return
	}
	if res.Failure.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.Failure.RetryAfter))
	}
	JSON(w, res.Failure.ErrorCategory.HTTPStatus(), res)
}

func writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrClosed):
		Error(w, http.StatusServiceUnavailable, "server is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Debug("request abandoned by client", "path", r.URL.Path, "error", err)
		Error(w, http.StatusServiceUnavailable, "request canceled")
	default:
		slog.Error("submit failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// GetHint returns the hint session for the problem named by ?problem=.
func (h *Handler) GetHint(w http.ResponseWriter, r *http.Request) {
	problem := r.URL.Query().Get("problem")
	if hint.ProblemKey(problem) == "" {
		Error(w, http.StatusBadRequest, "problem is required")
		return
	}

	state, found, err := h.tutor.HintContext(r.Context(), identity.SourceFromContext(r.Context()), problem)
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}
	if !found {
		Error(w, http.StatusNotFound, "no hint session for problem")
		return
	}
	JSON(w, http.StatusOK, state)
}

// ResetHint deletes the hint session for the problem named by ?problem=.
func (h *Handler) ResetHint(w http.ResponseWriter, r *http.Request) {
	problem := r.URL.Query().Get("problem")
	if hint.ProblemKey(problem) == "" {
		Error(w, http.StatusBadRequest, "problem is required")
		return
	}
	if err := h.tutor.ResetHint(r.Context(), identity.SourceFromContext(r.Context()), problem); err != nil {
		writeSubmitError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type historyTurn struct {
	SessionID     string    `json:"sessionId"`
	RequestID     uint64    `json:"requestId"`
	Level         int       `json:"level"`
	Type          string    `json:"type"`
	Content       string    `json:"content"`
	Filtered      bool      `json:"filtered"`
	FilterReason  string    `json:"filterReason,omitempty"`
	ProgressScore float64   `json:"progressScore"`
	CommittedAt   time.Time `json:"committedAt"`
}

// HintHistory lists audited hint turns for the problem, oldest first. Unlike
// GetHint it survives session expiry and resets.
func (h *Handler) HintHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusNotFound, "audit log disabled")
		return
	}
	key := hint.ProblemKey(r.URL.Query().Get("problem"))
	if key == "" {
		Error(w, http.StatusBadRequest, "problem is required")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.ListHintTurns(r.Context(), identity.SourceFromContext(r.Context()), key, limit)
	if err != nil {
		slog.Error("failed to list hint history", "problem", key, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read hint history")
		return
	}

	turns := make([]historyTurn, 0, len(records))
	for _, rec := range records {
		turns = append(turns, toHistoryTurn(rec))
	}
	JSON(w, http.StatusOK, map[string]any{
		"problemKey": key,
		"turns":      turns,
	})
}

func toHistoryTurn(rec domain.HintTurnRecord) historyTurn {
	return historyTurn{
		SessionID:     rec.SessionID,
		RequestID:     rec.RequestID,
		Level:         rec.Level,
		Type:          hint.HintType(rec.Level),
		Content:       rec.Content,
		Filtered:      rec.Filtered,
		FilterReason:  rec.FilterReason,
		ProgressScore: rec.ProgressScore,
		CommittedAt:   rec.CommittedAt,
	}
}

type statsResponse struct {
	orchestrator.Stats
	// AuditOutcomes counts audited outcomes over the last day by error
	// category; successes are keyed "ok".
	AuditOutcomes map[string]int64 `json:"auditOutcomes,omitempty"`
}

// Stats reports orchestrator counters and, when auditing is on, recent outcome totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.tutor.Stats(r.Context())
	if err != nil {
		writeSubmitError(w, r, err)
		return
	}
	resp := statsResponse{Stats: s}

	if h.history != nil {
		counts, err := h.history.CountOutcomes(r.Context(), time.Now().Add(-statsWindow))
		if err != nil {
			slog.Warn("failed to count audited outcomes", "error", err)
		} else {
			resp.AuditOutcomes = make(map[string]int64, len(counts))
			for category, n := range counts {
				if category == "" {
					category = "ok"
				}
				resp.AuditOutcomes[category] = n
			}
		}
	}
	JSON(w, http.StatusOK, resp)
}

// Wipe clears all in-memory orchestrator state.
func (h *Handler) Wipe(w http.ResponseWriter, r *http.Request) {
	if err := h.tutor.Wipe(r.Context()); err != nil {
		writeSubmitError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
