package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/codetutor/internal/identity"
	"github.com/ashureev/codetutor/internal/orchestrator"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebSocketHandler serves /ws/assist: each text message is an inbound
// request and each reply is its terminal result.
type WebSocketHandler struct {
	tutor          Tutor
	originPatterns []string
	maxMessage     int64
}

// NewWebSocketHandler creates a WebSocket handler accepting the given
// origins ("*" allows any).
func NewWebSocketHandler(tutor Tutor, allowedOrigins []string, maxMessage int64) *WebSocketHandler {
	patterns := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		patterns = append(patterns, hostPattern(o))
	}
	return &WebSocketHandler{tutor: tutor, originPatterns: patterns, maxMessage: maxMessage}
}

// hostPattern converts an origin URL into the host pattern coder/websocket matches against.
func hostPattern(origin string) string {
	origin = strings.TrimPrefix(origin, "https://")
	return strings.TrimPrefix(origin, "http://")
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := identity.SourceFromContext(r.Context())
	slog.Info("WebSocket connection request", "source", source, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "source", source)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "source", source)
		}
	}()
	if h.maxMessage > 0 {
		ws.SetReadLimit(h.maxMessage)
	}

	ctx := r.Context()
	for {
		var in orchestrator.InboundRequest
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			slog.Debug("WebSocket read failed", "error", err, "source", source)
			return
		}
		in.TabID = resolveTab(in.TabID, source)

		res, err := h.tutor.Submit(ctx, in)
		if err != nil {
			if errors.Is(err, orchestrator.ErrClosed) {
				_ = ws.Close(websocket.StatusTryAgainLater, "server shutting down")
			}
			return
		}
		if err := wsjson.Write(ctx, ws, res); err != nil {
			slog.Debug("WebSocket write failed", "error", err, "source", source)
			return
		}
	}
}
