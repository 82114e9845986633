package api

import (
	"net/http"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/pkg/logger"
)

type wsHandler struct {
	hub *realtime.Hub
	log *logger.Logger
}

func newWSHandler(hub *realtime.Hub, log *logger.Logger) *wsHandler {
	return &wsHandler{hub: hub, log: log.WithComponent("ws-handler")}
}

// Connect upgrades the request to a WebSocket connection for the push
// fabric. The client identifies itself with a bearer token (query param
// or handshake) and a client-generated session_id, per §6.
func (h *wsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.NewUnauthenticated("missing or invalid token"))
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = realtime.NewSessionID()
	}

	if err := h.hub.HandleConnection(w, r, p.Username, sessionID); err != nil {
		h.log.ErrorContext(r.Context(), "websocket handshake failed", "username", p.Username, "error", err)
	}
}
