package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/notify"
	"github.com/cvehub/cvehub/pkg/logger"
)

type notificationHandler struct {
	svc *notify.Service
	log *logger.Logger
}

func newNotificationHandler(svc *notify.Service, log *logger.Logger) *notificationHandler {
	return &notificationHandler{svc: svc, log: log.WithComponent("notification-handler")}
}

// List implements GET /notifications, attaching X-Total-Count and
// X-Unread-Count headers.
func (h *notificationHandler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	q := r.URL.Query()

	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 20)

	result, err := h.svc.List(r.Context(), p.Username, notify.Status(q.Get("status")), skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	w.Header().Set("X-Unread-Count", strconv.FormatInt(result.Unread, 10))
	writeJSON(w, http.StatusOK, result.Items)
}

// MarkRead implements PUT /notifications/{id}/read.
func (h *notificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.svc.MarkRead(r.Context(), id, p.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// MarkAllRead implements PUT /notifications/read-all.
func (h *notificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := h.svc.MarkAllRead(r.Context(), p.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

type markMultipleRequest struct {
	IDs []string `json:"ids"`
}

// MarkMultipleRead implements POST /notifications/read-multiple.
func (h *notificationHandler) MarkMultipleRead(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req markMultipleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}
	if err := h.svc.MarkMultipleRead(r.Context(), req.IDs, p.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}
