package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/internal/scheduler"
	"github.com/cvehub/cvehub/pkg/logger"
)

type crawlerHandler struct {
	sched    *scheduler.Scheduler
	registry *crawler.Registry
	log      *logger.Logger
}

func newCrawlerHandler(s *scheduler.Scheduler, reg *crawler.Registry, log *logger.Logger) *crawlerHandler {
	return &crawlerHandler{sched: s, registry: reg, log: log.WithComponent("crawler-handler")}
}

// Run implements POST /crawlers/run/{id} (admin).
func (h *crawlerHandler) Run(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	crawlerID := chi.URLParam(r, "id")

	triggered, busy, err := h.sched.Run(r.Context(), crawlerID, p.Username, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if busy != nil {
		writeJSON(w, http.StatusOK, busy)
		return
	}
	writeJSON(w, http.StatusAccepted, triggered)
}

// Status implements GET /crawlers/status.
func (h *crawlerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.Status(r.Context()))
}

// Available implements GET /crawlers/available.
func (h *crawlerHandler) Available(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.ListAvailable())
}
