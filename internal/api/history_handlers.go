package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/cvehub/cvehub/internal/activity"
	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/pkg/logger"
)

type historyHandler struct {
	engine   *cve.Engine
	activity *activity.Service
	log      *logger.Logger
}

func newHistoryHandler(e *cve.Engine, act *activity.Service, log *logger.Logger) *historyHandler {
	return &historyHandler{engine: e, activity: act, log: log.WithComponent("history-handler")}
}

// Recent implements GET /update-history/recent.
func (h *historyHandler) Recent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.engine.RecentHistory(r.Context(), cve.HistoryFilters{
		Days:         queryInt(r, "days", 7),
		CrawlersOnly: q.Get("crawlers_only") == "true",
		Username:     q.Get("username"),
		Page:         queryInt(r, "page", 1),
		Limit:        queryInt(r, "limit", 20),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stats implements GET /update-history/stats.
func (h *historyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.HistoryStats(r.Context(), queryInt(r, "days", 7))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Activity implements the combined-filter activity-log endpoint:
// comma-separated OR lists on target_type/action, exact username/
// target_id, and a from/to range on the record timestamp.
func (h *historyHandler) Activity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := activity.Filters{
		Username: q.Get("username"),
		TargetID: q.Get("target_id"),
		Page:     queryInt(r, "page", 1),
		Limit:    queryInt(r, "limit", 20),
	}
	if v := q.Get("target_type"); v != "" {
		f.TargetTypes = strings.Split(v, ",")
	}
	if v := q.Get("action"); v != "" {
		f.Actions = strings.Split(v, ",")
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperr.NewValidation("invalid from timestamp", "from", "must be RFC3339"))
			return
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperr.NewValidation("invalid to timestamp", "to", "must be RFC3339"))
			return
		}
		f.To = &t
	}

	result, err := h.activity.Filter(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": result.Items, "total": result.Total})
}
