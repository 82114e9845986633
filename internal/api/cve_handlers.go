package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cvehub/cvehub/internal/activity"
	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/internal/notify"
	"github.com/cvehub/cvehub/pkg/logger"
)

type cveHandler struct {
	engine   *cve.Engine
	activity *activity.Service
	notify   *notify.Service
	log      *logger.Logger
}

func newCVEHandler(e *cve.Engine, act *activity.Service, nf *notify.Service, log *logger.Logger) *cveHandler {
	return &cveHandler{engine: e, activity: act, notify: nf, log: log.WithComponent("cve-handler")}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// List implements GET /cves.
func (h *cveHandler) List(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	q := r.URL.Query()

	result, err := h.engine.GetList(r.Context(), page, limit, cve.ListFilters{
		Status:   q.Get("status"),
		Severity: q.Get("severity"),
		Search:   q.Get("search"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": result.Items, "total": result.Total, "page": result.Page, "limit": result.Limit,
	})
}

// Detail implements GET /cves/{id}.
func (h *cveHandler) Detail(w http.ResponseWriter, r *http.Request) {
	cveID := chi.URLParam(r, "id")
	doc, err := h.engine.GetDetail(r.Context(), cveID)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil {
		writeError(w, &apperr.NotFoundError{ID: cveID})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type createCVERequest struct {
	CVEID       string `json:"cve_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Notes       string `json:"notes"`
}

// Create implements POST /cves.
func (h *cveHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	var req createCVERequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}

	doc, err := h.engine.Create(r.Context(), cve.CreateInput{
		CVEID: req.CVEID, Title: req.Title, Description: req.Description,
		Severity: req.Severity, Notes: req.Notes,
	}, p.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	h.activity.Record(r.Context(), p.Username, activity.ActionCreate, activity.TargetCVE, activity.Simple(doc.CVEID, doc.Title))
	writeJSON(w, http.StatusCreated, doc)
}

type updateCVERequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	AssignedTo  *string `json:"assigned_to"`
	Severity    *string `json:"severity"`
	Notes       *string `json:"notes"`
}

// Update implements PATCH /cves/{id}.
func (h *cveHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cveID := chi.URLParam(r, "id")

	var req updateCVERequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}

	prevAssignee := ""
	if prev, err := h.engine.GetDetail(r.Context(), cveID); err == nil && prev != nil {
		prevAssignee = prev.AssignedTo
	}

	doc, err := h.engine.Update(r.Context(), cveID, cve.UpdatePatch{
		Title: req.Title, Description: req.Description, Status: req.Status,
		AssignedTo: req.AssignedTo, Severity: req.Severity, Notes: req.Notes,
	}, p.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	h.activity.Record(r.Context(), p.Username, activity.ActionUpdate, activity.TargetCVE, activity.Simple(doc.CVEID, doc.Title))

	if req.AssignedTo != nil && *req.AssignedTo != "" && *req.AssignedTo != prevAssignee {
		if _, err := h.notify.Create(r.Context(), notify.CreateInput{
			RecipientID: *req.AssignedTo,
			SenderID:    p.Username,
			Type:        notify.TypeCVEUpdate,
			Content:     doc.CVEID + " was assigned to you",
			CVEID:       doc.CVEID,
		}); err != nil {
			h.log.ErrorContext(r.Context(), "failed to create assignment notification", "cve_id", doc.CVEID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, doc)
}

// Delete implements DELETE /cves/{id} (admin only).
func (h *cveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cveID := chi.URLParam(r, "id")

	if err := h.engine.Delete(r.Context(), cveID); err != nil {
		writeError(w, err)
		return
	}

	h.activity.Record(r.Context(), p.Username, activity.ActionDelete, activity.TargetCVE, activity.Simple(cveID, ""))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// AcquireLock implements POST /cves/{id}/lock.
func (h *cveHandler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cveID := chi.URLParam(r, "id")

	doc, err := h.engine.AcquireLock(r.Context(), cveID, p.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ReleaseLock implements DELETE /cves/{id}/lock.
func (h *cveHandler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cveID := chi.URLParam(r, "id")

	if err := h.engine.ReleaseLock(r.Context(), cveID, p.Username); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

type bulkUpsertRequest struct {
	Items []createCVERequest `json:"items"`
}

// Bulk implements POST /cves/bulk.
func (h *cveHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())

	var req bulkUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}

	items := make([]cve.CreateInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, cve.CreateInput{
			CVEID: it.CVEID, Title: it.Title, Description: it.Description,
			Severity: it.Severity, Notes: it.Notes,
		})
	}

	result := h.engine.BulkUpsert(r.Context(), items, p.Username)
	h.activity.Record(r.Context(), p.Username, activity.ActionUpdate, activity.TargetSystem,
		activity.Simple("bulk_upsert", "bulk CVE upsert"))
	writeJSON(w, http.StatusOK, result)
}

// Stats implements GET /cves/stats.
func (h *cveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
