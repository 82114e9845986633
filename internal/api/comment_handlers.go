package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cvehub/cvehub/internal/activity"
	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/notify"
)

type addCommentRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

// AddComment implements POST /cves/{id}/comments.
func (h *cveHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cveID := chi.URLParam(r, "id")

	var req addCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}

	comment, err := h.engine.AddComment(r.Context(), cveID, req.Content, p.Username, req.ParentID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.activity.Record(r.Context(), p.Username, activity.ActionAdd, activity.TargetComment,
		activity.Simple(comment.ID, cveID))

	for _, mentioned := range comment.Mentions {
		if mentioned == p.Username {
			continue
		}
		if _, err := h.notify.Create(r.Context(), notify.CreateInput{
			RecipientID: mentioned,
			SenderID:    p.Username,
			Type:        notify.TypeMention,
			Content:     p.Username + " mentioned you on " + cveID,
			CVEID:       cveID,
		}); err != nil {
			h.log.ErrorContext(r.Context(), "failed to create mention notification", "cve_id", cveID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, comment)
}

type updateCommentRequest struct {
	Content string `json:"content"`
}

// UpdateComment implements PATCH /cves/{id}/comments/{commentId}.
func (h *cveHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cveID := chi.URLParam(r, "id")
	commentID := chi.URLParam(r, "commentId")

	var req updateCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}

	comment, err := h.engine.UpdateComment(r.Context(), cveID, commentID, req.Content, p.Username)
	if err != nil {
		writeError(w, err)
		return
	}

	h.activity.Record(r.Context(), p.Username, activity.ActionUpdate, activity.TargetComment,
		activity.Simple(comment.ID, cveID))
	writeJSON(w, http.StatusOK, comment)
}

// DeleteComment implements DELETE /cves/{id}/comments/{commentId}.
func (h *cveHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cveID := chi.URLParam(r, "id")
	commentID := chi.URLParam(r, "commentId")

	if err := h.engine.DeleteComment(r.Context(), cveID, commentID, p.Username, p.IsAdmin()); err != nil {
		writeError(w, err)
		return
	}

	h.activity.Record(r.Context(), p.Username, activity.ActionDelete, activity.TargetComment,
		activity.Simple(commentID, cveID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
