package api

import (
	"net/http"

	"github.com/cvehub/cvehub/internal/activity"
	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/pkg/logger"
)

type authHandler struct {
	svc      *auth.Service
	activity *activity.Service
	log      *logger.Logger
}

func newAuthHandler(svc *auth.Service, act *activity.Service, log *logger.Logger) *authHandler {
	return &authHandler{svc: svc, activity: act, log: log.WithComponent("auth-handler")}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	*auth.TokenPair
	User *auth.User `json:"user"`
}

// Token implements POST /auth/token, the password grant.
func (h *authHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}

	pair, user, err := h.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.activity.Record(r.Context(), user.Username, activity.ActionLogin, activity.TargetUser, activity.Simple(user.Username, user.Username))
	writeJSON(w, http.StatusOK, tokenResponse{TokenPair: pair, User: user})
}

// Signup implements POST /auth/signup.
func (h *authHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}

	pair, user, err := h.svc.Signup(r.Context(), req.Username, req.Password, auth.RoleUser)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{TokenPair: pair, User: user})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh implements POST /auth/refresh.
func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Logout implements POST /auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.NewValidation("invalid request body", "", err.Error()))
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, err)
		return
	}
	if p, ok := auth.FromContext(r.Context()); ok {
		h.activity.Record(r.Context(), p.Username, activity.ActionLogout, activity.TargetUser, activity.Simple(p.Username, p.Username))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Me implements GET /auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.NewUnauthenticated("not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
