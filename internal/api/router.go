package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cvehub/cvehub/internal/activity"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/internal/notify"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/internal/scheduler"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
	"github.com/cvehub/cvehub/pkg/telemetry"
)

// Config holds every collaborator the router dispatches to.
type Config struct {
	Auth      *auth.Service
	Engine    *cve.Engine
	Activity  *activity.Service
	Notify    *notify.Service
	Scheduler *scheduler.Scheduler
	Registry  *crawler.Registry
	Hub       *realtime.Hub
	CORS      config.CORSConfig
	RateLimit config.RateLimitConfig
	Log       *logger.Logger
}

// New builds the chi router implementing the full REST surface.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(telemetry.HTTPMiddleware("cvehub"))
	r.Use(requestLogger(cfg.Log))
	r.Use(recoverer(cfg.Log))
	r.Use(rateLimit(cfg.RateLimit, cfg.Log))

	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Total-Count", "X-Unread-Count"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authH := newAuthHandler(cfg.Auth, cfg.Activity, cfg.Log)
	cveH := newCVEHandler(cfg.Engine, cfg.Activity, cfg.Notify, cfg.Log)
	crawlerH := newCrawlerHandler(cfg.Scheduler, cfg.Registry, cfg.Log)
	notifH := newNotificationHandler(cfg.Notify, cfg.Log)
	historyH := newHistoryHandler(cfg.Engine, cfg.Activity, cfg.Log)
	wsH := newWSHandler(cfg.Hub, cfg.Log)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", authH.Token)
		r.Post("/refresh", authH.Refresh)
		r.Post("/signup", authH.Signup)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Auth, cfg.Log))
			r.Post("/logout", authH.Logout)
			r.Get("/me", authH.Me)
		})
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		auth.Middleware(cfg.Auth, cfg.Log)(http.HandlerFunc(wsH.Connect)).ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth, cfg.Log))

		r.Route("/cves", func(r chi.Router) {
			r.Get("/", cveH.List)
			r.Get("/stats", cveH.Stats)
			r.Post("/", cveH.Create)
			r.Post("/bulk", cveH.Bulk)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cveH.Detail)
				r.Patch("/", cveH.Update)
				r.With(auth.RequireAdmin).Delete("/", cveH.Delete)
				r.Post("/lock", cveH.AcquireLock)
				r.Delete("/lock", cveH.ReleaseLock)

				r.Route("/comments", func(r chi.Router) {
					r.Post("/", cveH.AddComment)
					r.Patch("/{commentId}", cveH.UpdateComment)
					r.Delete("/{commentId}", cveH.DeleteComment)
				})
			})
		})

		r.Route("/crawlers", func(r chi.Router) {
			r.With(auth.RequireAdmin).Post("/run/{id}", crawlerH.Run)
			r.Get("/status", crawlerH.Status)
			r.Get("/available", crawlerH.Available)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notifH.List)
			r.Put("/{id}/read", notifH.MarkRead)
			r.Put("/read-all", notifH.MarkAllRead)
			r.Post("/read-multiple", notifH.MarkMultipleRead)
		})

		r.Route("/update-history", func(r chi.Router) {
			r.Get("/recent", historyH.Recent)
			r.Get("/stats", historyH.Stats)
		})

		r.Get("/activity", historyH.Activity)
	})

	return r
}
