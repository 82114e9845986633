// Package main is the entry point for the cvehub service: the composition
// root wiring configuration, storage, the push fabric, the CVE engine,
// the crawlers and their scheduler, and the REST surface into one HTTP
// server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cvehub/cvehub/internal/activity"
	"github.com/cvehub/cvehub/internal/api"
	"github.com/cvehub/cvehub/internal/auth"
	"github.com/cvehub/cvehub/internal/cache"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/internal/crawler/emergingthreats"
	"github.com/cvehub/cvehub/internal/crawler/metasploit"
	"github.com/cvehub/cvehub/internal/crawler/nuclei"
	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/internal/notify"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/internal/scheduler"
	"github.com/cvehub/cvehub/internal/store"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
	"github.com/cvehub/cvehub/pkg/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, "json").WithService("cvehub")
	log.Info("starting cvehub",
		"version", version, "build_time", buildTime, "git_commit", gitCommit, "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.ServiceName = "cvehub"
	provider, err := telemetry.NewProvider(telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer provider.Shutdown(ctx)

	s, err := store.New(ctx, cfg.Mongo, log)
	if err != nil {
		return fmt.Errorf("failed to connect to mongo: %w", err)
	}
	defer s.Close(ctx)
	log.Info("connected to document store")

	c, err := cache.New(cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("failed to connect to cache: %w", err)
	}
	defer c.Close()
	log.Info("connected to cache")

	clk := clock.Real{}

	registry := realtime.NewRegistry()
	hub := realtime.NewHub(cfg.WS, registry, log)

	engine := cve.New(s, c, hub, clk, log)
	activitySvc := activity.New(s, clk, log)
	notifySvc := notify.New(s, hub, clk, log)
	authSvc := auth.New(s, clk, cfg.Auth, log)

	crawlerRegistry := crawler.NewRegistry()
	crawlerRegistry.Register(nuclei.New(cfg.Crawlers, cfg.Storage, engine, hub, log))
	crawlerRegistry.Register(emergingthreats.New(cfg.Crawlers, cfg.Storage, engine, hub, log))
	crawlerRegistry.Register(metasploit.New(cfg.Crawlers, cfg.Storage, engine, hub, log))

	sched, err := scheduler.New(ctx, scheduler.Config{
		RulesCrawlerInterval: 6 * time.Hour,
		Timezone:             cfg.Timezone,
	}, crawlerRegistry, s, c, clk, log)
	if err != nil {
		return fmt.Errorf("failed to init scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop(ctx)
	log.Info("scheduler started")

	go notifySvc.StartRetention(ctx)

	router := api.New(api.Config{
		Auth:      authSvc,
		Engine:    engine,
		Activity:  activitySvc,
		Notify:    notifySvc,
		Scheduler: sched,
		Registry:  crawlerRegistry,
		Hub:       hub,
		CORS:      cfg.CORS,
		RateLimit: cfg.RateLimit,
		Log:       log,
	})

	server := &http.Server{
		Addr:         cfg.API.Address(),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown error: %w", err)
			}
		}
		log.Info("server shutdown complete")
	}

	return nil
}
