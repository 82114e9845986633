// Package scheduler implements the crawler scheduler (C10): cron-like
// triggers registered at startup, a mutex-guarded running-set, persisted
// last-update timestamps, and a cached last-result per crawler.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/cache"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/internal/store"
	"github.com/cvehub/cvehub/pkg/logger"
	"github.com/cvehub/cvehub/pkg/telemetry"
)

const lastUpdatesDocID = "crawler_last_updates"

// lastUpdatesDoc is the single key-value document persisting every
// crawler's last-success timestamp, per §4.8.
type lastUpdatesDoc struct {
	ID          string               `bson:"id"`
	LastUpdates map[string]time.Time `bson:"last_updates"`
}

// LastResult is the cached shape of a crawler's most recent run.
type LastResult struct {
	CrawlerID         string         `json:"crawler_id"`
	Stage             string         `json:"stage"`
	UpdatedCount      int            `json:"updated_count"`
	FailedCount       int            `json:"failed_count"`
	Message           string         `json:"message"`
	SeverityHistogram map[string]int `json:"severity_histogram,omitempty"`
	Samples           []string       `json:"samples,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// BusyStatus is returned by Run when the requested crawler is already
// executing, instead of starting a second concurrent run.
type BusyStatus struct {
	CrawlerID string `json:"crawler_id"`
	Stage     string `json:"stage"`
	Percent   int    `json:"percent"`
}

// TriggerResult is what Run returns for a freshly started run.
type TriggerResult struct {
	Status    string `json:"status"`
	CrawlerID string `json:"crawler_id"`
}

// StatusSnapshot is the GET /crawlers/status response shape.
type StatusSnapshot struct {
	IsRunning  bool                  `json:"isRunning"`
	LastUpdate map[string]time.Time  `json:"lastUpdate"`
	Results    map[string]LastResult `json:"results"`
}

// Interval config for the rules crawler, configurable per §6.
type Config struct {
	RulesCrawlerInterval time.Duration
	Timezone             string // e.g. "Asia/Seoul"
}

// Scheduler owns the cron triggers and the per-crawler run bookkeeping.
type Scheduler struct {
	registry *crawler.Registry
	store    *store.Store
	cache    *cache.Cache
	clock    clock.Clock
	log      *logger.Logger
	cron     *cron.Cron

	mu         sync.Mutex
	running    map[string]bool
	anyRunning bool
	lastUpdate map[string]time.Time
}

// New builds a Scheduler and loads the persisted last-update map,
// creating the backing document if it does not yet exist.
func New(ctx context.Context, cfg Config, reg *crawler.Registry, s *store.Store, c *cache.Cache, clk clock.Clock, log *logger.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}

	sched := &Scheduler{
		registry:   reg,
		store:      s,
		cache:      c,
		clock:      clk,
		log:        log.WithComponent("scheduler"),
		cron:       cron.New(cron.WithLocation(loc)),
		running:    make(map[string]bool),
		lastUpdate: make(map[string]time.Time),
	}

	if err := sched.loadLastUpdates(ctx); err != nil {
		return nil, err
	}

	if _, err := sched.cron.AddFunc("0 0 * * *", func() { sched.triggerScheduled(context.Background(), "nuclei") }); err != nil {
		return nil, fmt.Errorf("register nuclei schedule: %w", err)
	}
	if _, err := sched.cron.AddFunc("0 3 * * 1", func() { sched.triggerScheduled(context.Background(), "metasploit") }); err != nil {
		return nil, fmt.Errorf("register metasploit schedule: %w", err)
	}

	interval := cfg.RulesCrawlerInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if _, err := sched.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { sched.triggerScheduled(context.Background(), "emerging-threats") }); err != nil {
		return nil, fmt.Errorf("register emerging-threats schedule: %w", err)
	}

	return sched, nil
}

// Start begins running registered cron triggers.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron scheduler and waits until its job callbacks have
// returned or ctx is done. Crawls started by Run use their own background
// context, so this call does not cancel them.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// triggerScheduled runs a cron-triggered crawl in quiet mode with no
// specific requester.
func (s *Scheduler) triggerScheduled(ctx context.Context, crawlerID string) {
	if _, _, err := s.Run(ctx, crawlerID, "", true); err != nil {
		s.log.ErrorContext(ctx, "scheduled crawl failed to start", "crawler_id", crawlerID, "error", err)
	}
}

// Run implements the manual-trigger API: if crawlerID is already
// running, it returns a busy descriptor instead of starting a second
// run; otherwise it acquires the per-crawler lock and spawns the crawl
// asynchronously, returning immediately.
func (s *Scheduler) Run(ctx context.Context, crawlerID, requesterID string, quiet bool) (*TriggerResult, *BusyStatus, error) {
	c, ok := s.registry.Get(crawlerID)
	if !ok {
		return nil, nil, &apperr.NotFoundError{ID: crawlerID}
	}

	s.mu.Lock()
	if s.running[crawlerID] {
		s.mu.Unlock()
		stage, percent := "unknown", 0
		if base, ok := c.(interface{ Progress() (crawler.Stage, int) }); ok {
			st, pc := base.Progress()
			stage, percent = string(st), pc
		}
		return nil, &BusyStatus{CrawlerID: crawlerID, Stage: stage, Percent: percent}, nil
	}
	s.running[crawlerID] = true
	s.anyRunning = true
	s.mu.Unlock()

	go s.runCrawl(context.Background(), c, crawlerID, requesterID, quiet)

	return &TriggerResult{Status: "running", CrawlerID: crawlerID}, nil, nil
}

// runCrawl executes one crawl outside the coordinating mutex, then
// persists last_update/last_result and releases the running flag
// unconditionally, even on panic-free errors, per §4.8's mutex
// discipline.
func (s *Scheduler) runCrawl(ctx context.Context, c crawler.Crawler, crawlerID, requesterID string, quiet bool) {
	defer func() {
		s.mu.Lock()
		delete(s.running, crawlerID)
		s.anyRunning = len(s.running) > 0
		s.mu.Unlock()
	}()

	spanCtx, span := telemetry.CrawlerSpan(ctx, crawlerID)
	result, err := c.Crawl(spanCtx, crawler.RunOptions{RequesterID: requesterID, Quiet: quiet})
	if err != nil {
		span.SetError(err)
		s.log.ErrorContext(ctx, "crawl failed", "crawler_id", crawlerID, "error", err)
	} else {
		span.SetOK()
	}
	span.End()

	now := s.clock.Now()
	if result.UpdatedCount > 0 || result.FailedCount > 0 || result.Stage == crawler.StageCompleted {
		s.mu.Lock()
		s.lastUpdate[crawlerID] = now
		s.mu.Unlock()
		if s.store != nil {
			if err := s.persistLastUpdates(ctx); err != nil {
				s.log.ErrorContext(ctx, "failed to persist last_update", "crawler_id", crawlerID, "error", err)
			}
		}
	}

	lr := LastResult{
		CrawlerID:         crawlerID,
		Stage:             string(result.Stage),
		UpdatedCount:      result.UpdatedCount,
		FailedCount:       result.FailedCount,
		Message:           result.Message,
		SeverityHistogram: result.SeverityHistogram,
		Samples:           result.Samples,
		UpdatedAt:         now,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.CrawlerResultKey(crawlerID), lr, cache.TTLCrawlerResult); err != nil {
			s.log.ErrorContext(ctx, "failed to cache last_result", "crawler_id", crawlerID, "error", err)
		}
	}
}

// Status returns the combined crawlers/status view: whether anything is
// running, the persisted last-update map, and each crawler's cached
// last result.
func (s *Scheduler) Status(ctx context.Context) StatusSnapshot {
	s.mu.Lock()
	anyRunning := s.anyRunning
	lastUpdate := make(map[string]time.Time, len(s.lastUpdate))
	for k, v := range s.lastUpdate {
		lastUpdate[k] = v
	}
	s.mu.Unlock()

	results := make(map[string]LastResult)
	if s.cache != nil {
		for _, info := range s.registry.ListAvailable() {
			var lr LastResult
			if ok, err := s.cache.Get(ctx, cache.CrawlerResultKey(info.ID), &lr); err == nil && ok {
				results[info.ID] = lr
			}
		}
	}

	return StatusSnapshot{IsRunning: anyRunning, LastUpdate: lastUpdate, Results: results}
}

func (s *Scheduler) loadLastUpdates(ctx context.Context) error {
	coll := s.store.Collection(store.CollectionSystemConfig)
	doc, err := store.FindOne[lastUpdatesDoc](ctx, coll, bson.M{"id": lastUpdatesDocID}, nil)
	if err != nil {
		return &apperr.StorageError{Op: "load_last_updates", Cause: err}
	}
	if doc == nil {
		fresh := lastUpdatesDoc{ID: lastUpdatesDocID, LastUpdates: make(map[string]time.Time)}
		if _, err := store.Insert(ctx, coll, fresh); err != nil {
			return &apperr.StorageError{Op: "create_last_updates", Cause: err}
		}
		return nil
	}
	s.lastUpdate = doc.LastUpdates
	if s.lastUpdate == nil {
		s.lastUpdate = make(map[string]time.Time)
	}
	return nil
}

func (s *Scheduler) persistLastUpdates(ctx context.Context) error {
	s.mu.Lock()
	snapshot := make(map[string]time.Time, len(s.lastUpdate))
	for k, v := range s.lastUpdate {
		snapshot[k] = v
	}
	s.mu.Unlock()

	coll := s.store.Collection(store.CollectionSystemConfig)
	if err := store.UpdateOne(ctx, coll, bson.M{"id": lastUpdatesDocID}, store.OpSet, bson.M{"last_updates": snapshot}); err != nil {
		return &apperr.StorageError{Op: "persist_last_updates", Cause: err}
	}
	return nil
}
