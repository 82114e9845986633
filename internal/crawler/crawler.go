// Package crawler implements the crawler base, progress-reporting
// throttle, and explicit-registration registry (C8) shared by every
// source-specific crawler (C9).
package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/pkg/logger"
)

// Stage is a crawl lifecycle stage.
type Stage string

const (
	StagePreparing      Stage = "preparing"
	StageFetching       Stage = "fetching"
	StageParsing        Stage = "parsing"
	StageProcessing     Stage = "processing"
	StageCompleted      Stage = "completed"
	StagePartialSuccess Stage = "partial_success"
	StageError          Stage = "error"
)

// Result is what crawl() returns, per §4.6/§4.7.
type Result struct {
	Stage             Stage
	UpdatedCount      int
	FailedCount       int
	Message           string
	SeverityHistogram map[string]int `json:"severity_histogram,omitempty"`
	Samples           []string       `json:"samples,omitempty"`
}

// Crawler is the capability set every source implementation exposes.
type Crawler interface {
	ID() string
	DisplayName() string
	Crawl(ctx context.Context, opts RunOptions) (Result, error)
}

// RunOptions configures one invocation of Crawl.
type RunOptions struct {
	RequesterID string // routes progress events only to this user's sessions, if set
	Quiet       bool   // suppresses all push emissions, used by scheduled runs
}

// Base is embedded by every concrete crawler; it supplies progress
// reporting, the CVE update wrapper, and a class-scoped logger.
type Base struct {
	IDValue          string
	DisplayNameValue string
	Engine           *cve.Engine
	Hub              *realtime.Hub
	Log              *logger.Logger

	mu            sync.Mutex
	lastEmit      time.Time
	lastPercent   int
	lastStage     Stage
}

// ID returns the crawler's stable identifier.
func (b *Base) ID() string { return b.IDValue }

// DisplayName returns the crawler's human-facing name.
func (b *Base) DisplayName() string { return b.DisplayNameValue }

// Progress returns the last stage/percent reported, for the scheduler's
// busy descriptor on a manual trigger against an already-running crawler.
func (b *Base) Progress() (Stage, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStage, b.lastPercent
}

// throttleInterval is the per-stage minimum gap between progress events.
const throttleInterval = 200 * time.Millisecond

var milestones = map[int]struct{}{0: {}, 25: {}, 50: {}, 75: {}, 100: {}}

// ReportProgress emits a crawler_update_progress event, throttled to at
// most one per 200ms per stage, except milestones {0,25,50,75,100} and
// stage transitions, which always emit. opts.RequesterID routes the
// event only to that user's sessions; opts.Quiet suppresses emission
// entirely (scheduled/quiet runs).
func (b *Base) ReportProgress(opts RunOptions, stage Stage, percent int, message string) {
	if opts.Quiet || b.Hub == nil {
		return
	}

	b.mu.Lock()
	_, isMilestone := milestones[percent]
	stageChanged := stage != b.lastStage
	elapsed := time.Since(b.lastEmit)
	shouldEmit := isMilestone || stageChanged || elapsed >= throttleInterval ||
		stage == StageCompleted || stage == StageError
	if !shouldEmit {
		b.mu.Unlock()
		return
	}
	b.lastEmit = time.Now()
	b.lastPercent = percent
	b.lastStage = stage
	b.mu.Unlock()

	payload := realtime.CrawlerProgressPayload{
		CrawlerID: b.IDValue,
		Stage:     string(stage),
		Message:   message,
		Current:   percent,
		Total:     100,
	}

	if opts.RequesterID != "" {
		b.Hub.Emit(realtime.EventCrawlerUpdateProgress, payload, realtime.Target{Username: opts.RequesterID})
		return
	}
	b.Hub.Emit(realtime.EventCrawlerUpdateProgress, payload, realtime.Target{Broadcast: true})
}

// UpdateCVE wraps C7's crawler-facing upsert, tagging the source and
// normalizing severity, per §4.6's update_cve contract.
func (b *Base) UpdateCVE(ctx context.Context, item cve.CrawlerItem, creator string) (created bool, err error) {
	return b.Engine.UpsertFromCrawler(ctx, item, creator)
}

// Registry holds every crawler implementation registered at startup,
// explicit registration per the redesign note against runtime
// auto-discovery.
type Registry struct {
	mu       sync.RWMutex
	crawlers map[string]Crawler
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{crawlers: make(map[string]Crawler)}
}

// Register adds c to the registry. Intended to be called once at
// startup per crawler implementation.
func (r *Registry) Register(c Crawler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.crawlers[c.ID()]; !exists {
		r.order = append(r.order, c.ID())
	}
	r.crawlers[c.ID()] = c
}

// Get returns the crawler registered under id, or (nil, false).
func (r *Registry) Get(id string) (Crawler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.crawlers[id]
	return c, ok
}

// CrawlerInfo is one entry in ListAvailable's result.
type CrawlerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// ListAvailable drives both the scheduler and the manual-trigger API's
// registry-listing endpoint.
func (r *Registry) ListAvailable() []CrawlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CrawlerInfo, 0, len(r.order))
	for _, id := range r.order {
		c := r.crawlers[id]
		out = append(out, CrawlerInfo{ID: c.ID(), DisplayName: c.DisplayName()})
	}
	return out
}
