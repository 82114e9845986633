package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/pkg/logger"
)

type fakeCrawler struct {
	*crawler.Base
	result crawler.Result
}

func (f *fakeCrawler) Crawl(ctx context.Context, opts crawler.RunOptions) (crawler.Result, error) {
	return f.result, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *crawler.Registry) {
	t.Helper()
	reg := crawler.NewRegistry()
	reg.Register(&fakeCrawler{
		Base:   &crawler.Base{IDValue: "nuclei", DisplayNameValue: "Nuclei"},
		result: crawler.Result{Stage: crawler.StageCompleted, UpdatedCount: 3},
	})
	return &Scheduler{
		registry:   reg,
		clock:      clock.Real{},
		log:        logger.New("error", "json"),
		running:    make(map[string]bool),
		lastUpdate: make(map[string]time.Time),
	}, reg
}

func TestScheduler_Run_ReturnsBusyWhenAlreadyRunning(t *testing.T) {
	sched, _ := newTestScheduler(t)
	sched.running["nuclei"] = true
	sched.anyRunning = true

	triggered, busy, err := sched.Run(context.Background(), "nuclei", "", false)
	require.NoError(t, err)
	assert.Nil(t, triggered)
	require.NotNil(t, busy)
	assert.Equal(t, "nuclei", busy.CrawlerID)
}

func TestScheduler_Run_UnknownCrawlerIsNotFound(t *testing.T) {
	sched, _ := newTestScheduler(t)
	_, _, err := sched.Run(context.Background(), "does-not-exist", "", false)
	assert.Error(t, err)
}

func TestScheduler_RunCrawl_ReleasesRunningFlagUnconditionally(t *testing.T) {
	sched, reg := newTestScheduler(t)
	c, _ := reg.Get("nuclei")
	sched.running["nuclei"] = true
	sched.anyRunning = true

	sched.runCrawl(context.Background(), c, "nuclei", "", true)

	sched.mu.Lock()
	defer sched.mu.Unlock()
	assert.False(t, sched.running["nuclei"])
	assert.False(t, sched.anyRunning)
	assert.Len(t, sched.lastUpdate, 1)
}
