package crawler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/crawler"
)

type fakeCrawler struct {
	id, name string
}

func (f fakeCrawler) ID() string          { return f.id }
func (f fakeCrawler) DisplayName() string { return f.name }
func (f fakeCrawler) Crawl(ctx context.Context, opts crawler.RunOptions) (crawler.Result, error) {
	return crawler.Result{Stage: crawler.StageCompleted}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := crawler.NewRegistry()
	r.Register(fakeCrawler{id: "nuclei", name: "Nuclei Templates"})

	c, ok := r.Get("nuclei")
	assert.True(t, ok)
	assert.Equal(t, "Nuclei Templates", c.DisplayName())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ListAvailablePreservesRegistrationOrder(t *testing.T) {
	r := crawler.NewRegistry()
	r.Register(fakeCrawler{id: "nuclei", name: "Nuclei"})
	r.Register(fakeCrawler{id: "emerging-threats", name: "Emerging Threats"})
	r.Register(fakeCrawler{id: "metasploit", name: "Metasploit"})

	list := r.ListAvailable()
	var ids []string
	for _, info := range list {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"nuclei", "emerging-threats", "metasploit"}, ids)
}

func TestBase_ReportProgress_QuietModeSuppressesEmission(t *testing.T) {
	b := &crawler.Base{IDValue: "nuclei", DisplayNameValue: "Nuclei"}
	// With a nil Hub and quiet mode, this must not panic and must be a no-op.
	b.ReportProgress(crawler.RunOptions{Quiet: true}, crawler.StageFetching, 50, "halfway")
}
