package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvehub/cvehub/internal/cache"
)

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "cve_detail:CVE-2024-1234", cache.CVEDetailKey("CVE-2024-1234"))
	assert.Equal(t, "cve_list:page=1&limit=10", cache.CVEListKey("page=1&limit=10"))
	assert.Equal(t, "crawler_result:nuclei", cache.CrawlerResultKey("nuclei"))
	assert.Equal(t, "user:alice", cache.UserKey("alice"))
	assert.Equal(t, "stats:overview", cache.StatsKey("overview"))
}
