// Package emergingthreats implements the rules-file crawler (C9): a
// single HTTP GET of an "all rules" Snort/Suricata feed, parsed for
// per-CVE detection rules.
package emergingthreats

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
	"github.com/cvehub/cvehub/pkg/telemetry"
)

const (
	id          = "emerging-threats"
	displayName = "Emerging Threats Rules"
)

// Crawler downloads and parses an emerging-threats-shaped rules file.
type Crawler struct {
	*crawler.Base

	feedURL      string
	rulesPath    string
	hashPath     string
	fetchTimeout time.Duration
	client       *http.Client
}

// New builds the rules-file crawler.
func New(cfg config.CrawlerConfig, storage config.StorageConfig, engine *cve.Engine, hub *realtime.Hub, log *logger.Logger) *Crawler {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Crawler{
		Base: &crawler.Base{
			IDValue:          id,
			DisplayNameValue: displayName,
			Engine:           engine,
			Hub:              hub,
			Log:              log.WithComponent("crawler." + id),
		},
		feedURL:      cfg.EmergingThreatsFeedURL,
		rulesPath:    filepath.Join(storage.DataDir, "emerging-threats.rules"),
		hashPath:     filepath.Join(storage.DataDir, "emerging-threats.rules.sha256"),
		fetchTimeout: timeout,
		client:       &http.Client{Timeout: timeout},
	}
}

var (
	sidPattern  = regexp.MustCompile(`sid\s*:\s*(\d+)\s*;`)
	cvePattern  = regexp.MustCompile(`reference\s*:\s*cve\s*,\s*(\d{4}-\d{4,})\s*;`)
	urlRefPat   = regexp.MustCompile(`reference\s*:\s*url\s*,\s*([^;]+);`)
	stripMeta   = regexp.MustCompile(`(?:reference|metadata)\s*:[^;]*;`)
)

// Crawl implements prepare → fetch → parse → process → complete|error.
func (c *Crawler) Crawl(ctx context.Context, opts crawler.RunOptions) (crawler.Result, error) {
	c.ReportProgress(opts, crawler.StagePreparing, 0, "preparing")

	body, changed, err := c.fetchIfChanged(ctx)
	if err != nil {
		c.ReportProgress(opts, crawler.StageError, 100, err.Error())
		return crawler.Result{Stage: crawler.StageError, Message: err.Error()}, err
	}
	if !changed {
		msg := "rules file unchanged, skipping parse"
		c.ReportProgress(opts, crawler.StageCompleted, 100, msg)
		return crawler.Result{Stage: crawler.StageCompleted, Message: msg}, nil
	}

	c.ReportProgress(opts, crawler.StageParsing, 40, "parsing rules")
	items := parseRules(body)

	c.ReportProgress(opts, crawler.StageProcessing, 60, fmt.Sprintf("processing %d items", len(items)))
	var updated, failed int
	var samples []string
	for i, item := range items {
		if _, err := c.UpdateCVE(ctx, item, cve.CrawlerUsername(id)); err != nil {
			c.Log.WarnContext(ctx, "failed to upsert cve from rule", "cve_id", item.CVEID, "error", err)
			failed++
			continue
		}
		updated++
		if len(samples) < 10 {
			samples = append(samples, item.CVEID)
		}
		if i%25 == 0 {
			total := len(items)
			if total == 0 {
				total = 1
			}
			percent := 60 + int(float64(i)/float64(total)*35)
			c.ReportProgress(opts, crawler.StageProcessing, percent, fmt.Sprintf("%d/%d processed", i, len(items)))
		}
	}

	stage := crawler.StageCompleted
	if failed > 0 && updated == 0 {
		stage = crawler.StageError
	} else if failed > 0 {
		stage = crawler.StagePartialSuccess
	}
	msg := fmt.Sprintf("updated %d, failed %d", updated, failed)
	c.ReportProgress(opts, stage, 100, msg)
	return crawler.Result{Stage: stage, UpdatedCount: updated, FailedCount: failed, Message: msg, Samples: samples}, nil
}

// fetchIfChanged downloads the feed, comparing its SHA-256 against the
// sidecar hash on disk; if unchanged, the download is discarded and the
// cached body is skipped entirely (changed=false, body=nil).
func (c *Crawler) fetchIfChanged(ctx context.Context) ([]byte, bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	spanCtx, span := telemetry.HTTPClientSpan(fetchCtx, http.MethodGet, c.feedURL)
	defer span.End()

	req, err := http.NewRequestWithContext(spanCtx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		span.SetError(err)
		return nil, false, fmt.Errorf("build rules request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		span.SetError(err)
		return nil, false, fmt.Errorf("fetch rules file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		span.SetError(fmt.Errorf("unexpected status %d", resp.StatusCode))
		return nil, false, fmt.Errorf("fetch rules file: unexpected status %d", resp.StatusCode)
	}
	span.SetOK()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read rules file body: %w", err)
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])

	if existing, err := os.ReadFile(c.hashPath); err == nil && strings.TrimSpace(string(existing)) == digest {
		return nil, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.rulesPath), 0o755); err != nil {
		return nil, false, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(c.rulesPath, body, 0o644); err != nil {
		return nil, false, fmt.Errorf("persist rules file: %w", err)
	}
	if err := os.WriteFile(c.hashPath, []byte(digest), 0o644); err != nil {
		return nil, false, fmt.Errorf("persist rules hash: %w", err)
	}

	return body, true, nil
}

// parseRules extracts one canonical item per distinct CVE referenced
// across the feed's rule lines, deduplicated within the run.
func parseRules(body []byte) []cve.CrawlerItem {
	byCVE := make(map[string]cve.CrawlerItem)
	order := make([]string, 0)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "alert") {
			continue
		}
		cveMatches := cvePattern.FindAllStringSubmatch(line, -1)
		if cveMatches == nil {
			continue
		}

		sid := ""
		if m := sidPattern.FindStringSubmatch(line); m != nil {
			sid = m[1]
		}

		var refs []cve.Reference
		for _, m := range urlRefPat.FindAllStringSubmatch(line, -1) {
			url := strings.TrimSpace(m[1])
			if url == "" {
				continue
			}
			if !strings.Contains(url, "://") {
				url = "http://" + url
			}
			refs = append(refs, cve.Reference{URL: url, Category: cve.ReferenceOther})
		}

		cleaned := strings.TrimSpace(stripMeta.ReplaceAllString(line, ""))

		for _, cveMatch := range cveMatches {
			cveID := "CVE-" + cveMatch[1]
			if _, exists := byCVE[cveID]; exists {
				continue
			}
			byCVE[cveID] = cve.CrawlerItem{
				CVEID:      cveID,
				Title:      cveID,
				References: refs,
				SnortRules: []cve.SnortRule{{
					Rule: cleaned,
					Type: "snort",
					SID:  sid,
				}},
				SourceTag: "Emerging-Threats",
			}
			order = append(order, cveID)
		}
	}

	out := make([]cve.CrawlerItem, 0, len(order))
	for _, id := range order {
		out = append(out, byCVE[id])
	}
	return out
}
