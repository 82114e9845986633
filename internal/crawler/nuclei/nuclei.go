// Package nuclei implements the template-repo crawler (C9): a shallow
// Git mirror of a nuclei-templates-shaped repository, scanned for
// per-CVE YAML templates under http/cves/<year>/.
package nuclei

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"gopkg.in/yaml.v3"

	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
)

const (
	id          = "nuclei"
	displayName = "Nuclei Templates"

	cloneTimeout = 3 * time.Minute
	pullTimeout  = 2 * time.Minute

	scanConcurrency = 4
	chunkSize       = 50
)

// Crawler scans a nuclei-templates-shaped repository for CVE coverage.
type Crawler struct {
	*crawler.Base

	repoURL string
	workDir string
}

// New builds the nuclei template-repo crawler.
func New(cfg config.CrawlerConfig, storage config.StorageConfig, engine *cve.Engine, hub *realtime.Hub, log *logger.Logger) *Crawler {
	return &Crawler{
		Base: &crawler.Base{
			IDValue:          id,
			DisplayNameValue: displayName,
			Engine:           engine,
			Hub:              hub,
			Log:              log.WithComponent("crawler." + id),
		},
		repoURL: cfg.NucleiRepoURL,
		workDir: filepath.Join(storage.DataDir, "nuclei-templates"),
	}
}

var filenamePattern = regexp.MustCompile(`(?i)(CVE-\d{4}-\d{4,})`)
var digestPattern = regexp.MustCompile(`(?m)^#\s*digest:\s*(\S+)\s*$`)

// template is the subset of a nuclei YAML template this crawler reads.
type template struct {
	ID   string `yaml:"id"`
	Info struct {
		Name        string     `yaml:"name"`
		Severity    string     `yaml:"severity"`
		Description string     `yaml:"description"`
		Reference   stringList `yaml:"reference"`
	} `yaml:"info"`
}

// stringList decodes a nuclei `reference` field, which upstream authors
// write as either a single scalar or a YAML sequence.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = []string{single}
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
	}
	return nil
}

// Crawl implements prepare → fetch → parse → process → complete|error.
func (c *Crawler) Crawl(ctx context.Context, opts crawler.RunOptions) (crawler.Result, error) {
	c.ReportProgress(opts, crawler.StagePreparing, 0, "preparing working copy")

	if err := c.syncRepo(ctx); err != nil {
		c.ReportProgress(opts, crawler.StageError, 100, err.Error())
		return crawler.Result{Stage: crawler.StageError, Message: err.Error()}, err
	}

	c.ReportProgress(opts, crawler.StageFetching, 10, "scanning year directories")
	files, err := c.listTemplateFiles()
	if err != nil {
		c.ReportProgress(opts, crawler.StageError, 100, err.Error())
		return crawler.Result{Stage: crawler.StageError, Message: err.Error()}, err
	}

	c.ReportProgress(opts, crawler.StageProcessing, 40, fmt.Sprintf("processing %d templates", len(files)))

	var updated, failed int
	histogram := make(map[string]int)
	var samples []string
	for start := 0; start < len(files); start += chunkSize {
		end := start + chunkSize
		if end > len(files) {
			end = len(files)
		}
		chunk := files[start:end]
		for _, path := range chunk {
			item, ok, err := c.parseTemplate(path)
			if err != nil {
				c.Log.WarnContext(ctx, "failed to parse nuclei template", "path", path, "error", err)
				failed++
				continue
			}
			if !ok {
				continue
			}
			if c.skipUnchanged(ctx, item) {
				continue
			}
			if _, err := c.UpdateCVE(ctx, item, cve.CrawlerUsername(id)); err != nil {
				c.Log.WarnContext(ctx, "failed to upsert cve from nuclei template", "cve_id", item.CVEID, "error", err)
				failed++
				continue
			}
			updated++
			histogram[string(cve.NormalizeSeverity(item.Severity))]++
			if len(samples) < 10 {
				samples = append(samples, item.CVEID)
			}
		}
		total := len(files)
		if total == 0 {
			total = 1
		}
		percent := 40 + int(float64(end)/float64(total)*55)
		c.ReportProgress(opts, crawler.StageProcessing, percent, fmt.Sprintf("%d/%d processed", end, len(files)))
	}

	stage := crawler.StageCompleted
	if failed > 0 && updated == 0 {
		stage = crawler.StageError
	} else if failed > 0 {
		stage = crawler.StagePartialSuccess
	}
	msg := fmt.Sprintf("updated %d, failed %d", updated, failed)
	c.ReportProgress(opts, stage, 100, msg)

	return crawler.Result{
		Stage: stage, UpdatedCount: updated, FailedCount: failed, Message: msg,
		SeverityHistogram: histogram, Samples: samples,
	}, nil
}

// syncRepo clones the working copy if absent, else pulls; on failure it
// wipes the directory so the next run re-clones from scratch.
func (c *Crawler) syncRepo(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(c.workDir, ".git")); os.IsNotExist(err) {
		cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
		defer cancel()
		_, err := git.PlainCloneContext(cloneCtx, c.workDir, false, &git.CloneOptions{
			URL:          c.repoURL,
			Depth:        1,
			SingleBranch: true,
		})
		if err != nil {
			os.RemoveAll(c.workDir)
			return fmt.Errorf("clone nuclei templates: %w", err)
		}
		return nil
	}

	repo, err := git.PlainOpen(c.workDir)
	if err != nil {
		os.RemoveAll(c.workDir)
		return fmt.Errorf("open nuclei templates working copy: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		os.RemoveAll(c.workDir)
		return fmt.Errorf("open nuclei templates worktree: %w", err)
	}
	pullCtx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()
	err = wt.PullContext(pullCtx, &git.PullOptions{Depth: 1, SingleBranch: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		os.RemoveAll(c.workDir)
		return fmt.Errorf("pull nuclei templates: %w", err)
	}
	return nil
}

// listTemplateFiles walks http/cves/<year>/*.yaml with bounded
// concurrency across year directories.
func (c *Crawler) listTemplateFiles() ([]string, error) {
	root := filepath.Join(c.workDir, "http", "cves")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cves root: %w", err)
	}

	var (
		mu    sync.Mutex
		all   []string
		wg    sync.WaitGroup
		sem   = make(chan struct{}, scanConcurrency)
		errMu sync.Mutex
		first error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		yearDir := filepath.Join(root, entry.Name())
		wg.Add(1)
		sem <- struct{}{}
		go func(dir string) {
			defer wg.Done()
			defer func() { <-sem }()
			files, err := os.ReadDir(dir)
			if err != nil {
				errMu.Lock()
				if first == nil {
					first = fmt.Errorf("read year directory %s: %w", dir, err)
				}
				errMu.Unlock()
				return
			}
			var yearFiles []string
			for _, f := range files {
				if f.IsDir() || !strings.HasSuffix(strings.ToLower(f.Name()), ".yaml") {
					continue
				}
				yearFiles = append(yearFiles, filepath.Join(dir, f.Name()))
			}
			mu.Lock()
			all = append(all, yearFiles...)
			mu.Unlock()
		}(yearDir)
	}
	wg.Wait()
	if first != nil {
		return nil, first
	}
	sort.Strings(all)
	return all, nil
}

// parseTemplate extracts a canonical ingest item from one template file.
// ok is false for files that carry no recognizable CVE id.
func (c *Crawler) parseTemplate(path string) (cve.CrawlerItem, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cve.CrawlerItem{}, false, err
	}

	var t template
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return cve.CrawlerItem{}, false, err
	}

	cveID := ""
	if m := filenamePattern.FindString(filepath.Base(path)); m != "" {
		cveID = m
	} else if m := filenamePattern.FindString(t.Info.Name); m != "" {
		cveID = m
	} else if m := filenamePattern.FindString(t.ID); m != "" {
		cveID = m
	}
	if cveID == "" {
		return cve.CrawlerItem{}, false, nil
	}

	digest := ""
	if m := digestPattern.FindSubmatch(raw); len(m) == 2 {
		digest = string(m[1])
	}

	year := filepath.Base(filepath.Dir(path))
	pocURL := c.pocURL(year, filepath.Base(path))

	refs := make([]cve.Reference, 0, len(t.Info.Reference))
	for _, r := range t.Info.Reference {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		refs = append(refs, cve.Reference{URL: r, Category: cve.ReferenceOther})
	}

	return cve.CrawlerItem{
		CVEID:       cveID,
		Title:       t.Info.Name,
		Description: t.Info.Description,
		Severity:    t.Info.Severity,
		References:  refs,
		PoCs: []cve.ProofOfConcept{{
			Source: cve.PoCSourceNucleiTemplates,
			URL:    pocURL,
		}},
		SourceHash: digest,
		SourceTag:  "Nuclei-Templates",
	}, true, nil
}

// pocURL builds a canonical web URL for the template file, derived from
// the configured clone URL.
func (c *Crawler) pocURL(year, filename string) string {
	base := strings.TrimSuffix(c.repoURL, ".git")
	return fmt.Sprintf("%s/blob/main/http/cves/%s/%s", base, year, filename)
}

// skipUnchanged implements §4.7's change-detection shortcut: if the
// stored source_hash equals the freshly parsed digest, the write is
// skipped entirely.
func (c *Crawler) skipUnchanged(ctx context.Context, item cve.CrawlerItem) bool {
	if item.SourceHash == "" {
		return false
	}
	current, err := c.Engine.GetDetail(ctx, item.CVEID)
	if err != nil || current == nil {
		return false
	}
	return current.NucleiHash != "" && current.NucleiHash == item.SourceHash
}
