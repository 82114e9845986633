// Package metasploit implements the exploit-module crawler (C9): a
// shallow Git mirror of a metasploit-framework-shaped repository, walked
// for Ruby exploit modules carrying CVE references.
package metasploit

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/cvehub/cvehub/internal/crawler"
	"github.com/cvehub/cvehub/internal/cve"
	"github.com/cvehub/cvehub/internal/realtime"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
)

const (
	id          = "metasploit"
	displayName = "Metasploit Framework"

	cloneTimeout = 3 * time.Minute
	pullTimeout  = 2 * time.Minute

	chunkSize = 50
)

// Crawler scans a metasploit-framework-shaped repository's exploit
// modules for CVE coverage.
type Crawler struct {
	*crawler.Base

	repoURL string
	workDir string
}

// New builds the exploit-module crawler.
func New(cfg config.CrawlerConfig, storage config.StorageConfig, engine *cve.Engine, hub *realtime.Hub, log *logger.Logger) *Crawler {
	return &Crawler{
		Base: &crawler.Base{
			IDValue:          id,
			DisplayNameValue: displayName,
			Engine:           engine,
			Hub:              hub,
			Log:              log.WithComponent("crawler." + id),
		},
		repoURL: cfg.MetasploitRepoURL,
		workDir: filepath.Join(storage.DataDir, "metasploit-framework"),
	}
}

var (
	cveIDPattern   = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)
	namePattern    = regexp.MustCompile(`(?s)'Name'\s*=>\s*'([^']*)'`)
	descPattern    = regexp.MustCompile(`(?s)'Description'\s*=>\s*%?q?\(?\s*'([^']*)'`)
	referencesPat  = regexp.MustCompile(`(?s)'References'\s*=>\s*\[((?:[^\[\]]|\[[^\[\]]*\])*)\]`)
	urlEntryPat    = regexp.MustCompile(`\[\s*'URL'\s*,\s*'([^']+)'\s*\]`)
)

// Crawl implements prepare → fetch → parse → process → complete|error.
func (c *Crawler) Crawl(ctx context.Context, opts crawler.RunOptions) (crawler.Result, error) {
	c.ReportProgress(opts, crawler.StagePreparing, 0, "preparing working copy")

	if err := c.syncRepo(ctx); err != nil {
		c.ReportProgress(opts, crawler.StageError, 100, err.Error())
		return crawler.Result{Stage: crawler.StageError, Message: err.Error()}, err
	}

	c.ReportProgress(opts, crawler.StageFetching, 10, "walking exploit modules")
	files, err := c.listModuleFiles()
	if err != nil {
		c.ReportProgress(opts, crawler.StageError, 100, err.Error())
		return crawler.Result{Stage: crawler.StageError, Message: err.Error()}, err
	}

	c.ReportProgress(opts, crawler.StageProcessing, 40, fmt.Sprintf("processing %d modules", len(files)))

	var updated, failed int
	var samples []string
	for start := 0; start < len(files); start += chunkSize {
		end := start + chunkSize
		if end > len(files) {
			end = len(files)
		}
		for _, path := range files[start:end] {
			item, ok, err := c.parseModule(path)
			if err != nil {
				c.Log.WarnContext(ctx, "failed to parse metasploit module", "path", path, "error", err)
				failed++
				continue
			}
			if !ok {
				continue
			}
			if _, err := c.UpdateCVE(ctx, item, cve.CrawlerUsername(id)); err != nil {
				c.Log.WarnContext(ctx, "failed to upsert cve from metasploit module", "cve_id", item.CVEID, "error", err)
				failed++
				continue
			}
			updated++
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
	return crawler.Result{Stage: stage, UpdatedCount: updated, FailedCount: failed, Message: msg, Samples: samples}, nil
}

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
			return fmt.Errorf("clone metasploit-framework: %w", err)
		}
		return nil
	}

	repo, err := git.PlainOpen(c.workDir)
	if err != nil {
		os.RemoveAll(c.workDir)
		return fmt.Errorf("open metasploit-framework working copy: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		os.RemoveAll(c.workDir)
		return fmt.Errorf("open metasploit-framework worktree: %w", err)
	}
	pullCtx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()
	err = wt.PullContext(pullCtx, &git.PullOptions{Depth: 1, SingleBranch: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		os.RemoveAll(c.workDir)
		return fmt.Errorf("pull metasploit-framework: %w", err)
	}
	return nil
}

// listModuleFiles walks modules/exploits/**/*.rb.
func (c *Crawler) listModuleFiles() ([]string, error) {
	root := filepath.Join(c.workDir, "modules", "exploits")
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".rb") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("walk exploit modules: %w", err)
	}
	return out, nil
}

// parseModule extracts a canonical ingest item from one Ruby exploit
// module. ok is false for modules with no CVE reference.
func (c *Crawler) parseModule(path string) (cve.CrawlerItem, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cve.CrawlerItem{}, false, err
	}
	content := string(raw)

	cveID := cveIDPattern.FindString(content)
	if cveID == "" {
		return cve.CrawlerItem{}, false, nil
	}

	name := ""
	if m := namePattern.FindStringSubmatch(content); m != nil {
		name = strings.TrimSpace(m[1])
	}
	description := ""
	if m := descPattern.FindStringSubmatch(content); m != nil {
		description = strings.TrimSpace(m[1])
	}

	var refs []cve.Reference
	if m := referencesPat.FindStringSubmatch(content); m != nil {
		for _, u := range urlEntryPat.FindAllStringSubmatch(m[1], -1) {
			refs = append(refs, cve.Reference{URL: u[1], Category: cve.ReferenceExploit})
		}
	}

	relPath, err := c.relModulePath(path)
	if err != nil {
		relPath = filepath.Base(path)
	}
	pocURL := c.pocURL(relPath)

	return cve.CrawlerItem{
		CVEID:       cveID,
		Title:       name,
		Description: description,
		References:  refs,
		PoCs: []cve.ProofOfConcept{{
			Source: cve.PoCSourceMetasploit,
			URL:    pocURL,
		}},
		SourceTag: "Metasploit-Framework",
	}, true, nil
}

func (c *Crawler) relModulePath(path string) (string, error) {
	return filepath.Rel(c.workDir, path)
}

func (c *Crawler) pocURL(relPath string) string {
	base := strings.TrimSuffix(c.repoURL, ".git")
	return fmt.Sprintf("%s/blob/master/%s", base, filepath.ToSlash(relPath))
}
