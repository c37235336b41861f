// Package engine implements the concurrent per-job fetch pipeline.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/metrics"
	"github.com/scrapeworks/harvester/internal/scrape"
)

// Config controls fetch classification.
type Config struct {
	// SkipStatusCodes are treated as a terminal "done, no content"
	// outcome for a URL: the response is real, retrying through another
	// proxy will not change it.
	SkipStatusCodes []int
}

// DefaultSkipStatusCodes matches the historical skip list.
var DefaultSkipStatusCodes = []int{http.StatusNotFound, http.StatusInternalServerError}

// Request describes one engine invocation. URLs and proxies are the
// job's frozen snapshots.
type Request struct {
	JobID     string
	URLs      []string
	Proxies   []string
	Parallel  int
	Parse     bool
	Render    bool
	OutputDir string
}

// Engine fans a URL batch out over a bounded worker pool, failing over
// across the proxy list per URL. There is deliberately no retry backoff:
// proxies are assumed plentiful and interchangeable, so exhaustion is
// immediate failover rather than delay-and-retry against one origin.
type Engine struct {
	fetcher   scrape.Fetcher
	renderer  scrape.Fetcher
	extractor scrape.Extractor
	skip      map[int]struct{}
	logger    *zap.Logger
}

// New builds an Engine. renderer may be nil when headless rendering is
// disabled; extractor may be nil to disable parsing entirely.
func New(fetcher, renderer scrape.Fetcher, extractor scrape.Extractor, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	codes := cfg.SkipStatusCodes
	if len(codes) == 0 {
		codes = DefaultSkipStatusCodes
	}
	skip := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		skip[code] = struct{}{}
	}
	return &Engine{
		fetcher:   fetcher,
		renderer:  renderer,
		extractor: extractor,
		skip:      skip,
		logger:    logger,
	}
}

// urlOutcome is the fan-in unit for one URL task.
type urlOutcome struct {
	url           string
	scraped       bool
	proxiesUsed   []string
	proxiesFailed []string
}

// Scrape processes every URL in the request and returns the aggregate
// sets. Per-URL failures are absorbed into the failed set and never abort
// the run; the returned error covers only setup failures.
func (e *Engine) Scrape(ctx context.Context, req Request) (scrape.Result, error) {
	if err := os.MkdirAll(req.OutputDir, 0o750); err != nil {
		return scrape.Result{}, fmt.Errorf("create output directory: %w", err)
	}

	workers := poolSize(req.Parallel)
	tasks := make(chan string, len(req.URLs))
	outcomes := make(chan urlOutcome, len(req.URLs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range tasks {
				outcomes <- e.processURL(ctx, req, url)
			}
		}()
	}

	// Fan-out completes before any result is consumed; the outcome
	// channel is sized for the whole batch so workers never block on it.
	for _, url := range req.URLs {
		tasks <- url
	}
	close(tasks)
	wg.Wait()
	close(outcomes)

	scraped := map[string]struct{}{}
	failed := map[string]struct{}{}
	proxiesUsed := map[string]struct{}{}
	proxiesFailed := map[string]struct{}{}
	for outcome := range outcomes {
		if outcome.scraped {
			scraped[outcome.url] = struct{}{}
		}
		if len(outcome.proxiesFailed) > 0 || !outcome.scraped {
			failed[outcome.url] = struct{}{}
		}
		for _, p := range outcome.proxiesUsed {
			proxiesUsed[p] = struct{}{}
		}
		for _, p := range outcome.proxiesFailed {
			proxiesFailed[p] = struct{}{}
		}
	}

	result := scrape.Result{
		Scraped:       sortedKeys(scraped),
		Failed:        sortedKeys(failed),
		ProxiesUsed:   sortedKeys(proxiesUsed),
		ProxiesFailed: sortedKeys(proxiesFailed),
	}
	result.Done = difference(result.Failed, scraped)
	return result, nil
}

// processURL walks the proxy list in order until one attempt succeeds,
// one lands on the skip list, or the list is exhausted.
func (e *Engine) processURL(ctx context.Context, req Request, url string) urlOutcome {
	outcome := urlOutcome{url: url}

	for _, raw := range req.Proxies {
		proxy, err := scrape.ParseProxy(raw)
		if err != nil {
			e.logger.Warn("unparsable proxy in job snapshot",
				zap.String("job_id", req.JobID),
				zap.Error(err),
			)
			outcome.proxiesFailed = append(outcome.proxiesFailed, raw)
			continue
		}

		resp, err := e.fetch(ctx, scrape.FetchRequest{
			JobID:  req.JobID,
			URL:    url,
			Proxy:  proxy,
			Render: req.Render,
		})
		switch classify(resp, err, e.skip) {
		case fetchSucceeded:
			outcome.proxiesUsed = append(outcome.proxiesUsed, raw)
			if err := e.writeResult(req, url, raw, resp.Body); err != nil {
				e.logger.Error("result file write failed",
					zap.String("job_id", req.JobID),
					zap.String("url", url),
					zap.Error(err),
				)
				outcome.proxiesFailed = append(outcome.proxiesFailed, raw)
				continue
			}
			outcome.scraped = true
			metrics.FetchAttempt("success")
			return outcome
		case fetchSkipped:
			// The origin answered definitively; other proxies would see
			// the same thing.
			outcome.proxiesUsed = append(outcome.proxiesUsed, raw)
			metrics.FetchAttempt("skipped")
			return outcome
		default:
			outcome.proxiesFailed = append(outcome.proxiesFailed, raw)
			metrics.FetchAttempt("error")
			e.logger.Debug("fetch attempt failed, trying next proxy",
				zap.String("job_id", req.JobID),
				zap.String("url", url),
				zap.Error(err),
			)
		}
	}
	return outcome
}

func (e *Engine) fetch(ctx context.Context, req scrape.FetchRequest) (scrape.FetchResponse, error) {
	if req.Render && e.renderer != nil {
		return e.renderer.Fetch(ctx, req)
	}
	return e.fetcher.Fetch(ctx, req)
}

type fetchClass int

const (
	fetchFailed fetchClass = iota
	fetchSucceeded
	fetchSkipped
)

func classify(resp scrape.FetchResponse, err error, skip map[int]struct{}) fetchClass {
	if err != nil {
		return fetchFailed
	}
	if resp.StatusCode == http.StatusOK {
		return fetchSucceeded
	}
	if _, ok := skip[resp.StatusCode]; ok {
		return fetchSkipped
	}
	return fetchFailed
}

// writeResult persists the combined raw+parsed record for one URL. The
// file name is derived from the URL so reruns are deterministic.
func (e *Engine) writeResult(req Request, url, proxy string, body []byte) error {
	record := scrape.PageResult{
		URL:       url,
		ProxyUsed: proxy,
		Raw:       string(body),
	}
	if req.Parse && e.extractor != nil {
		content := e.extractor.Parse(url, body)
		record.Parsed = &content
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result for %s: %w", url, err)
	}
	path := filepath.Join(req.OutputDir, ResultFileName(url))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write result for %s: %w", url, err)
	}
	return nil
}

// ResultFileName maps a URL to its output file name.
func ResultFileName(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8]) + ".json"
}

func poolSize(parallel int) int {
	cores := runtime.NumCPU()
	if parallel < 1 {
		return 1
	}
	if parallel > cores {
		return cores
	}
	return parallel
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func difference(sorted []string, exclude map[string]struct{}) []string {
	var out []string
	for _, entry := range sorted {
		if _, ok := exclude[entry]; !ok {
			out = append(out, entry)
		}
	}
	return out
}
