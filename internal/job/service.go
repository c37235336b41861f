// Package job implements the scrape job lifecycle: validation, quota
// reservation, background execution, packaging, and completion.
package job

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/archive"
	"github.com/scrapeworks/harvester/internal/engine"
	"github.com/scrapeworks/harvester/internal/metrics"
	"github.com/scrapeworks/harvester/internal/proxy"
	"github.com/scrapeworks/harvester/internal/scrape"
)

// allowedExtensions is the document/text safelist for submitted URLs.
// URLs whose last path segment carries any other extension are dropped
// during validation; extensionless paths pass.
var allowedExtensions = map[string]struct{}{
	".html":  {},
	".htm":   {},
	".xhtml": {},
	".php":   {},
	".asp":   {},
	".aspx":  {},
	".jsp":   {},
	".txt":   {},
	".md":    {},
	".json":  {},
	".xml":   {},
	".csv":   {},
}

// Scraper runs the fetch engine over a frozen URL/proxy snapshot.
type Scraper interface {
	Scrape(ctx context.Context, req engine.Request) (scrape.Result, error)
}

// ProfileStore resolves named scrape profiles.
type ProfileStore interface {
	Get(ctx context.Context, ownerID, name string) (scrape.Profile, error)
}

// ProxySource loads the owner's durable proxy pool.
type ProxySource interface {
	Load(ctx context.Context, ownerID string) ([]string, error)
}

// Config carries orchestrator settings.
type Config struct {
	// OutputRoot is the directory under which per-job output folders are
	// created, as <root>/<owner>/<job-id>.
	OutputRoot string
}

// SubmitRequest is a validated-on-entry job submission.
type SubmitRequest struct {
	OwnerID string
	Profile string
	Name    string
	URLs    []string
}

// Service owns the job state machine. Submit performs validation and
// reservation synchronously and enqueues the run; Run executes one
// reserved job to a terminal state.
type Service struct {
	cfg      Config
	owners   scrape.OwnerStore
	jobs     scrape.JobStore
	profiles ProfileStore
	pool     ProxySource
	queue    scrape.Queue
	scraper  Scraper
	blobs    scrape.BlobStore
	notifier scrape.Notifier
	ids      scrape.JobIDs
	clock    scrape.Clock
	zip      func(dir string) (string, string, error)
	logger   *zap.Logger
}

// New wires a Service. notifier and blobs may be nil to disable the
// corresponding step.
func New(
	cfg Config,
	owners scrape.OwnerStore,
	jobs scrape.JobStore,
	profiles ProfileStore,
	pool ProxySource,
	queue scrape.Queue,
	scraper Scraper,
	blobs scrape.BlobStore,
	notifier scrape.Notifier,
	ids scrape.JobIDs,
	clock scrape.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:      cfg,
		owners:   owners,
		jobs:     jobs,
		profiles: profiles,
		pool:     pool,
		queue:    queue,
		scraper:  scraper,
		blobs:    blobs,
		notifier: notifier,
		ids:      ids,
		clock:    clock,
		zip:      archive.ZipAndVerify,
		logger:   logger,
	}
}

// Submit validates the request, reserves quota, persists the job with
// status processing, and enqueues it for execution. Validation failures
// never touch the quota ledger.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (scrape.Job, error) {
	if _, err := s.owners.Get(ctx, req.OwnerID); err != nil {
		return scrape.Job{}, err
	}
	profile, err := s.profiles.Get(ctx, req.OwnerID, req.Profile)
	if err != nil {
		return scrape.Job{}, err
	}

	urls := FilterURLs(req.URLs)
	if len(urls) == 0 {
		return scrape.Job{}, scrape.PreconditionFailedf("no valid urls to scrape")
	}

	proxies, err := s.resolveProxies(ctx, req.OwnerID, profile)
	if err != nil {
		return scrape.Job{}, err
	}

	// Points cover every accepted URL; slots cover the whole run. One
	// atomic reservation keeps the two balances consistent under
	// concurrent submissions.
	if err := s.owners.Reserve(ctx, req.OwnerID, len(urls), profile.Parallel); err != nil {
		return scrape.Job{}, err
	}

	job := scrape.Job{
		ID:        s.ids.Next(req.OwnerID),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Status:    scrape.JobStatusProcessing,
		Profile:   profile.Name,
		URLs:      urls,
		Proxies:   proxies,
		Parallel:  profile.Parallel,
		ParseText: profile.ParseText,
		Render:    profile.Render,
		Created:   s.clock.Now(),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		s.refund(ctx, job.OwnerID, len(urls), profile.Parallel)
		return scrape.Job{}, scrape.Internalf("persist job %s: %v", job.ID, err)
	}

	if err := s.queue.Enqueue(ctx, scrape.QueueItem{Job: job, Submitted: job.Created.UnixMicro()}); err != nil {
		s.refund(ctx, job.OwnerID, len(urls), profile.Parallel)
		s.finish(ctx, &job, scrape.JobStatusFailed, "run queue unavailable")
		return scrape.Job{}, scrape.Internalf("enqueue job %s: %v", job.ID, err)
	}

	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.Int("urls", len(urls)),
		zap.Int("parallel", profile.Parallel),
	)
	return job, nil
}

// Run executes one reserved job to a terminal state. Quota is refunded
// exactly once: either in full when the engine never ran, or as
// failed-URL points plus the parallel allotment after the run.
func (s *Service) Run(ctx context.Context, job scrape.Job) error {
	metrics.JobStarted()
	defer metrics.JobDone()

	outputDir := filepath.Join(s.cfg.OutputRoot, job.OwnerID, job.ID)
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		s.refund(ctx, job.OwnerID, len(job.URLs), job.Parallel)
		s.finish(ctx, &job, scrape.JobStatusFailed, "error preparing output directory")
		return fmt.Errorf("create output directory: %w", err)
	}

	runLog := newRunLog(outputDir, s.clock, s.logger)
	runLog.Append("scraping %d urls with %d proxies", len(job.URLs), len(job.Proxies))
	if err := writeRunConfig(outputDir, job); err != nil {
		s.logger.Warn("write run config failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	result, err := s.scraper.Scrape(ctx, engine.Request{
		JobID:     job.ID,
		URLs:      job.URLs,
		Proxies:   job.Proxies,
		Parallel:  job.Parallel,
		Parse:     job.ParseText,
		Render:    job.Render,
		OutputDir: outputDir,
	})
	if err != nil {
		s.refund(ctx, job.OwnerID, len(job.URLs), job.Parallel)
		s.finish(ctx, &job, scrape.JobStatusFailed, "error while scraping")
		return fmt.Errorf("scrape job %s: %w", job.ID, err)
	}
	runLog.Append("scraping completed: %d scraped, %d never succeeded", len(result.Scraped), len(result.Done))

	// URLs that never succeeded on any proxy are not billed.
	s.refund(ctx, job.OwnerID, len(result.Done), job.Parallel)
	job.Scraped = result.Scraped
	job.Failed = result.Failed
	job.ProxiesUsed = result.ProxiesUsed
	job.ProxiesFailed = result.ProxiesFailed
	job.PointsUsed = len(job.URLs) - len(result.Done)
	job.Status = scrape.JobStatusZipping
	if err := s.jobs.Update(ctx, job); err != nil {
		s.logger.Warn("persist zipping status failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	runLog.Append("zipping the output folder and verifying the hash")
	archivePath, hash, err := s.zip(outputDir)
	if err != nil {
		s.finish(ctx, &job, scrape.JobStatusFailed, "error while zipping")
		return fmt.Errorf("zip job %s: %w", job.ID, err)
	}
	job.ArchivePath = archivePath
	job.ArchiveHash = hash

	downloadURL, err := s.publish(ctx, job, archivePath)
	if err != nil {
		s.finish(ctx, &job, scrape.JobStatusFailed, "error publishing archive")
		return fmt.Errorf("publish archive for job %s: %w", job.ID, err)
	}
	job.DownloadURL = downloadURL

	s.finish(ctx, &job, scrape.JobStatusCompleted, "")
	s.notify(ctx, job)
	return nil
}

// Summary builds the completion payload for a job record.
func Summary(job scrape.Job) scrape.Summary {
	return scrape.Summary{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		Status:      job.Status,
		URLsTotal:   len(job.URLs),
		URLsScraped: len(job.Scraped),
		URLsFailed:  len(job.Failed),
		PointsUsed:  job.PointsUsed,
		ArchiveHash: job.ArchiveHash,
		DownloadURL: job.DownloadURL,
	}
}

// FilterURLs keeps http(s) URLs whose last path segment is extensionless
// or carries a safelisted document/text extension. Order is preserved and
// duplicates are dropped.
func FilterURLs(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		parsed, err := url.Parse(trimmed)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			continue
		}
		if !allowedPath(parsed.Path) {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func allowedPath(path string) bool {
	segment := path
	if idx := strings.LastIndex(segment, "/"); idx >= 0 {
		segment = segment[idx+1:]
	}
	dot := strings.LastIndex(segment, ".")
	if dot < 0 {
		return true
	}
	_, ok := allowedExtensions[strings.ToLower(segment[dot:])]
	return ok
}

func (s *Service) resolveProxies(ctx context.Context, ownerID string, profile scrape.Profile) ([]string, error) {
	candidates := profile.Proxies
	if len(candidates) == 0 {
		pooled, err := s.pool.Load(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		candidates = pooled
	}
	valid, invalid := proxy.Partition(candidates)
	if len(invalid) > 0 {
		s.logger.Warn("dropping malformed proxies",
			zap.String("owner_id", ownerID),
			zap.Int("count", len(invalid)),
		)
	}
	if len(valid) == 0 {
		return nil, scrape.PreconditionFailedf("no usable proxies")
	}
	return valid, nil
}

func (s *Service) refund(ctx context.Context, ownerID string, points, parallel int) {
	if points == 0 && parallel == 0 {
		return
	}
	if err := s.owners.Refund(ctx, ownerID, points, parallel); err != nil {
		s.logger.Error("quota refund failed",
			zap.String("owner_id", ownerID),
			zap.Int("points", points),
			zap.Int("parallel", parallel),
			zap.Error(err),
		)
	}
}

// finish moves the job to a terminal state and persists it. The record
// must reach a queryable terminal state even when persistence of an
// intermediate step already failed.
func (s *Service) finish(ctx context.Context, job *scrape.Job, status scrape.JobStatus, detail string) {
	now := s.clock.Now()
	job.Status = status
	job.StatusDetail = detail
	job.Finished = &now
	if err := s.jobs.Update(ctx, *job); err != nil {
		s.logger.Error("persist terminal status failed",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	metrics.JobFinished(string(status))
}

func (s *Service) publish(ctx context.Context, job scrape.Job, archivePath string) (string, error) {
	if s.blobs == nil {
		return "file://" + archivePath, nil
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	uri, err := s.blobs.PutObject(ctx, filepath.Join(job.OwnerID, job.ID+".zip"), "application/zip", f)
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (s *Service) notify(ctx context.Context, job scrape.Job) {
	if s.notifier == nil {
		return
	}
	owner, err := s.owners.Get(ctx, job.OwnerID)
	if err != nil {
		s.logger.Warn("owner lookup for notification failed",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := s.notifier.Notify(ctx, owner, Summary(job)); err != nil {
		s.logger.Warn("notification failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}
