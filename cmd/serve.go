package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/api"
	"github.com/scrapeworks/harvester/internal/clock/system"
	"github.com/scrapeworks/harvester/internal/config"
	"github.com/scrapeworks/harvester/internal/dispatcher"
	"github.com/scrapeworks/harvester/internal/engine"
	"github.com/scrapeworks/harvester/internal/extract"
	collyfetch "github.com/scrapeworks/harvester/internal/fetch/colly"
	"github.com/scrapeworks/harvester/internal/fetch/headless"
	"github.com/scrapeworks/harvester/internal/id/jobid"
	"github.com/scrapeworks/harvester/internal/job"
	"github.com/scrapeworks/harvester/internal/logging"
	"github.com/scrapeworks/harvester/internal/notify"
	"github.com/scrapeworks/harvester/internal/profile"
	"github.com/scrapeworks/harvester/internal/proxy"
	queuememory "github.com/scrapeworks/harvester/internal/queue/memory"
	"github.com/scrapeworks/harvester/internal/scrape"
	"github.com/scrapeworks/harvester/internal/sitemap"
	"github.com/scrapeworks/harvester/internal/storage/gcs"
	"github.com/scrapeworks/harvester/internal/storage/local"
	storememory "github.com/scrapeworks/harvester/internal/storage/memory"
	"github.com/scrapeworks/harvester/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the harvester API server and job workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	owners, jobs, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	clk := system.Clock{}
	pool := proxy.NewPool(filepath.Join(cfg.Storage.OutputRoot, "owners"), logging.Named(logger, "proxy"))
	profiles := profile.NewManager(filepath.Join(cfg.Storage.OutputRoot, "owners"), logging.Named(logger, "profile"))

	fetcher := collyfetch.New(collyfetch.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	renderer, err := buildRenderer(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(fetcher, renderer, extract.New(), engine.Config{
		SkipStatusCodes: cfg.Scraper.SkipStatusCodes,
	}, logging.Named(logger, "engine"))

	queue := queuememory.NewQueue(cfg.Scraper.QueueDepth)
	defer queue.Close()

	notifier := buildNotifier(ctx, cfg, logger)

	jobService := job.New(
		job.Config{OutputRoot: filepath.Join(cfg.Storage.OutputRoot, "jobs")},
		owners, jobs, profiles, pool, queue, eng, blobs, notifier,
		jobid.New(clk), clk, logging.Named(logger, "job"),
	)

	sitemapService := sitemap.NewService(
		sitemap.New(sitemap.Config{
			Timeout:   cfg.FetchTimeout(),
			UserAgent: cfg.Scraper.UserAgent,
		}, logging.Named(logger, "sitemap")),
		owners,
		logging.Named(logger, "sitemap"),
	)

	server := api.NewServer(jobService, jobs, owners, pool, profiles, sitemapService, cfg, logging.Named(logger, "api"))

	workers := dispatcher.New(queue, jobService, cfg.Scraper.RunWorkers, logging.Named(logger, "dispatcher"))
	workersDone := make(chan struct{})
	go func() {
		workers.Run(ctx)
		close(workersDone)
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-workersDone
	return nil
}

func buildStores(ctx context.Context, cfg config.Config) (scrape.OwnerStore, scrape.JobStore, func(), error) {
	if cfg.DB.DSN == "" {
		return storememory.NewOwnerStore(), storememory.NewJobStore(), func() {}, nil
	}
	owners, err := postgres.NewOwnerStore(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	jobs, err := postgres.NewJobStore(ctx, cfg.DB.DSN)
	if err != nil {
		owners.Close()
		return nil, nil, nil, err
	}
	return owners, jobs, func() {
		owners.Close()
		jobs.Close()
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (scrape.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local", "":
		return local.New(local.Config{BaseDir: filepath.Join(cfg.Storage.OutputRoot, "archives")})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func buildRenderer(cfg config.Config) (scrape.Fetcher, error) {
	if !cfg.Headless.Enabled {
		return headless.NewNoop(), nil
	}
	renderer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Scraper.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless renderer: %w", err)
	}
	return renderer, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) scrape.Notifier {
	channels := []scrape.Notifier{
		notify.NewWebhook(notify.WebhookConfig{
			Timeout: time.Duration(cfg.Notify.WebhookTimeoutSeconds) * time.Second,
			Retries: cfg.Notify.WebhookRetries,
		}, logging.Named(logger, "webhook")),
		notify.NewLogOnly(logging.Named(logger, "email")),
	}
	if cfg.Notify.PubSubProjectID != "" && cfg.Notify.PubSubTopic != "" {
		events, err := notify.NewPubSub(ctx, cfg.Notify.PubSubProjectID, cfg.Notify.PubSubTopic, logging.Named(logger, "pubsub"))
		if err != nil {
			logger.Warn("pubsub notifier disabled", zap.Error(err))
		} else {
			channels = append(channels, events)
		}
	}
	return notify.NewMulti(logging.Named(logger, "notify"), channels...)
}
