// Package notify delivers best-effort job completion notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// WebhookConfig controls webhook delivery behavior.
type WebhookConfig struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Webhook POSTs the completion summary as JSON to the owner's webhook URL.
// Delivery retries with linear backoff; an owner with no webhook URL is a
// silent no-op.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	logger *zap.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig, logger *zap.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 1 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Notify delivers the summary, retrying transient failures.
func (w *Webhook) Notify(ctx context.Context, owner scrape.Owner, summary scrape.Summary) error {
	if owner.WebhookURL == "" {
		return nil
	}
	target, err := url.Parse(owner.WebhookURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return fmt.Errorf("invalid webhook url %q", owner.WebhookURL)
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.Retries; attempt++ {
		lastErr = w.post(ctx, target.String(), payload)
		if lastErr == nil {
			return nil
		}
		w.logger.Warn("webhook delivery failed",
			zap.String("owner_id", owner.ID),
			zap.String("job_id", summary.JobID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == w.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * w.cfg.Backoff):
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", w.cfg.Retries, lastErr)
}

func (w *Webhook) post(ctx context.Context, target string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
