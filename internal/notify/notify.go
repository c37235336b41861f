package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// Multi fans one notification out to every configured channel. Channel
// failures are logged and never propagate; notification is best-effort by
// contract.
type Multi struct {
	channels []scrape.Notifier
	logger   *zap.Logger
}

// NewMulti builds a composite notifier.
func NewMulti(logger *zap.Logger, channels ...scrape.Notifier) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{channels: channels, logger: logger}
}

// Notify delivers to all channels and always returns nil.
func (m *Multi) Notify(ctx context.Context, owner scrape.Owner, summary scrape.Summary) error {
	for _, ch := range m.channels {
		if err := ch.Notify(ctx, owner, summary); err != nil {
			m.logger.Warn("notification channel failed",
				zap.String("job_id", summary.JobID),
				zap.String("owner_id", owner.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// LogOnly records the summary in the service log. It stands in for email
// delivery when no mail transport is configured and the owner opted in.
type LogOnly struct {
	logger *zap.Logger
}

// NewLogOnly builds a log-backed notifier.
func NewLogOnly(logger *zap.Logger) *LogOnly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOnly{logger: logger}
}

// Notify writes one structured log line per completed job.
func (n *LogOnly) Notify(_ context.Context, owner scrape.Owner, summary scrape.Summary) error {
	if !owner.EmailOnJob {
		return nil
	}
	n.logger.Info("job notification",
		zap.String("job_id", summary.JobID),
		zap.String("owner_id", owner.ID),
		zap.String("email", owner.Email),
		zap.String("status", string(summary.Status)),
		zap.Int("urls_scraped", summary.URLsScraped),
		zap.Int("urls_failed", summary.URLsFailed),
	)
	return nil
}
