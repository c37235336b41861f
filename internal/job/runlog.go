package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

const (
	runLogFileName = "logs.json"
	runConfigName  = "config.json"
)

type logEntry struct {
	Time    string `json:"time"`
	Message string `json:"message"`
}

// runLog is the append-only per-job log. Entries live inside the job's
// output directory so they end up in the published archive.
type runLog struct {
	path    string
	clock   scrape.Clock
	entries []logEntry
	logger  *zap.Logger
}

func newRunLog(outputDir string, clock scrape.Clock, logger *zap.Logger) *runLog {
	return &runLog{
		path:   filepath.Join(outputDir, runLogFileName),
		clock:  clock,
		logger: logger,
	}
}

// Append records one formatted line and flushes the log file. Log I/O
// failures are reported but never fail the run.
func (l *runLog) Append(format string, args ...any) {
	l.entries = append(l.entries, logEntry{
		Time:    l.clock.Now().UTC().Format("2006-01-02 15:04:05"),
		Message: fmt.Sprintf(format, args...),
	})
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		l.logger.Warn("encode run log failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		l.logger.Warn("write run log failed", zap.Error(err))
	}
}

// writeRunConfig snapshots the job's frozen settings alongside its output.
func writeRunConfig(outputDir string, job scrape.Job) error {
	snapshot := map[string]any{
		"job_id":         job.ID,
		"job_name":       job.Name,
		"profile":        job.Profile,
		"parallel_count": job.Parallel,
		"parse_text":     job.ParseText,
		"render":         job.Render,
		"url_count":      len(job.URLs),
		"proxy_count":    len(job.Proxies),
		"created_at":     job.Created,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, runConfigName), data, 0o600); err != nil {
		return fmt.Errorf("write run config: %w", err)
	}
	return nil
}
