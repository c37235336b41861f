// Package scrape defines core types shared across subsystems.
package scrape

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store. A job moves
// validating -> processing -> zipping -> completed; failed is terminal
// and reachable from any non-terminal state.
const (
	JobStatusValidating JobStatus = "validating"
	JobStatusProcessing JobStatus = "processing"
	JobStatusZipping    JobStatus = "zipping"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Profile is a named, reusable bundle of scrape settings owned by a user.
// A non-empty proxy list overrides the owner's pool for jobs run under
// this profile.
type Profile struct {
	Name      string   `json:"name"`
	Parallel  int      `json:"parallel_count"`
	ParseText bool     `json:"parse_text"`
	Render    bool     `json:"render"`
	Proxies   []string `json:"proxies"`
}

// Owner carries the quota ledger fields consumed by the orchestrator.
// Points and Parallel are mutated only through OwnerStore.Reserve and
// OwnerStore.Refund.
type Owner struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Points     int    `json:"points"`
	Parallel   int    `json:"parallel_count"`
	WebhookURL string `json:"webhook_url,omitempty"`
	EmailOnJob bool   `json:"email_notification,omitempty"`
}

// Job is the metadata persisted for each batch-scrape execution. The URL
// and proxy lists are frozen at creation; later profile edits do not
// affect a running job.
type Job struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Name          string     `json:"name,omitempty"`
	Status        JobStatus  `json:"status"`
	StatusDetail  string     `json:"status_detail,omitempty"`
	Profile       string     `json:"profile"`
	URLs          []string   `json:"urls"`
	Proxies       []string   `json:"proxies"`
	Parallel      int        `json:"parallel_count"`
	ParseText     bool       `json:"parse_text"`
	Render        bool       `json:"render"`
	Created       time.Time  `json:"created_at"`
	Finished      *time.Time `json:"finished_at,omitempty"`
	Scraped       []string   `json:"urls_scraped,omitempty"`
	Failed        []string   `json:"urls_failed,omitempty"`
	ProxiesUsed   []string   `json:"proxies_used,omitempty"`
	ProxiesFailed []string   `json:"proxies_failed,omitempty"`
	PointsUsed    int        `json:"points_used"`
	ArchivePath   string     `json:"zip_file_path,omitempty"`
	ArchiveHash   string     `json:"file_hash,omitempty"`
	DownloadURL   string     `json:"download_url,omitempty"`
}

// Result aggregates the outcome of one fetch-engine run. Each slice is a
// deduplicated, lexicographically sorted set. A URL can appear in both
// Scraped and Failed when some proxies failed before one succeeded;
// Scraped is authoritative for success. Done is the set of URLs that
// never succeeded on any proxy (Failed minus Scraped).
type Result struct {
	Scraped       []string `json:"urls_scraped"`
	Failed        []string `json:"urls_failed"`
	Done          []string `json:"urls_done"`
	ProxiesUsed   []string `json:"proxies_used"`
	ProxiesFailed []string `json:"proxies_failed"`
}

// Summary is returned to the job submitter and reused verbatim as the
// notification payload on completion.
type Summary struct {
	JobID       string    `json:"job_id"`
	OwnerID     string    `json:"owner_id"`
	Status      JobStatus `json:"status"`
	URLsTotal   int       `json:"urls_total"`
	URLsScraped int       `json:"urls_scraped"`
	URLsFailed  int       `json:"urls_failed"`
	PointsUsed  int       `json:"points_used"`
	ArchiveHash string    `json:"file_hash,omitempty"`
	DownloadURL string    `json:"download_url,omitempty"`
}

// FetchRequest captures everything needed to fetch one URL through one proxy.
type FetchRequest struct {
	JobID  string
	URL    string
	Proxy  Proxy
	Render bool
}

// FetchResponse is the raw outcome of a single fetch attempt.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Content is the structured output of the content extractor.
type Content struct {
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Sections []string `json:"sections,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// PageResult is the per-URL record written into the job output directory.
type PageResult struct {
	URL       string   `json:"url"`
	ProxyUsed string   `json:"proxy_used"`
	Raw       string   `json:"raw,omitempty"`
	Parsed    *Content `json:"parsed,omitempty"`
}
