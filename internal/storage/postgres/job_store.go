package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// JobStore implements scrape.JobStore on Postgres. URL and proxy lists are
// stored as text arrays.
type JobStore struct {
	pool querier
}

// NewJobStore connects a pool and returns the store.
func NewJobStore(ctx context.Context, dsn string) (*JobStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewJobStoreWithPool(pool querier) *JobStore {
	return &JobStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `
	id, owner_id, name, status, status_detail, profile,
	urls, proxies, parallel_count, parse_text, render,
	created_at, finished_at,
	urls_scraped, urls_failed, proxies_used, proxies_failed,
	points_used, zip_file_path, file_hash, download_url
`

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job scrape.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21);
	`
	if _, err := s.pool.Exec(ctx, query, jobArgs(job)...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Update replaces all mutable columns of an existing job row.
func (s *JobStore) Update(ctx context.Context, job scrape.Job) error {
	query := `
		UPDATE jobs SET
			status = $2, status_detail = $3,
			finished_at = $4,
			urls_scraped = $5, urls_failed = $6,
			proxies_used = $7, proxies_failed = $8,
			points_used = $9, zip_file_path = $10, file_hash = $11, download_url = $12
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.StatusDetail,
		job.Finished,
		job.Scraped,
		job.Failed,
		job.ProxiesUsed,
		job.ProxiesFailed,
		job.PointsUsed,
		job.ArchivePath,
		job.ArchiveHash,
		job.DownloadURL,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.NotFoundf("job %q not found", job.ID)
	}
	return nil
}

// Get fetches one job row.
func (s *JobStore) Get(ctx context.Context, jobID string) (scrape.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, scrape.NotFoundf("job %q not found", jobID)
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListByOwner returns the owner's jobs ordered by ID, which encodes
// submission time.
func (s *JobStore) ListByOwner(ctx context.Context, ownerID string) ([]scrape.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1 ORDER BY id;`
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scrape.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func jobArgs(job scrape.Job) []any {
	return []any{
		job.ID,
		job.OwnerID,
		job.Name,
		job.Status,
		job.StatusDetail,
		job.Profile,
		job.URLs,
		job.Proxies,
		job.Parallel,
		job.ParseText,
		job.Render,
		job.Created,
		job.Finished,
		job.Scraped,
		job.Failed,
		job.ProxiesUsed,
		job.ProxiesFailed,
		job.PointsUsed,
		job.ArchivePath,
		job.ArchiveHash,
		job.DownloadURL,
	}
}

func scanJob(row pgx.Row) (scrape.Job, error) {
	var job scrape.Job
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Name,
		&job.Status,
		&job.StatusDetail,
		&job.Profile,
		&job.URLs,
		&job.Proxies,
		&job.Parallel,
		&job.ParseText,
		&job.Render,
		&job.Created,
		&job.Finished,
		&job.Scraped,
		&job.Failed,
		&job.ProxiesUsed,
		&job.ProxiesFailed,
		&job.PointsUsed,
		&job.ArchivePath,
		&job.ArchiveHash,
		&job.DownloadURL,
	)
	return job, err
}
