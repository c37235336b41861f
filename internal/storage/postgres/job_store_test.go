package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/scrapeworks/harvester/internal/scrape"
)

func TestJobStoreCreateInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	job := scrape.Job{
		ID:       "0abc1def2gh",
		OwnerID:  "alice",
		Status:   scrape.JobStatusProcessing,
		Profile:  "default",
		URLs:     []string{"https://example.com/a"},
		Proxies:  []string{"10.0.0.1:8080:user:pass"},
		Parallel: 2,
		Created:  time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(jobArgs(job)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateMissingJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	mock.ExpectExec("UPDATE jobs").
		WithArgs(
			"missing", scrape.JobStatusFailed, "error while zipping",
			(*time.Time)(nil), []string(nil), []string(nil), []string(nil), []string(nil),
			0, "", "", "",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Update(context.Background(), scrape.Job{
		ID:           "missing",
		Status:       scrape.JobStatusFailed,
		StatusDetail: "error while zipping",
	})
	require.ErrorIs(t, err, scrape.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	created := time.Unix(1700000000, 0).UTC()
	finished := created.Add(time.Minute)

	mock.ExpectQuery("SELECT(.|\n)+FROM jobs WHERE id =").
		WithArgs("0abc1def2gh").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "name", "status", "status_detail", "profile",
			"urls", "proxies", "parallel_count", "parse_text", "render",
			"created_at", "finished_at",
			"urls_scraped", "urls_failed", "proxies_used", "proxies_failed",
			"points_used", "zip_file_path", "file_hash", "download_url",
		}).AddRow(
			"0abc1def2gh", "alice", "weekly", scrape.JobStatusCompleted, "", "default",
			[]string{"https://example.com/a"}, []string{"10.0.0.1:8080:user:pass"}, 2, true, false,
			created, &finished,
			[]string{"https://example.com/a"}, []string(nil), []string{"10.0.0.1:8080:user:pass"}, []string(nil),
			1, "/tmp/0abc1def2gh.zip", "deadbeef", "file:///tmp/0abc1def2gh.zip",
		))

	job, err := store.Get(context.Background(), "0abc1def2gh")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.Equal(t, []string{"https://example.com/a"}, job.Scraped)
	require.Equal(t, "deadbeef", job.ArchiveHash)
	require.NotNil(t, job.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreListByOwner(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	created := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "owner_id", "name", "status", "status_detail", "profile",
		"urls", "proxies", "parallel_count", "parse_text", "render",
		"created_at", "finished_at",
		"urls_scraped", "urls_failed", "proxies_used", "proxies_failed",
		"points_used", "zip_file_path", "file_hash", "download_url",
	}).
		AddRow(
			"aaa", "alice", "", scrape.JobStatusCompleted, "", "default",
			[]string{"https://example.com/a"}, []string(nil), 1, false, false,
			created, (*time.Time)(nil),
			[]string(nil), []string(nil), []string(nil), []string(nil),
			0, "", "", "",
		).
		AddRow(
			"bbb", "alice", "", scrape.JobStatusFailed, "no usable proxies", "default",
			[]string{"https://example.com/b"}, []string(nil), 1, false, false,
			created, (*time.Time)(nil),
			[]string(nil), []string(nil), []string(nil), []string(nil),
			0, "", "", "",
		)

	mock.ExpectQuery("SELECT(.|\n)+FROM jobs WHERE owner_id =").
		WithArgs("alice").
		WillReturnRows(rows)

	jobs, err := store.ListByOwner(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "aaa", jobs[0].ID)
	require.Equal(t, "no usable proxies", jobs[1].StatusDetail)
	require.NoError(t, mock.ExpectationsWereMet())
}
