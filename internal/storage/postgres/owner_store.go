// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapeworks/harvester/internal/scrape"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// OwnerStore implements scrape.OwnerStore on Postgres. Reservation is a
// single conditional UPDATE so concurrent submissions cannot oversell
// either balance.
type OwnerStore struct {
	pool querier
}

// NewOwnerStore connects a pool and returns the store.
func NewOwnerStore(ctx context.Context, dsn string) (*OwnerStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &OwnerStore{pool: pool}, nil
}

// NewOwnerStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewOwnerStoreWithPool(pool querier) *OwnerStore {
	return &OwnerStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *OwnerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get fetches one owner row.
func (s *OwnerStore) Get(ctx context.Context, ownerID string) (scrape.Owner, error) {
	query := `
		SELECT id, email, points, parallel_count, webhook_url, email_notification
		FROM owners
		WHERE id = $1;
	`
	var owner scrape.Owner
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(
		&owner.ID,
		&owner.Email,
		&owner.Points,
		&owner.Parallel,
		&owner.WebhookURL,
		&owner.EmailOnJob,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Owner{}, scrape.NotFoundf("owner %q not found", ownerID)
	}
	if err != nil {
		return scrape.Owner{}, fmt.Errorf("select owner: %w", err)
	}
	return owner, nil
}

// Reserve debits points and parallel slots in one conditional UPDATE. When
// no row matches, a follow-up SELECT distinguishes a missing owner from an
// insufficient balance.
func (s *OwnerStore) Reserve(ctx context.Context, ownerID string, points, parallel int) error {
	query := `
		UPDATE owners
		SET points = points - $1, parallel_count = parallel_count - $2
		WHERE id = $3 AND points >= $1 AND parallel_count >= $2;
	`
	tag, err := s.pool.Exec(ctx, query, points, parallel, ownerID)
	if err != nil {
		return fmt.Errorf("reserve owner quota: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	owner, err := s.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if owner.Points < points {
		return scrape.PreconditionFailedf("insufficient points: have %d, need %d", owner.Points, points)
	}
	return scrape.PreconditionFailedf("insufficient parallel slots: have %d, need %d", owner.Parallel, parallel)
}

// Refund credits both balances back.
func (s *OwnerStore) Refund(ctx context.Context, ownerID string, points, parallel int) error {
	query := `
		UPDATE owners
		SET points = points + $1, parallel_count = parallel_count + $2
		WHERE id = $3;
	`
	tag, err := s.pool.Exec(ctx, query, points, parallel, ownerID)
	if err != nil {
		return fmt.Errorf("refund owner quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.NotFoundf("owner %q not found", ownerID)
	}
	return nil
}
