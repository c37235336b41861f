// Package memory provides in-memory store implementations suitable for
// tests and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// OwnerStore keeps owner records and their quota ledgers in a map guarded
// by a mutex. Reserve is atomic with respect to concurrent callers.
type OwnerStore struct {
	mu     sync.Mutex
	owners map[string]scrape.Owner
}

// NewOwnerStore returns an empty owner store.
func NewOwnerStore() *OwnerStore {
	return &OwnerStore{owners: make(map[string]scrape.Owner)}
}

// Put inserts or replaces an owner record.
func (s *OwnerStore) Put(owner scrape.Owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[owner.ID] = owner
}

// Get returns a copy of the owner record.
func (s *OwnerStore) Get(_ context.Context, ownerID string) (scrape.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[ownerID]
	if !ok {
		return scrape.Owner{}, scrape.NotFoundf("owner %q not found", ownerID)
	}
	return owner, nil
}

// Reserve debits both balances or neither. Both checks run under one
// critical section so concurrent reservations never oversell.
func (s *OwnerStore) Reserve(_ context.Context, ownerID string, points, parallel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[ownerID]
	if !ok {
		return scrape.NotFoundf("owner %q not found", ownerID)
	}
	if owner.Points < points {
		return scrape.PreconditionFailedf("insufficient points: have %d, need %d", owner.Points, points)
	}
	if owner.Parallel < parallel {
		return scrape.PreconditionFailedf("insufficient parallel slots: have %d, need %d", owner.Parallel, parallel)
	}

	owner.Points -= points
	owner.Parallel -= parallel
	s.owners[ownerID] = owner
	return nil
}

// Refund credits both balances unconditionally.
func (s *OwnerStore) Refund(_ context.Context, ownerID string, points, parallel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[ownerID]
	if !ok {
		return scrape.NotFoundf("owner %q not found", ownerID)
	}

	owner.Points += points
	owner.Parallel += parallel
	s.owners[ownerID] = owner
	return nil
}
