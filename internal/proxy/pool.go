package proxy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/scrape"
)

const poolFileName = "proxies.json"

// Pool manages the durable, deduplicated proxy set of each owner. Every
// mutation acquires an exclusive per-owner lock, reads the persisted set,
// applies the change, and writes the result atomically, so concurrent
// writers never interleave and I/O failure never leaves a half-written
// pool behind.
type Pool struct {
	baseDir string
	locks   locker
	logger  *zap.Logger
}

// NewPool creates a Pool rooted at baseDir.
func NewPool(baseDir string, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{baseDir: baseDir, logger: logger}
}

// Load returns the owner's current pool. A missing pool file is an empty
// pool, not an error.
func (p *Pool) Load(_ context.Context, ownerID string) ([]string, error) {
	unlock := p.locks.acquire(ownerID)
	defer unlock()
	return p.read(ownerID)
}

// Add appends a single proxy and persists. Entries that fail syntax
// validation are rejected; the pool only ever holds validated entries.
func (p *Pool) Add(_ context.Context, ownerID, proxy string) error {
	if valid, _ := Partition([]string{proxy}); len(valid) == 0 {
		return scrape.PreconditionFailedf("invalid proxy %q", proxy)
	}

	unlock := p.locks.acquire(ownerID)
	defer unlock()

	current, err := p.read(ownerID)
	if err != nil {
		return err
	}
	return p.write(ownerID, append(current, proxy))
}

// Remove deletes a single proxy if present and persists.
func (p *Pool) Remove(_ context.Context, ownerID, proxy string) error {
	unlock := p.locks.acquire(ownerID)
	defer unlock()

	current, err := p.read(ownerID)
	if err != nil {
		return err
	}
	next := current[:0]
	for _, entry := range current {
		if entry != proxy {
			next = append(next, entry)
		}
	}
	return p.write(ownerID, next)
}

// Update partitions the given proxies through the syntax validator,
// merges only the valid ones into the pool, deduplicates, and persists.
// It returns the resulting pool and the rejected entries; rejected
// entries are never written.
func (p *Pool) Update(_ context.Context, ownerID string, proxies []string) (pool, rejected []string, err error) {
	valid, invalid := Partition(proxies)
	if len(invalid) > 0 {
		p.logger.Warn("rejected malformed proxies",
			zap.String("owner_id", ownerID),
			zap.Int("count", len(invalid)),
		)
	}

	unlock := p.locks.acquire(ownerID)
	defer unlock()

	current, err := p.read(ownerID)
	if err != nil {
		return nil, nil, err
	}
	merged := dedupe(append(current, valid...))
	if err := p.write(ownerID, merged); err != nil {
		return nil, nil, err
	}
	return merged, invalid, nil
}

// Delete removes the given subset from the pool. An empty subset removes
// the whole pool file and any stale lock artifact alongside it.
func (p *Pool) Delete(_ context.Context, ownerID string, subset []string) error {
	unlock := p.locks.acquire(ownerID)
	defer unlock()

	if len(subset) == 0 {
		return p.destroy(ownerID)
	}

	current, err := p.read(ownerID)
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(subset))
	for _, entry := range subset {
		drop[entry] = struct{}{}
	}
	next := current[:0]
	for _, entry := range current {
		if _, gone := drop[entry]; !gone {
			next = append(next, entry)
		}
	}
	return p.write(ownerID, next)
}

func (p *Pool) path(ownerID string) string {
	return filepath.Join(p.baseDir, ownerID, poolFileName)
}

func (p *Pool) read(ownerID string) ([]string, error) {
	data, err := os.ReadFile(p.path(ownerID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, scrape.Internalf("read proxy pool for %s: %v", ownerID, err)
	}
	var proxies []string
	if err := json.Unmarshal(data, &proxies); err != nil {
		return nil, scrape.Internalf("decode proxy pool for %s: %v", ownerID, err)
	}
	return proxies, nil
}

// write persists the deduplicated pool via a temp file and rename so a
// crash mid-write cannot corrupt the previous state.
func (p *Pool) write(ownerID string, proxies []string) error {
	proxies = dedupe(proxies)
	target := p.path(ownerID)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return scrape.Internalf("create pool directory for %s: %v", ownerID, err)
	}
	data, err := json.Marshal(proxies)
	if err != nil {
		return scrape.Internalf("encode proxy pool for %s: %v", ownerID, err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return scrape.Internalf("write proxy pool for %s: %v", ownerID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return scrape.Internalf("commit proxy pool for %s: %v", ownerID, err)
	}
	p.logger.Debug("proxy pool persisted",
		zap.String("owner_id", ownerID),
		zap.Int("size", len(proxies)),
	)
	return nil
}

func (p *Pool) destroy(ownerID string) error {
	target := p.path(ownerID)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return scrape.Internalf("delete proxy pool for %s: %v", ownerID, err)
	}
	// Lock files left behind by older file-lock based deployments.
	if err := os.Remove(target + ".lock"); err != nil && !os.IsNotExist(err) {
		return scrape.Internalf("delete proxy pool lock for %s: %v", ownerID, err)
	}
	p.logger.Info("proxy pool deleted", zap.String("owner_id", ownerID))
	return nil
}

func dedupe(proxies []string) []string {
	seen := make(map[string]struct{}, len(proxies))
	out := make([]string, 0, len(proxies))
	for _, entry := range proxies {
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	sort.Strings(out)
	return out
}

// locker hands out one mutex per named resource. It replaces the file
// level locks of earlier deployments with scoped in-process exclusion.
type locker struct {
	mu    sync.Mutex
	names map[string]*sync.Mutex
}

func (l *locker) acquire(name string) (release func()) {
	l.mu.Lock()
	if l.names == nil {
		l.names = make(map[string]*sync.Mutex)
	}
	m, ok := l.names[name]
	if !ok {
		m = &sync.Mutex{}
		l.names[name] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
