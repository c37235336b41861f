// Package profile manages named, per-owner scrape setting bundles.
package profile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/scrapeworks/harvester/internal/proxy"
	"github.com/scrapeworks/harvester/internal/scrape"
)

const (
	profilesFileName = "profiles.json"
	maxNameLength    = 30
)

var validName = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Manager persists each owner's profiles as one JSON document per owner.
// Mutations serialize per owner and write atomically, mirroring the proxy
// pool's durability rules.
type Manager struct {
	baseDir string
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	logger  *zap.Logger
}

// NewManager creates a Manager rooted at baseDir.
func NewManager(baseDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		logger:  logger,
	}
}

// List returns the owner's profiles sorted by name. A missing profiles
// file is an empty list.
func (m *Manager) List(_ context.Context, ownerID string) ([]scrape.Profile, error) {
	unlock := m.acquire(ownerID)
	defer unlock()

	byName, err := m.read(ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]scrape.Profile, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns one profile by name.
func (m *Manager) Get(_ context.Context, ownerID, name string) (scrape.Profile, error) {
	unlock := m.acquire(ownerID)
	defer unlock()

	byName, err := m.read(ownerID)
	if err != nil {
		return scrape.Profile{}, err
	}
	p, ok := byName[name]
	if !ok {
		return scrape.Profile{}, scrape.NotFoundf("profile %q not found", name)
	}
	return p, nil
}

// Save validates and upserts a profile. The owner record bounds the
// profile's parallel setting; profile proxies must be syntactically valid.
func (m *Manager) Save(_ context.Context, owner scrape.Owner, p scrape.Profile) error {
	if err := validate(owner, p); err != nil {
		return err
	}

	unlock := m.acquire(owner.ID)
	defer unlock()

	byName, err := m.read(owner.ID)
	if err != nil {
		return err
	}
	byName[p.Name] = p
	if err := m.write(owner.ID, byName); err != nil {
		return err
	}
	m.logger.Info("profile saved",
		zap.String("owner_id", owner.ID),
		zap.String("profile", p.Name),
	)
	return nil
}

// Delete removes a profile by name.
func (m *Manager) Delete(_ context.Context, ownerID, name string) error {
	unlock := m.acquire(ownerID)
	defer unlock()

	byName, err := m.read(ownerID)
	if err != nil {
		return err
	}
	if _, ok := byName[name]; !ok {
		return scrape.NotFoundf("profile %q not found", name)
	}
	delete(byName, name)
	return m.write(ownerID, byName)
}

func validate(owner scrape.Owner, p scrape.Profile) error {
	if p.Name == "" || len(p.Name) > maxNameLength || !validName.MatchString(p.Name) {
		return scrape.PreconditionFailedf(
			"profile name must be 1-%d alphanumeric characters", maxNameLength)
	}
	if p.Parallel < 1 {
		return scrape.PreconditionFailedf("parallel count must be at least 1")
	}
	if p.Parallel > owner.Parallel {
		return scrape.PreconditionFailedf(
			"parallel count %d exceeds owner allotment %d", p.Parallel, owner.Parallel)
	}
	if _, invalid := proxy.Partition(p.Proxies); len(invalid) > 0 {
		return scrape.PreconditionFailedf("invalid proxies: %v", invalid)
	}
	return nil
}

func (m *Manager) acquire(ownerID string) (release func()) {
	m.mu.Lock()
	lock, ok := m.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[ownerID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (m *Manager) path(ownerID string) string {
	return filepath.Join(m.baseDir, ownerID, profilesFileName)
}

func (m *Manager) read(ownerID string) (map[string]scrape.Profile, error) {
	data, err := os.ReadFile(m.path(ownerID))
	if os.IsNotExist(err) {
		return map[string]scrape.Profile{}, nil
	}
	if err != nil {
		return nil, scrape.Internalf("read profiles for %s: %v", ownerID, err)
	}
	var byName map[string]scrape.Profile
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, scrape.Internalf("decode profiles for %s: %v", ownerID, err)
	}
	if byName == nil {
		byName = map[string]scrape.Profile{}
	}
	return byName, nil
}

func (m *Manager) write(ownerID string, byName map[string]scrape.Profile) error {
	target := m.path(ownerID)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return scrape.Internalf("create profile directory for %s: %v", ownerID, err)
	}
	data, err := json.Marshal(byName)
	if err != nil {
		return scrape.Internalf("encode profiles for %s: %v", ownerID, err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return scrape.Internalf("write profiles for %s: %v", ownerID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return scrape.Internalf("commit profiles for %s: %v", ownerID, err)
	}
	return nil
}
