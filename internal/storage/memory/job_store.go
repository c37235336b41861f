package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/scrapeworks/harvester/internal/scrape"
)

// JobStore keeps job records in a map guarded by a mutex.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scrape.Job
}

// NewJobStore returns an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]scrape.Job)}
}

// Create inserts a new job and rejects duplicate IDs.
func (s *JobStore) Create(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return scrape.Internalf("job %q already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// Update replaces an existing job record wholesale.
func (s *JobStore) Update(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return scrape.NotFoundf("job %q not found", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// Get returns a copy of the job record.
func (s *JobStore) Get(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, scrape.NotFoundf("job %q not found", jobID)
	}
	return job, nil
}

// ListByOwner returns the owner's jobs sorted by ID. IDs encode submission
// time, so the sort is chronological.
func (s *JobStore) ListByOwner(_ context.Context, ownerID string) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []scrape.Job
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}
