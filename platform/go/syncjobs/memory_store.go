package syncjobs

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process job store for tests and single-node setups.
// Expired jobs are purged lazily on access.
type MemoryStore struct {
	mu        sync.Mutex
	retention time.Duration
	jobs      map[string]memoryJob // key: tenantID + "\x00" + jobID
	latest    map[string]string
	now       func() time.Time
}

type memoryJob struct {
	job     Job
	savedAt time.Time
}

// NewMemoryStore builds a store; retention <= 0 disables expiry.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		retention: retention,
		jobs:      make(map[string]memoryJob),
		latest:    make(map[string]string),
		now:       time.Now,
	}
}

func (s *MemoryStore) key(tenantID, jobID string) string {
	return tenantID + "\x00" + jobID
}

func (s *MemoryStore) Save(ctx context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[s.key(job.TenantID, job.ID)] = memoryJob{job: job, savedAt: s.now()}
	s.latest[job.TenantID] = job.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[s.key(tenantID, jobID)]
	if !ok {
		return Job{}, ErrNotFound
	}
	if s.retention > 0 && s.now().Sub(entry.savedAt) > s.retention {
		delete(s.jobs, s.key(tenantID, jobID))
		return Job{}, ErrNotFound
	}
	return entry.job, nil
}

func (s *MemoryStore) Latest(ctx context.Context, tenantID string) (Job, error) {
	s.mu.Lock()
	jobID, ok := s.latest[tenantID]
	s.mu.Unlock()
	if !ok {
		return Job{}, ErrNotFound
	}
	return s.Get(ctx, tenantID, jobID)
}
