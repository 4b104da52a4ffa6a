package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

const (
	// DefaultRetention is how long a job is kept after its last update.
	DefaultRetention = 24 * time.Hour
	// DefaultMaxJobs bounds the jobs held by a MemoryStore.
	DefaultMaxJobs = 10000
)

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	Retention time.Duration
	MaxJobs   int
	// OnEvict is called with jobs dropped for age or capacity, for example
	// to delete their result files. It runs after the store is unlocked and
	// may call back into it.
	OnEvict func(Job)
}

type entry struct {
	job     Job
	written time.Time
}

// MemoryStore keeps jobs in a bounded LRU cache. A job expires Retention
// after it was last written.
type MemoryStore struct {
	mu        sync.Mutex
	cache     *lru.Cache
	retention time.Duration
	now       func() time.Time
	onEvict   func(Job)
	evicted   []Job // guarded by mu, drained by unlock
}

// NewMemoryStore creates a store from cfg; zero fields take defaults.
func NewMemoryStore(cfg MemoryStoreConfig) (*MemoryStore, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	s := &MemoryStore{retention: cfg.Retention, now: time.Now, onEvict: cfg.OnEvict}
	// Evictions happen inside Add and Remove, which run with mu held.
	cache, err := lru.NewWithEvict(cfg.MaxJobs, func(_, value any) {
		if s.onEvict != nil {
			s.evicted = append(s.evicted, value.(*entry).job)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create job cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *MemoryStore) Create(_ context.Context) (*Job, error) {
	now := s.now()
	job := Job{ID: uuid.NewString(), Status: StatusReady, CreatedAt: now}
	s.mu.Lock()
	s.cache.Add(job.ID, &entry{job: job, written: now})
	s.unlock()
	return &job, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.unlock()
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	job := e.job
	return &job, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, resultURI, errMsg string) error {
	return s.update(id, func(j *Job, now time.Time) {
		applyStatus(j, status, resultURI, errMsg, now)
	})
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, rows, batches int64) error {
	return s.update(id, func(j *Job, _ time.Time) {
		j.RowsWritten = rows
		j.BatchesFlushed = batches
	})
}

func (s *MemoryStore) RequestCancel(_ context.Context, id string) error {
	return s.update(id, func(j *Job, _ time.Time) {
		j.CancelRequested = true
	})
}

func (s *MemoryStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return job.CancelRequested, nil
}

// Len returns the number of jobs held, expired ones included.
func (s *MemoryStore) Len() int { return s.cache.Len() }

func (s *MemoryStore) update(id string, fn func(*Job, time.Time)) error {
	s.mu.Lock()
	defer s.unlock()
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	now := s.now()
	job := e.job
	fn(&job, now)
	s.cache.Add(id, &entry{job: job, written: now})
	return nil
}

// unlock releases mu, then reports the jobs evicted while it was held.
func (s *MemoryStore) unlock() {
	evicted := s.evicted
	s.evicted = nil
	s.mu.Unlock()
	for _, job := range evicted {
		s.onEvict(job)
	}
}

// lookup must be called with mu held.
func (s *MemoryStore) lookup(id string) (*entry, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e := v.(*entry)
	if s.now().Sub(e.written) > s.retention {
		s.cache.Remove(id)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}
