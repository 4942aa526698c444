package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/makeasinger/genreswap/internal/model"
)

type memoryEntry struct {
	mu   sync.Mutex // one in-flight mutation per job
	snap atomic.Pointer[model.Job]
}

// MemoryRegistry keeps jobs in process memory. Snapshots are immutable;
// a mutation publishes a new pointer, so readers never see a torn record
// and eviction cannot invalidate a snapshot a reader already holds.
type MemoryRegistry struct {
	opts Options

	mu   sync.RWMutex
	jobs map[string]*memoryEntry
}

func NewMemoryRegistry(opts Options) *MemoryRegistry {
	return &MemoryRegistry{
		opts: opts.withDefaults(),
		jobs: make(map[string]*memoryEntry),
	}
}

func (r *MemoryRegistry) Create(ctx context.Context, params model.JobParams) (*model.Job, error) {
	job := newJob(r.opts.NewID(), params, r.opts.Now())

	e := &memoryEntry{}
	e.snap.Store(job)

	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	r.jobs[job.ID] = e
	r.mu.Unlock()

	r.opts.publish(ctx, job)
	return job.Clone(), nil
}

func (r *MemoryRegistry) entry(id string) *memoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*model.Job, error) {
	e := r.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}
	return e.snap.Load().Clone(), nil
}

func (r *MemoryRegistry) Replace(ctx context.Context, id string, fn Mutator) (*model.Job, error) {
	e := r.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.snap.Load()
	next, changed, err := applyMutation(prev, fn, r.opts.Now())
	if err != nil {
		r.opts.Logger.Warn("job mutation rejected", "job_id", id, "error", err)
		return nil, err
	}
	if !changed {
		r.opts.Logger.Debug("ignoring mutation of terminal job", "job_id", id, "status", prev.Status)
		return prev.Clone(), nil
	}

	e.snap.Store(next)
	r.opts.publish(ctx, next)
	return next.Clone(), nil
}

func (r *MemoryRegistry) ListActive(_ context.Context) ([]*model.Job, error) {
	r.mu.RLock()
	jobs := make([]*model.Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		if job := e.snap.Load(); !job.Status.IsTerminal() {
			jobs = append(jobs, job.Clone())
		}
	}
	r.mu.RUnlock()

	sortByCreated(jobs)
	return jobs, nil
}

func (r *MemoryRegistry) EvictTerminalOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := r.opts.Now().Add(-age)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.jobs {
		job := e.snap.Load()
		if job.Status.IsTerminal() && job.CompletedAt != nil && !job.CompletedAt.After(cutoff) {
			delete(r.jobs, id)
			evicted++
		}
	}
	return evicted, nil
}

func sortByCreated(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
}
