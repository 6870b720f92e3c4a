// Package registry implements the in-memory Worker Registry (C5): the
// roster of workers currently participating in the pool, their heartbeat
// liveness, and the per-worker counters the Status Tracker surfaces.
//
// The registry is deliberately not Redis-backed: liveness only needs to be
// consistent within a single worker process's view of its own pool, and a
// process restart naturally drops every stale entry.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultHeartbeatTimeout is three heartbeat intervals at the Worker Pool's
// default 30s cadence, giving a worker two missed beats of grace before it's
// declared dead.
const DefaultHeartbeatTimeout = 90 * time.Second

// WorkerInfo is a point-in-time snapshot of a registered worker.
type WorkerInfo struct {
	ID            string
	Queues        []string
	Concurrency   int
	RegisteredAt  time.Time
	LastHeartbeat time.Time
	ActiveJobs    int
	JobsProcessed uint64
	JobsFailed    uint64
}

// IsAlive reports whether w's most recent heartbeat is within timeout.
func (w WorkerInfo) IsAlive(timeout time.Duration) bool {
	return time.Since(w.LastHeartbeat) < timeout
}

type workerEntry struct {
	info          WorkerInfo
	jobsProcessed atomic.Uint64
	jobsFailed    atomic.Uint64
}

func (e *workerEntry) snapshot() WorkerInfo {
	info := e.info
	info.JobsProcessed = e.jobsProcessed.Load()
	info.JobsFailed = e.jobsFailed.Load()
	return info
}

// Registry tracks the live worker roster for one process's Worker Pool.
// All methods are safe for concurrent use.
type Registry struct {
	mu               sync.RWMutex
	workers          map[string]*workerEntry
	heartbeatTimeout time.Duration
	registrations    atomic.Uint64
	logger           *zap.Logger
}

// New returns a registry using DefaultHeartbeatTimeout.
func New(logger *zap.Logger) *Registry {
	return WithTimeout(DefaultHeartbeatTimeout, logger)
}

// WithTimeout returns a registry with a custom heartbeat timeout, useful in
// tests that want staleness to trigger quickly.
func WithTimeout(timeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		workers:          make(map[string]*workerEntry),
		heartbeatTimeout: timeout,
		logger:           logger,
	}
}

// Register adds or replaces workerID's roster entry and returns its
// registration sequence number.
func (r *Registry) Register(workerID string, queues []string, concurrency int) uint64 {
	now := time.Now()
	entry := &workerEntry{info: WorkerInfo{
		ID:            workerID,
		Queues:        queues,
		Concurrency:   concurrency,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}}

	seq := r.registrations.Add(1)

	r.mu.Lock()
	r.workers[workerID] = entry
	r.mu.Unlock()

	r.logger.Info("worker registered",
		zap.String("worker_id", workerID),
		zap.Strings("queues", queues),
		zap.Int("concurrency", concurrency),
		zap.Uint64("registration_seq", seq),
	)
	return seq
}

// Heartbeat refreshes workerID's liveness and active job count. It reports
// false if workerID is not registered.
func (r *Registry) Heartbeat(workerID string, activeJobs int) bool {
	r.mu.RLock()
	entry, ok := r.workers[workerID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("heartbeat from unknown worker", zap.String("worker_id", workerID))
		return false
	}

	r.mu.Lock()
	entry.info.LastHeartbeat = time.Now()
	entry.info.ActiveJobs = activeJobs
	r.mu.Unlock()
	return true
}

// IsAlive reports whether workerID is registered and has not missed its
// heartbeat timeout. It satisfies queue.WorkerLiveness.
func (r *Registry) IsAlive(workerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.workers[workerID]
	if !ok {
		return false
	}
	return entry.snapshot().IsAlive(r.heartbeatTimeout)
}

// Unregister removes workerID from the roster and reports whether it was
// present.
func (r *Registry) Unregister(workerID string) bool {
	r.mu.Lock()
	_, ok := r.workers[workerID]
	delete(r.workers, workerID)
	r.mu.Unlock()

	if ok {
		r.logger.Info("worker unregistered", zap.String("worker_id", workerID))
	}
	return ok
}

// CleanupStale removes every worker whose heartbeat has expired and returns
// their IDs.
func (r *Registry) CleanupStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for id, entry := range r.workers {
		if !entry.snapshot().IsAlive(r.heartbeatTimeout) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.workers, id)
		r.logger.Warn("removed stale worker", zap.String("worker_id", id))
	}
	return stale
}

// GetWorker returns workerID's current info, or false if it isn't
// registered.
func (r *Registry) GetWorker(workerID string) (WorkerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.workers[workerID]
	if !ok {
		return WorkerInfo{}, false
	}
	return entry.snapshot(), true
}

// GetAllWorkers returns a snapshot of every registered worker.
func (r *Registry) GetAllWorkers() []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WorkerInfo, 0, len(r.workers))
	for _, entry := range r.workers {
		out = append(out, entry.snapshot())
	}
	return out
}

// GetWorkersForQueue returns every registered worker that processes queue.
func (r *Registry) GetWorkersForQueue(queue string) []WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []WorkerInfo
	for _, entry := range r.workers {
		for _, q := range entry.info.Queues {
			if q == queue {
				out = append(out, entry.snapshot())
				break
			}
		}
	}
	return out
}

// ActiveWorkerCount returns how many registered workers currently pass the
// heartbeat liveness check.
func (r *Registry) ActiveWorkerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.workers {
		if entry.snapshot().IsAlive(r.heartbeatTimeout) {
			count++
		}
	}
	return count
}

// TotalRegistrations returns the lifetime count of Register calls.
func (r *Registry) TotalRegistrations() uint64 {
	return r.registrations.Load()
}

// HeartbeatTimeout returns the timeout this registry applies when judging
// liveness, so callers outside the registry (e.g. the Status Tracker) can
// report health consistently with the actual liveness gate rather than
// against DefaultHeartbeatTimeout.
func (r *Registry) HeartbeatTimeout() time.Duration {
	return r.heartbeatTimeout
}

// RecordJobProcessed increments workerID's completed-job counter. It is a
// no-op for an unregistered worker.
func (r *Registry) RecordJobProcessed(workerID string) {
	r.mu.RLock()
	entry, ok := r.workers[workerID]
	r.mu.RUnlock()
	if ok {
		entry.jobsProcessed.Add(1)
	}
}

// RecordJobFailed increments workerID's failed-job counter. It is a no-op
// for an unregistered worker.
func (r *Registry) RecordJobFailed(workerID string) {
	r.mu.RLock()
	entry, ok := r.workers[workerID]
	r.mu.RUnlock()
	if ok {
		entry.jobsFailed.Add(1)
	}
}
