// Package worker implements the Worker Pool (C6): a bounded-concurrency
// dispatch loop that pulls jobs from the Facade, runs the registered
// handler under a per-job timeout, and reports the outcome back.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-jobs/internal/jobs"
	apperrors "github.com/jrjohn/arcana-jobs/pkg/errors"
)

// Handler processes one job's payload. jctx carries the attempt/timeout/
// correlation metadata a handler needs without exposing the mutable
// JobRecord.
type Handler func(ctx context.Context, jctx jobs.JobContext, payload []byte) error

// Hooks are optional callbacks fired around job execution, used for
// cross-cutting concerns (metrics, audit logging) that don't belong inside
// every handler.
type Hooks struct {
	Before    func(jctx jobs.JobContext)
	After     func(jctx jobs.JobContext, duration time.Duration)
	OnFailure func(jctx jobs.JobContext, err error)
}

// Config configures a Pool.
type Config struct {
	WorkerID          string
	Queues            []string
	Concurrency       int
	PollInterval      time.Duration
	ShutdownTimeout   time.Duration
	HeartbeatInterval time.Duration
	StaleJobCleanup   bool
	StaleJobThreshold time.Duration
}

// Pool dispatches jobs pulled through a Facade to registered handlers.
type Pool struct {
	cfg      Config
	facade   *jobs.Facade
	recover  func(ctx context.Context) (int, error)
	logger   *zap.Logger
	hooks    Hooks
	handlers map[string]Handler
	mu       sync.RWMutex

	running       atomic.Bool
	wg            sync.WaitGroup
	stopCh        chan struct{}
	activeWorkers atomic.Int64
	processedJobs atomic.Int64
	failedJobs    atomic.Int64
}

// Stats is a snapshot of pool-wide counters.
type Stats struct {
	Running       bool
	ActiveWorkers int64
	ProcessedJobs int64
	FailedJobs    int64
	Concurrency   int
	WorkerID      string
}

// New constructs a Pool. recoverStale, if non-nil, is called on a fixed
// cadence to route stale active-map claims through the Facade's full fail
// path (see queue.Engine.RecoverStaleJobs); pass nil to disable it.
func New(facade *jobs.Facade, cfg Config, logger *zap.Logger, recoverStale func(ctx context.Context) (int, error), hooks Hooks) *Pool {
	return &Pool{
		cfg:      cfg,
		facade:   facade,
		recover:  recoverStale,
		logger:   logger,
		hooks:    hooks,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a job type name.
func (p *Pool) RegisterHandler(jobType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = h
	p.logger.Info("registered job handler", zap.String("job_type", jobType))
}

// Start registers the pool's worker ID and launches its dispatch
// goroutines.
func (p *Pool) Start(ctx context.Context) error {
	if p.running.Load() {
		return fmt.Errorf("worker pool already running")
	}
	p.running.Store(true)

	p.facade.RegisterWorker(p.cfg.WorkerID, p.cfg.Queues, p.cfg.Concurrency)

	p.logger.Info("starting worker pool",
		zap.String("worker_id", p.cfg.WorkerID),
		zap.Strings("queues", p.cfg.Queues),
		zap.Int("concurrency", p.cfg.Concurrency),
	)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.dispatchLoop(ctx, i)
	}

	p.wg.Add(1)
	go p.heartbeatLoop(ctx)

	if p.recover != nil && p.cfg.StaleJobCleanup {
		p.wg.Add(1)
		go p.staleRecoveryLoop(ctx)
	}

	return nil
}

// Stop drains in-flight work and unregisters the pool's worker ID.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.running.Load() {
		return nil
	}
	p.logger.Info("stopping worker pool", zap.String("worker_id", p.cfg.WorkerID))
	p.running.Store(false)
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-time.After(p.cfg.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown cancelled")
	}

	p.facade.UnregisterWorker(p.cfg.WorkerID)
	return nil
}

func (p *Pool) dispatchLoop(ctx context.Context, slot int) {
	defer p.wg.Done()

	logger := p.logger.With(zap.Int("slot", slot))
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processNext(ctx, logger)
		}
	}
}

func (p *Pool) processNext(ctx context.Context, logger *zap.Logger) {
	recs, err := p.facade.DequeueForWorker(ctx, p.cfg.WorkerID, p.cfg.Queues, 1)
	if err != nil {
		if p.running.Load() {
			logger.Error("failed to dequeue job", zap.Error(err))
		}
		return
	}
	if len(recs) == 0 {
		return
	}
	rec := recs[0]

	jctx := rec.ToContext(p.cfg.WorkerID)
	logger = logger.With(
		zap.String("job_id", rec.ID),
		zap.String("job_name", rec.Name),
		zap.Int("attempt", rec.Attempt),
	)

	p.mu.RLock()
	handler, ok := p.handlers[rec.Name]
	p.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("no handler registered for job type %q", rec.Name)
		logger.Error(err.Error())
		p.fail(ctx, rec.ID, jctx, err, logger)
		return
	}

	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)

	if p.hooks.Before != nil {
		p.hooks.Before(jctx)
	}

	execCtx, cancel := context.WithTimeout(ctx, rec.Timeout)
	defer cancel()

	start := time.Now()
	runErr := handler(execCtx, jctx, rec.Payload)
	duration := time.Since(start)

	if runErr != nil {
		logger.Error("job failed", zap.Error(runErr), zap.Duration("duration", duration))
		p.fail(ctx, rec.ID, jctx, runErr, logger)
		return
	}

	if p.hooks.After != nil {
		p.hooks.After(jctx, duration)
	}

	logger.Info("job completed", zap.Duration("duration", duration))
	if err := p.facade.CompleteJob(ctx, p.cfg.WorkerID, rec.ID); err != nil {
		logger.Error("failed to record job completion", zap.Error(err))
		return
	}
	p.processedJobs.Add(1)
}

func (p *Pool) fail(ctx context.Context, jobID string, jctx jobs.JobContext, cause error, logger *zap.Logger) {
	if p.hooks.OnFailure != nil {
		p.hooks.OnFailure(jctx, cause)
	}
	shouldRetry := apperrors.Retryable(cause) && !jctx.IsLastAttempt()
	retried, deadLettered, err := p.facade.FailJob(ctx, p.cfg.WorkerID, jobID, cause, shouldRetry)
	if err != nil {
		logger.Error("failed to record job failure", zap.Error(err))
	} else {
		logger.Info("job failure recorded", zap.Bool("retried", retried), zap.Bool("dead_lettered", deadLettered))
	}
	p.failedJobs.Add(1)
}

func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.facade.Heartbeat(p.cfg.WorkerID, int(p.activeWorkers.Load()))
		}
	}
}

func (p *Pool) staleRecoveryLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StaleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.recover(ctx)
			if err != nil {
				p.logger.Error("failed to recover stale jobs", zap.Error(err))
			} else if n > 0 {
				p.logger.Info("recovered stale jobs", zap.Int("count", n))
			}
		}
	}
}

// Stats returns the pool's current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Running:       p.running.Load(),
		ActiveWorkers: p.activeWorkers.Load(),
		ProcessedJobs: p.processedJobs.Load(),
		FailedJobs:    p.failedJobs.Load(),
		Concurrency:   p.cfg.Concurrency,
		WorkerID:      p.cfg.WorkerID,
	}
}
