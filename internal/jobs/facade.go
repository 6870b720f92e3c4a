package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrjohn/arcana-jobs/pkg/errors"
)

// Queue is the subset of the Queue Engine (C4) the Facade depends on. It is
// an interface, not the concrete *queue.Engine, so the Facade can be tested
// against a fake without a real Redis instance.
type Queue interface {
	Enqueue(ctx context.Context, rec *JobRecord) error
	Dequeue(ctx context.Context, queues []string, workerID string) (*JobRecord, error)
	GetJob(ctx context.Context, id string) (*JobRecord, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) error
	Cancel(ctx context.Context, id string) error
	DeleteJob(ctx context.Context, id string) error
}

// Liveness is the subset of the Worker Registry (C5) the Facade depends on.
type Liveness interface {
	IsAlive(workerID string) bool
	Register(workerID string, queues []string, concurrency int) uint64
	Heartbeat(workerID string, activeJobs int) bool
	Unregister(workerID string) bool
	RecordJobProcessed(workerID string)
	RecordJobFailed(workerID string)
}

// Facade is the Worker Pool's and Scheduler's single point of contact with
// the job subsystem (C9): it binds the Queue Engine and Worker Registry
// together, mirroring a gRPC worker-service boundary without actually
// needing one in this deployment shape. Only DequeueForWorker requires the
// worker to be registered and alive; CompleteJob and FailJob do not check
// liveness and only record the outcome against the worker's counters.
type Facade struct {
	queue    Queue
	registry Liveness
}

// NewFacade binds a Queue Engine and Worker Registry into a Facade.
func NewFacade(queue Queue, registry Liveness) *Facade {
	return &Facade{queue: queue, registry: registry}
}

// Enqueue builds and stores a new job record from def and payload.
func (f *Facade) Enqueue(ctx context.Context, def JobDefinition, payload any, opts ...JobOption) (*JobRecord, error) {
	rec, err := NewJobRecord(def, payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := f.queue.Enqueue(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RegisterWorker adds workerID to the roster before it may dequeue.
func (f *Facade) RegisterWorker(workerID string, queues []string, concurrency int) uint64 {
	return f.registry.Register(workerID, queues, concurrency)
}

// Heartbeat refreshes workerID's liveness.
func (f *Facade) Heartbeat(workerID string, activeJobs int) bool {
	return f.registry.Heartbeat(workerID, activeJobs)
}

// UnregisterWorker removes workerID from the roster, e.g. on graceful
// shutdown.
func (f *Facade) UnregisterWorker(workerID string) bool {
	return f.registry.Unregister(workerID)
}

// DequeueForWorker hands workerID up to maxJobs ready jobs from queues. It
// refuses to dispatch work to a worker that hasn't registered (or whose
// heartbeat has lapsed), closing the gap where a dead worker's last claim
// would otherwise look the same as a live one mid-job. It stops as soon as
// a queue reports empty rather than treating that as an error: a worker
// asking for a full batch when only a few jobs are ready is the normal case.
func (f *Facade) DequeueForWorker(ctx context.Context, workerID string, queues []string, maxJobs int) ([]*JobRecord, error) {
	if !f.registry.IsAlive(workerID) {
		return nil, apperrors.ErrWorker.WithMessage(fmt.Sprintf("worker %s is not registered or has missed its heartbeat", workerID))
	}
	if maxJobs <= 0 {
		maxJobs = 1
	}

	recs := make([]*JobRecord, 0, maxJobs)
	for i := 0; i < maxJobs; i++ {
		rec, err := f.queue.Dequeue(ctx, queues, workerID)
		if errors.Is(err, ErrQueueEmpty) {
			break
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// CompleteJob marks a job completed on behalf of workerID and records the
// completion against that worker's counters.
func (f *Facade) CompleteJob(ctx context.Context, workerID, jobID string) error {
	if err := f.queue.Complete(ctx, jobID); err != nil {
		return err
	}
	f.registry.RecordJobProcessed(workerID)
	return nil
}

// FailJob records a failed attempt on behalf of workerID. shouldRetry is the
// caller's verdict on whether cause warrants another attempt; it is honored
// even if cause would otherwise look retryable. The return discriminates
// between the job being rescheduled (retried) and moved to the dead letter
// queue (deadLettered) by inspecting the record's status after the fail,
// since the Retry Policy's own budget can force a dead-letter even when the
// caller asked to retry.
func (f *Facade) FailJob(ctx context.Context, workerID, jobID string, cause error, shouldRetry bool) (retried, deadLettered bool, err error) {
	if !shouldRetry {
		cause = apperrors.NonRetryable(cause)
	}
	if err = f.queue.Fail(ctx, jobID, cause); err != nil {
		return false, false, err
	}
	f.registry.RecordJobFailed(workerID)

	rec, getErr := f.queue.GetJob(ctx, jobID)
	if getErr != nil {
		// The record vanished between the fail and this lookup (e.g. DLQ
		// disabled, so a dead-lettered job is deleted outright): fall back
		// to the caller's own verdict.
		return shouldRetry, !shouldRetry, nil
	}
	deadLettered = rec.Status == JobStatusDeadLetter
	return !deadLettered, deadLettered, nil
}

// GetJob returns a job's current record.
func (f *Facade) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	return f.queue.GetJob(ctx, id)
}

// Cancel cancels a pending or scheduled job.
func (f *Facade) Cancel(ctx context.Context, id string) error {
	return f.queue.Cancel(ctx, id)
}

// DeleteJob permanently removes a job record.
func (f *Facade) DeleteJob(ctx context.Context, id string) error {
	return f.queue.DeleteJob(ctx, id)
}

// TriggerJob enqueues an immediate, one-off run of def, bypassing any
// scheduled cadence — the supplemented trigger_job operation (SPEC_FULL
// §10) the original exposed over its worker-service RPC surface.
func (f *Facade) TriggerJob(ctx context.Context, def JobDefinition, payload any, opts ...JobOption) (*JobRecord, error) {
	opts = append(opts, WithAt(time.Now()))
	return f.Enqueue(ctx, def, payload, opts...)
}
