// Package queue implements the Queue Engine (C4): the Redis-backed,
// priority-ordered job store every other component reads and writes
// through.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-jobs/internal/config"
	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/keys"
	"github.com/jrjohn/arcana-jobs/internal/observability"
	apperrors "github.com/jrjohn/arcana-jobs/pkg/errors"
)

// priorityBand is large enough that any realistic priority spread dominates
// the scheduled-at component of the composite score without overflowing a
// float64's integer precision (2^53).
const priorityBand = 1e12

// WorkerLiveness answers whether a worker that claimed a job is still
// considered alive. It is satisfied by the Worker Registry (C5); the Queue
// Engine never talks to a worker directly.
type WorkerLiveness interface {
	IsAlive(workerID string) bool
}

// MetricsRecorder receives the queue-lifecycle events the Queue Engine
// itself observes directly, as opposed to the ones the Worker Pool reports
// (completion/failure timing, which the engine never sees).
type MetricsRecorder interface {
	RecordEnqueued(queue string)
	RecordDeadLettered(queue string)
}

// Stats is a snapshot of a single queue's counters. Delayed counts the
// delayed set, which is shared by every queue.
type Stats struct {
	Queue       string `json:"queue"`
	Pending     int64  `json:"pending"`
	Delayed     int64  `json:"delayed"`
	DeadLetter  int64  `json:"dead_letter"`
	Enqueued    int64  `json:"enqueued_total"`
	Completed   int64  `json:"completed_total"`
	Failed      int64  `json:"failed_total"`
	Retried     int64  `json:"retried_total"`
	DeadLettered int64 `json:"dead_lettered_total"`
}

// Engine is the Redis-backed Queue Engine. All its methods are safe for
// concurrent use by multiple workers and schedulers sharing one client.
type Engine struct {
	client   *redis.Client
	keys     keys.Layout
	cfg      config.QueueConfig
	logger   *zap.Logger
	tracer   trace.Tracer
	liveness WorkerLiveness
	metrics  MetricsRecorder

	dequeueScript *redis.Script
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithTracer attaches a tracer used to span Queue Engine operations. Without
// one, spans are simply not recorded.
func WithTracer(tp *observability.TracingProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer()
		}
	}
}

// WithLiveness attaches the Worker Registry consulted by RecoverStaleJobs.
// Without one, RecoverStaleJobs treats every active claim as still alive and
// recovers nothing.
func WithLiveness(l WorkerLiveness) Option {
	return func(e *Engine) { e.liveness = l }
}

// WithMetrics attaches the recorder notified of jobs entering and leaving
// the queue. Without one, enqueue and dead-letter events are simply not
// counted.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// dequeueScript atomically pops the lowest-scored member off a ready set and
// records it as claimed by a worker. Without this script, a crash between the
// ZPOPMIN and the claim-bookkeeping step would lose track of the job: it
// would be neither ready nor active.
const dequeueLua = `
local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
    return false
end
local jobID = popped[1]
redis.call('HSET', KEYS[2], jobID, ARGV[1])
return jobID
`

// New constructs an Engine bound to client, namespaced under layout.
func New(client *redis.Client, layout keys.Layout, cfg config.QueueConfig, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		client:        client,
		keys:          layout,
		cfg:           cfg,
		logger:        logger,
		dequeueScript: redis.NewScript(dequeueLua),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func priorityScore(priority int, at time.Time) float64 {
	return -float64(priority)*priorityBand + float64(at.UnixMilli())
}

func (e *Engine) startSpan(ctx context.Context, op string, rec *jobs.JobRecord) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := e.tracer.Start(ctx, "queue."+op)
	if rec != nil {
		span.SetAttributes(
			observability.AttrJobID.String(rec.ID),
			observability.AttrJobQueue.String(rec.Queue),
			observability.AttrJobName.String(rec.Name),
			observability.AttrJobAttempt.Int(rec.Attempt),
		)
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Enqueue stores rec and makes it visible to dequeuers: immediately in its
// queue's ready set if ScheduledAt has already passed, or in the delayed set
// otherwise. A unique key, if rec.UniqueKey is set, is reserved first and
// makes this call a no-op (ErrDuplicateJob) if one is already outstanding.
func (e *Engine) Enqueue(ctx context.Context, rec *jobs.JobRecord) error {
	ctx, span := e.startSpan(ctx, "enqueue", rec)
	var err error
	defer func() { endSpan(span, err) }()

	if rec.UniqueKey != "" {
		var reserved bool
		reserved, err = e.client.SetNX(ctx, e.keys.Unique(rec.UniqueKey), rec.ID, e.cfg.UniqueKeyTTL).Result()
		if err != nil {
			return apperrors.ErrStorage.WithError(fmt.Errorf("reserve unique key: %w", err))
		}
		if !reserved {
			return ErrDuplicateJob
		}
	}

	data, err := rec.Serialize()
	if err != nil {
		return apperrors.ErrValidation.WithError(err)
	}

	pipe := e.client.TxPipeline()
	pipe.Set(ctx, e.keys.Job(rec.ID), data, e.cfg.JobRetention)
	if rec.ScheduledAt.After(time.Now()) {
		pipe.ZAdd(ctx, e.keys.Delayed(), redis.Z{Score: float64(rec.ScheduledAt.UnixMilli()), Member: rec.ID})
	} else {
		pipe.ZAdd(ctx, e.keys.Ready(rec.Queue), redis.Z{Score: priorityScore(rec.Priority, rec.ScheduledAt), Member: rec.ID})
	}
	pipe.HIncrBy(ctx, e.keys.Stats(rec.Queue), "enqueued_total", 1)

	if _, err = pipe.Exec(ctx); err != nil {
		return apperrors.ErrStorage.WithError(fmt.Errorf("enqueue job %s: %w", rec.ID, err))
	}
	if e.metrics != nil {
		e.metrics.RecordEnqueued(rec.Queue)
	}
	return nil
}

// ProcessDelayed promotes every delayed job whose ScheduledAt has passed into
// its queue's ready set. It is idempotent and safe to call from every
// Dequeue as well as from a standalone poller.
func (e *Engine) ProcessDelayed(ctx context.Context) (int, error) {
	ctx, span := e.startSpan(ctx, "process_delayed", nil)
	var err error
	defer func() { endSpan(span, err) }()

	now := float64(time.Now().UnixMilli())
	ids, err := e.client.ZRangeByScore(ctx, e.keys.Delayed(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%.0f", now)}).Result()
	if err != nil {
		return 0, apperrors.ErrStorage.WithError(err)
	}

	moved := 0
	for _, id := range ids {
		rec, getErr := e.GetJob(ctx, id)
		if getErr != nil {
			// The job record is gone (deleted/cancelled); drop the stale
			// delayed-set entry and move on.
			e.client.ZRem(ctx, e.keys.Delayed(), id)
			continue
		}

		pipe := e.client.TxPipeline()
		pipe.ZRem(ctx, e.keys.Delayed(), id)
		pipe.ZAdd(ctx, e.keys.Ready(rec.Queue), redis.Z{Score: priorityScore(rec.Priority, rec.ScheduledAt), Member: id})
		if _, execErr := pipe.Exec(ctx); execErr != nil {
			continue
		}
		moved++
	}
	return moved, nil
}

// Dequeue runs ProcessDelayed, then tries each queue in order and returns the
// first claimed job. The claim (recording the job in the active map) and the
// pop happen atomically in a single script, so a crash between them never
// strands a job outside every visible set.
func (e *Engine) Dequeue(ctx context.Context, queues []string, workerID string) (*jobs.JobRecord, error) {
	if _, err := e.ProcessDelayed(ctx); err != nil {
		e.logger.Warn("process_delayed failed during dequeue", zap.Error(err))
	}

	ctx, span := e.startSpan(ctx, "dequeue", nil)
	var err error
	defer func() { endSpan(span, err) }()

	for _, q := range queues {
		result, evalErr := e.dequeueScript.Run(ctx, e.client, []string{e.keys.Ready(q), e.keys.Active()}, workerID).Result()
		if evalErr == redis.Nil {
			continue
		}
		if evalErr != nil {
			err = apperrors.ErrStorage.WithError(fmt.Errorf("dequeue from %s: %w", q, evalErr))
			return nil, err
		}
		id, ok := result.(string)
		if !ok || id == "" {
			continue
		}

		rec, getErr := e.GetJob(ctx, id)
		if getErr != nil {
			e.client.HDel(ctx, e.keys.Active(), id)
			continue
		}

		rec.WorkerID = workerID
		rec.IncrementAttempt()
		rec.Status = jobs.JobStatusRunning
		now := time.Now().UTC()
		rec.StartedAt = &now

		if persistErr := e.persist(ctx, rec); persistErr != nil {
			err = persistErr
			return nil, err
		}
		return rec, nil
	}

	return nil, ErrQueueEmpty
}

// GetJob loads a job record by id.
func (e *Engine) GetJob(ctx context.Context, id string) (*jobs.JobRecord, error) {
	data, err := e.client.Get(ctx, e.keys.Job(id)).Bytes()
	if err == redis.Nil {
		return nil, apperrors.ErrNotFound.WithMessage(fmt.Sprintf("job %s not found", id))
	}
	if err != nil {
		return nil, apperrors.ErrStorage.WithError(err)
	}
	rec, err := jobs.Deserialize(data)
	if err != nil {
		return nil, apperrors.ErrStorage.WithError(err)
	}
	return rec, nil
}

func (e *Engine) persist(ctx context.Context, rec *jobs.JobRecord) error {
	data, err := rec.Serialize()
	if err != nil {
		return apperrors.ErrValidation.WithError(err)
	}
	if err := e.client.Set(ctx, e.keys.Job(rec.ID), data, e.cfg.JobRetention).Err(); err != nil {
		return apperrors.ErrStorage.WithError(fmt.Errorf("persist job %s: %w", rec.ID, err))
	}
	return nil
}

// Complete marks id as completed: it leaves the active map, is recorded in
// the completed set for history/status queries, and its unique key (if any)
// is released so a new job with the same key can be enqueued.
func (e *Engine) Complete(ctx context.Context, id string) error {
	ctx, span := e.startSpan(ctx, "complete", nil)
	var err error
	defer func() { endSpan(span, err) }()

	rec, err := e.GetJob(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.Status = jobs.JobStatusCompleted
	rec.CompletedAt = &now

	pipe := e.client.TxPipeline()
	pipe.HDel(ctx, e.keys.Active(), id)
	pipe.ZAdd(ctx, e.keys.Completed(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
	pipe.HIncrBy(ctx, e.keys.Stats(rec.Queue), "completed_total", 1)
	if rec.UniqueKey != "" {
		pipe.Del(ctx, e.keys.Unique(rec.UniqueKey))
	}
	if _, execErr := pipe.Exec(ctx); execErr != nil {
		err = apperrors.ErrStorage.WithError(execErr)
		return err
	}

	if err = e.persist(ctx, rec); err != nil {
		return err
	}
	return e.client.Expire(ctx, e.keys.Job(rec.ID), e.cfg.CompletedRetention).Err()
}

// Fail records a failed attempt. If the error is retryable and the job's
// retry policy still has budget, the job is rescheduled into the delayed
// set; otherwise it is dead-lettered (or, if the dead letter queue is
// disabled, deleted outright).
func (e *Engine) Fail(ctx context.Context, id string, cause error) error {
	ctx, span := e.startSpan(ctx, "fail", nil)
	var err error
	defer func() { endSpan(span, err) }()

	rec, err := e.GetJob(ctx, id)
	if err != nil {
		return err
	}

	rec.SetError(cause)
	if err = e.client.HDel(ctx, e.keys.Active(), id).Err(); err != nil {
		err = apperrors.ErrStorage.WithError(err)
		return err
	}
	if err = e.client.HIncrBy(ctx, e.keys.Stats(rec.Queue), "failed_total", 1).Err(); err != nil {
		err = apperrors.ErrStorage.WithError(err)
		return err
	}

	if apperrors.Retryable(cause) && rec.RetryPolicy.ShouldRetry(rec.Attempt) {
		delay := rec.RetryPolicy.DelayForAttempt(rec.Attempt)
		rec.ScheduledAt = time.Now().UTC().Add(delay)
		rec.Status = jobs.JobStatusScheduled
		rec.StartedAt = nil

		if err = e.persist(ctx, rec); err != nil {
			return err
		}
		if err = e.client.ZAdd(ctx, e.keys.Delayed(), redis.Z{Score: float64(rec.ScheduledAt.UnixMilli()), Member: rec.ID}).Err(); err != nil {
			err = apperrors.ErrStorage.WithError(err)
			return err
		}
		return e.client.HIncrBy(ctx, e.keys.Stats(rec.Queue), "retried_total", 1).Err()
	}

	return e.deadLetter(ctx, rec)
}

func (e *Engine) deadLetter(ctx context.Context, rec *jobs.JobRecord) error {
	if rec.UniqueKey != "" {
		e.client.Del(ctx, e.keys.Unique(rec.UniqueKey))
	}

	if !e.cfg.DLQEnabled {
		return e.client.Del(ctx, e.keys.Job(rec.ID)).Err()
	}

	rec.Status = jobs.JobStatusDeadLetter
	if err := e.persist(ctx, rec); err != nil {
		return err
	}
	pipe := e.client.TxPipeline()
	pipe.ZAdd(ctx, e.keys.DeadLetter(rec.Queue), redis.Z{Score: float64(time.Now().UnixMilli()), Member: rec.ID})
	pipe.HIncrBy(ctx, e.keys.Stats(rec.Queue), "dead_lettered_total", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ErrStorage.WithError(err)
	}
	if e.metrics != nil {
		e.metrics.RecordDeadLettered(rec.Queue)
	}
	return nil
}

// RecoverStaleJobs scans the active claim map and routes any job whose
// worker is no longer alive (per liveness) through the normal Fail path, so
// recovered jobs are retried or dead-lettered exactly like any other
// failure rather than being silently requeued.
func (e *Engine) RecoverStaleJobs(ctx context.Context) (int, error) {
	if e.liveness == nil {
		return 0, nil
	}

	ctx, span := e.startSpan(ctx, "recover_stale_jobs", nil)
	var err error
	defer func() { endSpan(span, err) }()

	active, err := e.client.HGetAll(ctx, e.keys.Active()).Result()
	if err != nil {
		return 0, apperrors.ErrStorage.WithError(err)
	}

	recovered := 0
	for jobID, workerID := range active {
		if e.liveness.IsAlive(workerID) {
			continue
		}
		if failErr := e.Fail(ctx, jobID, apperrors.ErrWorker.WithMessage(fmt.Sprintf("worker %s is no longer alive", workerID))); failErr != nil {
			e.logger.Warn("failed to recover stale job", zap.String("job_id", jobID), zap.Error(failErr))
			continue
		}
		recovered++
	}
	return recovered, nil
}

// GetDLQJobs returns up to limit dead-lettered jobs for queue, most recent
// first.
func (e *Engine) GetDLQJobs(ctx context.Context, queue string, limit int64) ([]*jobs.JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := e.client.ZRevRange(ctx, e.keys.DeadLetter(queue), 0, limit-1).Result()
	if err != nil {
		return nil, apperrors.ErrStorage.WithError(err)
	}

	recs := make([]*jobs.JobRecord, 0, len(ids))
	for _, id := range ids {
		rec, getErr := e.GetJob(ctx, id)
		if getErr != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// RetryDLQJob pulls a job out of its queue's dead letter set and re-enqueues
// it under the same ID, with its attempt counter and last error cleared.
func (e *Engine) RetryDLQJob(ctx context.Context, queue, id string) (*jobs.JobRecord, error) {
	rec, err := e.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != jobs.JobStatusDeadLetter {
		return nil, apperrors.ErrInvalidState.WithMessage(fmt.Sprintf("job %s is not in the dead letter queue", id))
	}

	rec.Attempt = 0
	rec.LastError = ""
	rec.ScheduledAt = time.Now().UTC()
	rec.Status = jobs.JobStatusPending
	rec.StartedAt = nil
	rec.CompletedAt = nil

	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}

	pipe := e.client.TxPipeline()
	pipe.ZRem(ctx, e.keys.DeadLetter(queue), id)
	pipe.ZAdd(ctx, e.keys.Ready(queue), redis.Z{Score: priorityScore(rec.Priority, rec.ScheduledAt), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.ErrStorage.WithError(err)
	}
	return rec, nil
}

// Cancel removes a pending or scheduled job. A job already claimed by a
// worker (present in the active map) cannot be cancelled out from under it.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	exists, err := e.client.HExists(ctx, e.keys.Active(), id).Result()
	if err != nil {
		return apperrors.ErrStorage.WithError(err)
	}
	if exists {
		return apperrors.ErrInvalidState.WithMessage(fmt.Sprintf("job %s is already running and cannot be cancelled", id))
	}

	rec, err := e.GetJob(ctx, id)
	if err != nil {
		return err
	}

	pipe := e.client.TxPipeline()
	pipe.ZRem(ctx, e.keys.Ready(rec.Queue), id)
	pipe.ZRem(ctx, e.keys.Delayed(), id)
	if rec.UniqueKey != "" {
		pipe.Del(ctx, e.keys.Unique(rec.UniqueKey))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.ErrStorage.WithError(err)
	}

	rec.Status = jobs.JobStatusCancelled
	return e.persist(ctx, rec)
}

// DeleteJob removes a job record and every set that might reference it,
// regardless of its current status.
func (e *Engine) DeleteJob(ctx context.Context, id string) error {
	rec, err := e.GetJob(ctx, id)
	if err != nil {
		return err
	}

	pipe := e.client.TxPipeline()
	pipe.Del(ctx, e.keys.Job(id))
	pipe.ZRem(ctx, e.keys.Ready(rec.Queue), id)
	pipe.ZRem(ctx, e.keys.Delayed(), id)
	pipe.ZRem(ctx, e.keys.DeadLetter(rec.Queue), id)
	pipe.ZRem(ctx, e.keys.Completed(), id)
	pipe.HDel(ctx, e.keys.Active(), id)
	if rec.UniqueKey != "" {
		pipe.Del(ctx, e.keys.Unique(rec.UniqueKey))
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return apperrors.ErrStorage.WithError(err)
	}
	return nil
}

// PurgeCompleted removes completed-set entries older than olderThan. It does
// not delete the underlying job records, which expire on their own via
// CompletedRetention.
func (e *Engine) PurgeCompleted(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := e.client.ZRemRangeByScore(ctx, e.keys.Completed(), "-inf", fmt.Sprintf("%d", olderThan.UnixMilli())).Result()
	if err != nil {
		return 0, apperrors.ErrStorage.WithError(err)
	}
	return n, nil
}

// GetStats returns queue's current counters.
func (e *Engine) GetStats(ctx context.Context, queue string) (Stats, error) {
	pending, err := e.client.ZCard(ctx, e.keys.Ready(queue)).Result()
	if err != nil {
		return Stats{}, apperrors.ErrStorage.WithError(err)
	}
	delayed, err := e.client.ZCard(ctx, e.keys.Delayed()).Result()
	if err != nil {
		return Stats{}, apperrors.ErrStorage.WithError(err)
	}
	dlq, err := e.client.ZCard(ctx, e.keys.DeadLetter(queue)).Result()
	if err != nil {
		return Stats{}, apperrors.ErrStorage.WithError(err)
	}

	raw, err := e.client.HGetAll(ctx, e.keys.Stats(queue)).Result()
	if err != nil {
		return Stats{}, apperrors.ErrStorage.WithError(err)
	}

	return Stats{
		Queue:        queue,
		Pending:      pending,
		Delayed:      delayed,
		DeadLetter:   dlq,
		Enqueued:     parseCounter(raw["enqueued_total"]),
		Completed:    parseCounter(raw["completed_total"]),
		Failed:       parseCounter(raw["failed_total"]),
		Retried:      parseCounter(raw["retried_total"]),
		DeadLettered: parseCounter(raw["dead_lettered_total"]),
	}, nil
}

func parseCounter(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

// HealthCheck confirms the Redis connection backing the engine is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.client.Ping(ctx).Err(); err != nil {
		return apperrors.ErrStorage.WithError(err)
	}
	return nil
}
