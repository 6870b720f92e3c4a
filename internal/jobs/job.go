package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the closed set of lifecycle states a job moves through.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
	JobStatusCancelled  JobStatus = "cancelled"
)

// JobDefinition describes the static shape of a job type: its name, the
// queue it runs on, and the defaults applied to every instance unless an
// enqueue-time option overrides them.
type JobDefinition struct {
	Name        string
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
	RetryPolicy RetryPolicy
	// UniqueKeyFunc derives a dedup key from the payload; nil means the job
	// type is never deduplicated.
	UniqueKeyFunc func(payload any) string
}

// NewJobDefinition returns a definition with the subsystem's defaults:
// queue "default", 3 retries (4 total attempts), a 5 minute timeout, and
// DefaultRetryPolicy.
func NewJobDefinition(name string) JobDefinition {
	return JobDefinition{
		Name:        name,
		Queue:       "default",
		MaxAttempts: 4,
		Timeout:     5 * time.Minute,
		RetryPolicy: DefaultRetryPolicy(),
	}
}

// JobRecord is the serializable record stored in Redis for every job: its
// identity, payload, scheduling and retry state.
type JobRecord struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Queue         string          `json:"queue"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	Status        JobStatus       `json:"status"`
	Attempt       int             `json:"attempt"`
	MaxAttempts   int             `json:"max_attempts"`
	Timeout       time.Duration   `json:"timeout"`
	CreatedAt     time.Time       `json:"created_at"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	RetryPolicy   RetryPolicy     `json:"retry_policy"`
	UniqueKey     string          `json:"unique_key,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	// WorkerID is only meaningful while the job sits in the active map; it
	// is not persisted on the job record itself.
	WorkerID string `json:"-"`
}

// JobOption configures a JobRecord at enqueue time.
type JobOption func(*JobRecord)

// NewJobRecord builds a new pending job record from a definition, a JSON
// payload, and any enqueue-time options.
func NewJobRecord(def JobDefinition, payload any, opts ...JobOption) (*JobRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	now := time.Now().UTC()
	rec := &JobRecord{
		ID:          uuid.New().String(),
		Name:        def.Name,
		Queue:       def.Queue,
		Payload:     data,
		Status:      JobStatusPending,
		MaxAttempts: def.MaxAttempts,
		Timeout:     def.Timeout,
		CreatedAt:   now,
		ScheduledAt: now,
		RetryPolicy: def.RetryPolicy,
	}

	if def.UniqueKeyFunc != nil {
		rec.UniqueKey = def.UniqueKeyFunc(payload)
	}

	for _, opt := range opts {
		opt(rec)
	}

	if !rec.ScheduledAt.After(now) {
		rec.Status = JobStatusPending
	} else {
		rec.Status = JobStatusScheduled
	}

	return rec, nil
}

// WithPriority sets the job's priority (higher runs first within a queue).
func WithPriority(p int) JobOption {
	return func(r *JobRecord) { r.Priority = p }
}

// WithAt schedules the job to become ready at t.
func WithAt(t time.Time) JobOption {
	return func(r *JobRecord) { r.ScheduledAt = t.UTC() }
}

// WithDelay schedules the job to become ready after d.
func WithDelay(d time.Duration) JobOption {
	return func(r *JobRecord) { r.ScheduledAt = time.Now().UTC().Add(d) }
}

// WithCorrelationID attaches a correlation id used for tracing and history
// lookups.
func WithCorrelationID(id string) JobOption {
	return func(r *JobRecord) { r.CorrelationID = id }
}

// WithUniqueKey overrides the definition's derived unique key, or sets one
// for a definition that has none.
func WithUniqueKey(key string) JobOption {
	return func(r *JobRecord) { r.UniqueKey = key }
}

// WithTags appends tags for categorization and search.
func WithTags(tags ...string) JobOption {
	return func(r *JobRecord) { r.Tags = append(r.Tags, tags...) }
}

// WithRetryPolicyOverride fully replaces the definition's retry policy for
// this instance — it does not merge field by field.
func WithRetryPolicyOverride(policy RetryPolicy) JobOption {
	return func(r *JobRecord) { r.RetryPolicy = policy }
}

// WithMaxAttempts overrides the definition's max attempt count.
func WithMaxAttempts(n int) JobOption {
	return func(r *JobRecord) { r.MaxAttempts = n }
}

// WithTimeout overrides the definition's execution timeout.
func WithTimeout(d time.Duration) JobOption {
	return func(r *JobRecord) { r.Timeout = d }
}

// Serialize marshals the record to its Redis wire format.
func (r *JobRecord) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// Deserialize unmarshals a record from its Redis wire format.
func Deserialize(data []byte) (*JobRecord, error) {
	var rec JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &rec, nil
}

// IncrementAttempt bumps the attempt counter, as done immediately before a
// dequeued job is handed to a handler.
func (r *JobRecord) IncrementAttempt() {
	r.Attempt++
}

// SetError records the error from the most recent failed attempt.
func (r *JobRecord) SetError(err error) {
	if err != nil {
		r.LastError = err.Error()
	}
}

// IsExhausted reports whether the job has used up every permitted attempt.
func (r *JobRecord) IsExhausted() bool {
	return r.Attempt >= r.MaxAttempts
}

// UnmarshalPayload deserializes the job's stored payload into v.
func (r *JobRecord) UnmarshalPayload(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// JobInfo is the read-facing projection of a JobRecord returned by status
// queries — it never exposes the raw payload.
type JobInfo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Queue         string     `json:"queue"`
	Status        JobStatus  `json:"status"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Priority      int        `json:"priority"`
	LastError     string     `json:"last_error,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	WorkerID      string     `json:"worker_id,omitempty"`
}

// Info projects the record into its read-facing view.
func (r *JobRecord) Info() JobInfo {
	return JobInfo{
		ID:            r.ID,
		Name:          r.Name,
		Queue:         r.Queue,
		Status:        r.Status,
		Attempt:       r.Attempt,
		MaxAttempts:   r.MaxAttempts,
		CreatedAt:     r.CreatedAt,
		ScheduledAt:   r.ScheduledAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		Priority:      r.Priority,
		LastError:     r.LastError,
		Tags:          r.Tags,
		CorrelationID: r.CorrelationID,
		WorkerID:      r.WorkerID,
	}
}

// JobContext is the read-only view handed to a handler at execution time.
// It never exposes the mutable JobRecord so handlers cannot sidestep the
// Queue Engine's state transitions.
type JobContext struct {
	JobID         string
	Attempt       int
	MaxAttempts   int
	Queue         string
	ScheduledAt   time.Time
	StartedAt     time.Time
	CorrelationID string
	WorkerID      string
}

// IsLastAttempt reports whether a failure here exhausts the retry budget.
func (c JobContext) IsLastAttempt() bool {
	return c.Attempt >= c.MaxAttempts
}

// RemainingAttempts returns how many attempts remain after this one.
func (c JobContext) RemainingAttempts() int {
	if c.Attempt >= c.MaxAttempts {
		return 0
	}
	return c.MaxAttempts - c.Attempt
}

// ToContext builds the handler-facing JobContext for a dequeued record.
func (r *JobRecord) ToContext(workerID string) JobContext {
	return JobContext{
		JobID:         r.ID,
		Attempt:       r.Attempt,
		MaxAttempts:   r.MaxAttempts,
		Queue:         r.Queue,
		ScheduledAt:   r.ScheduledAt,
		StartedAt:     time.Now().UTC(),
		CorrelationID: r.CorrelationID,
		WorkerID:      workerID,
	}
}
