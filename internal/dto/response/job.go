package response

import "time"

// JobResponse is the HTTP projection of a job's current state.
type JobResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Queue         string     `json:"queue"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	WorkerID      string     `json:"worker_id,omitempty"`
}

// QueueStatsResponse is the HTTP projection of one queue's counters.
type QueueStatsResponse struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Active     int64  `json:"active"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	DeadLetter int64  `json:"dead_letter"`
	Delayed    int64  `json:"delayed"`
}

// DashboardResponse aggregates every queue's stats into one overview.
type DashboardResponse struct {
	TotalJobs       int64                `json:"total_jobs"`
	TotalPending    int64                `json:"total_pending"`
	TotalActive     int64                `json:"total_active"`
	TotalCompleted  int64                `json:"total_completed"`
	TotalFailed     int64                `json:"total_failed"`
	TotalDeadLetter int64                `json:"total_dead_letter"`
	TotalDelayed    int64                `json:"total_delayed"`
	Queues          []QueueStatsResponse `json:"queues"`
}

// WorkerHealthResponse is the HTTP projection of one worker's liveness.
type WorkerHealthResponse struct {
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Queues        []string  `json:"queues"`
}

// ThroughputBucketResponse is one time-bucketed slice of a throughput
// report.
type ThroughputBucketResponse struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Completed int64     `json:"completed"`
	Failed    int64     `json:"failed"`
}

// ThroughputResponse is the HTTP projection of a queue's processing rate
// over a period.
type ThroughputResponse struct {
	Queue          string                     `json:"queue"`
	Period         string                     `json:"period"`
	TotalProcessed int64                      `json:"total_processed"`
	Completed      int64                      `json:"completed"`
	Failed         int64                      `json:"failed"`
	AvgPerSecond   float64                    `json:"avg_per_second"`
	SuccessRate    float64                    `json:"success_rate"`
	Buckets        []ThroughputBucketResponse `json:"buckets"`
}

// ActivityResponse is one entry in a recent-activity feed.
type ActivityResponse struct {
	JobID        string    `json:"job_id"`
	JobName      string    `json:"job_name"`
	ActivityType string    `json:"activity_type"`
	Timestamp    time.Time `json:"timestamp"`
	Queue        string    `json:"queue"`
	DurationMS   *int64    `json:"duration_ms,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ScheduledJobResponse describes one registered recurring job.
type ScheduledJobResponse struct {
	Name    string    `json:"name"`
	Cron    string    `json:"cron"`
	Enabled bool      `json:"enabled"`
	NextRun time.Time `json:"next_run,omitempty"`
}

// JobEnqueueResponse is returned after a successful enqueue or trigger.
type JobEnqueueResponse struct {
	JobID string `json:"job_id"`
}
