// Package status implements the Status Tracker (C8): read-only snapshot
// queries over the job data the Queue Engine writes, plus worker health
// pulled from the in-memory Worker Registry.
package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/keys"
	"github.com/jrjohn/arcana-jobs/internal/jobs/registry"
)

// SearchQuery filters a job search. A nil Status searches the queue's ready
// set; Name and Tag apply as in-memory substring/membership filters after
// the candidate IDs are loaded, since neither is indexed in Redis.
type SearchQuery struct {
	Status *jobs.JobStatus
	Queue  string
	Name   string
	Tag    string
	Offset int
	Limit  int
}

// NewSearchQuery returns a query with the tracker's pagination defaults.
func NewSearchQuery() SearchQuery {
	return SearchQuery{Queue: "default", Offset: 0, Limit: 50}
}

// SearchResult is a page of matching jobs plus the total candidate-set size
// before in-memory filtering (true result-set size is not known without a
// full scan, so Total reflects the underlying Redis structure's size).
type SearchResult struct {
	Jobs   []jobs.JobInfo
	Total  int64
	Offset int
	Limit  int
}

// QueueStats is a point-in-time count of jobs in each lifecycle state.
// Pending, Failed and DeadLetter are the named queue's own; Active,
// Completed and Delayed are read from the active map, completed set and
// delayed set shared by every queue, so they count jobs of all queues.
type QueueStats struct {
	Queue      string
	Pending    int64
	Active     int64
	Completed  int64
	Failed     int64
	DeadLetter int64
	Delayed    int64
}

// DashboardStats aggregates QueueStats across every tracked queue.
type DashboardStats struct {
	TotalJobs       int64
	TotalPending    int64
	TotalActive     int64
	TotalCompleted  int64
	TotalFailed     int64
	TotalDeadLetter int64
	TotalDelayed    int64
	Queues          []QueueStats
}

// ActivityType classifies a JobActivity entry.
type ActivityType string

const (
	ActivityCompleted    ActivityType = "completed"
	ActivityFailed       ActivityType = "failed"
	ActivityDeadLettered ActivityType = "dead_lettered"
)

// JobActivity is one entry in a recent-activity feed.
type JobActivity struct {
	JobID        string
	JobName      string
	ActivityType ActivityType
	Timestamp    time.Time
	Queue        string
	DurationMS   *int64
	Error        string
}

// ThroughputPeriod selects a lookback window and bucket width for
// GetThroughput.
type ThroughputPeriod string

const (
	ThroughputLastHour    ThroughputPeriod = "last_hour"
	ThroughputLast24Hours ThroughputPeriod = "last_24_hours"
	ThroughputLast7Days   ThroughputPeriod = "last_7_days"
)

func (p ThroughputPeriod) window() (lookback time.Duration, buckets int) {
	switch p {
	case ThroughputLastHour:
		return time.Hour, 12
	case ThroughputLast24Hours:
		return 24 * time.Hour, 24
	case ThroughputLast7Days:
		return 7 * 24 * time.Hour, 7
	default:
		return time.Hour, 12
	}
}

// ThroughputBucket is one time slice of a throughput breakdown.
type ThroughputBucket struct {
	Start     time.Time
	End       time.Time
	Completed int64
	Failed    int64
}

// ThroughputMetrics summarizes completion/failure rates over a period, with
// a full bucket breakdown.
type ThroughputMetrics struct {
	Queue         string
	Period        ThroughputPeriod
	TotalProcessed int64
	Completed     int64
	Failed        int64
	AvgPerSecond  float64
	SuccessRate   float64
	Buckets       []ThroughputBucket
}

// WorkerStatus classifies a worker's liveness for GetWorkerHealth.
type WorkerStatus string

const (
	WorkerStatusActive WorkerStatus = "active"
	WorkerStatusStale  WorkerStatus = "stale"
)

// WorkerHealth is one worker's liveness snapshot.
type WorkerHealth struct {
	WorkerID      string
	Status        WorkerStatus
	LastHeartbeat time.Time
	Queues        []string
}

// Tracker answers read-only queries over the job data the Queue Engine
// writes. It never mutates state.
type Tracker struct {
	client *redis.Client
	keys   keys.Layout
	reg    *registry.Registry
}

// New builds a Tracker. reg is the same Worker Registry instance the Facade
// uses for liveness, so GetWorkerHealth reflects the authoritative roster
// rather than a stale Redis scan.
func New(client *redis.Client, layout keys.Layout, reg *registry.Registry) *Tracker {
	return &Tracker{client: client, keys: layout, reg: reg}
}

// GetJob returns a job's read-facing projection, or nil if it doesn't exist.
func (t *Tracker) GetJob(ctx context.Context, id string) (*jobs.JobInfo, error) {
	data, err := t.client.Get(ctx, t.keys.Job(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	rec, err := jobs.Deserialize(data)
	if err != nil {
		return nil, err
	}
	info := rec.Info()
	return &info, nil
}

// GetJobs returns the read-facing projection for each of ids, preserving
// order; an id with no stored job yields a nil entry.
func (t *Tracker) GetJobs(ctx context.Context, ids []string) ([]*jobs.JobInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	jobKeys := make([]string, len(ids))
	for i, id := range ids {
		jobKeys[i] = t.keys.Job(id)
	}

	raw, err := t.client.MGet(ctx, jobKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget jobs: %w", err)
	}

	out := make([]*jobs.JobInfo, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := jobs.Deserialize([]byte(s))
		if err != nil {
			continue
		}
		info := rec.Info()
		out[i] = &info
	}
	return out, nil
}

func (t *Tracker) candidateSetKey(q SearchQuery) string {
	queue := q.Queue
	if queue == "" {
		queue = "default"
	}
	if q.Status == nil {
		return t.keys.Ready(queue)
	}
	switch *q.Status {
	case jobs.JobStatusPending, jobs.JobStatusScheduled:
		return t.keys.Ready(queue)
	case jobs.JobStatusRunning:
		return "" // active is a hash, handled separately
	case jobs.JobStatusCompleted:
		return t.keys.Completed()
	case jobs.JobStatusFailed, jobs.JobStatusDeadLetter, jobs.JobStatusCancelled:
		return t.keys.DeadLetter(queue)
	default:
		return t.keys.Ready(queue)
	}
}

// SearchJobs pages through the Redis structure matching query.Status (ready
// set, completed set, or DLQ), then applies Name/Tag as in-memory filters.
func (t *Tracker) SearchJobs(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var ids []string
	var total int64
	var err error

	if q.Status != nil && *q.Status == jobs.JobStatusRunning {
		active, aerr := t.client.HKeys(ctx, t.keys.Active()).Result()
		if aerr != nil {
			return nil, fmt.Errorf("hkeys active: %w", aerr)
		}
		total = int64(len(active))
		lo, hi := q.Offset, q.Offset+q.Limit
		if lo > len(active) {
			lo = len(active)
		}
		if hi > len(active) {
			hi = len(active)
		}
		ids = active[lo:hi]
	} else {
		setKey := t.candidateSetKey(q)
		total, err = t.client.ZCard(ctx, setKey).Result()
		if err != nil {
			return nil, fmt.Errorf("zcard %s: %w", setKey, err)
		}
		ids, err = t.client.ZRange(ctx, setKey, int64(q.Offset), int64(q.Offset+q.Limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("zrange %s: %w", setKey, err)
		}
	}

	result := &SearchResult{Offset: q.Offset, Limit: q.Limit, Total: total}
	for _, id := range ids {
		info, err := t.GetJob(ctx, id)
		if err != nil || info == nil {
			continue
		}
		if q.Name != "" && !strings.Contains(info.Name, q.Name) {
			continue
		}
		if q.Tag != "" && !containsTag(info.Tags, q.Tag) {
			continue
		}
		result.Jobs = append(result.Jobs, *info)
	}
	return result, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// GetQueueStats returns point-in-time counts for one logical queue; see
// QueueStats for the counts that span every queue.
func (t *Tracker) GetQueueStats(ctx context.Context, queue string) (QueueStats, error) {
	pipe := t.client.Pipeline()
	pendingCmd := pipe.ZCard(ctx, t.keys.Ready(queue))
	activeCmd := pipe.HLen(ctx, t.keys.Active())
	completedCmd := pipe.ZCard(ctx, t.keys.Completed())
	dlqCmd := pipe.ZCard(ctx, t.keys.DeadLetter(queue))
	delayedCmd := pipe.ZCard(ctx, t.keys.Delayed())
	failedCmd := pipe.HGet(ctx, t.keys.Stats(queue), "failed_total")

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return QueueStats{}, fmt.Errorf("pipeline queue stats: %w", err)
	}

	var failed int64
	fmt.Sscanf(failedCmd.Val(), "%d", &failed)

	return QueueStats{
		Queue:      queue,
		Pending:    pendingCmd.Val(),
		Active:     activeCmd.Val(),
		Completed:  completedCmd.Val(),
		Failed:     failed,
		DeadLetter: dlqCmd.Val(),
		Delayed:    delayedCmd.Val(),
	}, nil
}

// GetAllStats returns GetQueueStats for every name in queues.
func (t *Tracker) GetAllStats(ctx context.Context, queues []string) ([]QueueStats, error) {
	stats := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		s, err := t.GetQueueStats(ctx, q)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// GetDashboardStats aggregates GetAllStats across queues into totals.
func (t *Tracker) GetDashboardStats(ctx context.Context, queues []string) (DashboardStats, error) {
	allStats, err := t.GetAllStats(ctx, queues)
	if err != nil {
		return DashboardStats{}, err
	}

	var dash DashboardStats
	for i, s := range allStats {
		dash.TotalPending += s.Pending
		dash.TotalFailed += s.Failed
		dash.TotalDeadLetter += s.DeadLetter
		if i == 0 {
			// Active, Completed and Delayed already span every queue.
			dash.TotalActive = s.Active
			dash.TotalCompleted = s.Completed
			dash.TotalDelayed = s.Delayed
		}
		dash.Queues = append(dash.Queues, s)
	}
	dash.TotalJobs = dash.TotalPending + dash.TotalActive + dash.TotalCompleted +
		dash.TotalFailed + dash.TotalDeadLetter + dash.TotalDelayed
	return dash, nil
}

// GetJobHistory returns every completed/dead-lettered job sharing
// correlationID, sorted by creation time ascending.
func (t *Tracker) GetJobHistory(ctx context.Context, correlationID string, queues []string) ([]jobs.JobInfo, error) {
	var out []jobs.JobInfo
	seen := make(map[string]bool)

	collect := func(setKey string) error {
		ids, err := t.client.ZRange(ctx, setKey, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("zrange %s: %w", setKey, err)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			info, err := t.GetJob(ctx, id)
			if err != nil || info == nil {
				continue
			}
			if info.CorrelationID != correlationID {
				continue
			}
			seen[id] = true
			out = append(out, *info)
		}
		return nil
	}

	if err := collect(t.keys.Completed()); err != nil {
		return nil, err
	}
	for _, q := range queues {
		if err := collect(t.keys.DeadLetter(q)); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetRecentActivity merges the most recently completed and dead-lettered
// jobs across queues into a single timestamp-descending feed.
func (t *Tracker) GetRecentActivity(ctx context.Context, queues []string, limit int) ([]JobActivity, error) {
	if limit <= 0 {
		limit = 20
	}

	completedIDs, err := t.client.ZRevRange(ctx, t.keys.Completed(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange completed: %w", err)
	}

	var activities []JobActivity
	for _, id := range completedIDs {
		info, err := t.GetJob(ctx, id)
		if err != nil || info == nil {
			continue
		}
		ts := info.CreatedAt
		var duration *int64
		if info.CompletedAt != nil {
			ts = *info.CompletedAt
			if info.StartedAt != nil {
				d := info.CompletedAt.Sub(*info.StartedAt).Milliseconds()
				duration = &d
			}
		}
		activities = append(activities, JobActivity{
			JobID:        info.ID,
			JobName:      info.Name,
			ActivityType: ActivityCompleted,
			Timestamp:    ts,
			Queue:        info.Queue,
			DurationMS:   duration,
		})
	}

	for _, q := range queues {
		dlqIDs, err := t.client.ZRevRange(ctx, t.keys.DeadLetter(q), 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("zrevrange dlq %s: %w", q, err)
		}
		for _, id := range dlqIDs {
			info, err := t.GetJob(ctx, id)
			if err != nil || info == nil {
				continue
			}
			ts := info.CreatedAt
			if info.CompletedAt != nil {
				ts = *info.CompletedAt
			}
			activities = append(activities, JobActivity{
				JobID:        info.ID,
				JobName:      info.Name,
				ActivityType: ActivityDeadLettered,
				Timestamp:    ts,
				Queue:        info.Queue,
				Error:        info.LastError,
			})
		}
	}

	sort.Slice(activities, func(i, j int) bool { return activities[i].Timestamp.After(activities[j].Timestamp) })
	if len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

// GetThroughput counts the queue's completions (completed-set entries whose
// record belongs to queue) and failures (its DLQ) over period, bucketed into
// equal-width time slices.
func (t *Tracker) GetThroughput(ctx context.Context, queue string, period ThroughputPeriod) (ThroughputMetrics, error) {
	lookback, bucketCount := period.window()
	now := time.Now().UTC()
	start := now.Add(-lookback)
	bucketWidth := lookback / time.Duration(bucketCount)

	completedIDs, err := t.client.ZRangeByScore(ctx, t.keys.Completed(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", start.UnixMilli()),
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return ThroughputMetrics{}, fmt.Errorf("zrangebyscore completed: %w", err)
	}

	failedIDs, err := t.client.ZRangeByScore(ctx, t.keys.DeadLetter(queue), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", start.UnixMilli()),
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return ThroughputMetrics{}, fmt.Errorf("zrangebyscore dlq: %w", err)
	}

	buckets := make([]ThroughputBucket, bucketCount)
	for i := range buckets {
		buckets[i] = ThroughputBucket{
			Start: start.Add(time.Duration(i) * bucketWidth),
			End:   start.Add(time.Duration(i+1) * bucketWidth),
		}
	}

	bucketFor := func(ts time.Time) int {
		idx := int(ts.Sub(start) / bucketWidth)
		if idx < 0 {
			idx = 0
		}
		if idx >= bucketCount {
			idx = bucketCount - 1
		}
		return idx
	}

	// The completed set is shared by every queue, so entries are filtered by
	// the record's own queue.
	var completed int64
	for _, id := range completedIDs {
		info, err := t.GetJob(ctx, id)
		if err != nil || info == nil || info.CompletedAt == nil || info.Queue != queue {
			continue
		}
		buckets[bucketFor(*info.CompletedAt)].Completed++
		completed++
	}
	for _, id := range failedIDs {
		info, err := t.GetJob(ctx, id)
		if err != nil || info == nil {
			continue
		}
		ts := info.CreatedAt
		if info.CompletedAt != nil {
			ts = *info.CompletedAt
		}
		buckets[bucketFor(ts)].Failed++
	}

	failed := int64(len(failedIDs))
	total := completed + failed
	durationSecs := lookback.Seconds()
	avgPerSecond := 0.0
	if durationSecs > 0 {
		avgPerSecond = float64(total) / durationSecs
	}
	successRate := 100.0
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100.0
	}

	return ThroughputMetrics{
		Queue:          queue,
		Period:         period,
		TotalProcessed: total,
		Completed:      completed,
		Failed:         failed,
		AvgPerSecond:   avgPerSecond,
		SuccessRate:    successRate,
		Buckets:        buckets,
	}, nil
}

// GetWorkerHealth reports liveness for every worker in the in-memory
// registry. Unlike the Redis-key-scan approach the registry's data model
// replaced, this never races a TTL expiry mid-scan.
func (t *Tracker) GetWorkerHealth() []WorkerHealth {
	workers := t.reg.GetAllWorkers()
	timeout := t.reg.HeartbeatTimeout()
	out := make([]WorkerHealth, 0, len(workers))
	for _, w := range workers {
		status := WorkerStatusActive
		if !w.IsAlive(timeout) {
			status = WorkerStatusStale
		}
		out = append(out, WorkerHealth{
			WorkerID:      w.ID,
			Status:        status,
			LastHeartbeat: w.LastHeartbeat,
			Queues:        w.Queues,
		})
	}
	return out
}
