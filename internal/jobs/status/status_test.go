package status

import (
	"context"
	"testing"
	"time"

	"github.com/jrjohn/arcana-jobs/internal/config"
	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/queue"
	"github.com/jrjohn/arcana-jobs/internal/jobs/registry"
	"github.com/jrjohn/arcana-jobs/internal/testutil"
)

func newTestTracker(t *testing.T) (*Tracker, *queue.Engine, *registry.Registry) {
	testutil.SkipIfNoRedis(t)
	client := testutil.NewTestRedisClient(t, testutil.DefaultTestConfig())
	layout := testutil.NewTestKeyLayout()
	logger := testutil.NewTestLogger(t)

	qcfg := config.QueueConfig{
		DLQEnabled:         true,
		UniqueKeyTTL:       time.Minute,
		JobRetention:       time.Hour,
		CompletedRetention: time.Hour,
	}
	reg := registry.WithTimeout(time.Minute, logger)
	q := queue.New(client, layout, qcfg, logger, queue.WithLiveness(reg))
	tracker := New(client, layout, reg)
	return tracker, q, reg
}

func newRecord(t *testing.T, queue, name string) *jobs.JobRecord {
	t.Helper()
	def := jobs.NewJobDefinition(name)
	def.Queue = queue
	rec, err := jobs.NewJobRecord(def, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("NewJobRecord() error = %v", err)
	}
	return rec
}

func TestTracker_GetJob(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	rec := newRecord(t, "default", "tracked_job")
	if err := q.Enqueue(ctx, rec); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	info, err := tracker.GetJob(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if info == nil {
		t.Fatal("GetJob() returned nil")
	}
	if info.Name != "tracked_job" {
		t.Errorf("Name = %v, want tracked_job", info.Name)
	}
}

func TestTracker_GetJob_NotFound(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	info, err := tracker.GetJob(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if info != nil {
		t.Error("GetJob() for missing id should return nil")
	}
}

func TestTracker_SearchJobs_ByQueue(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := newRecord(t, "search-queue", "search_job")
		if err := q.Enqueue(ctx, rec); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	query := NewSearchQuery()
	query.Queue = "search-queue"
	query.Limit = 10

	result, err := tracker.SearchJobs(ctx, query)
	if err != nil {
		t.Fatalf("SearchJobs() error = %v", err)
	}
	if len(result.Jobs) != 3 {
		t.Errorf("len(Jobs) = %v, want 3", len(result.Jobs))
	}
	if result.Total != 3 {
		t.Errorf("Total = %v, want 3", result.Total)
	}
}

func TestTracker_SearchJobs_NameFilter(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, newRecord(t, "filter-queue", "alpha_job")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, newRecord(t, "filter-queue", "beta_job")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	query := NewSearchQuery()
	query.Queue = "filter-queue"
	query.Name = "alpha"

	result, err := tracker.SearchJobs(ctx, query)
	if err != nil {
		t.Fatalf("SearchJobs() error = %v", err)
	}
	if len(result.Jobs) != 1 {
		t.Fatalf("len(Jobs) = %v, want 1", len(result.Jobs))
	}
	if result.Jobs[0].Name != "alpha_job" {
		t.Errorf("Jobs[0].Name = %v, want alpha_job", result.Jobs[0].Name)
	}
}

func TestTracker_GetQueueStats(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	rec := newRecord(t, "stats-queue", "stats_job")
	if err := q.Enqueue(ctx, rec); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	stats, err := tracker.GetQueueStats(ctx, "stats-queue")
	if err != nil {
		t.Fatalf("GetQueueStats() error = %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %v, want 1", stats.Pending)
	}
}

func TestTracker_GetDashboardStats(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, newRecord(t, "dash-a", "job_a")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, newRecord(t, "dash-b", "job_b")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	dash, err := tracker.GetDashboardStats(ctx, []string{"dash-a", "dash-b"})
	if err != nil {
		t.Fatalf("GetDashboardStats() error = %v", err)
	}
	if dash.TotalPending != 2 {
		t.Errorf("TotalPending = %v, want 2", dash.TotalPending)
	}
	if len(dash.Queues) != 2 {
		t.Errorf("len(Queues) = %v, want 2", len(dash.Queues))
	}
}

func TestTracker_GetRecentActivity_CompletedJob(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	rec := newRecord(t, "activity-queue", "activity_job")
	if err := q.Enqueue(ctx, rec); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	got, err := q.Dequeue(ctx, []string{"activity-queue"}, "worker-1")
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if err := q.Complete(ctx, got.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	activities, err := tracker.GetRecentActivity(ctx, []string{"activity-queue"}, 10)
	if err != nil {
		t.Fatalf("GetRecentActivity() error = %v", err)
	}
	found := false
	for _, a := range activities {
		if a.JobID == got.ID {
			found = true
			if a.ActivityType != ActivityCompleted {
				t.Errorf("ActivityType = %v, want completed", a.ActivityType)
			}
		}
	}
	if !found {
		t.Error("completed job not found in recent activity")
	}
}

func TestTracker_GetThroughput(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	rec := newRecord(t, "throughput-queue", "throughput_job")
	if err := q.Enqueue(ctx, rec); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	got, err := q.Dequeue(ctx, []string{"throughput-queue"}, "worker-1")
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if err := q.Complete(ctx, got.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	metrics, err := tracker.GetThroughput(ctx, "throughput-queue", ThroughputLastHour)
	if err != nil {
		t.Fatalf("GetThroughput() error = %v", err)
	}
	if metrics.Completed < 1 {
		t.Errorf("Completed = %v, want >= 1", metrics.Completed)
	}
	if len(metrics.Buckets) != 12 {
		t.Errorf("len(Buckets) = %v, want 12", len(metrics.Buckets))
	}
	if metrics.SuccessRate != 100.0 {
		t.Errorf("SuccessRate = %v, want 100.0", metrics.SuccessRate)
	}
}

func TestTracker_GetWorkerHealth(t *testing.T) {
	tracker, _, reg := newTestTracker(t)

	reg.Register("worker-1", []string{"default"}, 4)

	health := tracker.GetWorkerHealth()
	if len(health) != 1 {
		t.Fatalf("len(health) = %v, want 1", len(health))
	}
	if health[0].WorkerID != "worker-1" {
		t.Errorf("WorkerID = %v, want worker-1", health[0].WorkerID)
	}
	if health[0].Status != WorkerStatusActive {
		t.Errorf("Status = %v, want active", health[0].Status)
	}
}

func TestTracker_GetJobHistory(t *testing.T) {
	tracker, q, _ := newTestTracker(t)
	ctx := context.Background()

	def := jobs.NewJobDefinition("history_job")
	def.Queue = "history-queue"
	rec, err := jobs.NewJobRecord(def, map[string]string{"k": "v"}, jobs.WithCorrelationID("corr-1"))
	if err != nil {
		t.Fatalf("NewJobRecord() error = %v", err)
	}
	if err := q.Enqueue(ctx, rec); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	got, err := q.Dequeue(ctx, []string{"history-queue"}, "worker-1")
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if err := q.Complete(ctx, got.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	history, err := tracker.GetJobHistory(ctx, "corr-1", []string{"history-queue"})
	if err != nil {
		t.Fatalf("GetJobHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %v, want 1", len(history))
	}
	if history[0].CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %v, want corr-1", history[0].CorrelationID)
	}
}
