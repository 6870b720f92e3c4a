package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/jrjohn/arcana-jobs/internal/config"
	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/lease"
	"github.com/jrjohn/arcana-jobs/internal/jobs/queue"
	"github.com/jrjohn/arcana-jobs/internal/jobs/registry"
	"github.com/jrjohn/arcana-jobs/internal/testutil"
)

func setupTestScheduler(t *testing.T) (*Scheduler, context.Context) {
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
	facade := jobs.NewFacade(q, reg)
	leases := lease.NewManager(client, 2*time.Second, 200*time.Millisecond)

	cfg := Config{
		LeaderCheckInterval: 200 * time.Millisecond,
		LeaderTTL:           2 * time.Second,
		PollInterval:        50 * time.Millisecond,
	}

	sched := New(client, layout, facade, leases, cfg, logger)
	return sched, context.Background()
}

func TestScheduler_Register(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	def := jobs.NewJobDefinition("heartbeat_job")
	err := sched.Register(ScheduledJob{
		Name:     "heartbeat",
		Schedule: EveryMinute,
		Def:      def,
		Payload:  func() any { return map[string]string{"source": "heartbeat"} },
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	jobs := sched.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("len(ListJobs()) = %v, want 1", len(jobs))
	}
	if jobs[0].Name != "heartbeat" || !jobs[0].Enabled {
		t.Errorf("ListJobs()[0] = %+v, want enabled heartbeat", jobs[0])
	}
}

func TestScheduler_Register_DuplicateName(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	job := ScheduledJob{Name: "dup", Schedule: EveryMinute, Def: jobs.NewJobDefinition("dup_job")}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := sched.Register(job); err == nil {
		t.Error("Register() of duplicate name should error")
	}
}

func TestScheduler_Register_InvalidCron(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	err := sched.Register(ScheduledJob{
		Name:     "bad",
		Schedule: "not a cron expression",
		Def:      jobs.NewJobDefinition("bad_job"),
	})
	if err == nil {
		t.Error("Register() with invalid cron expression should error")
	}
}

func TestScheduler_DisableAndEnableJob(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	job := ScheduledJob{Name: "toggle", Schedule: EveryMinute, Def: jobs.NewJobDefinition("toggle_job")}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if !sched.DisableJob("toggle") {
		t.Fatal("DisableJob() returned false")
	}
	jobs := sched.ListJobs()
	if jobs[0].Enabled {
		t.Error("job should be disabled")
	}

	if !sched.EnableJob("toggle") {
		t.Fatal("EnableJob() returned false")
	}
	jobs = sched.ListJobs()
	if !jobs[0].Enabled {
		t.Error("job should be re-enabled")
	}
}

func TestScheduler_Unregister(t *testing.T) {
	sched, _ := setupTestScheduler(t)

	job := ScheduledJob{Name: "gone", Schedule: EveryMinute, Def: jobs.NewJobDefinition("gone_job")}
	if err := sched.Register(job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !sched.Unregister("gone") {
		t.Fatal("Unregister() returned false")
	}
	if len(sched.ListJobs()) != 0 {
		t.Error("job should have been removed")
	}
}

func TestScheduler_TriggerJob(t *testing.T) {
	sched, ctx := setupTestScheduler(t)

	def := jobs.NewJobDefinition("trigger_job_type")
	def.Queue = "trigger-queue"
	if err := sched.Register(ScheduledJob{
		Name:     "trigger-me",
		Schedule: DailyMidnight,
		Def:      def,
		Payload:  func() any { return map[string]string{"k": "v"} },
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec, err := sched.TriggerJob(ctx, "trigger-me")
	if err != nil {
		t.Fatalf("TriggerJob() error = %v", err)
	}
	if rec.Name != "trigger_job_type" {
		t.Errorf("Name = %v, want trigger_job_type", rec.Name)
	}
	if rec.Queue != "trigger-queue" {
		t.Errorf("Queue = %v, want trigger-queue", rec.Queue)
	}
}

func TestScheduler_TriggerJob_Unregistered(t *testing.T) {
	sched, ctx := setupTestScheduler(t)

	if _, err := sched.TriggerJob(ctx, "does-not-exist"); err == nil {
		t.Error("TriggerJob() for unregistered name should error")
	}
}

func TestScheduler_StartStop_AcquiresLeadershipAndFiresDueJob(t *testing.T) {
	sched, ctx := setupTestScheduler(t)

	def := jobs.NewJobDefinition("every_minute_job")
	def.Queue = "every-minute-queue"
	if err := sched.Register(ScheduledJob{
		Name:     "every-minute",
		Schedule: EveryMinute,
		Def:      def,
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	if !testutil.AssertEventually(t, 2*time.Second, func() bool {
		return sched.IsLeader()
	}, "scheduler never acquired leadership") {
		t.Fatal("scheduler never acquired leadership")
	}

	if !testutil.AssertEventually(t, 3*time.Second, func() bool {
		return sched.JobsExecuted() >= 1
	}, "scheduled job never fired") {
		t.Fatal("scheduled job never fired")
	}
}

func TestScheduler_IsLeader_FalseBeforeStart(t *testing.T) {
	sched, _ := setupTestScheduler(t)
	if sched.IsLeader() {
		t.Error("IsLeader() should be false before Start()")
	}
}
