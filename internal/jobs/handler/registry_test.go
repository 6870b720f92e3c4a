package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jrjohn/arcana-jobs/internal/config"
	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/queue"
	"github.com/jrjohn/arcana-jobs/internal/jobs/registry"
	"github.com/jrjohn/arcana-jobs/internal/jobs/worker"
	"github.com/jrjohn/arcana-jobs/internal/testutil"
)

func setupTestRegistry(t *testing.T) (*Registry, *worker.Pool, *jobs.Facade) {
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
	reg := registry.WithTimeout(200*time.Millisecond, logger)
	q := queue.New(client, layout, qcfg, logger, queue.WithLiveness(reg))
	facade := jobs.NewFacade(q, reg)

	pool := worker.New(facade, worker.Config{
		WorkerID:          "registry-test-worker",
		Queues:            []string{"default"},
		Concurrency:       1,
		PollInterval:      20 * time.Millisecond,
		ShutdownTimeout:   time.Second,
		HeartbeatInterval: 50 * time.Millisecond,
	}, logger, nil, worker.Hooks{})

	r := NewRegistry(pool, logger)
	return r, pool, facade
}

func TestNewRegistry(t *testing.T) {
	r, _, _ := setupTestRegistry(t)

	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.pool == nil {
		t.Error("pool is nil")
	}
	if r.types == nil {
		t.Error("types map is nil")
	}
}

func TestRegistry_Register_SimplePayload(t *testing.T) {
	r, _, _ := setupTestRegistry(t)

	type SimplePayload struct {
		Message string `json:"message"`
	}

	Register(r, "simple-job", func(ctx context.Context, jctx jobs.JobContext, payload SimplePayload) error {
		return nil
	})

	handlers := r.ListHandlers()
	if len(handlers) != 1 {
		t.Errorf("len(handlers) = %v, want 1", len(handlers))
	}
	if _, ok := handlers["simple-job"]; !ok {
		t.Error("simple-job not found in handlers")
	}
}

func TestRegistry_Register_MultipleHandlers(t *testing.T) {
	r, _, _ := setupTestRegistry(t)

	type Payload1 struct {
		Field1 string `json:"field1"`
	}
	type Payload2 struct {
		Field2 int `json:"field2"`
	}

	Register(r, "job-1", func(ctx context.Context, jctx jobs.JobContext, payload Payload1) error {
		return nil
	})
	Register(r, "job-2", func(ctx context.Context, jctx jobs.JobContext, payload Payload2) error {
		return nil
	})

	handlers := r.ListHandlers()
	if len(handlers) != 2 {
		t.Errorf("len(handlers) = %v, want 2", len(handlers))
	}
}

func TestRegistry_ListHandlers(t *testing.T) {
	r, _, _ := setupTestRegistry(t)

	handlers := r.ListHandlers()
	if len(handlers) != 0 {
		t.Errorf("Initial len(handlers) = %v, want 0", len(handlers))
	}

	type PayloadA struct{ A string }
	type PayloadB struct{ B string }

	Register(r, "list-job-1", func(ctx context.Context, jctx jobs.JobContext, payload PayloadA) error {
		return nil
	})
	Register(r, "list-job-2", func(ctx context.Context, jctx jobs.JobContext, payload PayloadB) error {
		return nil
	})

	handlers = r.ListHandlers()
	if len(handlers) != 2 {
		t.Errorf("After registration len(handlers) = %v, want 2", len(handlers))
	}

	handlers["new-key"] = "new-value"
	if len(r.ListHandlers()) != 2 {
		t.Error("ListHandlers should return a copy")
	}
}

func TestRegistry_HandlerDecodesPayloadAndRuns(t *testing.T) {
	r, pool, facade := setupTestRegistry(t)

	type ValuePayload struct {
		Value int `json:"value"`
	}

	received := make(chan int, 1)
	Register(r, "decode-test", func(ctx context.Context, jctx jobs.JobContext, payload ValuePayload) error {
		received <- payload.Value
		return nil
	})

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop(ctx)

	def := jobs.NewJobDefinition("decode-test")
	if _, err := facade.Enqueue(ctx, def, ValuePayload{Value: 42}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case v := <-received:
		if v != 42 {
			t.Errorf("received value = %d, want 42", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestRegistry_HandlerReturnsErrorOnBadPayload(t *testing.T) {
	r, pool, facade := setupTestRegistry(t)

	type StrictPayload struct {
		Required int `json:"required"`
	}

	Register(r, "strict-test", func(ctx context.Context, jctx jobs.JobContext, payload StrictPayload) error {
		return nil
	})

	ctx := context.Background()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pool.Stop(ctx)

	def := jobs.NewJobDefinition("strict-test")
	def.RetryPolicy = jobs.NoRetry()
	if _, err := facade.Enqueue(ctx, def, "not-a-struct-at-all"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	testutil.AssertEventually(t, 2*time.Second, func() bool {
		return pool.Stats().FailedJobs == 1
	}, "job with undecodable payload should fail")
}

func TestRegistry_RegistersErrorReturningHandler(t *testing.T) {
	r, _, _ := setupTestRegistry(t)

	type ErrorPayload struct {
		ShouldFail bool `json:"should_fail"`
	}

	Register(r, "error-test", func(ctx context.Context, jctx jobs.JobContext, payload ErrorPayload) error {
		if payload.ShouldFail {
			return errors.New("intentional failure")
		}
		return nil
	})

	handlers := r.ListHandlers()
	if _, ok := handlers["error-test"]; !ok {
		t.Error("error-test handler not found")
	}
}

func TestRegistry_RegistersContextCheckingHandler(t *testing.T) {
	r, _, _ := setupTestRegistry(t)

	type ContextPayload struct{}

	Register(r, "context-test", func(ctx context.Context, jctx jobs.JobContext, payload ContextPayload) error {
		if jctx.JobID == "" {
			t.Error("JobContext.JobID should be populated")
		}
		return nil
	})

	handlers := r.ListHandlers()
	if _, ok := handlers["context-test"]; !ok {
		t.Error("context-test handler not found")
	}
}

func TestPayloadSerialization_RoundTrip(t *testing.T) {
	type roundTripPayload struct {
		Name  string         `json:"name"`
		Count int            `json:"count"`
		Meta  map[string]any `json:"meta"`
	}

	payload := roundTripPayload{Name: "x", Count: 3, Meta: map[string]any{"k": "v"}}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if len(data) == 0 {
		t.Error("Marshal produced empty JSON")
	}

	var parsed roundTripPayload
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if parsed.Name != "x" || parsed.Count != 3 {
		t.Errorf("parsed = %+v, want Name=x Count=3", parsed)
	}
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	r, _, _ := setupTestRegistry(t)

	type ConcurrentPayload struct{}

	done := make(chan bool)
	for i := 0; i < 100; i++ {
		go func(id int) {
			Register(r, testutil.GenerateTestID(), func(ctx context.Context, jctx jobs.JobContext, payload ConcurrentPayload) error {
				return nil
			})
			done <- true
		}(i)
	}

	for i := 0; i < 100; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for concurrent registration")
		}
	}

	handlers := r.ListHandlers()
	if len(handlers) != 100 {
		t.Errorf("len(handlers) = %v, want 100", len(handlers))
	}
}

func BenchmarkRegistry_Register(b *testing.B) {
	logger := testutil.NewNopLogger()
	facade := jobs.NewFacade(benchQueue{}, benchLiveness{})
	pool := worker.New(facade, worker.Config{
		WorkerID:          "bench",
		Queues:            []string{"default"},
		Concurrency:       1,
		PollInterval:      time.Second,
		ShutdownTimeout:   time.Second,
		HeartbeatInterval: time.Second,
	}, logger, nil, worker.Hooks{})
	r := NewRegistry(pool, logger)

	type BenchPayload struct {
		Data string `json:"data"`
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Register(r, testutil.GenerateTestID(), func(ctx context.Context, jctx jobs.JobContext, payload BenchPayload) error {
			return nil
		})
	}
}

func BenchmarkRegistry_ListHandlers(b *testing.B) {
	logger := testutil.NewNopLogger()
	facade := jobs.NewFacade(benchQueue{}, benchLiveness{})
	pool := worker.New(facade, worker.Config{
		WorkerID:          "bench",
		Queues:            []string{"default"},
		Concurrency:       1,
		PollInterval:      time.Second,
		ShutdownTimeout:   time.Second,
		HeartbeatInterval: time.Second,
	}, logger, nil, worker.Hooks{})
	r := NewRegistry(pool, logger)

	type BenchPayload struct {
		Data string `json:"data"`
	}
	for i := 0; i < 10; i++ {
		Register(r, testutil.GenerateTestID(), func(ctx context.Context, jctx jobs.JobContext, payload BenchPayload) error {
			return nil
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.ListHandlers()
	}
}

// benchQueue and benchLiveness satisfy the Facade's dependencies without
// Redis, so the benchmarks above measure registration, not I/O.
type benchQueue struct{}

func (benchQueue) Enqueue(ctx context.Context, rec *jobs.JobRecord) error { return nil }
func (benchQueue) Dequeue(ctx context.Context, queues []string, workerID string) (*jobs.JobRecord, error) {
	return nil, nil
}
func (benchQueue) GetJob(ctx context.Context, id string) (*jobs.JobRecord, error) { return nil, nil }
func (benchQueue) Complete(ctx context.Context, id string) error                 { return nil }
func (benchQueue) Fail(ctx context.Context, id string, cause error) error        { return nil }
func (benchQueue) Cancel(ctx context.Context, id string) error                   { return nil }
func (benchQueue) DeleteJob(ctx context.Context, id string) error                { return nil }

type benchLiveness struct{}

func (benchLiveness) IsAlive(string) bool                   { return true }
func (benchLiveness) Register(string, []string, int) uint64 { return 1 }
func (benchLiveness) Heartbeat(string, int) bool             { return true }
func (benchLiveness) Unregister(string) bool                 { return true }
func (benchLiveness) RecordJobProcessed(string)              {}
func (benchLiveness) RecordJobFailed(string)                 {}
