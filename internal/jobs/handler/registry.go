// Package handler provides a typed wrapper over the Worker Pool's raw,
// payload-as-bytes handler registration, so job handlers can be written
// against a concrete Go struct instead of hand-rolling json.Unmarshal every
// time.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/worker"
)

// Func is a typed handler: it receives the job's execution context and its
// already-decoded payload.
type Func[T any] func(ctx context.Context, jctx jobs.JobContext, payload T) error

// Registry tracks which Go type backs each registered job type, for
// introspection and documentation.
type Registry struct {
	pool   *worker.Pool
	logger *zap.Logger
	mu     sync.RWMutex
	types  map[string]string
}

// NewRegistry returns a Registry that registers handlers onto pool.
func NewRegistry(pool *worker.Pool, logger *zap.Logger) *Registry {
	return &Registry{
		pool:   pool,
		logger: logger,
		types:  make(map[string]string),
	}
}

// Register binds a typed handler to jobType.
func Register[T any](r *Registry, jobType string, h Func[T]) {
	r.mu.Lock()
	var zero T
	r.types[jobType] = fmt.Sprintf("%T", zero)
	r.mu.Unlock()

	r.pool.RegisterHandler(jobType, func(ctx context.Context, jctx jobs.JobContext, data []byte) error {
		var payload T
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("unmarshal payload for job type %q: %w", jobType, err)
		}
		return h(ctx, jctx, payload)
	})

	r.logger.Info("registered typed job handler",
		zap.String("job_type", jobType),
		zap.String("payload_type", r.types[jobType]),
	)
}

// ListHandlers returns every registered job type and its Go payload type
// name.
func (r *Registry) ListHandlers() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.types))
	for k, v := range r.types {
		out[k] = v
	}
	return out
}
