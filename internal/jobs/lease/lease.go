// Package lease implements the Redis-backed leadership lease the Scheduler
// (C7) uses to ensure only one process fires scheduled jobs at a time. It
// repurposes the teacher's per-job distributed lock (acquire via SETNX,
// maintain via a heartbeat goroutine, release via a compare-and-delete Lua
// script) for a single named resource held for as long as a process wants
// to act as leader, rather than for the lifetime of one job execution.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by TryAcquire when another holder already owns
// the lease.
var ErrNotAcquired = errors.New("lease: not acquired, held by another holder")

// renewScript extends the lease's TTL only if the calling holder still owns
// it — a plain GET-then-PEXPIRE would race a holder that lost and re-won the
// lease between the two calls.
const renewScript = `
local val = redis.call("get", KEYS[1])
if val and string.find(val, ARGV[1], 1, true) then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end
`

// releaseScript deletes the lease only if the calling holder still owns it.
const releaseScript = `
local val = redis.call("get", KEYS[1])
if val and string.find(val, ARGV[1], 1, true) then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

// Lease represents one successful TryAcquire. Its heartbeat goroutine keeps
// renewing the underlying Redis key until Release is called or renewal
// itself discovers the lease was lost (e.g. this process stalled past the
// TTL and another holder took over).
type Lease struct {
	client   *redis.Client
	key      string
	holderID string
	ttl      time.Duration

	mu     sync.Mutex
	held   bool
	cancel context.CancelFunc
}

// IsHeld reports whether this process still believes it holds the lease.
// It does not itself check Redis; it reflects the most recent
// acquire/renew/release outcome.
func (l *Lease) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lease) runHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if !l.held {
				l.mu.Unlock()
				return
			}
			result, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.holderID+":", l.ttl.Milliseconds()).Int()
			if err != nil || result == 0 {
				l.held = false
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
		}
	}
}

// Manager acquires and releases leases on behalf of one process, identified
// by a single holder ID shared across every lease it takes.
type Manager struct {
	client        *redis.Client
	holderID      string
	ttl           time.Duration
	renewInterval time.Duration
}

// NewManager returns a Manager whose holder ID is a fresh UUID, leases held
// for ttl and renewed every renewInterval (which should be well under ttl —
// the Scheduler wires this to SchedulerConfig.LeaderTTL and
// LeaderCheckInterval).
func NewManager(client *redis.Client, ttl, renewInterval time.Duration) *Manager {
	return &Manager{
		client:        client,
		holderID:      uuid.New().String(),
		ttl:           ttl,
		renewInterval: renewInterval,
	}
}

// HolderID returns this manager's identity as stored in the lease value.
func (m *Manager) HolderID() string {
	return m.holderID
}

// TryAcquire attempts to take the lease at key. It returns ErrNotAcquired,
// not an error, when another holder already owns it — callers poll this in
// a loop rather than treating a lost race as a failure.
func (m *Manager) TryAcquire(ctx context.Context, key string) (*Lease, error) {
	value := fmt.Sprintf("%s:%d", m.holderID, time.Now().UnixNano())
	acquired, err := m.client.SetNX(ctx, key, value, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !acquired {
		return nil, ErrNotAcquired
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	lease := &Lease{
		client:   m.client,
		key:      key,
		holderID: m.holderID,
		ttl:      m.ttl,
		held:     true,
		cancel:   cancel,
	}
	go lease.runHeartbeat(leaseCtx, m.renewInterval)

	return lease, nil
}

// Release stops the heartbeat and deletes the lease if this holder still
// owns it. Releasing an already-released or already-lost lease is a no-op.
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	lease.mu.Lock()
	defer lease.mu.Unlock()
	if !lease.held {
		return nil
	}

	lease.cancel()
	lease.held = false

	_, err := m.client.Eval(ctx, releaseScript, []string{lease.key}, m.holderID+":").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lease %s: %w", lease.key, err)
	}
	return nil
}
