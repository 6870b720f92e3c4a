// Package keys centralizes Redis key-name computation for the job queue
// subsystem. Every other package reaches Redis only through a Layout so the
// wire-level naming scheme lives in exactly one place.
package keys

import "fmt"

// Layout computes namespaced Redis keys for a single deployment. All methods
// are pure string formatting; Layout holds no connection and does no I/O.
type Layout struct {
	Prefix string
}

// New returns a Layout rooted at prefix. Callers normally get one from
// config.QueueConfig.KeyPrefix rather than constructing it directly.
func New(prefix string) Layout {
	return Layout{Prefix: prefix}
}

// Job returns the key of the string holding the JSON-serialized job record.
func (l Layout) Job(id string) string {
	return fmt.Sprintf("%sjob:%s", l.Prefix, id)
}

// Ready returns the key of the sorted set holding jobs ready to run for the
// named logical queue, ordered by composite priority/schedule score.
func (l Layout) Ready(queue string) string {
	return fmt.Sprintf("%sready:%s", l.Prefix, queue)
}

// Delayed returns the key of the sorted set holding jobs scheduled for the
// future, ordered by their due time, across all logical queues.
func (l Layout) Delayed() string {
	return fmt.Sprintf("%sdelayed", l.Prefix)
}

// Active returns the key of the hash mapping an in-flight job ID to the
// worker ID currently processing it, across all logical queues.
func (l Layout) Active() string {
	return fmt.Sprintf("%sactive", l.Prefix)
}

// Completed returns the key of the sorted set holding recently completed job
// IDs ordered by completion time, used for bounded-retention trimming.
func (l Layout) Completed() string {
	return fmt.Sprintf("%scompleted", l.Prefix)
}

// DeadLetter returns the key of the sorted set holding exhausted jobs for the
// named logical queue.
func (l Layout) DeadLetter(queue string) string {
	return fmt.Sprintf("%sdlq:%s", l.Prefix, queue)
}

// Stats returns the key of the hash holding per-queue counters (enqueued,
// completed, failed, retried) consumed by the Status Tracker.
func (l Layout) Stats(queue string) string {
	return fmt.Sprintf("%sstats:%s", l.Prefix, queue)
}

// Throughput returns a per-queue throughput key. No component reads or
// writes it: the Status Tracker computes throughput from the completed and
// dead-letter sets.
func (l Layout) Throughput(queue string) string {
	return fmt.Sprintf("%sthroughput:%s", l.Prefix, queue)
}

// Unique returns the key of the string marker used to deduplicate jobs
// carrying the same unique key while the marker's TTL is unexpired.
func (l Layout) Unique(uniqueKey string) string {
	return fmt.Sprintf("%sunique:%s", l.Prefix, uniqueKey)
}

// Worker returns a per-worker roster key. No component reads or writes it:
// the Worker Registry keeps its roster in memory.
func (l Layout) Worker(workerID string) string {
	return fmt.Sprintf("%sworker:%s", l.Prefix, workerID)
}

// Workers returns a key for a set of worker IDs. No component reads or
// writes it: the Worker Registry keeps its roster in memory.
func (l Layout) Workers() string {
	return fmt.Sprintf("%sworkers", l.Prefix)
}

// SchedulerLeader returns the key of the leadership lease string used for
// scheduler leader election.
func (l Layout) SchedulerLeader() string {
	return fmt.Sprintf("%sscheduler:leader", l.Prefix)
}

// SchedulerLastRun returns the key of the string marker recording the last
// successful firing of a named scheduled job.
func (l Layout) SchedulerLastRun(name string) string {
	return fmt.Sprintf("%sscheduler:last_run:%s", l.Prefix, name)
}
