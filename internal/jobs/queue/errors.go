package queue

import (
	"errors"

	"github.com/jrjohn/arcana-jobs/internal/jobs"
)

// ErrDuplicateJob is returned by Enqueue when a job's unique key already has
// an outstanding reservation.
var ErrDuplicateJob = errors.New("queue: job with this unique key is already pending")

// ErrQueueEmpty is returned by Dequeue when none of the requested queues had
// a ready job. It aliases jobs.ErrQueueEmpty so Facade, which depends only on
// the Queue interface, can recognize it without importing this package.
var ErrQueueEmpty = jobs.ErrQueueEmpty
