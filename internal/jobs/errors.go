package jobs

import "errors"

// ErrQueueEmpty is returned by the Queue Engine's Dequeue when none of the
// requested queues had a ready job. It lives here rather than in package
// queue so the Facade can compare against it through the Queue interface
// without importing the concrete engine.
var ErrQueueEmpty = errors.New("queue: no ready job in any requested queue")
