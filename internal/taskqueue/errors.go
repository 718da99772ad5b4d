package taskqueue

import "errors"

// ErrClosed is returned when work is submitted to a closed queue.
var ErrClosed = errors.New("taskqueue: queue is closed")
