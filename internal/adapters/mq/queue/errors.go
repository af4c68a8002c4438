package queue

import "errors"

// ErrFull is returned by callers that could not hand an action to the queue.
var ErrFull = errors.New("dispatch queue full")
