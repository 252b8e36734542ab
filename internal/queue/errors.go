package queue

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter id does not exist
	ErrItemNotFound = errors.New("dead letter item not found")

	// ErrMaxRetriesExceeded marks events dead-lettered after exhausting retries
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
