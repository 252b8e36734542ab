// Package queue carries usage events from request handlers to the ledger worker.
//
// Two backends:
//
//  1. MemoryQueue - buffered channel, lost on restart, no dependencies.
//  2. RedisQueue - Redis list, survives restarts and can be drained by any instance.
//
// Failed batches land in a DeadLetterQueue (memory slice or Redis hash).
package queue

import (
	"context"
	"time"

	"llm_keypool/internal/models"
)

// Queue defines the interface for usage event queuing
type Queue interface {
	// Enqueue adds an event to the queue
	Enqueue(ctx context.Context, ev models.UsageEvent) error

	// DequeueWithTimeout waits up to timeout for the first event, then drains
	// without blocking until maxItems are collected. An empty slice means timeout.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]models.UsageEvent, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds events that could not be applied
type DeadLetterQueue interface {
	// Add stores a failed event with the error that sank it
	Add(ctx context.Context, ev models.UsageEvent, err error) error

	// List returns up to maxItems dead events; maxItems <= 0 means all
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes a dead event by id
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents an event in the dead letter queue
type DeadLetterItem struct {
	ID        string            `json:"id"`
	Event     models.UsageEvent `json:"event"`
	Error     string            `json:"error"`
	Timestamp time.Time         `json:"timestamp"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of events applied in one batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts per batch
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 2 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
		QueueName:    queueName,
	}
}
