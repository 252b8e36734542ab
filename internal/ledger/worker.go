package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"llm_keypool/internal/models"
	"llm_keypool/internal/queue"
	"llm_keypool/internal/utils"
)

// Backend is a ledger that can also apply aggregated batches
type Backend interface {
	Ledger
	BatchApplier
}

// Recorder records usage asynchronously. RecordUsage only enqueues; a background
// worker drains the queue, aggregates per (user, day) and applies the sums to
// the backend. Reads go straight to the backend, so a read may lag the most
// recent writes by up to one batch.
type Recorder struct {
	backend     Backend
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	config      *queue.Config
	logger      *utils.Logger
	now         func() time.Time
	sleep       func(time.Duration)
	startOnce   sync.Once
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// RecorderConfig holds the recorder collaborators
type RecorderConfig struct {
	Backend Backend
	Queue   queue.Queue
	DLQ     queue.DeadLetterQueue // optional
	Queuing *queue.Config
	Logger  *utils.Logger
	Now     func() time.Time
}

// NewRecorder creates a recorder; call Start to run the worker
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("ledger backend is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("usage queue is required")
	}
	if cfg.Queuing == nil {
		cfg.Queuing = queue.DefaultConfig("usage")
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewLogger("usage-worker")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Recorder{
		backend:     cfg.Backend,
		queue:       cfg.Queue,
		dlq:         cfg.DLQ,
		config:      cfg.Queuing,
		logger:      cfg.Logger,
		now:         cfg.Now,
		sleep:       time.Sleep,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}, nil
}

// TokensUsedToday reads from the backend
func (r *Recorder) TokensUsedToday(ctx context.Context, userID string) (int64, error) {
	return r.backend.TokensUsedToday(ctx, userID)
}

// RecordUsage enqueues a usage event stamped with the current day
func (r *Recorder) RecordUsage(ctx context.Context, userID string, tokens int64) error {
	if err := validateTokens(tokens); err != nil {
		return err
	}
	if tokens == 0 {
		return nil
	}
	if err := r.queue.Enqueue(ctx, models.NewUsageEvent(userID, tokens, r.now())); err != nil {
		return fmt.Errorf("%w: failed to enqueue usage: %w", ErrUnavailable, err)
	}
	return nil
}

// Start starts the worker goroutine
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Stop stops the worker after it drains what is already queued
func (r *Recorder) Stop() error {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	<-r.stoppedChan
	return nil
}

// QueueLength returns the number of events waiting to be applied
func (r *Recorder) QueueLength(ctx context.Context) (int, error) {
	return r.queue.Length(ctx)
}

// DeadLetters returns events that could not be applied
func (r *Recorder) DeadLetters(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if r.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return r.dlq.List(ctx, maxItems)
}

// RetryDeadLetter re-enqueues a dead event and removes it from the DLQ
func (r *Recorder) RetryDeadLetter(ctx context.Context, id string) error {
	if r.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := r.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := r.queue.Enqueue(ctx, item.Event); err != nil {
			return fmt.Errorf("failed to re-enqueue event: %w", err)
		}
		if err := r.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}

// run is the main worker loop
func (r *Recorder) run(ctx context.Context) {
	defer close(r.stoppedChan)

	for {
		select {
		case <-r.stopChan:
			r.drain(ctx)
			r.logger.Info("Usage worker stopped")
			return
		case <-ctx.Done():
			r.logger.Info("Usage worker context cancelled")
			return
		default:
			if err := r.processBatch(ctx, r.config.BatchTimeout); err != nil {
				if errors.Is(err, queue.ErrQueueClosed) {
					r.logger.Info("Usage queue closed, worker exiting")
					return
				}
				r.logger.Error("Failed to dequeue usage events", "error", err)
				r.sleep(time.Second)
			}
		}
	}
}

// drain applies whatever is still buffered without waiting for new events
func (r *Recorder) drain(ctx context.Context) {
	for {
		length, err := r.queue.Length(ctx)
		if err != nil || length == 0 {
			return
		}
		if err := r.processBatch(ctx, 10*time.Millisecond); err != nil {
			return
		}
	}
}

// processBatch dequeues one batch and applies it
func (r *Recorder) processBatch(ctx context.Context, timeout time.Duration) error {
	events, err := r.queue.DequeueWithTimeout(ctx, r.config.BatchSize, timeout)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("Processing usage batch", "count", len(events))

	for _, agg := range aggregate(events) {
		if err := r.apply(ctx, agg); err != nil {
			r.logger.Error("Failed to apply usage", "user_id", agg.UserID, "day", agg.Day, "error", err)
		}
	}
	return nil
}

// aggregate sums tokens per (user, day), keeping first-seen order
func aggregate(events []models.UsageEvent) []models.UsageEvent {
	type key struct{ user, day string }

	index := make(map[key]int, len(events))
	out := make([]models.UsageEvent, 0, len(events))

	for _, ev := range events {
		if ev.Tokens <= 0 {
			continue
		}
		k := key{ev.UserID, ev.Day}
		if i, ok := index[k]; ok {
			out[i].Tokens += ev.Tokens
			if ev.RecordedAt.After(out[i].RecordedAt) {
				out[i].RecordedAt = ev.RecordedAt
			}
			continue
		}
		index[k] = len(out)
		out = append(out, ev)
	}
	return out
}

// apply writes one aggregate with exponential backoff, then dead-letters it
func (r *Recorder) apply(ctx context.Context, ev models.UsageEvent) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			r.logger.Debug("Retrying usage event", "attempt", attempt, "backoff", backoff)
			r.sleep(backoff)
		}

		if err := r.backend.AddTokens(ctx, ev.UserID, ev.Day, ev.Tokens); err != nil {
			lastErr = err
			if errors.Is(err, ErrInvalidTokens) {
				break
			}
			continue
		}
		return nil
	}

	if r.dlq != nil {
		if err := r.dlq.Add(ctx, ev, lastErr); err != nil {
			r.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			r.logger.Warn("Usage event moved to DLQ", "user_id", ev.UserID, "day", ev.Day, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %w", queue.ErrMaxRetriesExceeded, lastErr)
}
