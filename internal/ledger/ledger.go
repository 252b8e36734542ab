// Package ledger tracks how many tokens each user consumed today.
// It is read before a system credential is leased and incremented by callers
// after a completed provider call. A new UTC day starts a new counter; there is
// no reset operation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"llm_keypool/internal/models"
)

var (
	// ErrInvalidTokens is returned for negative token counts
	ErrInvalidTokens = errors.New("token count must not be negative")

	// ErrUnavailable wraps failures of the ledger backend
	ErrUnavailable = errors.New("usage ledger unavailable")
)

// Ledger is the per (user, day) token counter
type Ledger interface {
	TokensUsedToday(ctx context.Context, userID string) (int64, error)
	RecordUsage(ctx context.Context, userID string, tokens int64) error
}

// BatchApplier applies tokens onto an explicit day. The async worker uses it so
// that events are counted against the day they were recorded, not the day they
// were drained.
type BatchApplier interface {
	AddTokens(ctx context.Context, userID, day string, tokens int64) error
}

func validateTokens(tokens int64) error {
	if tokens < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTokens, tokens)
	}
	return nil
}

// MemoryLedger keeps usage in process memory
type MemoryLedger struct {
	mu    sync.Mutex
	usage map[string]map[string]int64 // day -> user -> tokens
	now   func() time.Time
}

// NewMemoryLedger creates an isolated in-process ledger. now nil means time.Now.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{
		usage: make(map[string]map[string]int64),
		now:   now,
	}
}

// TokensUsedToday returns the user's tokens for the current day
func (l *MemoryLedger) TokensUsedToday(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage[models.DayKey(l.now())][userID], nil
}

// RecordUsage adds tokens to the current day
func (l *MemoryLedger) RecordUsage(ctx context.Context, userID string, tokens int64) error {
	return l.AddTokens(ctx, userID, models.DayKey(l.now()), tokens)
}

// AddTokens adds tokens to an explicit day
func (l *MemoryLedger) AddTokens(ctx context.Context, userID, day string, tokens int64) error {
	if err := validateTokens(tokens); err != nil {
		return err
	}
	if tokens == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	byUser, ok := l.usage[day]
	if !ok {
		byUser = make(map[string]int64)
		l.usage[day] = byUser
	}
	byUser[userID] += tokens
	return nil
}
