package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"llm_keypool/internal/ledger"
	"llm_keypool/internal/models"
)

// UsageRepository is the durable usage ledger backed by the daily_usage table
type UsageRepository struct {
	db  *DB
	now func() time.Time
}

// NewUsageRepository creates a new usage repository. now nil means time.Now.
func NewUsageRepository(db *DB, now func() time.Time) *UsageRepository {
	if now == nil {
		now = time.Now
	}
	return &UsageRepository{db: db, now: now}
}

// TokensUsedToday returns the user's tokens for the current UTC day
func (r *UsageRepository) TokensUsedToday(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(tokens_used), 0)
		FROM daily_usage
		WHERE user_id = $1 AND day = $2::date
	`

	var used int64
	if err := r.db.conn.GetContext(ctx, &used, query, userID, models.DayKey(r.now())); err != nil {
		return 0, fmt.Errorf("%w: failed to get daily usage: %w", ledger.ErrUnavailable, err)
	}

	return used, nil
}

// RecordUsage adds tokens to the current UTC day
func (r *UsageRepository) RecordUsage(ctx context.Context, userID string, tokens int64) error {
	return r.AddTokens(ctx, userID, models.DayKey(r.now()), tokens)
}

// AddTokens upserts the (user, day) row, incrementing its total
func (r *UsageRepository) AddTokens(ctx context.Context, userID, day string, tokens int64) error {
	if tokens < 0 {
		return fmt.Errorf("%w: %d", ledger.ErrInvalidTokens, tokens)
	}
	if tokens == 0 {
		return nil
	}

	query := `
		INSERT INTO daily_usage (user_id, day, tokens_used, updated_at)
		VALUES ($1, $2::date, $3, NOW())
		ON CONFLICT (user_id, day)
		DO UPDATE SET tokens_used = daily_usage.tokens_used + EXCLUDED.tokens_used,
		              updated_at = NOW()
	`

	if _, err := r.db.conn.ExecContext(ctx, query, userID, day, tokens); err != nil {
		return fmt.Errorf("%w: failed to record usage: %w", ledger.ErrUnavailable, err)
	}

	return nil
}

// GetDailyUsage returns one (user, day) row
func (r *UsageRepository) GetDailyUsage(ctx context.Context, userID, day string) (*models.DailyUsage, error) {
	query := `
		SELECT user_id, day::text AS day, tokens_used, updated_at
		FROM daily_usage
		WHERE user_id = $1 AND day = $2::date
	`

	var usage models.DailyUsage
	err := r.db.conn.GetContext(ctx, &usage, query, userID, day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUsageNotFound
		}
		return nil, fmt.Errorf("failed to get daily usage: %w", err)
	}

	return &usage, nil
}

// ListDailyUsage returns every user's total for a day, heaviest first
func (r *UsageRepository) ListDailyUsage(ctx context.Context, day string) ([]models.DailyUsage, error) {
	query := `
		SELECT user_id, day::text AS day, tokens_used, updated_at
		FROM daily_usage
		WHERE day = $1::date
		ORDER BY tokens_used DESC, user_id
	`

	var rows []models.DailyUsage
	if err := r.db.conn.SelectContext(ctx, &rows, query, day); err != nil {
		return nil, fmt.Errorf("failed to list daily usage: %w", err)
	}

	return rows, nil
}

// PurgeBefore deletes rows older than the given day and returns how many were removed
func (r *UsageRepository) PurgeBefore(ctx context.Context, day string) (int64, error) {
	result, err := r.db.conn.ExecContext(ctx, `DELETE FROM daily_usage WHERE day < $1::date`, day)
	if err != nil {
		return 0, fmt.Errorf("failed to purge daily usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
