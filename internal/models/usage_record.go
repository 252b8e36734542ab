package models

import (
	"time"
)

// DayLayout is the format of the ledger's day key
const DayLayout = "2006-01-02"

// DayKey returns the UTC day a usage instant is counted against
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// UsageEvent is one completed call's token consumption for a user
type UsageEvent struct {
	UserID     string    `json:"user_id"`
	Tokens     int64     `json:"tokens"`
	Day        string    `json:"day"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewUsageEvent stamps an event with the day it belongs to
func NewUsageEvent(userID string, tokens int64, now time.Time) UsageEvent {
	return UsageEvent{
		UserID:     userID,
		Tokens:     tokens,
		Day:        DayKey(now),
		RecordedAt: now,
	}
}

// DailyUsage is a row of the daily_usage table
type DailyUsage struct {
	UserID     string    `db:"user_id"`
	Day        string    `db:"day"`
	TokensUsed int64     `db:"tokens_used"`
	UpdatedAt  time.Time `db:"updated_at"`
}
