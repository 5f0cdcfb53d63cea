package ratelimit

import (
	"context"
	"time"
)

// Scope labels match the operator tooling's on-disk vocabulary.
const (
	ScopeFriend = "好友"
	ScopeGroup  = "群组"
)

// Kind separates the chat quota from the drawing quota.
type Kind string

const (
	KindChat Kind = "chat"
	KindDraw Kind = "draw"
)

// LimitEntry is one per-scope rate record: messages per hour. A rate
// of 0 disables the scope entirely; a missing entry means unlimited.
type LimitEntry struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Rate int    `json:"rate"`
}

// UsageEntry is the companion counter. Count resets when the stored
// hour-of-day differs from the current one.
type UsageEntry struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Count int    `json:"count"`
	Time  int    `json:"time"`
	Day   int    `json:"day"`
}

// Store persists limits and usage counters.
type Store interface {
	// GetLimit returns (rate, found). Not found means unlimited.
	GetLimit(ctx context.Context, kind Kind, scope, id string) (int, bool, error)
	SetLimit(ctx context.Context, kind Kind, scope, id string, rate int) error
	// GetUsage returns the current counter, already rolled over if the
	// hour changed.
	GetUsage(ctx context.Context, kind Kind, scope, id string) (*UsageEntry, error)
	// IncrementUsage bumps the counter by one, rolling over first.
	IncrementUsage(ctx context.Context, kind Kind, scope, id string) error
}

// rollover resets the counter when the stored hour-of-day no longer
// matches the clock.
func rollover(u *UsageEntry, now time.Time) {
	if u.Time != now.Hour() || u.Day != now.Day() {
		u.Count = 0
		u.Time = now.Hour()
		u.Day = now.Day()
	}
}
