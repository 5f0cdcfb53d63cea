package ratelimit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*FileStore, string, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	s, err := NewFileStore(dir, log)
	require.NoError(t, err)

	current := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	return s, dir, &current
}

func TestFileStore_LimitRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetLimit(ctx, KindChat, ScopeGroup, "12345")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.SetLimit(ctx, KindChat, ScopeGroup, "12345", 10))

	rate, found, err := s.GetLimit(ctx, KindChat, ScopeGroup, "12345")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 10, rate)
}

func TestFileStore_UsageIncrementsWithinHour(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.IncrementUsage(ctx, KindChat, ScopeFriend, "42"))
	}

	u, err := s.GetUsage(ctx, KindChat, ScopeFriend, "42")
	require.NoError(t, err)
	require.Equal(t, 3, u.Count)
	require.Equal(t, 14, u.Time)
	require.Equal(t, 10, u.Day)
}

func TestFileStore_UsageRollsOverOnHourChange(t *testing.T) {
	s, _, current := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementUsage(ctx, KindChat, ScopeFriend, "42"))
	require.NoError(t, s.IncrementUsage(ctx, KindChat, ScopeFriend, "42"))

	*current = current.Add(time.Hour)

	u, err := s.GetUsage(ctx, KindChat, ScopeFriend, "42")
	require.NoError(t, err)
	require.Equal(t, 0, u.Count)

	require.NoError(t, s.IncrementUsage(ctx, KindChat, ScopeFriend, "42"))
	u, err = s.GetUsage(ctx, KindChat, ScopeFriend, "42")
	require.NoError(t, err)
	require.Equal(t, 1, u.Count)
	require.Equal(t, 15, u.Time)
}

func TestFileStore_UsageRollsOverOnDayChange(t *testing.T) {
	s, _, current := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementUsage(ctx, KindChat, ScopeGroup, "g"))

	// Same hour of day, different day.
	*current = current.AddDate(0, 0, 1)

	u, err := s.GetUsage(ctx, KindChat, ScopeGroup, "g")
	require.NoError(t, err)
	require.Equal(t, 0, u.Count)
}

func TestFileStore_KindsAreSeparate(t *testing.T) {
	s, dir, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementUsage(ctx, KindChat, ScopeFriend, "u"))
	require.NoError(t, s.IncrementUsage(ctx, KindDraw, ScopeFriend, "u"))
	require.NoError(t, s.IncrementUsage(ctx, KindDraw, ScopeFriend, "u"))

	chat, err := s.GetUsage(ctx, KindChat, ScopeFriend, "u")
	require.NoError(t, err)
	draw, err := s.GetUsage(ctx, KindDraw, ScopeFriend, "u")
	require.NoError(t, err)
	require.Equal(t, 1, chat.Count)
	require.Equal(t, 2, draw.Count)

	_, err = os.Stat(filepath.Join(dir, "rate_usage.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "rate_usage_draw.json"))
	require.NoError(t, err)
}

func TestFileStore_OnDiskShape(t *testing.T) {
	s, dir, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetLimit(ctx, KindChat, ScopeGroup, "12345", 10))
	require.NoError(t, s.IncrementUsage(ctx, KindChat, ScopeGroup, "12345"))

	raw, err := os.ReadFile(filepath.Join(dir, "rate_limit.json"))
	require.NoError(t, err)
	var limits []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &limits))
	require.Equal(t, "群组", limits[0]["type"])
	require.Equal(t, "12345", limits[0]["id"])
	require.EqualValues(t, 10, limits[0]["rate"])

	raw, err = os.ReadFile(filepath.Join(dir, "rate_usage.json"))
	require.NoError(t, err)
	var usage []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &usage))
	require.Equal(t, "群组", usage[0]["type"])
	require.EqualValues(t, 1, usage[0]["count"])
	require.EqualValues(t, 14, usage[0]["time"])
	require.EqualValues(t, 10, usage[0]["day"])
}

func TestRollover_ResetsOnlyOnClockChange(t *testing.T) {
	now := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	u := UsageEntry{Count: 5, Time: 14, Day: 10}
	rollover(&u, now)
	require.Equal(t, 5, u.Count)

	u = UsageEntry{Count: 5, Time: 13, Day: 10}
	rollover(&u, now)
	require.Equal(t, 0, u.Count)
	require.Equal(t, 14, u.Time)
	require.Equal(t, 10, u.Day)
}
