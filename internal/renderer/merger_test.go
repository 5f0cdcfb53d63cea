package renderer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLengthMerger_FlushesBeforeOverflow(t *testing.T) {
	m := NewLengthMerger(10)
	m.Enter()

	require.Empty(t, m.Render("123456"))

	// Appending would exceed the cap, so the prior buffer flushes and
	// the new segment starts fresh.
	got := m.Render("7890123")
	require.Equal(t, []string{"123456"}, got)

	require.Equal(t, "7890123", m.Result())
}

func TestLengthMerger_OversizedSegmentPassesThrough(t *testing.T) {
	m := NewLengthMerger(5)
	m.Enter()

	require.Empty(t, m.Render("this segment alone is over the cap"))
	require.Equal(t, "this segment alone is over the cap", m.Result())
}

func TestLengthMerger_DefaultCap(t *testing.T) {
	m := NewLengthMerger(0)
	require.Equal(t, 1500, m.maxLength)
}

func TestTimeMerger_BuffersWithinDelay(t *testing.T) {
	current := time.Unix(0, 0)
	m := NewTimeMerger(10 * time.Second)
	m.now = func() time.Time { return current }
	m.Enter()

	require.Empty(t, m.Render("a\n"))
	current = current.Add(3 * time.Second)
	require.Empty(t, m.Render("b\n"))

	current = current.Add(8 * time.Second)
	require.Equal(t, []string{"a\nb\nc\n"}, m.Render("c\n"))

	require.Empty(t, m.Render("d\n"))
	require.Equal(t, "d\n", m.Result())
}

func TestTimeMerger_EmptyBufferNeverFlushes(t *testing.T) {
	current := time.Unix(0, 0)
	m := NewTimeMerger(time.Second)
	m.now = func() time.Time { return current }
	m.Enter()

	current = current.Add(time.Minute)
	require.Empty(t, m.Render(""))
	require.Equal(t, "", m.Result())
}
