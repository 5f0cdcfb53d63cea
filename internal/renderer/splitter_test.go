package renderer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func feed(t *testing.T, s *MultipleSegmentSplitter, cumulative string) []string {
	t.Helper()
	return s.Render(cumulative)
}

func TestSplitter_PlainLines(t *testing.T) {
	s := NewSplitter()
	s.Enter()

	require.Empty(t, feed(t, s, "hello"))
	require.Equal(t, []string{"hello world\n"}, feed(t, s, "hello world\n"))
	require.Empty(t, feed(t, s, "hello world\nsecond"))
	require.Equal(t, "second", s.Result())
}

func TestSplitter_HoldsIncompleteFence(t *testing.T) {
	s := NewSplitter()
	s.Enter()

	require.Empty(t, feed(t, s, "```go\nfmt.Println(1)\n"))
	got := feed(t, s, "```go\nfmt.Println(1)\n```")
	require.Equal(t, []string{"```go\nfmt.Println(1)\n```"}, got)
}

func TestSplitter_FenceThenText(t *testing.T) {
	s := NewSplitter()
	s.Enter()

	got := feed(t, s, "```\ncode\n```\nafter\n")
	require.Equal(t, []string{"```\ncode\n```\n", "after\n"}, got)
}

func TestSplitter_UnterminatedFenceFlushedAtEnd(t *testing.T) {
	s := NewSplitter()
	s.Enter()

	require.Empty(t, feed(t, s, "```python\nprint(1)\n"))
	require.Equal(t, "```python\nprint(1)\n", s.Result())
}

func TestSplitter_DisplayMath(t *testing.T) {
	s := NewSplitter()
	s.Enter()

	require.Empty(t, feed(t, s, "$$\nx = 1\n"))
	require.Equal(t, []string{"$$\nx = 1\n$$"}, feed(t, s, "$$\nx = 1\n$$"))
}

func TestSplitter_ListRunHeldUntilNonListLine(t *testing.T) {
	s := NewSplitter()
	s.Enter()

	require.Empty(t, feed(t, s, "* one\n* two\n"))
	got := feed(t, s, "* one\n* two\ndone\n")
	require.Equal(t, []string{"* one\n* two\ndone\n"}, got)
}

func TestSplitter_FencePriorityInsideList(t *testing.T) {
	s := NewSplitter()
	s.Enter()

	// A fence at the head of the uncommitted region wins even though
	// its body contains list-looking lines.
	got := feed(t, s, "```\n* not a list\n```\n")
	require.Equal(t, []string{"```\n* not a list\n```\n"}, got)
}

func TestSplitter_LosslessOverIncrementalFeeds(t *testing.T) {
	final := "intro line\n```go\na := 1\nb := 2\n```\n* item one\n* item two\nclosing words\ntail without newline"

	// Replay the reply as a cumulative stream, cutting at every rune
	// boundary, and verify nothing is lost or duplicated.
	s := NewSplitter()
	s.Enter()

	var out strings.Builder
	for i := 1; i <= len(final); i++ {
		for _, seg := range s.Render(final[:i]) {
			out.WriteString(seg)
		}
	}
	out.WriteString(s.Result())
	s.Exit()

	require.Equal(t, final, out.String())
}

func TestSplitter_EnterResetsState(t *testing.T) {
	s := NewSplitter()
	s.Enter()
	feed(t, s, "first cycle\n")
	s.Exit()

	s.Enter()
	require.Equal(t, []string{"fresh\n"}, feed(t, s, "fresh\n"))
	require.Equal(t, "", s.Result())
}
