package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenWindow_AppendAndSnapshot(t *testing.T) {
	w := NewTokenWindow(4096, 500)
	w.Append(RoleUser, "hello")
	w.Append(RoleAssistant, "hi there")

	turns := w.Snapshot()
	require.Len(t, turns, 2)
	require.Equal(t, RoleUser, turns[0].Role)
	require.Equal(t, RoleAssistant, turns[1].Role)
}

func TestTokenWindow_RollbackRemovesPair(t *testing.T) {
	w := NewTokenWindow(4096, 500)
	w.Append(RoleUser, "q1")
	w.Append(RoleAssistant, "a1")
	w.Append(RoleUser, "q2")
	w.Append(RoleAssistant, "a2")

	require.True(t, w.Rollback())
	turns := w.Snapshot()
	require.Len(t, turns, 2)
	require.Equal(t, "a1", turns[1].Content)
}

func TestTokenWindow_RollbackOnEmpty(t *testing.T) {
	w := NewTokenWindow(4096, 500)
	require.False(t, w.Rollback())

	w.Append(RoleUser, "only one")
	require.False(t, w.Rollback())
	require.Equal(t, 1, w.Len())
}

func TestTokenWindow_RollbackNeverTouchesPreset(t *testing.T) {
	w := NewTokenWindow(4096, 500)
	w.Append(RoleSystem, "you are a pirate")
	w.Append(RoleUser, "q")

	// Only one evictable turn above the preset.
	require.False(t, w.Rollback())

	w.Append(RoleAssistant, "a")
	require.True(t, w.Rollback())

	turns := w.Snapshot()
	require.Len(t, turns, 1)
	require.Equal(t, RoleSystem, turns[0].Role)
}

func TestTokenWindow_EvictsOldestButKeepsPreset(t *testing.T) {
	// Tiny budget so a few turns force eviction.
	w := NewTokenWindow(100, 80)
	w.Append(RoleSystem, "preset line")
	filler := strings.Repeat("word ", 40)
	w.Append(RoleUser, filler)
	w.Append(RoleAssistant, filler)
	w.Append(RoleUser, "latest question")

	turns := w.Snapshot()
	require.Equal(t, RoleSystem, turns[0].Role)
	require.Equal(t, "preset line", turns[0].Content)
	require.Equal(t, "latest question", turns[len(turns)-1].Content)
	require.Less(t, len(turns), 4)
}

func TestTokenWindow_Reset(t *testing.T) {
	w := NewTokenWindow(4096, 500)
	w.Append(RoleSystem, "preset")
	w.Append(RoleUser, "q")
	w.Reset()

	require.Equal(t, 0, w.Len())

	// After a reset the old preset marker must not protect anything.
	w.Append(RoleUser, "q")
	w.Append(RoleAssistant, "a")
	require.True(t, w.Rollback())
	require.Equal(t, 0, w.Len())
}

func TestEstimateTokens_CJKCostsMore(t *testing.T) {
	ascii := estimateTokens("hello world this is plain text")
	cjk := estimateTokens("你好世界这是中文文本内容测试")
	require.Greater(t, cjk, ascii)
}
