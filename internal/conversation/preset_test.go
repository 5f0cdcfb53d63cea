package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/llm"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestParsePreset_RoleTags(t *testing.T) {
	raw := "system: you are a cat\nuser: meow please\nassistant: meow\nuntagged line\n\n"
	script := parsePreset("cat", raw)

	require.Equal(t, "cat", script.Keyword)
	require.Len(t, script.Lines, 4)
	require.Equal(t, llm.RoleSystem, script.Lines[0].Role)
	require.Equal(t, "you are a cat", script.Lines[0].Text)
	require.Equal(t, llm.RoleUser, script.Lines[1].Role)
	require.Equal(t, llm.RoleAssistant, script.Lines[2].Role)

	// Untagged lines default to the system role.
	require.Equal(t, llm.RoleSystem, script.Lines[3].Role)
	require.Equal(t, "untagged line", script.Lines[3].Text)
}

func TestParsePreset_ChineseRoleTags(t *testing.T) {
	script := parsePreset("p", "系统: 你是一只猫\n用户: 喵\n助手: 喵喵")
	require.Equal(t, llm.RoleSystem, script.Lines[0].Role)
	require.Equal(t, llm.RoleUser, script.Lines[1].Role)
	require.Equal(t, llm.RoleAssistant, script.Lines[2].Role)
}

func writePreset(t *testing.T, dir, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0644))
}

func TestPresetStore_LoadAndCache(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "cat.txt", "system: you are a cat")

	store, err := NewPresetStore(config.PresetsConfig{
		Directory: dir,
		Keywords:  map[string]string{"猫娘": "cat.txt"},
	}, testLogger())
	require.NoError(t, err)
	defer store.Close()

	script, err := store.Load("猫娘")
	require.NoError(t, err)
	require.Len(t, script.Lines, 1)

	// Cached: the same parsed script comes back.
	again, err := store.Load("猫娘")
	require.NoError(t, err)
	require.Same(t, script, again)
}

func TestPresetStore_UnknownKeyword(t *testing.T) {
	store, err := NewPresetStore(config.PresetsConfig{
		Directory: t.TempDir(),
		Keywords:  map[string]string{},
	}, testLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("missing")
	require.ErrorIs(t, err, ErrPresetNotFound)
}

func TestPresetStore_MappedFileMissing(t *testing.T) {
	store, err := NewPresetStore(config.PresetsConfig{
		Directory: t.TempDir(),
		Keywords:  map[string]string{"ghost": "ghost.txt"},
	}, testLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load("ghost")
	require.ErrorIs(t, err, ErrPresetNotFound)
}

func TestPresetStore_InvalidateDropsCache(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "cat.txt", "system: old persona")

	store, err := NewPresetStore(config.PresetsConfig{
		Directory: dir,
		Keywords:  map[string]string{"cat": "cat.txt"},
	}, testLogger())
	require.NoError(t, err)
	defer store.Close()

	first, err := store.Load("cat")
	require.NoError(t, err)
	require.Equal(t, "old persona", first.Lines[0].Text)

	writePreset(t, dir, "cat.txt", "system: new persona")
	store.invalidate("cat.txt")

	second, err := store.Load("cat")
	require.NoError(t, err)
	require.Equal(t, "new persona", second.Lines[0].Text)
}
