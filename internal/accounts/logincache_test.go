package accounts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/config"
)

func TestFingerprint_StableAndDistinct(t *testing.T) {
	a := &config.APIKeyAccount{APIKey: "sk-one"}
	b := &config.APIKeyAccount{APIKey: "sk-two"}

	fa1, err := Fingerprint(a)
	require.NoError(t, err)
	fa2, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	require.Equal(t, fa1, fa2)
	require.NotEqual(t, fa1, fb)
	require.Len(t, fa1, 64)
}

func TestLoginCache_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewLoginCache(dir)
	require.NoError(t, err)

	_, found, err := c.Get("fp-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Put("fp-1", map[string]string{"session_token": "abc"}))

	got, found, err := c.Get("fp-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "abc", got["session_token"])
}

func TestLoginCache_PutReplaces(t *testing.T) {
	c, err := NewLoginCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Put("fp", map[string]string{"v": "1"}))
	require.NoError(t, c.Put("fp", map[string]string{"v": "2"}))

	got, found, err := c.Get("fp")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", got["v"])
}

func TestLoginCache_FileShape(t *testing.T) {
	dir := t.TempDir()
	c, err := NewLoginCache(dir)
	require.NoError(t, err)
	require.NoError(t, c.Put("deadbeef", map[string]string{"k": "v"}))

	raw, err := os.ReadFile(filepath.Join(dir, "login_caches.json"))
	require.NoError(t, err)

	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "deadbeef", entries[0]["account"])
	require.Contains(t, entries[0], "cache")
}

func TestLoginCache_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	c1, err := NewLoginCache(dir)
	require.NoError(t, err)
	require.NoError(t, c1.Put("fp", map[string]string{"token": "persisted"}))

	c2, err := NewLoginCache(dir)
	require.NoError(t, err)
	got, found, err := c2.Get("fp")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "persisted", got["token"])
}
