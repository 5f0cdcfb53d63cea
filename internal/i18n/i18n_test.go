package i18n

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/config"
)

func TestLocalizer_BuiltinDefaults(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "zh"})
	require.NoError(t, err)

	require.Equal(t, "会话已重置。", l.Get("zh", MsgResetDone, nil))

	// Unknown languages fall back to the default localizer.
	require.Equal(t, "会话已重置。", l.Get("fr", MsgResetDone, nil))
}

func TestLocalizer_UnknownMessageFallsBackToID(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "zh"})
	require.NoError(t, err)
	require.Equal(t, "no_such_message", l.Get("zh", "no_such_message", nil))
}

func TestLocalizer_LanguageFileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `{"reset_done": "Conversation reset."}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.json"), []byte(content), 0644))

	l, err := NewLocalizer(&config.I18nConfig{
		DefaultLanguage: "zh",
		Languages:       []string{"en"},
		Directory:       dir,
	})
	require.NoError(t, err)
	require.Equal(t, "Conversation reset.", l.Get("en", MsgResetDone, nil))
}

func TestFillTexts_OnlyUnsetFieldsChange(t *testing.T) {
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "zh"})
	require.NoError(t, err)

	texts := config.TextConfig{Ping: "custom pong"}
	FillTexts(&texts, l)

	require.Equal(t, "custom pong", texts.Ping)
	require.Equal(t, "会话已重置。", texts.ResetDone)
	require.NotEmpty(t, texts.ErrorFormat)
	require.NotEmpty(t, texts.Moderated)
}
