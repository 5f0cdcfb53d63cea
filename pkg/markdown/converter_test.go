package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToTelegramHTML_BasicFormatting(t *testing.T) {
	require.Equal(t, "<b>hi</b>", ToTelegramHTML("**hi**"))
	require.Equal(t, "<i>soft</i>", ToTelegramHTML("*soft*"))
	require.Equal(t, "use <code>x</code> here", ToTelegramHTML("use `x` here"))
}

func TestToTelegramHTML_Empty(t *testing.T) {
	require.Equal(t, "", ToTelegramHTML(""))
}

func TestToTelegramHTML_UnsupportedTagsStripped(t *testing.T) {
	// Headings have no Telegram equivalent; only the text survives.
	out := ToTelegramHTML("# Title")
	require.Equal(t, "Title", out)
}

func TestToTelegramHTML_ListsBecomeBullets(t *testing.T) {
	out := ToTelegramHTML("- first\n- second")
	require.Contains(t, out, "• first")
	require.Contains(t, out, "• second")
	require.NotContains(t, out, "<li>")
	require.NotContains(t, out, "<ul>")
}

func TestToHTMLDocument_WrapsBody(t *testing.T) {
	doc := string(ToHTMLDocument("**hi**"))
	require.True(t, strings.HasPrefix(doc, "<!DOCTYPE html>"))
	require.True(t, strings.HasSuffix(doc, "</body></html>"))
	require.Contains(t, doc, "<strong>hi</strong>")
}
