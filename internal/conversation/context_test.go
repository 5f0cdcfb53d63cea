package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/llm"
	"github.com/chatgate-bot/chatgate/internal/models"
	"github.com/chatgate-bot/chatgate/internal/renderer"
)

// fakeAdapter replays a scripted cumulative stream.
type fakeAdapter struct {
	mu        sync.Mutex
	script    []llm.Event
	model     string
	presets   []llm.Turn
	asks      []string
	destroyed bool
	rolled    bool
}

func newFakeAdapter(cumulatives ...string) *fakeAdapter {
	var script []llm.Event
	for _, c := range cumulatives {
		script = append(script, llm.Event{Kind: llm.EventDelta, Text: c})
	}
	script = append(script, llm.Event{Kind: llm.EventEnd})
	return &fakeAdapter{script: script, model: "fake-1"}
}

func (f *fakeAdapter) Ask(ctx context.Context, prompt string) (<-chan llm.Event, error) {
	f.mu.Lock()
	f.asks = append(f.asks, prompt)
	script := f.script
	f.mu.Unlock()

	ch := make(chan llm.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) Rollback() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolled = true
	return true, nil
}

func (f *fakeAdapter) SwitchModel(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = name
}

func (f *fakeAdapter) CurrentModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model
}

func (f *fakeAdapter) SupportedModels() []string { return []string{"fake-1", "fake-2"} }

func (f *fakeAdapter) PresetAsk(ctx context.Context, role llm.Role, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presets = append(f.presets, llm.Turn{Role: role, Content: prompt})
	return nil
}

func (f *fakeAdapter) OnDestroyed(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

// fakeFactory hands out fresh adapters and remembers them.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeAdapter
	stream  []string
}

func (f *fakeFactory) factory(ctx context.Context) (llm.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := newFakeAdapter(f.stream...)
	f.created = append(f.created, a)
	return a, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) last() *fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func textOpts() renderer.Options {
	return renderer.Options{Mode: "text", Merger: "length", MaxLength: 1500}
}

func newTestContext(t *testing.T, f *fakeFactory, removeOld bool) *Context {
	t.Helper()
	entry := logrus.NewEntry(testLogger())
	c, err := NewContext(context.Background(), "friend-1", "fake", f.factory, textOpts(), removeOld, entry)
	require.NoError(t, err)
	return c
}

func collectSends(mu *sync.Mutex, out *[]*models.Artifact) models.SendFunc {
	return func(ctx context.Context, a *models.Artifact) error {
		mu.Lock()
		defer mu.Unlock()
		*out = append(*out, a)
		return nil
	}
}

func TestContext_AskDeliversFinalText(t *testing.T) {
	f := &fakeFactory{stream: []string{"Hel", "Hello", "Hello there\n"}}
	c := newTestContext(t, f, false)

	var mu sync.Mutex
	var sent []*models.Artifact
	require.NoError(t, c.Ask(context.Background(), "hi", collectSends(&mu, &sent)))

	require.Len(t, sent, 1)
	require.Equal(t, models.ArtifactText, sent[0].Type)
	require.Equal(t, "Hello there", sent[0].Text)
	require.Equal(t, []string{"hi"}, f.last().asks)
}

func TestContext_AskStreamError(t *testing.T) {
	f := &fakeFactory{}
	c := newTestContext(t, f, false)

	f.last().script = []llm.Event{
		{Kind: llm.EventDelta, Text: "partial"},
		{Kind: llm.EventError, Err: llm.ErrAuthenticationFailed},
	}

	var mu sync.Mutex
	var sent []*models.Artifact
	err := c.Ask(context.Background(), "hi", collectSends(&mu, &sent))
	require.ErrorIs(t, err, llm.ErrAuthenticationFailed)
}

func TestContext_ResetReplacesAdapter(t *testing.T) {
	f := &fakeFactory{}
	c := newTestContext(t, f, true)
	first := f.last()

	require.NoError(t, c.Reset(context.Background()))
	require.Equal(t, 2, f.count())
	require.True(t, first.destroyed)
}

func TestContext_ResetAlwaysDestroysAdapter(t *testing.T) {
	// Reset releases remote state regardless of the auto-removal flag.
	f := &fakeFactory{}
	c := newTestContext(t, f, false)
	first := f.last()

	require.NoError(t, c.Reset(context.Background()))
	require.True(t, first.destroyed)
}

func TestContext_LoadPresetHonorsRemoveOld(t *testing.T) {
	script := &PresetScript{Keyword: "cat", Lines: nil}

	f := &fakeFactory{}
	c := newTestContext(t, f, false)
	kept := f.last()
	require.NoError(t, c.LoadPreset(context.Background(), script, ""))
	require.False(t, kept.destroyed)

	g := &fakeFactory{}
	c = newTestContext(t, g, true)
	dropped := g.last()
	require.NoError(t, c.LoadPreset(context.Background(), script, ""))
	require.True(t, dropped.destroyed)
}

func TestContext_LoadPresetResetsOnceAndReplays(t *testing.T) {
	f := &fakeFactory{}
	c := newTestContext(t, f, false)

	script := &PresetScript{
		Keyword: "cat",
		Lines: []PresetLine{
			{Role: llm.RoleSystem, Text: "you are a cat"},
			{Role: llm.RoleUser, Text: "meow?"},
		},
	}
	require.NoError(t, c.LoadPreset(context.Background(), script, "喵~ {reply}"))

	// Exactly one fresh adapter was created by the single reset.
	require.Equal(t, 2, f.count())
	fresh := f.last()
	require.Equal(t, []llm.Turn{
		{Role: llm.RoleSystem, Content: "you are a cat"},
		{Role: llm.RoleUser, Content: "meow?"},
	}, fresh.presets)
	require.Equal(t, "cat", c.Preset())
}

func TestContext_PresetDecorationWrapsReplies(t *testing.T) {
	f := &fakeFactory{stream: []string{"purr\n"}}
	c := newTestContext(t, f, false)

	script := &PresetScript{Keyword: "cat", Lines: []PresetLine{{Role: llm.RoleSystem, Text: "cat"}}}
	require.NoError(t, c.LoadPreset(context.Background(), script, "喵~ {reply}"))

	var mu sync.Mutex
	var sent []*models.Artifact
	require.NoError(t, c.Ask(context.Background(), "speak", collectSends(&mu, &sent)))

	require.Len(t, sent, 1)
	require.Equal(t, "喵~ purr", sent[0].Text)
}

func TestContext_ResetClearsDecoration(t *testing.T) {
	f := &fakeFactory{stream: []string{"plain\n"}}
	c := newTestContext(t, f, false)

	script := &PresetScript{Keyword: "cat", Lines: nil}
	require.NoError(t, c.LoadPreset(context.Background(), script, "wrapped {reply}"))
	require.NoError(t, c.Reset(context.Background()))
	require.Equal(t, "", c.Preset())

	var mu sync.Mutex
	var sent []*models.Artifact
	require.NoError(t, c.Ask(context.Background(), "hi", collectSends(&mu, &sent)))
	require.Equal(t, "plain", sent[0].Text)
}

func TestContext_SwitchRenderer(t *testing.T) {
	f := &fakeFactory{}
	c := newTestContext(t, f, false)

	require.Equal(t, "text", c.RendererMode())
	c.SwitchRenderer("mixed")
	require.Equal(t, "mixed", c.RendererMode())
}

func TestContext_ModelDelegation(t *testing.T) {
	f := &fakeFactory{}
	c := newTestContext(t, f, false)

	require.Equal(t, "fake-1", c.CurrentModel())
	c.SwitchModel("fake-2")
	require.Equal(t, "fake-2", c.CurrentModel())
	require.Contains(t, c.SupportedModels(), "fake-2")
}
