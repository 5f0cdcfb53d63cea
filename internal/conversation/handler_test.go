package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/accounts"
	"github.com/chatgate-bot/chatgate/internal/llm"
)

func testDeps(factories map[string]llm.Factory) Deps {
	return Deps{
		Factories:      factories,
		DefaultBackend: "alpha",
		RenderOpts:     textOpts(),
		Logger:         testLogger(),
	}
}

func TestHandler_CurrentCreatesDefaultBackend(t *testing.T) {
	alpha := &fakeFactory{}
	r := NewRegistry(testDeps(map[string]llm.Factory{"alpha": alpha.factory}))

	c, err := r.Get("friend-1").Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alpha", c.BackendType())
	require.Equal(t, 1, alpha.count())

	// Second call reuses the same context.
	again, err := r.Get("friend-1").Current(context.Background())
	require.NoError(t, err)
	require.Same(t, c, again)
	require.Equal(t, 1, alpha.count())
}

func TestHandler_SwitchKeepsPerBackendContexts(t *testing.T) {
	alpha, beta := &fakeFactory{}, &fakeFactory{}
	r := NewRegistry(testDeps(map[string]llm.Factory{
		"alpha": alpha.factory,
		"beta":  beta.factory,
	}))
	h := r.Get("friend-1")

	a1, err := h.Current(context.Background())
	require.NoError(t, err)

	b, err := h.Switch(context.Background(), "beta")
	require.NoError(t, err)
	require.Equal(t, "beta", b.BackendType())

	// Switching back resumes the original context, no new adapter.
	a2, err := h.Switch(context.Background(), "alpha")
	require.NoError(t, err)
	require.Same(t, a1, a2)
	require.Equal(t, 1, alpha.count())
}

func TestHandler_SwitchUnknownBackend(t *testing.T) {
	r := NewRegistry(testDeps(map[string]llm.Factory{"alpha": (&fakeFactory{}).factory}))
	_, err := r.Get("friend-1").Switch(context.Background(), "nonsense")
	require.ErrorIs(t, err, accounts.ErrBotTypeNotFound)
}

func TestHandler_UseDoesNotChangeCurrent(t *testing.T) {
	alpha, beta := &fakeFactory{}, &fakeFactory{}
	r := NewRegistry(testDeps(map[string]llm.Factory{
		"alpha": alpha.factory,
		"beta":  beta.factory,
	}))
	h := r.Get("friend-1")

	cur, err := h.Current(context.Background())
	require.NoError(t, err)

	oneShot, err := h.Use(context.Background(), "beta")
	require.NoError(t, err)
	require.Equal(t, "beta", oneShot.BackendType())

	after, err := h.Current(context.Background())
	require.NoError(t, err)
	require.Same(t, cur, after)
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	alpha := &fakeFactory{}
	r := NewRegistry(testDeps(map[string]llm.Factory{"alpha": alpha.factory}))

	c1, err := r.Get("friend-1").Current(context.Background())
	require.NoError(t, err)
	c2, err := r.Get("friend-2").Current(context.Background())
	require.NoError(t, err)

	require.NotSame(t, c1, c2)
	require.Equal(t, 2, r.Len())
}

func TestRegistry_RemoveDestroysContexts(t *testing.T) {
	alpha := &fakeFactory{}
	r := NewRegistry(testDeps(map[string]llm.Factory{"alpha": alpha.factory}))

	_, err := r.Get("friend-1").Current(context.Background())
	require.NoError(t, err)

	r.Remove(context.Background(), "friend-1")
	require.Equal(t, 0, r.Len())
	require.True(t, alpha.last().destroyed)
}
