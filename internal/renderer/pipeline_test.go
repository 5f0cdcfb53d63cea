package renderer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/models"
)

func TestNewPipeline_RejectsUnknownVariants(t *testing.T) {
	_, err := NewPipeline(Options{Mode: "hologram"})
	require.Error(t, err)

	_, err = NewPipeline(Options{Merger: "entropy"})
	require.Error(t, err)
}

func TestPipeline_TextModeCumulativeStream(t *testing.T) {
	p, err := NewPipeline(Options{Mode: "text", Merger: "length", MaxLength: 1500})
	require.NoError(t, err)

	p.Enter()
	defer p.Exit()

	// Cumulative inputs the way an adapter streams them.
	steps := []string{
		"Hel",
		"Hello there",
		"Hello there\nhow are",
		"Hello there\nhow are you?\n",
	}
	ctx := context.Background()
	for _, cumulative := range steps {
		artifacts, err := p.Render(ctx, cumulative)
		require.NoError(t, err)
		// The plain text renderer holds everything until Result.
		require.Empty(t, artifacts)
	}

	artifacts, err := p.Result(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, models.ArtifactText, artifacts[0].Type)
	require.Equal(t, "Hello there\nhow are you?", artifacts[0].Text)
}

func TestPipeline_MixedModeSplitsTextAndImage(t *testing.T) {
	p, err := NewPipeline(Options{Mode: "mixed", Merger: "length", MaxLength: 4, ImageRender: fakeImageRender})
	require.NoError(t, err)

	p.Enter()
	ctx := context.Background()

	// Short cap forces the merger to hand segments through one by one.
	artifacts, err := p.Render(ctx, "plain words here\n")
	require.NoError(t, err)
	require.Empty(t, artifacts)

	artifacts, err = p.Render(ctx, "plain words here\n**rich** part\n")
	require.NoError(t, err)
	require.Empty(t, artifacts)

	// End of stream flushes the plain run as text and the rich run as
	// one image.
	artifacts, err = p.Result(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	require.Equal(t, models.ArtifactText, artifacts[0].Type)
	require.Equal(t, "plain words here", artifacts[0].Text)
	require.Equal(t, models.ArtifactImage, artifacts[1].Type)
	p.Exit()
}

func TestPipeline_ModeDefaultsToText(t *testing.T) {
	p, err := NewPipeline(Options{})
	require.NoError(t, err)
	require.Equal(t, "text", p.Mode())
}
