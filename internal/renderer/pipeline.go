package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/chatgate-bot/chatgate/internal/models"
)

// Pipeline chains splitter → merger → renderer for one ask cycle.
type Pipeline struct {
	splitter *MultipleSegmentSplitter
	merger   Merger
	renderer Renderer
	mode     string
}

// Options selects the pipeline variants.
type Options struct {
	// Mode is text, image or mixed.
	Mode string
	// Merger is time or length.
	Merger      string
	BufferDelay time.Duration
	MaxLength   int
	ImageRender ImageRenderFunc
}

// NewPipeline builds a pipeline from options.
func NewPipeline(opts Options) (*Pipeline, error) {
	var merger Merger
	switch opts.Merger {
	case "time":
		merger = NewTimeMerger(opts.BufferDelay)
	case "", "length":
		merger = NewLengthMerger(opts.MaxLength)
	default:
		return nil, fmt.Errorf("renderer: unknown merger %q", opts.Merger)
	}

	var final Renderer
	switch opts.Mode {
	case "", "text":
		final = NewPlainTextRenderer()
	case "image":
		final = NewMarkdownImageRenderer(opts.ImageRender)
	case "mixed":
		final = NewMixedContentRenderer(opts.ImageRender)
	default:
		return nil, fmt.Errorf("renderer: unknown mode %q", opts.Mode)
	}

	return &Pipeline{
		splitter: NewSplitter(),
		merger:   merger,
		renderer: final,
		mode:     orText(opts.Mode),
	}, nil
}

func orText(mode string) string {
	if mode == "" {
		return "text"
	}
	return mode
}

// Mode reports the active renderer mode.
func (p *Pipeline) Mode() string { return p.mode }

// Enter opens the lifecycle brackets of every stage.
func (p *Pipeline) Enter() {
	p.splitter.Enter()
	p.merger.Enter()
	p.renderer.Enter()
}

// Exit closes the brackets.
func (p *Pipeline) Exit() {
	p.splitter.Exit()
	p.merger.Exit()
	p.renderer.Exit()
}

// Render pushes one cumulative reply string through all stages and
// returns the artifacts that became deliverable now.
func (p *Pipeline) Render(ctx context.Context, cumulative string) ([]*models.Artifact, error) {
	var out []*models.Artifact
	for _, segment := range p.splitter.Render(cumulative) {
		for _, batch := range p.merger.Render(segment) {
			artifact, err := p.renderer.Render(ctx, batch)
			if err != nil {
				return out, err
			}
			if !artifact.IsEmpty() {
				out = append(out, artifact)
			}
		}
	}
	return out, nil
}

// Result flushes every stage at end of stream.
func (p *Pipeline) Result(ctx context.Context) ([]*models.Artifact, error) {
	var out []*models.Artifact

	tail := p.splitter.Result()
	batches := p.merger.Render(tail)
	if rest := p.merger.Result(); rest != "" {
		batches = append(batches, rest)
	}
	for _, batch := range batches {
		artifact, err := p.renderer.Render(ctx, batch)
		if err != nil {
			return out, err
		}
		if !artifact.IsEmpty() {
			out = append(out, artifact)
		}
	}

	artifact, err := p.renderer.Result(ctx)
	if err != nil {
		return out, err
	}
	if !artifact.IsEmpty() {
		out = append(out, artifact)
	}
	return out, nil
}
