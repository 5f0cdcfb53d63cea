package renderer

import (
	"context"
	"regexp"
	"strings"

	"github.com/chatgate-bot/chatgate/internal/models"
)

// ImageRenderFunc turns markdown into one bitmap. Supplied by the
// markdown-to-image collaborator.
type ImageRenderFunc func(ctx context.Context, markdown string) ([]byte, error)

// Renderer is the final pipeline stage: it turns merged text batches
// into deliverable artifacts.
type Renderer interface {
	Enter()
	Exit()
	Render(ctx context.Context, batch string) (*models.Artifact, error)
	Result(ctx context.Context) (*models.Artifact, error)
}

// PlainTextRenderer concatenates every batch into one text artifact at
// end of stream.
type PlainTextRenderer struct {
	buf strings.Builder
}

func NewPlainTextRenderer() *PlainTextRenderer { return &PlainTextRenderer{} }

func (r *PlainTextRenderer) Enter() { r.buf.Reset() }

func (r *PlainTextRenderer) Exit() {}

func (r *PlainTextRenderer) Render(ctx context.Context, batch string) (*models.Artifact, error) {
	r.buf.WriteString(batch)
	return nil, nil
}

func (r *PlainTextRenderer) Result(ctx context.Context) (*models.Artifact, error) {
	text := strings.TrimSpace(r.buf.String())
	r.buf.Reset()
	if text == "" {
		return nil, nil
	}
	return models.TextArtifact(text), nil
}

// MarkdownImageRenderer renders the concatenated reply to a single
// bitmap at end of stream.
type MarkdownImageRenderer struct {
	render ImageRenderFunc
	buf    strings.Builder
}

func NewMarkdownImageRenderer(render ImageRenderFunc) *MarkdownImageRenderer {
	return &MarkdownImageRenderer{render: render}
}

func (r *MarkdownImageRenderer) Enter() { r.buf.Reset() }

func (r *MarkdownImageRenderer) Exit() {}

func (r *MarkdownImageRenderer) Render(ctx context.Context, batch string) (*models.Artifact, error) {
	r.buf.WriteString(batch)
	return nil, nil
}

func (r *MarkdownImageRenderer) Result(ctx context.Context) (*models.Artifact, error) {
	text := r.buf.String()
	r.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if r.render == nil {
		return models.TextArtifact(strings.TrimSpace(text)), nil
	}
	img, err := r.render(ctx, text)
	if err != nil {
		return nil, err
	}
	return models.ImageArtifact(img), nil
}

var (
	richPairRe = regexp.MustCompile("(\\*\\*|__|[*_\\[\\](){}#+\\-`~>!])\\s*\\w*\\s*(\\*\\*|__|[*_\\[\\](){}#+\\-`~>!])")
	richMathRe = regexp.MustCompile(`\$[^$\n]+\$`)
)

// IsRichText reports whether a segment carries Markdown or LaTeX
// syntax worth rendering as an image.
func IsRichText(s string) bool {
	return richPairRe.MatchString(s) || richMathRe.MatchString(s)
}

// MixedContentRenderer interleaves text and image artifacts: runs of
// plain batches become text, runs of rich batches become one image.
type MixedContentRenderer struct {
	render ImageRenderFunc

	pending strings.Builder
	richRun bool
	started bool
}

func NewMixedContentRenderer(render ImageRenderFunc) *MixedContentRenderer {
	return &MixedContentRenderer{render: render}
}

func (r *MixedContentRenderer) Enter() {
	r.pending.Reset()
	r.richRun = false
	r.started = false
}

func (r *MixedContentRenderer) Exit() {}

func (r *MixedContentRenderer) Render(ctx context.Context, batch string) (*models.Artifact, error) {
	if strings.TrimSpace(batch) == "" {
		return nil, nil
	}
	rich := IsRichText(batch)
	if !r.started {
		r.started = true
		r.richRun = rich
		r.pending.WriteString(batch)
		return nil, nil
	}
	if rich == r.richRun {
		r.pending.WriteString(batch)
		return nil, nil
	}
	// Classification flipped: flush the finished run.
	artifact, err := r.flush(ctx)
	if err != nil {
		return nil, err
	}
	r.richRun = rich
	r.pending.WriteString(batch)
	return artifact, nil
}

func (r *MixedContentRenderer) Result(ctx context.Context) (*models.Artifact, error) {
	if !r.started {
		return nil, nil
	}
	return r.flush(ctx)
}

func (r *MixedContentRenderer) flush(ctx context.Context) (*models.Artifact, error) {
	run := r.pending.String()
	r.pending.Reset()
	if strings.TrimSpace(run) == "" {
		return nil, nil
	}
	if r.richRun && r.render != nil {
		img, err := r.render(ctx, run)
		if err != nil {
			return nil, err
		}
		return models.ImageArtifact(img), nil
	}
	return models.TextArtifact(strings.TrimSpace(run)), nil
}
