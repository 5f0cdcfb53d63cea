package conversation

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chatgate-bot/chatgate/internal/llm"
	"github.com/chatgate-bot/chatgate/internal/models"
	"github.com/chatgate-bot/chatgate/internal/renderer"
)

// Context owns one live conversation with one backend: the adapter
// holding its history, the renderer mode and the active preset
// decoration. A session has at most one Context per backend type.
type Context struct {
	sessionID   string
	backendType string
	factory     llm.Factory
	removeOld   bool
	logger      *logrus.Entry

	mu         sync.Mutex
	adapter    llm.Adapter
	renderOpts renderer.Options
	decoration string
	preset     string
}

// NewContext constructs a context with a fresh adapter.
func NewContext(ctx context.Context, sessionID, backendType string, factory llm.Factory, opts renderer.Options, removeOld bool, logger *logrus.Entry) (*Context, error) {
	adapter, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	return &Context{
		sessionID:   sessionID,
		backendType: backendType,
		factory:     factory,
		removeOld:   removeOld,
		logger:      logger,
		adapter:     adapter,
		renderOpts:  opts,
	}, nil
}

// BackendType reports which backend this context talks to.
func (c *Context) BackendType() string { return c.backendType }

// Ask streams one prompt through the adapter and the renderer pipeline,
// delivering each finished artifact through send as it becomes ready.
func (c *Context) Ask(ctx context.Context, prompt string, send models.SendFunc) error {
	c.mu.Lock()
	adapter := c.adapter
	opts := c.renderOpts
	decoration := c.decoration
	c.mu.Unlock()

	pipeline, err := renderer.NewPipeline(opts)
	if err != nil {
		return err
	}

	events, err := adapter.Ask(ctx, prompt)
	if err != nil {
		return err
	}

	pipeline.Enter()
	defer pipeline.Exit()

	deliver := func(artifacts []*models.Artifact) error {
		for _, a := range artifacts {
			if err := send(ctx, decorate(a, decoration)); err != nil {
				return err
			}
		}
		return nil
	}

	for ev := range events {
		switch ev.Kind {
		case llm.EventDelta:
			artifacts, err := pipeline.Render(ctx, ev.Text)
			if err != nil {
				return err
			}
			if err := deliver(artifacts); err != nil {
				return err
			}
		case llm.EventImage:
			if err := send(ctx, models.ImageArtifact(ev.Image)); err != nil {
				return err
			}
		case llm.EventError:
			return ev.Err
		case llm.EventEnd:
			artifacts, err := pipeline.Result(ctx)
			if err != nil {
				return err
			}
			return deliver(artifacts)
		}
	}
	// Channel closed without a terminal event; flush what is buffered.
	artifacts, err := pipeline.Result(ctx)
	if err != nil {
		return err
	}
	return deliver(artifacts)
}

// decorate wraps a text artifact with the preset decoration format.
func decorate(a *models.Artifact, format string) *models.Artifact {
	if format == "" || a.Type != models.ArtifactText {
		return a
	}
	return models.TextArtifact(strings.ReplaceAll(format, "{reply}", a.Text))
}

// Rollback drops the last exchange.
func (c *Context) Rollback() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter.Rollback()
}

// SwitchModel changes the adapter's active model.
func (c *Context) SwitchModel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapter.SwitchModel(name)
}

// CurrentModel reports the adapter's active model.
func (c *Context) CurrentModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter.CurrentModel()
}

// SupportedModels lists what the adapter accepts.
func (c *Context) SupportedModels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter.SupportedModels()
}

// SwitchRenderer changes the final render mode for subsequent asks.
func (c *Context) SwitchRenderer(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderOpts.Mode = mode
}

// RendererMode reports the active render mode.
func (c *Context) RendererMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.renderOpts.Mode == "" {
		return "text"
	}
	return c.renderOpts.Mode
}

// Preset reports the active preset keyword, empty when none.
func (c *Context) Preset() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preset
}

// Reset discards the conversation and replaces the adapter with a
// fresh one. Remote conversation state is released best-effort.
func (c *Context) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetLocked(ctx, true)
}

func (c *Context) resetLocked(ctx context.Context, destroy bool) error {
	if destroy {
		c.adapter.OnDestroyed(ctx)
	}
	adapter, err := c.factory(ctx)
	if err != nil {
		return err
	}
	c.adapter = adapter
	c.decoration = ""
	c.preset = ""
	return nil
}

// LoadPreset resets the conversation exactly once and replays the
// script lines through the fresh adapter. The decoration applies to
// all subsequent text replies. The prior remote conversation is only
// destroyed when auto-removal is configured.
func (c *Context) LoadPreset(ctx context.Context, script *PresetScript, decoration string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.resetLocked(ctx, c.removeOld); err != nil {
		return err
	}
	for _, line := range script.Lines {
		if err := c.adapter.PresetAsk(ctx, line.Role, line.Text); err != nil {
			return err
		}
	}
	c.preset = script.Keyword
	c.decoration = decoration
	return nil
}

// Destroy releases the adapter's remote state.
func (c *Context) Destroy(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapter.OnDestroyed(ctx)
}
