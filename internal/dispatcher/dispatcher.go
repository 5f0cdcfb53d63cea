// Package dispatcher routes inbound IM requests: command matching,
// conversation selection, the middleware chain and the translation of
// taxonomy errors into user-facing replies.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/chatgate-bot/chatgate/internal/accounts"
	"github.com/chatgate-bot/chatgate/internal/collab"
	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/conversation"
	"github.com/chatgate-bot/chatgate/internal/llm"
	"github.com/chatgate-bot/chatgate/internal/middleware"
	"github.com/chatgate-bot/chatgate/internal/models"
)

// triggers holds the compiled command surface.
type triggers struct {
	reset         *regexp.Regexp
	rollback      *regexp.Regexp
	ping          *regexp.Regexp
	mixedMode     *regexp.Regexp
	imageMode     *regexp.Regexp
	textMode      *regexp.Regexp
	switchModel   *regexp.Regexp
	switchBackend *regexp.Regexp
	loadPreset    *regexp.Regexp
	ignore        []*regexp.Regexp
}

func compileTriggers(cfg *config.TriggerConfig) (*triggers, error) {
	compile := func(pattern string) (*regexp.Regexp, error) {
		return regexp.Compile(pattern)
	}

	t := &triggers{}
	var err error
	if t.reset, err = compile(cfg.Reset); err != nil {
		return nil, fmt.Errorf("trigger reset: %w", err)
	}
	if t.rollback, err = compile(cfg.Rollback); err != nil {
		return nil, fmt.Errorf("trigger rollback: %w", err)
	}
	if t.ping, err = compile(cfg.Ping); err != nil {
		return nil, fmt.Errorf("trigger ping: %w", err)
	}
	if t.mixedMode, err = compile(cfg.MixedMode); err != nil {
		return nil, fmt.Errorf("trigger mixed_mode: %w", err)
	}
	if t.imageMode, err = compile(cfg.ImageMode); err != nil {
		return nil, fmt.Errorf("trigger image_mode: %w", err)
	}
	if t.textMode, err = compile(cfg.TextMode); err != nil {
		return nil, fmt.Errorf("trigger text_mode: %w", err)
	}
	if t.switchModel, err = compile(cfg.SwitchModel); err != nil {
		return nil, fmt.Errorf("trigger switch_model: %w", err)
	}
	if t.switchBackend, err = compile(cfg.SwitchBackend); err != nil {
		return nil, fmt.Errorf("trigger switch_backend: %w", err)
	}
	if t.loadPreset, err = compile(cfg.LoadPreset); err != nil {
		return nil, fmt.Errorf("trigger load_preset: %w", err)
	}
	for _, pattern := range cfg.Ignore {
		re, err := compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("trigger ignore %q: %w", pattern, err)
		}
		t.ignore = append(t.ignore, re)
	}
	return t, nil
}

// Options wires a dispatcher.
type Options struct {
	Config   *config.Config
	Registry *conversation.Registry
	Presets  *conversation.PresetStore
	Chain    *middleware.Chain
	// DrawChain wraps drawing requests so they burn the drawing quota
	// instead of the chat quota.
	DrawChain *middleware.Chain
	Drawing   collab.Drawing
	// TTS, when set, mirrors every text reply as synthesized speech.
	TTS     collab.TTS
	Metrics *middleware.Metrics
	Logger  *logrus.Logger
}

// Dispatcher is the single entry point IM adapters call per message.
type Dispatcher struct {
	cfg      *config.Config
	texts    *config.TextConfig
	triggers *triggers
	registry *conversation.Registry
	presets  *conversation.PresetStore
	chain    *middleware.Chain
	draw     *middleware.Chain
	drawing  collab.Drawing
	tts      collab.TTS
	metrics  *middleware.Metrics
	limiter  *rate.Limiter
	logger   *logrus.Logger
}

// NewDispatcher validates the trigger patterns and builds the
// dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	t, err := compileTriggers(&opts.Config.Trigger)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if rpm := opts.Config.Response.RequestsPerMinute; rpm > 0 {
		burst := opts.Config.Response.Burst
		if burst <= 0 {
			burst = rpm
		}
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}

	return &Dispatcher{
		cfg:      opts.Config,
		texts:    &opts.Config.Text,
		triggers: t,
		registry: opts.Registry,
		presets:  opts.Presets,
		chain:    opts.Chain,
		draw:     opts.DrawChain,
		drawing:  opts.Drawing,
		tts:      opts.TTS,
		metrics:  opts.Metrics,
		limiter:  limiter,
		logger:   opts.Logger,
	}, nil
}

// Handle processes one inbound request end to end. Every outcome is
// reported to the user through resp; the returned error is for the IM
// adapter's log only.
func (d *Dispatcher) Handle(ctx context.Context, req *models.Request, resp *models.Response) error {
	requestID := uuid.NewString()
	log := d.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"session_id": req.SessionID,
		"user_id":    req.UserID,
	})

	chatType := "friend"
	if req.IsGroup() {
		chatType = "group"
	}
	d.metrics.RecordMessageReceived(chatType)
	defer d.metrics.SetActiveSessions(float64(d.registry.Len()))

	prompt := strings.TrimSpace(req.Message.PlainText())

	if prompt == "" && len(req.Message.Images()) == 0 {
		d.metrics.RecordMessageProcessed("placeholder")
		return resp.Send(ctx, models.TextArtifact(d.texts.Placeholder))
	}

	for _, re := range d.triggers.ignore {
		if re.MatchString(prompt) {
			log.Debug("Message matched an ignore pattern")
			d.metrics.RecordMessageProcessed("ignored")
			return nil
		}
	}

	if d.limiter != nil && !d.limiter.Allow() {
		log.Warn("Global burst limit hit")
		d.metrics.RecordRateLimitRejection()
		d.metrics.RecordMessageProcessed("burst_limited")
		return resp.Send(ctx, models.TextArtifact(d.texts.RateExceeded))
	}

	handled, err := d.handleCommand(ctx, req, resp, prompt, log)
	if handled {
		if err != nil {
			d.metrics.RecordMessageProcessed("command_error")
			return d.sendError(ctx, resp, err, log)
		}
		d.metrics.RecordMessageProcessed("command")
		return nil
	}

	return d.ask(ctx, req, resp, prompt, log)
}

// handleCommand matches the command surface. It reports whether the
// prompt was a command; asks never reach here as handled.
func (d *Dispatcher) handleCommand(ctx context.Context, req *models.Request, resp *models.Response, prompt string, log *logrus.Entry) (bool, error) {
	switch {
	case d.triggers.ping.MatchString(prompt):
		return true, resp.Send(ctx, models.TextArtifact(d.texts.Ping))

	case d.triggers.reset.MatchString(prompt):
		c, err := d.registry.Get(req.SessionID).Current(ctx)
		if err != nil {
			return true, err
		}
		if err := c.Reset(ctx); err != nil {
			return true, err
		}
		log.Info("Conversation reset")
		return true, resp.Send(ctx, models.TextArtifact(d.texts.ResetDone))

	case d.triggers.rollback.MatchString(prompt):
		c, err := d.registry.Get(req.SessionID).Current(ctx)
		if err != nil {
			return true, err
		}
		ok, err := c.Rollback()
		if err != nil {
			if errors.Is(err, llm.ErrOperationNotSupported) {
				return true, resp.Send(ctx, models.TextArtifact(d.texts.RollbackFail))
			}
			return true, err
		}
		if !ok {
			return true, resp.Send(ctx, models.TextArtifact(d.texts.RollbackFail))
		}
		return true, resp.Send(ctx, models.TextArtifact(d.texts.RollbackDone))

	case d.triggers.mixedMode.MatchString(prompt):
		return true, d.switchRenderer(ctx, req, resp, "mixed")
	case d.triggers.imageMode.MatchString(prompt):
		return true, d.switchRenderer(ctx, req, resp, "image")
	case d.triggers.textMode.MatchString(prompt):
		return true, d.switchRenderer(ctx, req, resp, "text")
	}

	if m := d.triggers.switchModel.FindStringSubmatch(prompt); len(m) == 2 {
		return true, d.switchModel(ctx, req, resp, strings.TrimSpace(m[1]), log)
	}
	if m := d.triggers.switchBackend.FindStringSubmatch(prompt); len(m) == 2 {
		return true, d.switchBackend(ctx, req, resp, strings.TrimSpace(m[1]), log)
	}
	if m := d.triggers.loadPreset.FindStringSubmatch(prompt); len(m) == 2 {
		return true, d.loadPreset(ctx, req, resp, strings.TrimSpace(m[1]), log)
	}

	return false, nil
}

func (d *Dispatcher) switchRenderer(ctx context.Context, req *models.Request, resp *models.Response, mode string) error {
	c, err := d.registry.Get(req.SessionID).Current(ctx)
	if err != nil {
		return err
	}
	c.SwitchRenderer(mode)
	return resp.Send(ctx, models.TextArtifact(fmt.Sprintf(d.texts.RendererSwitched, mode)))
}

// switchModel applies the manager policy: managers switch freely,
// everyone else only to allow-listed models the adapter advertises.
func (d *Dispatcher) switchModel(ctx context.Context, req *models.Request, resp *models.Response, model string, log *logrus.Entry) error {
	c, err := d.registry.Get(req.SessionID).Current(ctx)
	if err != nil {
		return err
	}

	supported := contains(c.SupportedModels(), model)
	if !req.IsManager && (!contains(d.cfg.Trigger.AllowedModels, model) || !supported) {
		log.WithField("model", model).Info("Model switch denied")
		return resp.Send(ctx, models.TextArtifact(fmt.Sprintf(d.texts.ModelSwitchDenied, model)))
	}
	if !supported {
		log.WithField("model", model).Warn("Model not advertised by the adapter")
	}

	prev := c.CurrentModel()
	c.SwitchModel(model)
	log.WithFields(logrus.Fields{"model": model, "previous": prev}).Info("Model switched")
	return resp.Send(ctx, models.TextArtifact(fmt.Sprintf(d.texts.ModelSwitchDone, model)))
}

func (d *Dispatcher) switchBackend(ctx context.Context, req *models.Request, resp *models.Response, backend string, log *logrus.Entry) error {
	if !req.IsManager && !d.cfg.System.AllowSwitchBackend {
		return resp.Send(ctx, models.TextArtifact(fmt.Sprintf(d.texts.ModelSwitchDenied, backend)))
	}

	if _, err := d.registry.Get(req.SessionID).Switch(ctx, backend); err != nil {
		return err
	}
	log.WithField("backend", backend).Info("Backend switched")
	return resp.Send(ctx, models.TextArtifact(fmt.Sprintf(d.texts.ModelSwitchDone, backend)))
}

func (d *Dispatcher) loadPreset(ctx context.Context, req *models.Request, resp *models.Response, keyword string, log *logrus.Entry) error {
	c, err := d.registry.Get(req.SessionID).Current(ctx)
	if err != nil {
		return err
	}

	script, err := d.presets.Load(keyword)
	if err != nil {
		if errors.Is(err, conversation.ErrPresetNotFound) {
			return resp.Send(ctx, models.TextArtifact(d.texts.PresetNotFound))
		}
		return err
	}
	if err := c.LoadPreset(ctx, script, d.cfg.Presets.DecorationFormat); err != nil {
		return err
	}
	log.WithField("preset", keyword).Info("Preset loaded")
	return resp.Send(ctx, models.TextArtifact(fmt.Sprintf(d.texts.PresetLoaded, keyword)))
}

// ask runs one conversation turn through the middleware chain.
func (d *Dispatcher) ask(ctx context.Context, req *models.Request, resp *models.Response, prompt string, log *logrus.Entry) error {
	handler := d.registry.Get(req.SessionID)

	// Drawing prompts burn the drawing quota and skip the LLM.
	if p := d.cfg.Trigger.ImagePrefix; p != "" && strings.HasPrefix(prompt, p) && d.drawing != nil {
		return d.askDrawing(ctx, req, resp, strings.TrimSpace(strings.TrimPrefix(prompt, p)), log)
	}

	convCtx, backend, err := d.resolveContext(ctx, handler, prompt, &prompt)
	if err != nil {
		d.metrics.RecordMessageProcessed("error")
		return d.sendError(ctx, resp, err, log)
	}

	d.lazyDefaultPreset(ctx, convCtx, log)

	start := time.Now()
	err = d.chain.ExecuteRequest(ctx, req, resp, func(ctx context.Context) error {
		send := func(ctx context.Context, artifact *models.Artifact) error {
			if err := d.chain.ExecuteRespond(ctx, req, resp, artifact, func(ctx context.Context, a *models.Artifact) error {
				return resp.Send(ctx, a)
			}); err != nil {
				return err
			}
			d.speak(ctx, resp, artifact, log)
			return nil
		}

		askErr := convCtx.Ask(ctx, prompt, send)
		if errors.Is(askErr, llm.ErrConcurrentMessage) {
			log.Warn("Provider refused concurrent message, retrying once")
			askErr = convCtx.Ask(ctx, prompt, send)
		}
		return askErr
	})
	d.chain.Completed(ctx, req, resp)

	status := "ok"
	if err != nil {
		status = "error"
	}
	d.metrics.RecordAsk(backend, status, time.Since(start))
	d.metrics.RecordMessageProcessed(status)

	if err != nil {
		return d.sendError(ctx, resp, err, log)
	}
	return nil
}

// resolveContext picks the conversation context for this ask. A
// configured one-shot prefix routes a single ask to another backend
// without switching the session.
func (d *Dispatcher) resolveContext(ctx context.Context, handler *conversation.Handler, prompt string, out *string) (*conversation.Context, string, error) {
	for backend, prefix := range d.cfg.Trigger.Prefixes {
		if prefix == "" || !strings.HasPrefix(prompt, prefix) {
			continue
		}
		c, err := handler.Use(ctx, backend)
		if err != nil {
			return nil, backend, err
		}
		*out = strings.TrimSpace(strings.TrimPrefix(prompt, prefix))
		return c, backend, nil
	}

	c, err := handler.Current(ctx)
	if err != nil {
		return nil, d.cfg.System.DefaultBackend, err
	}
	return c, c.BackendType(), nil
}

// lazyDefaultPreset loads the "default" preset on a context's first
// ask when one is configured. Failures only log.
func (d *Dispatcher) lazyDefaultPreset(ctx context.Context, c *conversation.Context, log *logrus.Entry) {
	if c.Preset() != "" {
		return
	}
	script, err := d.presets.Load("default")
	if err != nil {
		return
	}
	if err := c.LoadPreset(ctx, script, d.cfg.Presets.DecorationFormat); err != nil {
		log.WithError(err).Warn("Default preset load failed")
	}
}

func (d *Dispatcher) askDrawing(ctx context.Context, req *models.Request, resp *models.Response, prompt string, log *logrus.Entry) error {
	start := time.Now()
	err := d.draw.ExecuteRequest(ctx, req, resp, func(ctx context.Context) error {
		var images [][]byte
		var drawErr error
		if inputs := req.Message.Images(); len(inputs) > 0 {
			images, drawErr = d.drawing.ImageToImage(ctx, inputs, prompt)
		} else {
			images, drawErr = d.drawing.TextToImage(ctx, prompt)
		}
		if drawErr != nil {
			return drawErr
		}
		for _, img := range images {
			if err := d.draw.ExecuteRespond(ctx, req, resp, models.ImageArtifact(img), func(ctx context.Context, a *models.Artifact) error {
				return resp.Send(ctx, a)
			}); err != nil {
				return err
			}
		}
		return nil
	})
	d.draw.Completed(ctx, req, resp)

	status := "ok"
	if err != nil {
		status = "error"
	}
	d.metrics.RecordAsk("drawing", status, time.Since(start))
	d.metrics.RecordMessageProcessed(status)

	if err != nil {
		return d.sendError(ctx, resp, err, log)
	}
	return nil
}

// speak mirrors one text reply as a voice clip. Best-effort; failures
// only log.
func (d *Dispatcher) speak(ctx context.Context, resp *models.Response, artifact *models.Artifact, log *logrus.Entry) {
	if d.tts == nil || artifact.Type != models.ArtifactText || artifact.IsEmpty() {
		return
	}
	speech, err := d.tts.Speak(ctx, artifact.Text, "")
	if err != nil {
		log.WithError(err).Warn("Speech synthesis failed")
		return
	}
	if err := resp.Send(ctx, models.VoiceArtifact(speech.Data, speech.Format)); err != nil {
		log.WithError(err).Warn("Voice send failed")
	}
}

// sendError is the sole place taxonomy errors become user text.
// Middlewares that already replied return marker errors swallowed here.
func (d *Dispatcher) sendError(ctx context.Context, resp *models.Response, err error, log *logrus.Entry) error {
	if errors.Is(err, middleware.ErrQueueFull) {
		return nil
	}

	log.WithError(err).Error("Request failed")

	var rateErr *llm.RateLimitError
	var drawErr *collab.DrawingFailedError
	var reqErr *llm.RequestError

	text := ""
	switch {
	case errors.As(err, &rateErr):
		text = fmt.Sprintf(d.texts.ErrorRateLimit, retryWait(rateErr.EstimatedAt))
	case errors.Is(err, llm.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		text = d.texts.ErrorTimeout
	case errors.Is(err, llm.ErrAuthenticationFailed):
		text = d.texts.ErrorAuth
	case errors.Is(err, accounts.ErrNoAvailableBot):
		text = d.texts.NoAvailableBot
	case errors.Is(err, accounts.ErrBotTypeNotFound):
		text = d.texts.BotTypeNotFound
	case errors.As(err, &drawErr):
		text = d.texts.DrawingFailed
	case errors.As(err, &reqErr):
		text = d.texts.ErrorNetworkFailure
	default:
		text = fmt.Sprintf(d.texts.ErrorFormat, err)
	}

	return resp.Send(context.WithoutCancel(ctx), models.TextArtifact(text))
}

// retryWait turns a provider retry estimate into the duration shown to
// the user. Past or unset estimates fall back to a minute.
func retryWait(at time.Time) time.Duration {
	wait := time.Until(at).Round(time.Second)
	if wait < time.Second {
		wait = time.Minute
	}
	return wait
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
