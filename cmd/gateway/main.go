package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/chatgate-bot/chatgate/internal/accounts"
	"github.com/chatgate-bot/chatgate/internal/collab"
	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/conversation"
	"github.com/chatgate-bot/chatgate/internal/dispatcher"
	"github.com/chatgate-bot/chatgate/internal/i18n"
	"github.com/chatgate-bot/chatgate/internal/llm"
	"github.com/chatgate-bot/chatgate/internal/llm/bing"
	"github.com/chatgate-bot/chatgate/internal/llm/chatglm"
	"github.com/chatgate-bot/chatgate/internal/llm/claude"
	"github.com/chatgate-bot/chatgate/internal/llm/deepseek"
	"github.com/chatgate-bot/chatgate/internal/llm/gemini"
	"github.com/chatgate-bot/chatgate/internal/llm/gptfree"
	"github.com/chatgate-bot/chatgate/internal/llm/ollama"
	"github.com/chatgate-bot/chatgate/internal/llm/openai"
	"github.com/chatgate-bot/chatgate/internal/middleware"
	"github.com/chatgate-bot/chatgate/internal/platforms/telegram"
	"github.com/chatgate-bot/chatgate/internal/ratelimit"
	"github.com/chatgate-bot/chatgate/internal/renderer"
	"github.com/chatgate-bot/chatgate/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting chat gateway...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize i18n and fill unset reply templates
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}
	i18n.FillTexts(&cfg.Text, localizer)

	// Validate accounts and build the round-robin pools
	manager := accounts.NewManager(log)
	candidates := registerAccounts(cfg, manager)
	manager.Load(ctx, candidates)

	rememberLogins(cfg, candidates, log)

	// Initialize the usage store
	var store ratelimit.Store
	switch cfg.RateLimit.Backend {
	case "redis":
		store, err = ratelimit.NewRedisStore(cfg.RateLimit.Redis.Addr, cfg.RateLimit.Redis.Password, cfg.RateLimit.Redis.DB, log)
	default:
		store, err = ratelimit.NewFileStore(cfg.System.DataDir, log)
	}
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize rate limit store")
	}

	// Collaborators
	var drawing collab.Drawing
	if cfg.Drawing.Enabled {
		drawing = collab.NewHTTPDrawing(cfg.Drawing, log)
	}
	var tts collab.TTS
	if cfg.TTS.Enabled {
		tts = collab.NewHTTPTTS(cfg.TTS, log)
	}
	var moderator collab.Moderator
	if cfg.Moderation.Enabled {
		moderator = collab.NewHTTPModerator(cfg.Moderation, log)
	}

	// Presets
	presets, err := conversation.NewPresetStore(cfg.Presets, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize preset store")
	}
	defer presets.Close()

	// Conversation registry
	registry := conversation.NewRegistry(conversation.Deps{
		Factories:      buildFactories(cfg, manager, log),
		DefaultBackend: cfg.System.DefaultBackend,
		RenderOpts: renderer.Options{
			Mode:        cfg.Response.Mode,
			Merger:      cfg.Response.Merger,
			BufferDelay: cfg.Response.BufferDelay,
			MaxLength:   cfg.Response.MaxLength,
			ImageRender: imageRender(cfg, log),
		},
		RemoveOld: cfg.System.AutoRemoveOldConversations,
		Logger:    log,
	})

	// Middleware chains: Timeout → RateLimit → Moderation → Lock
	timeout := middleware.NewTimeout(&cfg.Response, &cfg.Text, log)
	moderation := middleware.NewModeration(moderator, &cfg.Text, log)
	lock := middleware.NewConcurrencyLock(&cfg.Response, &cfg.Text, log)

	chain := middleware.NewChain(
		timeout,
		middleware.NewRateLimit(store, cfg.RateLimit.WarningRate, &cfg.Text, log),
		moderation,
		lock,
	)
	drawChain := middleware.NewChain(
		timeout,
		middleware.NewDrawRateLimit(store, cfg.RateLimit.WarningRate, &cfg.Text, log),
		moderation,
		lock,
	)

	// Metrics
	metrics := middleware.NewMetrics()
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Dispatcher
	disp, err := dispatcher.NewDispatcher(dispatcher.Options{
		Config:    cfg,
		Registry:  registry,
		Presets:   presets,
		Chain:     chain,
		DrawChain: drawChain,
		Drawing:   drawing,
		TTS:       tts,
		Metrics:   metrics,
		Logger:    log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize dispatcher")
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("Shutting down")
		cancel()
	}()

	if !cfg.Telegram.Enabled {
		log.Fatal("No platform enabled; enable telegram in the config")
	}

	adapter, err := telegram.NewAdapter(cfg, disp, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize telegram adapter")
	}

	if err := adapter.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Error("Update loop stopped")
	}

	// Give in-flight asks a moment to finish sending
	time.Sleep(time.Second)
	log.Info("Gateway stopped")
}

// registerAccounts declares every configured backend type and pairs
// each credential with its health check.
func registerAccounts(cfg *config.Config, manager *accounts.Manager) []accounts.Candidate {
	var candidates []accounts.Candidate

	apiKeyed := []struct {
		name  string
		creds []config.APIKeyAccount
		probe func(*config.APIKeyAccount) accounts.ProbeFunc
	}{
		{"openai", cfg.Accounts.OpenAI, openai.Probe},
		{"gptfree", cfg.Accounts.GPTFree, gptfree.Probe},
		{"claude", cfg.Accounts.Claude, claude.Probe},
		{"deepseek", cfg.Accounts.DeepSeek, deepseek.Probe},
		{"gemini", cfg.Accounts.Gemini, gemini.Probe},
		{"chatglm", cfg.Accounts.ChatGLM, chatglm.Probe},
		{"ollama", cfg.Accounts.Ollama, ollama.Probe},
	}
	for _, backend := range apiKeyed {
		manager.RegisterType(backend.name)
		for i := range backend.creds {
			cred := &backend.creds[i]
			candidates = append(candidates, accounts.Candidate{
				Account: &accounts.Account{Type: backend.name, APIKey: cred, Remarks: cred.Remarks},
				Probe:   backend.probe(cred),
			})
		}
	}

	manager.RegisterType("bing")
	for i := range cfg.Accounts.Bing {
		cred := &cfg.Accounts.Bing[i]
		candidates = append(candidates, accounts.Candidate{
			Account: &accounts.Account{Type: "bing", Cookie: cred, Remarks: cred.Remarks},
			Probe:   bing.Probe(cred),
		})
	}

	return candidates
}

// rememberLogins records validated credentials so restarts can tell
// which accounts were healthy last time.
func rememberLogins(cfg *config.Config, candidates []accounts.Candidate, log *logrus.Logger) {
	cache, err := accounts.NewLoginCache(cfg.System.DataDir)
	if err != nil {
		log.WithError(err).Warn("Login cache unavailable")
		return
	}

	now := time.Now().Format(time.RFC3339)
	for _, c := range candidates {
		if !c.Account.OK() {
			continue
		}
		var cred interface{} = c.Account.APIKey
		if c.Account.Cookie != nil {
			cred = c.Account.Cookie
		}
		fp, err := accounts.Fingerprint(cred)
		if err != nil {
			continue
		}
		if _, found, _ := cache.Get(fp); found {
			log.WithField("remarks", c.Account.Remarks).Debug("Account seen before")
		}
		if err := cache.Put(fp, map[string]string{"validated_at": now, "type": c.Account.Type}); err != nil {
			log.WithError(err).Warn("Failed to update login cache")
		}
	}
}

// buildFactories maps every backend type to an adapter constructor
// that picks the next pooled account per conversation.
func buildFactories(cfg *config.Config, manager *accounts.Manager, log *logrus.Logger) map[string]llm.Factory {
	factories := make(map[string]llm.Factory)

	pick := func(name string) (*accounts.Account, error) {
		return manager.Pick(name)
	}

	factories["openai"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("openai")
		if err != nil {
			return nil, err
		}
		return openai.New(account, log)
	}
	factories["gptfree"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("gptfree")
		if err != nil {
			return nil, err
		}
		return gptfree.New(account, log)
	}
	factories["claude"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("claude")
		if err != nil {
			return nil, err
		}
		return claude.New(account, log)
	}
	factories["deepseek"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("deepseek")
		if err != nil {
			return nil, err
		}
		return deepseek.New(account, log)
	}
	factories["gemini"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("gemini")
		if err != nil {
			return nil, err
		}
		return gemini.New(account, log)
	}
	factories["chatglm"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("chatglm")
		if err != nil {
			return nil, err
		}
		return chatglm.New(account, log)
	}
	factories["ollama"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("ollama")
		if err != nil {
			return nil, err
		}
		return ollama.New(account, log)
	}
	factories["bing"] = func(ctx context.Context) (llm.Adapter, error) {
		account, err := pick("bing")
		if err != nil {
			return nil, err
		}
		return bing.New(account, log)
	}

	return factories
}

// imageRender wires the markdown-to-image render service when one is
// configured; without it the image modes degrade to plain text.
func imageRender(cfg *config.Config, log *logrus.Logger) renderer.ImageRenderFunc {
	if cfg.Response.RenderServiceURL == "" {
		return nil
	}
	svc := collab.NewHTMLRenderService(cfg.Response.RenderServiceURL, log)
	return svc.RenderImage
}
