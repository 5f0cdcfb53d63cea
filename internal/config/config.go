package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the immutable configuration value passed at construction
// time. Hot-reload rebuilds the dispatcher with a fresh Config instead
// of mutating this one.
type Config struct {
	System     SystemConfig     `mapstructure:"system"`
	Accounts   AccountsConfig   `mapstructure:"accounts"`
	Response   ResponseConfig   `mapstructure:"response"`
	Text       TextConfig       `mapstructure:"text"`
	Trigger    TriggerConfig    `mapstructure:"trigger"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Presets    PresetsConfig    `mapstructure:"presets"`
	Drawing    DrawingConfig    `mapstructure:"drawing"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type SystemConfig struct {
	// ManagerID is the single privileged user.
	ManagerID string `mapstructure:"manager_id"`
	// DefaultBackend is the backend type used for new sessions.
	DefaultBackend string `mapstructure:"default_backend"`
	// AllowSwitchBackend lets non-managers switch backends.
	AllowSwitchBackend bool `mapstructure:"allow_switch_backend"`
	// AutoRemoveOldConversations asks providers to delete the prior
	// remote conversation on model or preset switch.
	AutoRemoveOldConversations bool `mapstructure:"auto_remove_old_conversations"`
	// DataDir holds the persisted JSON state files.
	DataDir string `mapstructure:"data_dir"`
}

// AccountsConfig holds credential lists per backend type. Each list is
// probed at startup; only accounts that pass the health check join the
// round-robin pool.
type AccountsConfig struct {
	OpenAI   []APIKeyAccount `mapstructure:"openai"`
	GPTFree  []APIKeyAccount `mapstructure:"gptfree"`
	Claude   []APIKeyAccount `mapstructure:"claude"`
	DeepSeek []APIKeyAccount `mapstructure:"deepseek"`
	Gemini   []APIKeyAccount `mapstructure:"gemini"`
	ChatGLM  []APIKeyAccount `mapstructure:"chatglm"`
	Ollama   []APIKeyAccount `mapstructure:"ollama"`
	Bing     []CookieAccount `mapstructure:"bing"`
}

// APIKeyAccount is a key-based credential record.
type APIKeyAccount struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	Proxy    string `mapstructure:"proxy"`
	Remarks  string `mapstructure:"remarks"`
	MaxTokens        int `mapstructure:"max_tokens"`
	MinTokensReserve int `mapstructure:"min_tokens_reserve"`
}

// CookieAccount is a cookie-bundle credential record.
type CookieAccount struct {
	Cookie  string `mapstructure:"cookie"`
	BaseURL string `mapstructure:"base_url"`
	Proxy   string `mapstructure:"proxy"`
	Remarks string `mapstructure:"remarks"`
}

type ResponseConfig struct {
	// Mode selects the final renderer: text, image or mixed.
	Mode string `mapstructure:"mode"`
	// Merger selects buffering: time or length.
	Merger string `mapstructure:"merger"`
	// BufferDelay is the flush gap for the time-buffered merger.
	BufferDelay time.Duration `mapstructure:"buffer_delay"`
	// MaxLength is the flush threshold for the length-buffered merger.
	MaxLength int `mapstructure:"max_length"`
	// Timeout is the hard overall deadline per request.
	Timeout time.Duration `mapstructure:"timeout"`
	// NoticeDelay is when the "still working" notice fires.
	NoticeDelay time.Duration `mapstructure:"notice_delay"`
	// MaxQueueSize refuses the N+1th concurrent request per session;
	// 0 disables the check.
	MaxQueueSize int `mapstructure:"max_queue_size"`
	// QueuedNoticeSize triggers the "queued" notice.
	QueuedNoticeSize int `mapstructure:"queued_notice_size"`
	// RequestsPerMinute/Burst configure the global burst limiter;
	// 0 disables it.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
	// RenderServiceURL is the markdown-to-image render endpoint used
	// by the image and mixed modes. Empty falls back to plain text.
	RenderServiceURL string `mapstructure:"render_service_url"`
}

// TextConfig holds every user-visible reply template. The dispatcher
// hardcodes none of them; unset entries fall back to the i18n bundle.
type TextConfig struct {
	Placeholder        string `mapstructure:"placeholder"`
	ResetDone          string `mapstructure:"reset_done"`
	RollbackDone       string `mapstructure:"rollback_done"`
	RollbackFail       string `mapstructure:"rollback_fail"`
	Ping               string `mapstructure:"ping"`
	QueueFull          string `mapstructure:"queue_full"`
	Queued             string `mapstructure:"queued"`
	StillWorking       string `mapstructure:"still_working"`
	WaitTooLong        string `mapstructure:"wait_too_long"`
	RateExceeded       string `mapstructure:"rate_exceeded"`
	RateWarning        string `mapstructure:"rate_warning"`
	ModelSwitchDone    string `mapstructure:"model_switch_done"`
	ModelSwitchDenied  string `mapstructure:"model_switch_denied"`
	PresetLoaded       string `mapstructure:"preset_loaded"`
	PresetNotFound     string `mapstructure:"preset_not_found"`
	NoAvailableBot     string `mapstructure:"no_available_bot"`
	BotTypeNotFound    string `mapstructure:"bot_type_not_found"`
	RendererSwitched   string `mapstructure:"renderer_switched"`
	Moderated          string `mapstructure:"moderated"`
	DrawingFailed      string `mapstructure:"drawing_failed"`
	ErrorRateLimit     string `mapstructure:"error_rate_limit"`
	ErrorTimeout       string `mapstructure:"error_timeout"`
	ErrorAuth          string `mapstructure:"error_auth"`
	ErrorNetworkFailure string `mapstructure:"error_network_failure"`
	ErrorFormat        string `mapstructure:"error_format"`
}

// TriggerConfig holds the command surface. All patterns are regular
// expressions anchored by the dispatcher.
type TriggerConfig struct {
	Reset          string   `mapstructure:"reset"`
	Rollback       string   `mapstructure:"rollback"`
	Ping           string   `mapstructure:"ping"`
	MixedMode      string   `mapstructure:"mixed_mode"`
	ImageMode      string   `mapstructure:"image_mode"`
	TextMode       string   `mapstructure:"text_mode"`
	SwitchModel    string   `mapstructure:"switch_model"`
	SwitchBackend  string   `mapstructure:"switch_backend"`
	LoadPreset     string   `mapstructure:"load_preset"`
	ImagePrefix    string   `mapstructure:"image_prefix"`
	Ignore         []string `mapstructure:"ignore"`
	// Prefixes maps backend type to a one-shot dispatch prefix.
	Prefixes map[string]string `mapstructure:"prefixes"`
	// AllowedModels are models non-managers may switch to.
	AllowedModels []string `mapstructure:"allowed_models"`
}

type RateLimitConfig struct {
	// Backend selects the usage store: file or redis.
	Backend string `mapstructure:"backend"`
	// WarningRate emits a warning once usage/limit crosses it.
	WarningRate float64     `mapstructure:"warning_rate"`
	Redis       RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PresetsConfig struct {
	Directory string `mapstructure:"directory"`
	// Keywords maps a preset keyword to its script file name.
	Keywords map[string]string `mapstructure:"keywords"`
	// DecorationFormat wraps replies while a preset is active, with
	// {reply} as the placeholder.
	DecorationFormat string `mapstructure:"decoration_format"`
	// HotReload watches the directory for changes.
	HotReload bool `mapstructure:"hot_reload"`
}

type DrawingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	Size    string `mapstructure:"size"`
}

type TTSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Voice   string `mapstructure:"voice"`
	Format  string `mapstructure:"format"`
}

type ModerationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type TelegramConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("telegram.token", "TELEGRAM_TOKEN")
	viper.BindEnv("system.manager_id", "MANAGER_ID")
	viper.BindEnv("rate_limit.redis.addr", "REDIS_ADDR")
	viper.BindEnv("rate_limit.redis.password", "REDIS_PASSWORD")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	// Extra API-key accounts can be appended from env, one backend per
	// variable: OPENAI_API_KEYS=sk-a,sk-b
	if keys := os.Getenv("OPENAI_API_KEYS"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			config.Accounts.OpenAI = append(config.Accounts.OpenAI, APIKeyAccount{APIKey: k})
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.System.DefaultBackend == "" {
		cfg.System.DefaultBackend = "openai"
	}
	if cfg.System.DataDir == "" {
		cfg.System.DataDir = "data"
	}
	if cfg.Response.Mode == "" {
		cfg.Response.Mode = "text"
	}
	if cfg.Response.Merger == "" {
		cfg.Response.Merger = "length"
	}
	if cfg.Response.BufferDelay == 0 {
		cfg.Response.BufferDelay = 15 * time.Second
	}
	if cfg.Response.MaxLength == 0 {
		cfg.Response.MaxLength = 1500
	}
	if cfg.Response.Timeout == 0 {
		cfg.Response.Timeout = 10 * time.Minute
	}
	if cfg.Response.NoticeDelay == 0 {
		cfg.Response.NoticeDelay = 30 * time.Second
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "file"
	}
	if cfg.RateLimit.WarningRate == 0 {
		cfg.RateLimit.WarningRate = 0.8
	}
	if cfg.Trigger.Reset == "" {
		cfg.Trigger.Reset = `^重置对话$`
	}
	if cfg.Trigger.Rollback == "" {
		cfg.Trigger.Rollback = `^回滚对话$`
	}
	if cfg.Trigger.Ping == "" {
		cfg.Trigger.Ping = `^ping$`
	}
	if cfg.Trigger.MixedMode == "" {
		cfg.Trigger.MixedMode = `^混合模式$`
	}
	if cfg.Trigger.ImageMode == "" {
		cfg.Trigger.ImageMode = `^图片模式$`
	}
	if cfg.Trigger.TextMode == "" {
		cfg.Trigger.TextMode = `^文本模式$`
	}
	if cfg.Trigger.SwitchModel == "" {
		cfg.Trigger.SwitchModel = `^切换模型 (.+)$`
	}
	if cfg.Trigger.SwitchBackend == "" {
		cfg.Trigger.SwitchBackend = `^切换AI (.+)$`
	}
	if cfg.Trigger.LoadPreset == "" {
		cfg.Trigger.LoadPreset = `^加载预设 (.+)$`
	}
	if cfg.Presets.Directory == "" {
		cfg.Presets.Directory = "presets"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required when telegram is enabled")
	}
	switch cfg.Response.Mode {
	case "text", "image", "mixed":
	default:
		return fmt.Errorf("unsupported response mode: %s", cfg.Response.Mode)
	}
	switch cfg.RateLimit.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unsupported rate limit backend: %s", cfg.RateLimit.Backend)
	}
	return nil
}
