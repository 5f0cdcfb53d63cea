package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/chatgate-bot/chatgate/internal/config"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Chinese)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	registerDefaults(bundle)

	for _, lang := range cfg.Languages {
		path := filepath.Join(cfg.Directory, fmt.Sprintf("%s.json", lang))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{cfg.DefaultLanguage}
	}
	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range langs {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		localizers[cfg.DefaultLanguage] = i18n.NewLocalizer(bundle, cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}
	if localizer == nil {
		return messageID
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgPlaceholder       = "placeholder"
	MsgResetDone         = "reset_done"
	MsgRollbackDone      = "rollback_done"
	MsgRollbackFail      = "rollback_fail"
	MsgPing              = "ping"
	MsgQueueFull         = "queue_full"
	MsgQueued            = "queued"
	MsgStillWorking      = "still_working"
	MsgWaitTooLong       = "wait_too_long"
	MsgRateExceeded      = "rate_exceeded"
	MsgRateWarning       = "rate_warning"
	MsgModelSwitchDone   = "model_switch_done"
	MsgModelSwitchDenied = "model_switch_denied"
	MsgPresetLoaded      = "preset_loaded"
	MsgPresetNotFound    = "preset_not_found"
	MsgNoAvailableBot    = "no_available_bot"
	MsgBotTypeNotFound   = "bot_type_not_found"
	MsgRendererSwitched  = "renderer_switched"
	MsgModerated         = "moderated"
	MsgDrawingFailed     = "drawing_failed"
	MsgErrorRateLimit    = "error_rate_limit"
	MsgErrorTimeout      = "error_timeout"
	MsgErrorAuth         = "error_auth"
	MsgErrorNetwork      = "error_network_failure"
	MsgErrorFormat       = "error_format"
)

// defaultMessages are the built-in Chinese templates; language files
// override them per id.
var defaultMessages = map[string]string{
	MsgPlaceholder:       "您好！我是智能助手，有什么可以帮您？",
	MsgResetDone:         "会话已重置。",
	MsgRollbackDone:      "已回滚至上一条对话。",
	MsgRollbackFail:      "没有可以回滚的对话。",
	MsgPing:              "pong! 服务运行正常。",
	MsgQueueFull:         "等待处理的消息太多了，请稍后再试。",
	MsgQueued:            "您的消息已加入队列，请耐心等待。",
	MsgStillWorking:      "仍在处理中，请稍候……",
	MsgWaitTooLong:       "等待超时，本次请求已取消。",
	MsgRateExceeded:      "您的使用次数已达上限，请稍后再试。",
	MsgRateWarning:       "您已使用 %d/%d 次，即将达到上限。",
	MsgModelSwitchDone:   "已切换至模型 %s。",
	MsgModelSwitchDenied: "只有管理员才能切换到 %s 模型！",
	MsgPresetLoaded:      "预设 %s 已加载。",
	MsgPresetNotFound:    "找不到这个预设。",
	MsgNoAvailableBot:    "当前没有可用的 AI 账号，请稍后再试。",
	MsgBotTypeNotFound:   "不支持这个 AI 类型。",
	MsgRendererSwitched:  "回复模式已切换为 %s。",
	MsgModerated:         "该回复包含不适宜内容，已被拦截。",
	MsgDrawingFailed:     "画图失败了，请稍后再试。",
	MsgErrorRateLimit:    "AI 服务繁忙，请在 %s 后再试。",
	MsgErrorTimeout:      "请求超时了，请稍后再试。",
	MsgErrorAuth:         "AI 账号认证失败，请联系管理员。",
	MsgErrorNetwork:      "网络异常，请稍后再试。",
	MsgErrorFormat:       "出错了: %v",
}

func registerDefaults(bundle *i18n.Bundle) {
	for id, other := range defaultMessages {
		bundle.AddMessages(language.Chinese, &i18n.Message{
			ID:    id,
			Other: other,
		})
	}
}

// FillTexts resolves unset reply templates from the bundle so the rest
// of the system reads only config.TextConfig.
func FillTexts(texts *config.TextConfig, l *Localizer) {
	lang := l.defaultLanguage
	fill := func(dst *string, id string) {
		if *dst == "" {
			*dst = l.Get(lang, id, nil)
		}
	}

	fill(&texts.Placeholder, MsgPlaceholder)
	fill(&texts.ResetDone, MsgResetDone)
	fill(&texts.RollbackDone, MsgRollbackDone)
	fill(&texts.RollbackFail, MsgRollbackFail)
	fill(&texts.Ping, MsgPing)
	fill(&texts.QueueFull, MsgQueueFull)
	fill(&texts.Queued, MsgQueued)
	fill(&texts.StillWorking, MsgStillWorking)
	fill(&texts.WaitTooLong, MsgWaitTooLong)
	fill(&texts.RateExceeded, MsgRateExceeded)
	fill(&texts.RateWarning, MsgRateWarning)
	fill(&texts.ModelSwitchDone, MsgModelSwitchDone)
	fill(&texts.ModelSwitchDenied, MsgModelSwitchDenied)
	fill(&texts.PresetLoaded, MsgPresetLoaded)
	fill(&texts.PresetNotFound, MsgPresetNotFound)
	fill(&texts.NoAvailableBot, MsgNoAvailableBot)
	fill(&texts.BotTypeNotFound, MsgBotTypeNotFound)
	fill(&texts.RendererSwitched, MsgRendererSwitched)
	fill(&texts.Moderated, MsgModerated)
	fill(&texts.DrawingFailed, MsgDrawingFailed)
	fill(&texts.ErrorRateLimit, MsgErrorRateLimit)
	fill(&texts.ErrorTimeout, MsgErrorTimeout)
	fill(&texts.ErrorAuth, MsgErrorAuth)
	fill(&texts.ErrorNetworkFailure, MsgErrorNetwork)
	fill(&texts.ErrorFormat, MsgErrorFormat)
}
