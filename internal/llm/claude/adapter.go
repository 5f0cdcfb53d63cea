package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatgate-bot/chatgate/internal/accounts"
	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/llm"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

var supportedModels = []string{"claude-3-haiku-20240307", "claude-3-sonnet-20240229", "claude-3-opus-20240229"}

// Adapter speaks the Anthropic messages API. The SSE stream uses typed
// events; only content_block_delta frames carry reply text. The system
// preset travels in a dedicated request field rather than the message
// list.
type Adapter struct {
	account *config.APIKeyAccount
	client  *http.Client
	window  *llm.TokenWindow
	model   string
	logger  *logrus.Entry
}

func New(account *accounts.Account, logger *logrus.Logger) (*Adapter, error) {
	cred := account.APIKey
	client, err := llm.NewHTTPClient(cred.Proxy)
	if err != nil {
		return nil, err
	}
	model := cred.Model
	if model == "" {
		model = "claude-3-haiku-20240307"
	}
	return &Adapter{
		account: cred,
		client:  client,
		window:  llm.NewTokenWindow(cred.MaxTokens, cred.MinTokensReserve),
		model:   model,
		logger:  logger.WithField("backend", "claude"),
	}, nil
}

func (a *Adapter) baseURL() string {
	if a.account.BaseURL != "" {
		return strings.TrimSuffix(a.account.BaseURL, "/")
	}
	return defaultBaseURL
}

type messagesRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deltaEvent struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (a *Adapter) Ask(ctx context.Context, prompt string) (<-chan llm.Event, error) {
	history := a.window.Snapshot()

	reqBody := messagesRequest{Model: a.model, MaxTokens: 4096, Stream: true}
	for _, t := range history {
		if t.Role == llm.RoleSystem {
			if reqBody.System != "" {
				reqBody.System += "\n"
			}
			reqBody.System += t.Content
			continue
		}
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: string(llm.RoleUser), Content: prompt})

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.account.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	emitter, events := llm.NewEmitter()
	go func() {
		resp, err := a.client.Do(req)
		if err != nil {
			emitter.Fail(ctx, llm.ClassifyTransportError(err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			emitter.Fail(ctx, llm.ClassifyHTTPStatus(resp.StatusCode, llm.ParseRetryAfter(resp), string(raw)))
			return
		}

		var full strings.Builder
		err = llm.ReadSSE(resp.Body, func(ev llm.SSEEvent) bool {
			if ev.Event != "content_block_delta" {
				// message_start, ping, message_stop and friends
				return true
			}
			var de deltaEvent
			if json.Unmarshal([]byte(ev.Data), &de) != nil {
				return true
			}
			if de.Delta.Text == "" {
				return true
			}
			full.WriteString(de.Delta.Text)
			return emitter.Delta(ctx, full.String())
		})
		if err != nil {
			emitter.Fail(ctx, llm.ClassifyTransportError(err))
			return
		}
		a.window.Append(llm.RoleUser, prompt)
		a.window.Append(llm.RoleAssistant, full.String())
		emitter.End(ctx)
	}()
	return events, nil
}

func (a *Adapter) Rollback() (bool, error) { return a.window.Rollback(), nil }

func (a *Adapter) SwitchModel(name string) { a.model = name }

func (a *Adapter) CurrentModel() string { return a.model }

func (a *Adapter) SupportedModels() []string { return supportedModels }

func (a *Adapter) PresetAsk(ctx context.Context, role llm.Role, prompt string) error {
	a.window.Append(role, prompt)
	return nil
}

func (a *Adapter) OnDestroyed(ctx context.Context) { a.window.Reset() }

// Probe fires a minimal non-streaming completion; the Anthropic API
// has no free list endpoint.
func Probe(cred *config.APIKeyAccount) accounts.ProbeFunc {
	return func(ctx context.Context) error {
		client, err := llm.NewHTTPClient(cred.Proxy)
		if err != nil {
			return err
		}
		base := defaultBaseURL
		if cred.BaseURL != "" {
			base = strings.TrimSuffix(cred.BaseURL, "/")
		}
		body, _ := json.Marshal(messagesRequest{
			Model:     "claude-3-haiku-20240307",
			Messages:  []chatMessage{{Role: "user", Content: "ping"}},
			MaxTokens: 1,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/messages", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", cred.APIKey)
		req.Header.Set("anthropic-version", apiVersion)
		resp, err := client.Do(req)
		if err != nil {
			return llm.ClassifyTransportError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return llm.ClassifyHTTPStatus(resp.StatusCode, llm.ParseRetryAfter(resp), string(raw))
		}
		return nil
	}
}
