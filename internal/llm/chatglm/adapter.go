package chatglm

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

const defaultBaseURL = "https://open.bigmodel.cn/api/paas/v4"

var supportedModels = []string{"glm-3-turbo", "glm-4", "glm-4-flash"}

// Adapter speaks the ZhipuAI GLM chat API. The stream is
// openai-flavored SSE, but frames tagged "event: finish" end the
// stream ahead of the [DONE] sentinel.
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
		model = "glm-4-flash"
	}
	return &Adapter{
		account: cred,
		client:  client,
		window:  llm.NewTokenWindow(cred.MaxTokens, cred.MinTokensReserve),
		model:   model,
		logger:  logger.WithField("backend", "chatglm"),
	}, nil
}

func (a *Adapter) baseURL() string {
	if a.account.BaseURL != "" {
		return strings.TrimSuffix(a.account.BaseURL, "/")
	}
	return defaultBaseURL
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (a *Adapter) Ask(ctx context.Context, prompt string) (<-chan llm.Event, error) {
	history := a.window.Snapshot()
	messages := make([]chatMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	messages = append(messages, chatMessage{Role: string(llm.RoleUser), Content: prompt})

	body, err := json.Marshal(chatRequest{Model: a.model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.account.APIKey)

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
			var chunk chatChunk
			if json.Unmarshal([]byte(ev.Data), &chunk) != nil {
				return true
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				full.WriteString(chunk.Choices[0].Delta.Content)
				if !emitter.Delta(ctx, full.String()) {
					return false
				}
			}
			return ev.Event != "finish"
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

// Probe fires a minimal non-streaming completion.
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
		body, _ := json.Marshal(chatRequest{
			Model:    "glm-4-flash",
			Messages: []chatMessage{{Role: "user", Content: "ping"}},
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cred.APIKey)
		resp, err := client.Do(req)
		if err != nil {
			return llm.ClassifyTransportError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return llm.ClassifyHTTPStatus(resp.StatusCode, llm.ParseRetryAfter(resp), "")
		}
		return nil
	}
}
