package gptfree

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

var supportedModels = []string{"gpt-3.5-turbo", "gpt-4"}

// Adapter speaks to a self-hosted gpt4free gateway. The wire protocol
// is openai-compatible but the gateway takes no credential, so the
// account record only carries the base URL.
type Adapter struct {
	account *config.APIKeyAccount
	client  *http.Client
	window  *llm.TokenWindow
	model   string
	logger  *logrus.Entry
}

// New creates an adapter bound to one picked account.
func New(account *accounts.Account, logger *logrus.Logger) (*Adapter, error) {
	cred := account.APIKey
	if cred.BaseURL == "" {
		return nil, fmt.Errorf("gptfree: base_url is required")
	}
	client, err := llm.NewHTTPClient(cred.Proxy)
	if err != nil {
		return nil, err
	}
	model := cred.Model
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &Adapter{
		account: cred,
		client:  client,
		window:  llm.NewTokenWindow(cred.MaxTokens, cred.MinTokensReserve),
		model:   model,
		logger:  logger.WithField("backend", "gptfree"),
	}, nil
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
	url := strings.TrimSuffix(a.account.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				return true
			}
			full.WriteString(chunk.Choices[0].Delta.Content)
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

// Probe checks that the gateway answers its models endpoint.
func Probe(cred *config.APIKeyAccount) accounts.ProbeFunc {
	return func(ctx context.Context) error {
		client, err := llm.NewHTTPClient(cred.Proxy)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(cred.BaseURL, "/")+"/models", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return llm.ClassifyTransportError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return llm.ClassifyHTTPStatus(resp.StatusCode, 0, "")
		}
		return nil
	}
}
