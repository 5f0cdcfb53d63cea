package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var supportedModels = []string{"gemini-pro", "gemini-1.5-flash", "gemini-1.5-pro"}

// Adapter speaks the Gemini streamGenerateContent API with alt=sse
// framing. Roles map to user/model; the system preset is folded into
// the first user part. Inline image parts are emitted as image events.
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
		model = "gemini-pro"
	}
	return &Adapter{
		account: cred,
		client:  client,
		window:  llm.NewTokenWindow(cred.MaxTokens, cred.MinTokensReserve),
		model:   model,
		logger:  logger.WithField("backend", "gemini"),
	}, nil
}

func (a *Adapter) baseURL() string {
	if a.account.BaseURL != "" {
		return strings.TrimSuffix(a.account.BaseURL, "/")
	}
	return defaultBaseURL
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateChunk struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (a *Adapter) buildContents(prompt string) []content {
	history := a.window.Snapshot()
	var system string
	var contents []content
	for _, t := range history {
		switch t.Role {
		case llm.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += t.Content
		case llm.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: t.Content}}})
		default:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: t.Content}}})
		}
	}
	if system != "" {
		prompt = system + "\n\n" + prompt
	}
	return append(contents, content{Role: "user", Parts: []part{{Text: prompt}}})
}

func (a *Adapter) Ask(ctx context.Context, prompt string) (<-chan llm.Event, error) {
	body, err := json.Marshal(generateRequest{Contents: a.buildContents(prompt)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", a.baseURL(), a.model, a.account.APIKey)
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
			var chunk generateChunk
			if json.Unmarshal([]byte(ev.Data), &chunk) != nil {
				return true
			}
			for _, cand := range chunk.Candidates {
				for _, p := range cand.Content.Parts {
					if p.InlineData != nil {
						if data, err := base64.StdEncoding.DecodeString(p.InlineData.Data); err == nil {
							if !emitter.Image(ctx, data) {
								return false
							}
						}
						continue
					}
					if p.Text == "" {
						continue
					}
					full.WriteString(p.Text)
					if !emitter.Delta(ctx, full.String()) {
						return false
					}
				}
			}
			return true
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

// Probe lists available models for the key.
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
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models?key="+cred.APIKey, nil)
		if err != nil {
			return err
		}
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
