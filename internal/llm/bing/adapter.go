package bing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chatgate-bot/chatgate/internal/accounts"
	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/llm"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://www.bing.com"
	chatHubPath    = "/sydney/ChatHub"
	// recordSeparator terminates every chathub frame.
	recordSeparator = "\x1e"
)

var supportedModels = []string{"creative", "balanced", "precise"}

// Adapter speaks the Bing chathub WebSocket protocol with a cookie
// credential. Conversation state lives remotely; rollback is not
// supported and only one request may be in flight per account.
type Adapter struct {
	account *config.CookieAccount
	client  *http.Client
	logger  *logrus.Entry

	model          string
	conversationID string
	clientID       string
	signature      string
	invocation     int
	inFlight       atomic.Bool
}

func New(account *accounts.Account, logger *logrus.Logger) (*Adapter, error) {
	cred := account.Cookie
	client, err := llm.NewHTTPClient(cred.Proxy)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		account: cred,
		client:  client,
		model:   "balanced",
		logger:  logger.WithField("backend", "bing"),
	}, nil
}

func (a *Adapter) baseURL() string {
	if a.account.BaseURL != "" {
		return strings.TrimSuffix(a.account.BaseURL, "/")
	}
	return defaultBaseURL
}

type conversationResponse struct {
	ConversationID        string `json:"conversationId"`
	ClientID              string `json:"clientId"`
	ConversationSignature string `json:"conversationSignature"`
	Result                struct {
		Value string `json:"value"`
	} `json:"result"`
}

// ensureConversation creates the remote conversation on first use.
func (a *Adapter) ensureConversation(ctx context.Context) error {
	if a.conversationID != "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL()+"/turing/conversation/create", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", a.account.Cookie)
	resp, err := a.client.Do(req)
	if err != nil {
		return llm.ClassifyTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return llm.ClassifyHTTPStatus(resp.StatusCode, llm.ParseRetryAfter(resp), "")
	}
	var conv conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return &llm.RequestError{Cause: err}
	}
	if conv.Result.Value != "" && conv.Result.Value != "Success" {
		return llm.ErrAuthenticationFailed
	}
	a.conversationID = conv.ConversationID
	a.clientID = conv.ClientID
	a.signature = conv.ConversationSignature
	a.invocation = 0
	return nil
}

type hubFrame struct {
	Type  int `json:"type"`
	Items []struct {
		Messages []struct {
			Author string `json:"author"`
			Text   string `json:"text"`
		} `json:"messages"`
	} `json:"arguments"`
	Item struct {
		Result struct {
			Value   string `json:"value"`
			Message string `json:"message"`
		} `json:"result"`
	} `json:"item"`
}

// Ask relays one prompt over the chathub socket. Frames of type 1
// carry the cumulative bot text so far; type 2 closes the exchange.
func (a *Adapter) Ask(ctx context.Context, prompt string) (<-chan llm.Event, error) {
	if !a.inFlight.CompareAndSwap(false, true) {
		return nil, llm.ErrConcurrentMessage
	}
	if err := a.ensureConversation(ctx); err != nil {
		a.inFlight.Store(false)
		return nil, err
	}

	wsURL := strings.Replace(a.baseURL(), "https://", "wss://", 1) + chatHubPath
	header := http.Header{"Cookie": []string{a.account.Cookie}}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		a.inFlight.Store(false)
		return nil, llm.ClassifyTransportError(err)
	}

	emitter, events := llm.NewEmitter()
	go a.stream(ctx, conn, prompt, emitter)
	return events, nil
}

func (a *Adapter) stream(ctx context.Context, conn *websocket.Conn, prompt string, emitter *llm.Emitter) {
	defer a.inFlight.Store(false)
	defer conn.Close()

	handshake := `{"protocol":"json","version":1}` + recordSeparator
	if err := conn.WriteMessage(websocket.TextMessage, []byte(handshake)); err != nil {
		emitter.Fail(ctx, llm.ClassifyTransportError(err))
		return
	}
	// Handshake ack frame.
	if _, _, err := conn.ReadMessage(); err != nil {
		emitter.Fail(ctx, llm.ClassifyTransportError(err))
		return
	}

	a.invocation++
	ask := map[string]interface{}{
		"type":         4,
		"invocationId": fmt.Sprint(a.invocation),
		"target":       "chat",
		"arguments": []map[string]interface{}{{
			"source":      "cib",
			"isStartOfSession": a.invocation == 1,
			"conversationId":        a.conversationID,
			"conversationSignature": a.signature,
			"participant":           map[string]string{"id": a.clientID},
			"traceId":               strings.ReplaceAll(uuid.NewString(), "-", ""),
			"tone":                  a.model,
			"message": map[string]string{
				"author":      "user",
				"messageType": "Chat",
				"text":        prompt,
			},
		}},
	}
	payload, err := json.Marshal(ask)
	if err != nil {
		emitter.Fail(ctx, &llm.RequestError{Cause: err})
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, append(payload, recordSeparator...)); err != nil {
		emitter.Fail(ctx, llm.ClassifyTransportError(err))
		return
	}

	var last string
	for {
		select {
		case <-ctx.Done():
			emitter.Fail(ctx, ctx.Err())
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			emitter.Fail(ctx, llm.ClassifyTransportError(err))
			return
		}
		for _, part := range strings.Split(string(raw), recordSeparator) {
			if strings.TrimSpace(part) == "" {
				continue
			}
			var frame hubFrame
			if json.Unmarshal([]byte(part), &frame) != nil {
				continue
			}
			switch frame.Type {
			case 1:
				for _, item := range frame.Items {
					for _, msg := range item.Messages {
						if msg.Author != "bot" || msg.Text == "" || msg.Text == last {
							continue
						}
						last = msg.Text
						if !emitter.Delta(ctx, last) {
							return
						}
					}
				}
			case 2:
				switch frame.Item.Result.Value {
				case "", "Success":
					emitter.End(ctx)
				case "Throttled":
					// Chathub reports no retry window; assume a minute.
					emitter.Fail(ctx, &llm.RateLimitError{EstimatedAt: time.Now().Add(time.Minute)})
				case "UnauthorizedRequest":
					emitter.Fail(ctx, llm.ErrAuthenticationFailed)
				default:
					emitter.Fail(ctx, &llm.RequestError{Cause: fmt.Errorf("chathub: %s", frame.Item.Result.Message)})
				}
				return
			}
		}
	}
}

// Rollback is not supported; conversation state is remote.
func (a *Adapter) Rollback() (bool, error) {
	return false, llm.ErrOperationNotSupported
}

// SwitchModel selects the conversation tone.
func (a *Adapter) SwitchModel(name string) { a.model = name }

func (a *Adapter) CurrentModel() string { return a.model }

func (a *Adapter) SupportedModels() []string { return supportedModels }

// PresetAsk fires a silent warm-up for user lines. System and
// assistant lines cannot be injected into a remote conversation and
// are dropped.
func (a *Adapter) PresetAsk(ctx context.Context, role llm.Role, prompt string) error {
	if role != llm.RoleUser {
		return nil
	}
	events, err := a.Ask(ctx, prompt)
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Kind == llm.EventError {
			return ev.Err
		}
	}
	return nil
}

// OnDestroyed forgets the remote conversation. The next Ask creates a
// fresh one; remote deletion is not exposed by the endpoint.
func (a *Adapter) OnDestroyed(ctx context.Context) {
	a.conversationID = ""
	a.clientID = ""
	a.signature = ""
	a.invocation = 0
}

// Probe creates and discards a conversation to validate the cookie.
func Probe(cred *config.CookieAccount) accounts.ProbeFunc {
	return func(ctx context.Context) error {
		client, err := llm.NewHTTPClient(cred.Proxy)
		if err != nil {
			return err
		}
		base := defaultBaseURL
		if cred.BaseURL != "" {
			base = strings.TrimSuffix(cred.BaseURL, "/")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/turing/conversation/create", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Cookie", cred.Cookie)
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
