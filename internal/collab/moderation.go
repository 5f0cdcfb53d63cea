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

// HTTPModerator talks to an openai-compatible moderations endpoint.
type HTTPModerator struct {
	cfg    config.ModerationConfig
	client *http.Client
	logger *logrus.Logger
}

func NewHTTPModerator(cfg config.ModerationConfig, logger *logrus.Logger) *HTTPModerator {
	return &HTTPModerator{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

func (m *HTTPModerator) Check(ctx context.Context, text string) (bool, string, error) {
	body, err := json.Marshal(map[string]string{"input": text})
	if err != nil {
		return true, "", err
	}
	url := strings.TrimSuffix(m.cfg.BaseURL, "/") + "/moderations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return true, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return true, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return true, "", fmt.Errorf("moderation request failed with status %d: %s", resp.StatusCode, raw)
	}

	var parsed moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return true, "", err
	}
	if len(parsed.Results) == 0 || !parsed.Results[0].Flagged {
		return true, "", nil
	}

	var reasons []string
	for cat, hit := range parsed.Results[0].Categories {
		if hit {
			reasons = append(reasons, cat)
		}
	}
	return false, strings.Join(reasons, ","), nil
}
