package collab

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/sirupsen/logrus"
)

// DrawingFailedError names the cause of an image generation failure.
type DrawingFailedError struct {
	Cause error
}

func (e *DrawingFailedError) Error() string {
	return fmt.Sprintf("drawing failed: %v", e.Cause)
}

func (e *DrawingFailedError) Unwrap() error { return e.Cause }

// HTTPDrawing talks to an openai-compatible images endpoint.
type HTTPDrawing struct {
	cfg    config.DrawingConfig
	client *http.Client
	logger *logrus.Logger
}

func NewHTTPDrawing(cfg config.DrawingConfig, logger *logrus.Logger) *HTTPDrawing {
	return &HTTPDrawing{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

type imageRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	// Images carries the base64 source images of a variation request.
	Images         []string `json:"images,omitempty"`
	ResponseFormat string   `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (d *HTTPDrawing) TextToImage(ctx context.Context, prompt string) ([][]byte, error) {
	return d.generate(ctx, "/images/generations", d.request(prompt))
}

// ImageToImage submits the source images base64-encoded alongside the
// prompt.
func (d *HTTPDrawing) ImageToImage(ctx context.Context, images [][]byte, prompt string) ([][]byte, error) {
	payload := d.request(prompt)
	for _, img := range images {
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(img))
	}
	return d.generate(ctx, "/images/variations", payload)
}

func (d *HTTPDrawing) request(prompt string) imageRequest {
	return imageRequest{
		Model:          d.cfg.Model,
		Prompt:         prompt,
		Size:           d.cfg.Size,
		ResponseFormat: "b64_json",
	}
}

func (d *HTTPDrawing) generate(ctx context.Context, path string, payload imageRequest) ([][]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &DrawingFailedError{Cause: err}
	}

	url := strings.TrimSuffix(d.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &DrawingFailedError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &DrawingFailedError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DrawingFailedError{Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &DrawingFailedError{Cause: fmt.Errorf("status %d: %s", resp.StatusCode, raw)}
	}

	var parsed imageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &DrawingFailedError{Cause: err}
	}
	if parsed.Error.Message != "" {
		return nil, &DrawingFailedError{Cause: fmt.Errorf("%s", parsed.Error.Message)}
	}

	var out [][]byte
	for _, item := range parsed.Data {
		img, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			d.logger.WithError(err).Warn("Skipping undecodable image payload")
			continue
		}
		out = append(out, img)
	}
	if len(out) == 0 {
		return nil, &DrawingFailedError{Cause: fmt.Errorf("no image in response")}
	}
	return out, nil
}
