package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chatgate-bot/chatgate/pkg/markdown"
)

// HTMLRenderService turns markdown replies into bitmaps by posting the
// rendered HTML document to an external headless-browser service.
type HTMLRenderService struct {
	url    string
	client *http.Client
	logger *logrus.Logger
}

func NewHTMLRenderService(url string, logger *logrus.Logger) *HTMLRenderService {
	return &HTMLRenderService{
		url:    url,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// RenderImage converts one markdown document to a PNG.
func (s *HTMLRenderService) RenderImage(ctx context.Context, md string) ([]byte, error) {
	doc := markdown.ToHTMLDocument(md)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	req.Header.Set("Accept", "image/png")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("render request failed with status %d: %s", resp.StatusCode, raw)
	}
	return io.ReadAll(resp.Body)
}
