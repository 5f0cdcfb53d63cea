package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// NewHTTPClient builds the streaming HTTP client shared by the API-key
// adapters. Proxy may be empty. No overall client timeout is set; the
// per-request context bounds the stream lifetime.
func NewHTTPClient(proxy string) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	transport.ResponseHeaderTimeout = 60 * time.Second
	return &http.Client{Transport: transport}, nil
}

// ClassifyHTTPStatus maps a non-200 provider response to the failure
// taxonomy. The body is read for logging by the caller beforehand.
func ClassifyHTTPStatus(status int, retryAfter time.Duration, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthenticationFailed
	case status == http.StatusTooManyRequests:
		if retryAfter <= 0 {
			retryAfter = time.Minute
		}
		return &RateLimitError{EstimatedAt: time.Now().Add(retryAfter)}
	case status == http.StatusConflict:
		return ErrConcurrentMessage
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrRequestTimeout
	default:
		return &RequestError{Cause: fmt.Errorf("status %d: %s", status, truncate(body, 200))}
	}
}

// ClassifyTransportError maps connection-level failures to the
// taxonomy.
func ClassifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrRequestTimeout
	case errors.Is(err, context.Canceled):
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrRequestTimeout
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &RequestError{Cause: err}
	}
	return &RequestError{Cause: err}
}

// ParseRetryAfter reads the Retry-After header of a 429 response.
// Both the delta-seconds and the HTTP-date forms are accepted.
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
