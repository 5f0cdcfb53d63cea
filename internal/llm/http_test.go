package llm

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyHTTPStatus(t *testing.T) {
	require.ErrorIs(t, ClassifyHTTPStatus(http.StatusUnauthorized, 0, ""), ErrAuthenticationFailed)
	require.ErrorIs(t, ClassifyHTTPStatus(http.StatusForbidden, 0, ""), ErrAuthenticationFailed)
	require.ErrorIs(t, ClassifyHTTPStatus(http.StatusConflict, 0, ""), ErrConcurrentMessage)
	require.ErrorIs(t, ClassifyHTTPStatus(http.StatusRequestTimeout, 0, ""), ErrRequestTimeout)
	require.ErrorIs(t, ClassifyHTTPStatus(http.StatusGatewayTimeout, 0, ""), ErrRequestTimeout)

	var rateErr *RateLimitError
	err := ClassifyHTTPStatus(http.StatusTooManyRequests, 30*time.Second, "")
	require.ErrorAs(t, err, &rateErr)
	require.False(t, rateErr.EstimatedAt.IsZero())

	var reqErr *RequestError
	err = ClassifyHTTPStatus(http.StatusInternalServerError, 0, "boom")
	require.ErrorAs(t, err, &reqErr)
	require.Contains(t, reqErr.Error(), "500")
}

func TestClassifyTransportError(t *testing.T) {
	require.ErrorIs(t, ClassifyTransportError(context.DeadlineExceeded), ErrRequestTimeout)
	require.ErrorIs(t, ClassifyTransportError(context.Canceled), context.Canceled)

	var reqErr *RequestError
	require.ErrorAs(t, ClassifyTransportError(errors.New("connection refused")), &reqErr)
}

func TestParseRetryAfter(t *testing.T) {
	require.Equal(t, time.Duration(0), ParseRetryAfter(nil))

	resp := &http.Response{Header: http.Header{}}
	require.Equal(t, time.Duration(0), ParseRetryAfter(resp))

	resp.Header.Set("Retry-After", "30")
	require.Equal(t, 30*time.Second, ParseRetryAfter(resp))

	// HTTP-date form yields the remaining duration.
	resp.Header.Set("Retry-After", time.Now().Add(2*time.Minute).UTC().Format(http.TimeFormat))
	d := ParseRetryAfter(resp)
	require.Greater(t, d, time.Minute)
	require.LessOrEqual(t, d, 2*time.Minute)

	resp.Header.Set("Retry-After", "not-a-date")
	require.Equal(t, time.Duration(0), ParseRetryAfter(resp))
}

func TestNewHTTPClient_RejectsBadProxy(t *testing.T) {
	_, err := NewHTTPClient("://not-a-url")
	require.Error(t, err)

	c, err := NewHTTPClient("")
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestEmitter_DeliversAndCloses(t *testing.T) {
	e, ch := NewEmitter()
	ctx := context.Background()

	go func() {
		e.Delta(ctx, "partial")
		e.Delta(ctx, "partial and more")
		e.End(ctx)
	}()

	var texts []string
	var sawEnd bool
	for ev := range ch {
		switch ev.Kind {
		case EventDelta:
			texts = append(texts, ev.Text)
		case EventEnd:
			sawEnd = true
		}
	}
	require.Equal(t, []string{"partial", "partial and more"}, texts)
	require.True(t, sawEnd)
}

func TestEmitter_FailTerminatesStream(t *testing.T) {
	e, ch := NewEmitter()
	go e.Fail(context.Background(), ErrAuthenticationFailed)

	var last Event
	for ev := range ch {
		last = ev
	}
	require.Equal(t, EventError, last.Kind)
	require.ErrorIs(t, last.Err, ErrAuthenticationFailed)
}
