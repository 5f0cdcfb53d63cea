package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/models"
	"github.com/sirupsen/logrus"
)

// Timeout enforces the hard overall deadline per request and emits a
// "still working" notice when the ask outlives the notice delay. Only
// the overall deadline is authoritative; the notice is informational.
type Timeout struct {
	deadline    time.Duration
	noticeDelay time.Duration
	texts       *config.TextConfig
	logger      *logrus.Logger

	mu      sync.Mutex
	pending map[*models.Request]chan struct{}
}

func NewTimeout(cfg *config.ResponseConfig, texts *config.TextConfig, logger *logrus.Logger) *Timeout {
	return &Timeout{
		deadline:    cfg.Timeout,
		noticeDelay: cfg.NoticeDelay,
		texts:       texts,
		logger:      logger,
		pending:     make(map[*models.Request]chan struct{}),
	}
}

func (t *Timeout) HandleRequest(ctx context.Context, req *models.Request, resp *models.Response, next Next) error {
	ctx, cancel := context.WithTimeout(ctx, t.deadline)
	defer cancel()

	stop := make(chan struct{})
	t.mu.Lock()
	t.pending[req] = stop
	t.mu.Unlock()

	go func() {
		select {
		case <-time.After(t.noticeDelay):
			t.logger.WithField("session_id", req.SessionID).Debug("Ask still running, sending notice")
			if err := resp.Send(ctx, models.TextArtifact(t.texts.StillWorking)); err != nil {
				t.logger.WithError(err).Warn("Failed to send still-working notice")
			}
		case <-stop:
		case <-ctx.Done():
		}
	}()

	err := next(ctx)
	if errors.Is(err, context.DeadlineExceeded) || (err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		t.logger.WithField("session_id", req.SessionID).Warn("Ask exceeded overall deadline")
		// Terminal for the request; no retry.
		return resp.Send(context.WithoutCancel(ctx), models.TextArtifact(t.texts.WaitTooLong))
	}
	return err
}

// HandleRespond cancels the notice once real content flows.
func (t *Timeout) HandleRespond(ctx context.Context, req *models.Request, resp *models.Response, artifact *models.Artifact, next RespondNext) error {
	if !artifact.IsEmpty() {
		t.stopNotice(req)
	}
	return next(ctx, artifact)
}

func (t *Timeout) HandleRespondCompleted(ctx context.Context, req *models.Request, resp *models.Response) {
	t.stopNotice(req)
	t.mu.Lock()
	delete(t.pending, req)
	t.mu.Unlock()
}

func (t *Timeout) stopNotice(req *models.Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stop, ok := t.pending[req]; ok {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
}
