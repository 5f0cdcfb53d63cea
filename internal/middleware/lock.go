package middleware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/models"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when a session's queue exceeds the
// configured maximum.
var ErrQueueFull = errors.New("middleware: session queue full")

// QueueInfo serializes requests within one session. The semaphore
// channel doubles as a context-aware mutex; size counts waiters plus
// the holder and never goes negative.
type QueueInfo struct {
	sem  chan struct{}
	size atomic.Int64
}

func newQueueInfo() *QueueInfo {
	return &QueueInfo{sem: make(chan struct{}, 1)}
}

// Size reports the current queue depth.
func (q *QueueInfo) Size() int64 { return q.size.Load() }

func (q *QueueInfo) acquire(ctx context.Context) error {
	select {
	case q.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *QueueInfo) release() {
	<-q.sem
}

// ConcurrencyLock serializes asks per session in arrival order and
// applies queue backpressure. The per-session QueueInfo map lives in a
// go-cache with idle expiry so abandoned sessions do not accumulate.
type ConcurrencyLock struct {
	maxQueue   int
	noticeSize int
	texts      *config.TextConfig
	logger     *logrus.Logger

	mu     sync.Mutex
	queues *gocache.Cache
}

func NewConcurrencyLock(cfg *config.ResponseConfig, texts *config.TextConfig, logger *logrus.Logger) *ConcurrencyLock {
	return &ConcurrencyLock{
		maxQueue:   cfg.MaxQueueSize,
		noticeSize: cfg.QueuedNoticeSize,
		texts:      texts,
		logger:     logger,
		queues:     gocache.New(30*time.Minute, 10*time.Minute),
	}
}

func (l *ConcurrencyLock) queueFor(sessionID string) *QueueInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.queues.Get(sessionID); ok {
		q := v.(*QueueInfo)
		// Refresh the idle timer.
		l.queues.SetDefault(sessionID, q)
		return q
	}
	q := newQueueInfo()
	l.queues.SetDefault(sessionID, q)
	return q
}

func (l *ConcurrencyLock) HandleRequest(ctx context.Context, req *models.Request, resp *models.Response, next Next) error {
	q := l.queueFor(req.SessionID)

	size := q.size.Add(1)
	defer q.size.Add(-1)

	if l.maxQueue > 0 && size > int64(l.maxQueue) {
		l.logger.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"queue_size": size,
		}).Info("Session queue full, refusing request")
		if err := resp.Send(ctx, models.TextArtifact(l.texts.QueueFull)); err != nil {
			return err
		}
		return ErrQueueFull
	}

	if l.noticeSize > 0 && size > int64(l.noticeSize) {
		if err := resp.Send(ctx, models.TextArtifact(l.texts.Queued)); err != nil {
			l.logger.WithError(err).Warn("Failed to send queued notice")
		}
	}

	if err := q.acquire(ctx); err != nil {
		return err
	}
	defer q.release()

	return next(ctx)
}

func (l *ConcurrencyLock) HandleRespond(ctx context.Context, req *models.Request, resp *models.Response, artifact *models.Artifact, next RespondNext) error {
	return next(ctx, artifact)
}

func (l *ConcurrencyLock) HandleRespondCompleted(ctx context.Context, req *models.Request, resp *models.Response) {}
