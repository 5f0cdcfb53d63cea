package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/models"
	"github.com/chatgate-bot/chatgate/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// RateLimit enforces the per-hour message quota for the session's
// scope. A missing limit means unlimited; a rate of 0 disables the
// scope. Usage is incremented once per completed request.
type RateLimit struct {
	store       ratelimit.Store
	kind        ratelimit.Kind
	warningRate float64
	texts       *config.TextConfig
	logger      *logrus.Logger
}

func NewRateLimit(store ratelimit.Store, warningRate float64, texts *config.TextConfig, logger *logrus.Logger) *RateLimit {
	return &RateLimit{
		store:       store,
		kind:        ratelimit.KindChat,
		warningRate: warningRate,
		texts:       texts,
		logger:      logger,
	}
}

// NewDrawRateLimit meters against the drawing quota instead of the
// chat quota.
func NewDrawRateLimit(store ratelimit.Store, warningRate float64, texts *config.TextConfig, logger *logrus.Logger) *RateLimit {
	rl := NewRateLimit(store, warningRate, texts, logger)
	rl.kind = ratelimit.KindDraw
	return rl
}

// scopeOf splits "<chat-type>-<chat-id>" into the store's vocabulary.
func scopeOf(sessionID string) (string, string) {
	id := sessionID
	if i := strings.Index(sessionID, "-"); i >= 0 {
		id = sessionID[i+1:]
	}
	if strings.HasPrefix(sessionID, "group-") {
		return ratelimit.ScopeGroup, id
	}
	return ratelimit.ScopeFriend, id
}

func (r *RateLimit) exceeded(ctx context.Context, sessionID string) (bool, error) {
	scope, id := scopeOf(sessionID)
	rate, found, err := r.store.GetLimit(ctx, r.kind, scope, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if rate == 0 {
		return true, nil
	}
	usage, err := r.store.GetUsage(ctx, r.kind, scope, id)
	if err != nil {
		return false, err
	}
	return usage.Count >= rate, nil
}

func (r *RateLimit) HandleRequest(ctx context.Context, req *models.Request, resp *models.Response, next Next) error {
	over, err := r.exceeded(ctx, req.SessionID)
	if err != nil {
		r.logger.WithError(err).Warn("Rate limit lookup failed, allowing request")
		return next(ctx)
	}
	if over {
		r.logger.WithField("session_id", req.SessionID).Info("Rate limit exceeded")
		return resp.Send(ctx, models.TextArtifact(r.texts.RateExceeded))
	}
	return next(ctx)
}

func (r *RateLimit) HandleRespond(ctx context.Context, req *models.Request, resp *models.Response, artifact *models.Artifact, next RespondNext) error {
	return next(ctx, artifact)
}

func (r *RateLimit) HandleRespondCompleted(ctx context.Context, req *models.Request, resp *models.Response) {
	scope, id := scopeOf(req.SessionID)
	if err := r.store.IncrementUsage(ctx, r.kind, scope, id); err != nil {
		r.logger.WithError(err).Warn("Failed to increment usage counter")
		return
	}

	rate, found, err := r.store.GetLimit(ctx, r.kind, scope, id)
	if err != nil || !found || rate <= 0 {
		return
	}
	usage, err := r.store.GetUsage(ctx, r.kind, scope, id)
	if err != nil {
		return
	}
	if float64(usage.Count)/float64(rate) >= r.warningRate {
		warning := fmt.Sprintf(r.texts.RateWarning, usage.Count, rate)
		if err := resp.Send(ctx, models.TextArtifact(warning)); err != nil {
			r.logger.WithError(err).Warn("Failed to send rate warning")
		}
	}
}
