package middleware

import (
	"context"

	"github.com/chatgate-bot/chatgate/internal/models"
)

// Next continues the request chain toward the adapter call.
type Next func(ctx context.Context) error

// RespondNext forwards one artifact toward Response.Send.
type RespondNext func(ctx context.Context, artifact *models.Artifact) error

// Middleware wraps both the request and every response emission. The
// chain composes them outer→inner in a fixed order; middlewares
// transform artifacts but never swallow taxonomy errors.
type Middleware interface {
	// HandleRequest runs when the dispatcher initiates the ask.
	HandleRequest(ctx context.Context, req *models.Request, resp *models.Response, next Next) error
	// HandleRespond runs for each artifact before it reaches the IM
	// adapter.
	HandleRespond(ctx context.Context, req *models.Request, resp *models.Response, artifact *models.Artifact, next RespondNext) error
	// HandleRespondCompleted runs once after the last artifact.
	HandleRespondCompleted(ctx context.Context, req *models.Request, resp *models.Response)
}

// Chain is the ordered middleware stack: Timeout → RateLimit →
// Moderation → ConcurrencyLock around the adapter call.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a chain in the given order.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// ExecuteRequest runs the request hooks around final.
func (c *Chain) ExecuteRequest(ctx context.Context, req *models.Request, resp *models.Response, final Next) error {
	next := final
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw := c.middlewares[i]
		inner := next
		next = func(ctx context.Context) error {
			return mw.HandleRequest(ctx, req, resp, inner)
		}
	}
	return next(ctx)
}

// ExecuteRespond runs the respond hooks around final for one artifact.
func (c *Chain) ExecuteRespond(ctx context.Context, req *models.Request, resp *models.Response, artifact *models.Artifact, final RespondNext) error {
	next := final
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw := c.middlewares[i]
		inner := next
		next = func(ctx context.Context, a *models.Artifact) error {
			return mw.HandleRespond(ctx, req, resp, a, inner)
		}
	}
	return next(ctx, artifact)
}

// Completed notifies every middleware after the last artifact.
func (c *Chain) Completed(ctx context.Context, req *models.Request, resp *models.Response) {
	for _, mw := range c.middlewares {
		mw.HandleRespondCompleted(ctx, req, resp)
	}
}
