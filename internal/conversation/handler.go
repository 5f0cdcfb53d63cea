package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chatgate-bot/chatgate/internal/accounts"
	"github.com/chatgate-bot/chatgate/internal/llm"
	"github.com/chatgate-bot/chatgate/internal/renderer"
	"github.com/chatgate-bot/chatgate/pkg/logger"
)

// Deps carries everything a new conversation context needs.
type Deps struct {
	Factories      map[string]llm.Factory
	DefaultBackend string
	RenderOpts     renderer.Options
	RemoveOld      bool
	Logger         *logrus.Logger
}

// Handler manages the conversation contexts of one session. One
// context exists per backend type the session has talked to; exactly
// one of them is current.
type Handler struct {
	sessionID string
	deps      Deps

	mu       sync.Mutex
	contexts map[string]*Context
	current  *Context
}

func newHandler(sessionID string, deps Deps) *Handler {
	return &Handler{
		sessionID: sessionID,
		deps:      deps,
		contexts:  make(map[string]*Context),
	}
}

// Current returns the session's active context, creating one for the
// default backend on first use.
func (h *Handler) Current(ctx context.Context) (*Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil {
		return h.current, nil
	}
	return h.switchLocked(ctx, h.deps.DefaultBackend)
}

// Switch makes a backend type current, creating its context on first
// use. The previous backend's context is kept; switching back resumes
// its conversation.
func (h *Handler) Switch(ctx context.Context, backendType string) (*Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.switchLocked(ctx, backendType)
}

// Use returns the context for a backend type without making it
// current. Prefix-dispatched one-shot asks go through here.
func (h *Handler) Use(ctx context.Context, backendType string) (*Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.current
	c, err := h.switchLocked(ctx, backendType)
	h.current = prev
	return c, err
}

func (h *Handler) switchLocked(ctx context.Context, backendType string) (*Context, error) {
	if c, ok := h.contexts[backendType]; ok {
		h.current = c
		return c, nil
	}

	factory, ok := h.deps.Factories[backendType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounts.ErrBotTypeNotFound, backendType)
	}

	log := logger.WithSession(h.deps.Logger, h.sessionID, "").WithField("backend", backendType)
	c, err := NewContext(ctx, h.sessionID, backendType, factory, h.deps.RenderOpts, h.deps.RemoveOld, log)
	if err != nil {
		return nil, err
	}
	h.contexts[backendType] = c
	h.current = c
	return c, nil
}

// Registry hands out per-session handlers, creating them lazily.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Handler
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Handler),
	}
}

// Get returns the handler for a session id, creating it on first use.
func (r *Registry) Get(sessionID string) *Handler {
	r.mu.RLock()
	h, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.sessions[sessionID]; ok {
		return h
	}
	h = newHandler(sessionID, r.deps)
	r.sessions[sessionID] = h
	return h
}

// Len reports how many sessions are known.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Remove drops a session's handler and releases its contexts.
func (r *Registry) Remove(ctx context.Context, sessionID string) {
	r.mu.Lock()
	h, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.contexts {
		c.Destroy(ctx)
	}
}
