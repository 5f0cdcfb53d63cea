package llm

import (
	"context"
)

// Role of one conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one (role, content) pair of an adapter's in-memory history.
type Turn struct {
	Role    Role
	Content string
}

// Adapter is the uniform contract every backend implements. Each
// instance is owned by exactly one conversation context; the
// concurrency-lock middleware guarantees single-caller Ask.
type Adapter interface {
	// Ask streams the reply for one prompt. Delta events carry the
	// cumulative reply so far, not increments. The returned channel is
	// closed after an End or Error event.
	Ask(ctx context.Context, prompt string) (<-chan Event, error)

	// Rollback drops the last user/assistant exchange. It returns
	// ErrOperationNotSupported for providers without history control
	// and false when fewer than two turns exist.
	Rollback() (bool, error)

	// SwitchModel changes the current model.
	SwitchModel(name string)

	// CurrentModel reports the active model name.
	CurrentModel() string

	// SupportedModels lists models this adapter accepts.
	SupportedModels() []string

	// PresetAsk replays one preset line. Assistant lines are appended
	// without any network request; system and user lines follow
	// provider semantics.
	PresetAsk(ctx context.Context, role Role, prompt string) error

	// OnDestroyed releases remote conversation state. Best-effort.
	OnDestroyed(ctx context.Context)
}

// Factory constructs a fresh adapter for a backend type, picking an
// account from the manager on each call.
type Factory func(ctx context.Context) (Adapter, error)
