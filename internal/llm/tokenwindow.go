package llm

import (
	"sync"
	"unicode/utf8"
)

// TokenWindow is the in-memory ordered history kept by token-budget
// adapters. It evicts the oldest non-preset turns until the next
// request fits the model's context window.
type TokenWindow struct {
	mu sync.Mutex

	turns []Turn
	// keepFrom is 1 while a system preset occupies index 0, else 0.
	// Turns below this index are never evicted.
	keepFrom int

	maxTokens        int
	minTokensReserve int
}

// NewTokenWindow creates a window with the given budget. Sensible
// fallbacks apply when the account leaves the limits unset.
func NewTokenWindow(maxTokens, minReserve int) *TokenWindow {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if minReserve <= 0 {
		minReserve = 500
	}
	return &TokenWindow{
		maxTokens:        maxTokens,
		minTokensReserve: minReserve,
	}
}

// estimateTokens approximates the token cost of a string. CJK runes
// count as one token each, other text as one per four bytes.
func estimateTokens(s string) int {
	runes := utf8.RuneCountInString(s)
	bytes := len(s)
	wide := (bytes - runes) / 2
	narrow := runes - wide
	return wide + narrow/4 + 1
}

// Append adds one turn, setting keepFrom when a system preset lands at
// index 0.
func (w *TokenWindow) Append(role Role, content string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.turns) == 0 && role == RoleSystem {
		w.keepFrom = 1
	}
	w.turns = append(w.turns, Turn{Role: role, Content: content})
}

// Snapshot returns a copy of the history after evicting the oldest
// evictable turns until maxTokens − used ≥ minTokensReserve.
func (w *TokenWindow) Snapshot() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()

	used := 0
	for _, t := range w.turns {
		used += estimateTokens(t.Content)
	}
	for w.maxTokens-used < w.minTokensReserve && len(w.turns) > w.keepFrom+1 {
		evicted := w.turns[w.keepFrom]
		used -= estimateTokens(evicted.Content)
		w.turns = append(w.turns[:w.keepFrom], w.turns[w.keepFrom+1:]...)
	}

	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// Rollback removes the last user/assistant pair atomically. It is a
// no-op returning false when fewer than two evictable turns exist.
func (w *TokenWindow) Rollback() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.turns)-w.keepFrom < 2 {
		return false
	}
	w.turns = w.turns[:len(w.turns)-2]
	return true
}

// Len reports the number of stored turns.
func (w *TokenWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

// Reset drops all turns and the preset marker.
func (w *TokenWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
	w.keepFrom = 0
}
