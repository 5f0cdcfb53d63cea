package llm

import "context"

// EventKind discriminates stream events.
type EventKind int

const (
	// EventDelta carries the cumulative reply text so far.
	EventDelta EventKind = iota
	// EventImage carries an inline image produced by the provider.
	EventImage
	// EventEnd terminates the stream normally.
	EventEnd
	// EventError terminates the stream with a taxonomy error.
	EventError
)

// Event is one element of an adapter's ask stream.
type Event struct {
	Kind  EventKind
	Text  string
	Image []byte
	Err   error
}

// streamBuffer is the bounded channel size for ask streams. Producers
// block once consumers fall this far behind.
const streamBuffer = 16

// Emitter writes ask events honoring context cancellation. Adapters
// use it so that an abandoned consumer never leaks the producing
// goroutine.
type Emitter struct {
	ch chan Event
}

// NewEmitter creates an emitter and returns it with its read side.
func NewEmitter() (*Emitter, <-chan Event) {
	ch := make(chan Event, streamBuffer)
	return &Emitter{ch: ch}, ch
}

// Delta emits a cumulative text event.
func (e *Emitter) Delta(ctx context.Context, cumulative string) bool {
	return e.emit(ctx, Event{Kind: EventDelta, Text: cumulative})
}

// Image emits an inline image event.
func (e *Emitter) Image(ctx context.Context, data []byte) bool {
	return e.emit(ctx, Event{Kind: EventImage, Image: data})
}

// End terminates the stream normally and closes the channel.
func (e *Emitter) End(ctx context.Context) {
	e.emit(ctx, Event{Kind: EventEnd})
	close(e.ch)
}

// Fail terminates the stream with an error and closes the channel.
func (e *Emitter) Fail(ctx context.Context, err error) {
	e.emit(ctx, Event{Kind: EventError, Err: err})
	close(e.ch)
}

func (e *Emitter) emit(ctx context.Context, ev Event) bool {
	select {
	case e.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
