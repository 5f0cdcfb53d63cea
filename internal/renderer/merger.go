package renderer

import (
	"strings"
	"time"
)

// Merger buffers splitter segments and decides when a batch is worth
// delivering.
type Merger interface {
	Enter()
	Exit()
	// Render accepts one segment and returns any flushed batches.
	Render(segment string) []string
	// Result flushes what remains.
	Result() string
}

// TimeMerger flushes the accumulated segments once the wall-clock gap
// since the last flush reaches the configured delay.
type TimeMerger struct {
	delay     time.Duration
	now       func() time.Time
	buf       strings.Builder
	lastFlush time.Time
}

func NewTimeMerger(delay time.Duration) *TimeMerger {
	return &TimeMerger{delay: delay, now: time.Now}
}

func (m *TimeMerger) Enter() {
	m.buf.Reset()
	m.lastFlush = m.now()
}

func (m *TimeMerger) Exit() {}

func (m *TimeMerger) Render(segment string) []string {
	m.buf.WriteString(segment)
	if m.now().Sub(m.lastFlush) < m.delay {
		return nil
	}
	m.lastFlush = m.now()
	flushed := m.buf.String()
	m.buf.Reset()
	if flushed == "" {
		return nil
	}
	return []string{flushed}
}

func (m *TimeMerger) Result() string {
	flushed := m.buf.String()
	m.buf.Reset()
	return flushed
}

// LengthMerger flushes the prior accumulation when the next segment
// would push it past maxLength, then starts a new one with that
// segment.
type LengthMerger struct {
	maxLength int
	buf       strings.Builder
}

func NewLengthMerger(maxLength int) *LengthMerger {
	if maxLength <= 0 {
		maxLength = 1500
	}
	return &LengthMerger{maxLength: maxLength}
}

func (m *LengthMerger) Enter() { m.buf.Reset() }

func (m *LengthMerger) Exit() {}

func (m *LengthMerger) Render(segment string) []string {
	if m.buf.Len() > 0 && m.buf.Len()+len(segment) > m.maxLength {
		flushed := m.buf.String()
		m.buf.Reset()
		m.buf.WriteString(segment)
		return []string{flushed}
	}
	m.buf.WriteString(segment)
	return nil
}

func (m *LengthMerger) Result() string {
	flushed := m.buf.String()
	m.buf.Reset()
	return flushed
}
