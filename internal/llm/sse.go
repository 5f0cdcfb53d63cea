package llm

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one server-sent event frame.
type SSEEvent struct {
	Event string
	Data  string
}

// ReadSSE scans a text/event-stream body and invokes fn for every data
// frame until the stream ends, fn returns false, or a "[DONE]" sentinel
// arrives. Comment lines and empty frames are skipped.
func ReadSSE(body io.Reader, fn func(ev SSEEvent) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data strings.Builder
	flush := func() bool {
		if data.Len() == 0 {
			event.Reset()
			return true
		}
		ev := SSEEvent{Event: event.String(), Data: strings.TrimSuffix(data.String(), "\n")}
		event.Reset()
		data.Reset()
		if ev.Data == "[DONE]" {
			return false
		}
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// comment, keep-alive
		case strings.HasPrefix(line, "event:"):
			event.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			data.WriteString("\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}
