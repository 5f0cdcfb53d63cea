package renderer

import "strings"

// MultipleSegmentSplitter cuts a cumulative reply stream into
// deliverable segments on line boundaries, holding back fenced code
// blocks, display math and list runs until they are complete.
//
// Invariant: the concatenation of every emitted segment plus the final
// Result equals the last cumulative input exactly.
type MultipleSegmentSplitter struct {
	commit int
	last   string
}

func NewSplitter() *MultipleSegmentSplitter {
	return &MultipleSegmentSplitter{}
}

// Enter begins one ask cycle.
func (s *MultipleSegmentSplitter) Enter() {
	s.commit = 0
	s.last = ""
}

// Exit ends the cycle.
func (s *MultipleSegmentSplitter) Exit() {}

// Render consumes the cumulative reply so far and returns the segments
// that became complete with this input.
func (s *MultipleSegmentSplitter) Render(cumulative string) []string {
	s.last = cumulative
	var out []string
	for {
		seg := s.next(cumulative)
		if seg == "" {
			return out
		}
		out = append(out, seg)
		s.commit += len(seg)
	}
}

// Result flushes the uncommitted tail verbatim, including any
// unterminated fence or math block.
func (s *MultipleSegmentSplitter) Result() string {
	tail := s.last[s.commit:]
	s.commit = len(s.last)
	return tail
}

func (s *MultipleSegmentSplitter) next(cumulative string) string {
	unc := cumulative[s.commit:]
	if unc == "" {
		return ""
	}
	lines := strings.Split(unc, "\n")
	first := lines[0]

	// Fences take priority over the list rule.
	if strings.HasPrefix(first, "```") {
		return fencedBlock(lines, "```")
	}
	if strings.HasPrefix(first, "$$") {
		return fencedBlock(lines, "$$")
	}
	if strings.HasPrefix(first, "* ") {
		return listRun(lines)
	}
	if strings.HasSuffix(unc, "\n") {
		return unc
	}
	return ""
}

// fencedBlock buffers until a later line ends with the closing token,
// then returns the whole block.
func fencedBlock(lines []string, close string) string {
	for i := 1; i < len(lines); i++ {
		if strings.HasSuffix(lines[i], close) {
			block := strings.Join(lines[:i+1], "\n")
			if i+1 < len(lines) {
				// A newline followed the closing line.
				block += "\n"
			}
			return block
		}
	}
	return ""
}

// listRun holds consecutive list items until a completed non-list line
// arrives, then emits everything up to but not including the last,
// still incomplete line. The final element of the split is the text
// after the last newline and never decides anything.
func listRun(lines []string) string {
	for i := 1; i < len(lines)-1; i++ {
		if !strings.HasPrefix(lines[i], "* ") {
			return strings.Join(lines[:len(lines)-1], "\n") + "\n"
		}
	}
	return ""
}
