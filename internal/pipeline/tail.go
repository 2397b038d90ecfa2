package pipeline

import (
	"strings"
	"sync"
)

// DefaultTailLines is how many trailing lines failed runs carry for
// diagnostics.
const DefaultTailLines = 20

// TailBuffer keeps the last N lines written to it. It implements io.Writer so
// it can mirror the stderr of external tools, and failed runs snapshot it into
// their diagnostic tail.
type TailBuffer struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	partial strings.Builder
}

// NewTailBuffer creates a tail buffer holding at most limit lines.
func NewTailBuffer(limit int) *TailBuffer {
	if limit <= 0 {
		limit = DefaultTailLines
	}
	return &TailBuffer{limit: limit}
}

// Write splits p into lines and appends them, keeping only the newest limit
// lines. Incomplete trailing data is held until its newline arrives.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			t.appendLocked(t.partial.String())
			t.partial.Reset()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

// Append adds a single line.
func (t *TailBuffer) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(line)
}

func (t *TailBuffer) appendLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

// Lines returns a copy of the buffered lines, oldest first. Data still
// waiting for its newline is included as a final line.
func (t *TailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.lines), len(t.lines)+1)
	copy(out, t.lines)
	if rest := strings.TrimSpace(t.partial.String()); rest != "" {
		out = append(out, rest)
		if len(out) > t.limit {
			out = out[len(out)-t.limit:]
		}
	}
	return out
}

// Reset drops all buffered content.
func (t *TailBuffer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = nil
	t.partial.Reset()
}
