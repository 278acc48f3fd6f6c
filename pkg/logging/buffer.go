package logging

import (
	"bytes"
	"strings"
	"sync"
)

// Tail keeps the most recent log lines in a fixed-size ring.
type Tail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// GlobalLogCapture receives INFO and above from the server logger.
var GlobalLogCapture = NewTail(64)

// NewTail returns a ring holding up to size lines.
func NewTail(size int) *Tail {
	if size < 1 {
		size = 1
	}
	return &Tail{lines: make([]string, size)}
}

// Write stores each non-empty line of p.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		s := strings.TrimSpace(string(line))
		if s == "" {
			continue
		}
		t.lines[t.next] = s
		t.next = (t.next + 1) % len(t.lines)
		if t.next == 0 {
			t.full = true
		}
	}
	return len(p), nil
}

// GetLastLine returns the newest line, or "" before anything was logged.
func (t *Tail) GetLastLine() string {
	last := t.Lines(1)
	if len(last) == 0 {
		return ""
	}
	return last[0]
}

// Lines returns up to n of the newest lines, oldest first.
func (t *Tail) Lines(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := t.next
	if t.full {
		count = len(t.lines)
	}
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	start := t.next - n
	for i := range out {
		out[i] = t.lines[(start+i+len(t.lines))%len(t.lines)]
	}
	return out
}
