package testutil

import (
	"fmt"
	"sync"
)

// SessionSequence hands out "<prefix>-1", "<prefix>-2", ... so that the
// same scenario always journals under the same session ids, which golden
// trace comparison relies on.
//
// Unlike engine.FixedGenerator it never runs out, and it can be reset for
// test reuse.
//
// Thread-safety: all methods are safe for concurrent use.
type SessionSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSessionSequence creates a sequence. If prefix is empty, ids are
// "test-session-1", "test-session-2", ...
func NewSessionSequence(prefix string) *SessionSequence {
	if prefix == "" {
		prefix = "test-session"
	}
	return &SessionSequence{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.SessionIDGenerator.
func (s *SessionSequence) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

// Reset restarts the sequence at 1.
func (s *SessionSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
