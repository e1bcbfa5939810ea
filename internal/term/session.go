package term

import (
	"sync"
	"time"
)

// Session owns exactly one shell process and its output buffer. A persistent
// session outlives its client: on disconnect the bound client is cleared and
// output accumulates in the buffer until someone reattaches.
type Session struct {
	ID         string
	Engine     Engine
	Persistent bool
	CWD        string
	CreatedAt  time.Time

	mu           sync.Mutex
	cols, rows   int
	boundClient  string // empty while detached
	lastActivity time.Time
	exited       bool // exit event already emitted
	buf          *outBuffer

	// delivery serializes the pump's per-chunk routing against a rebind
	// flush, so buffered entries always reach a new client before live
	// output does.
	delivery sync.Mutex
}

func (s *Session) Bound() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundClient
}

func (s *Session) bind(clientID string) {
	s.mu.Lock()
	s.boundClient = clientID
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) unbind() {
	s.mu.Lock()
	s.boundClient = ""
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

func (s *Session) setSize(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

// markExited flips the exited flag, reporting whether this caller won. The
// exit event must be emitted exactly once whether the process died on its own
// or dispose got there first.
func (s *Session) markExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return false
	}
	s.exited = true
	return true
}
