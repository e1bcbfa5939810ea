package term

import (
	"bytes"
	"log/slog"
	"sync"
)

// Redactor replaces secret-shaped substrings in outbound chunks with a fixed
// placeholder before anything is buffered or sent. It operates on whole
// chunks: a secret split across two chunks can escape detection, which is an
// accepted limitation. Sanitize never panics; on an internal fault the
// original chunk is forwarded and the fault logged, since dropping terminal
// output is worse than a missed redaction.
type Redactor struct {
	mu          sync.RWMutex
	patterns    [][]byte
	placeholder []byte
}

// NewRedactor builds a redactor for the configured patterns.
func NewRedactor(patterns []string, placeholder string) *Redactor {
	r := &Redactor{placeholder: []byte(placeholder)}
	r.SetPatterns(patterns)
	return r
}

// SetPatterns replaces the pattern set. Empty patterns are dropped. Called on
// config hot reload.
func (r *Redactor) SetPatterns(patterns []string) {
	compiled := make([][]byte, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		compiled = append(compiled, []byte(p))
	}
	r.mu.Lock()
	r.patterns = compiled
	r.mu.Unlock()
}

// AddSecret registers a live secret value (e.g. an injected credential) so it
// can never appear verbatim in output.
func (r *Redactor) AddSecret(value string) {
	if value == "" {
		return
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, []byte(value))
	r.mu.Unlock()
}

// Sanitize returns the chunk with every configured pattern replaced.
func (r *Redactor) Sanitize(chunk []byte) (out []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("redactor fault, forwarding chunk unredacted", "panic", rec)
			out = chunk
		}
	}()

	r.mu.RLock()
	patterns := r.patterns
	placeholder := r.placeholder
	r.mu.RUnlock()

	out = chunk
	for _, p := range patterns {
		if bytes.Contains(out, p) {
			out = bytes.ReplaceAll(out, p, placeholder)
		}
	}
	return out
}
