package term

import (
	"sync"
	"time"
)

// Entry is one buffered output chunk.
type Entry struct {
	Chunk []byte
	At    time.Time
}

// outBuffer is a bounded ring of output chunks kept while a session has no
// reachable client. On overflow the oldest entries are dropped down to the
// low-water mark so eviction is amortized rather than per-append.
type outBuffer struct {
	mu       sync.Mutex
	entries  []Entry // ring storage, len == capacity
	head     int     // index of oldest entry
	count    int
	capacity int
	lowWater int
}

func newOutBuffer(capacity, lowWater int) *outBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	if lowWater <= 0 || lowWater >= capacity {
		lowWater = capacity * 4 / 5
	}
	return &outBuffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		lowWater: lowWater,
	}
}

// Append stores a chunk, evicting oldest-first down to the low-water mark
// when the ring is full.
func (b *outBuffer) Append(chunk []byte, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == b.capacity {
		drop := b.count - b.lowWater
		for i := 0; i < drop; i++ {
			b.entries[b.head] = Entry{}
			b.head = (b.head + 1) % b.capacity
		}
		b.count -= drop
	}
	b.entries[(b.head+b.count)%b.capacity] = Entry{Chunk: chunk, At: at}
	b.count++
}

// Len returns the number of buffered entries.
func (b *outBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Drain removes and returns all entries oldest-first.
func (b *outBuffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	out := make([]Entry, b.count)
	for i := range out {
		idx := (b.head + i) % b.capacity
		out[i] = b.entries[idx]
		b.entries[idx] = Entry{}
	}
	b.head = 0
	b.count = 0
	return out
}

// Requeue puts undelivered entries back at the front, preserving order.
// Used when a rebind flush fails partway: what was not sent stays buffered.
func (b *outBuffer) Requeue(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// Newer entries may have arrived during the flush; rebuild with the
	// requeued entries first.
	tail := make([]Entry, b.count)
	for i := range tail {
		tail[i] = b.entries[(b.head+i)%b.capacity]
	}
	merged := append(entries, tail...)
	if len(merged) > b.capacity {
		merged = merged[len(merged)-b.capacity:]
	}
	for i := range b.entries {
		b.entries[i] = Entry{}
	}
	copy(b.entries, merged)
	b.head = 0
	b.count = len(merged)
}
