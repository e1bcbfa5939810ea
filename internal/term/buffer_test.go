package term

import (
	"fmt"
	"testing"
	"time"
)

func TestBufferAppendAndDrain(t *testing.T) {
	b := newOutBuffer(10, 8)
	for i := 0; i < 5; i++ {
		b.Append([]byte(fmt.Sprintf("chunk-%d", i)), time.Now())
	}
	if b.Len() != 5 {
		t.Fatalf("Len = %d, want 5", b.Len())
	}
	entries := b.Drain()
	if len(entries) != 5 {
		t.Fatalf("Drain returned %d entries, want 5", len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("chunk-%d", i)
		if string(e.Chunk) != want {
			t.Errorf("entries[%d] = %q, want %q", i, e.Chunk, want)
		}
	}
	if b.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", b.Len())
	}
}

func TestBufferOverflowEvictsOldestToLowWater(t *testing.T) {
	b := newOutBuffer(10, 8)
	for i := 0; i < 11; i++ {
		b.Append([]byte(fmt.Sprintf("c%02d", i)), time.Now())
	}
	// The 11th append found the ring full, dropped down to low water (8),
	// then stored the new entry.
	if b.Len() != 9 {
		t.Fatalf("Len = %d, want 9", b.Len())
	}
	entries := b.Drain()
	if got, want := string(entries[0].Chunk), "c02"; got != want {
		t.Errorf("oldest surviving entry = %q, want %q", got, want)
	}
	if got, want := string(entries[len(entries)-1].Chunk), "c10"; got != want {
		t.Errorf("newest entry = %q, want %q", got, want)
	}
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	b := newOutBuffer(10, 8)
	for i := 0; i < 1000; i++ {
		b.Append([]byte{byte(i)}, time.Now())
		if n := b.Len(); n > 10 {
			t.Fatalf("Len = %d after %d appends, capacity is 10", n, i+1)
		}
	}
}

func TestBufferRequeuePreservesOrder(t *testing.T) {
	b := newOutBuffer(10, 8)
	b.Append([]byte("a"), time.Now())
	b.Append([]byte("b"), time.Now())
	b.Append([]byte("c"), time.Now())

	entries := b.Drain()
	// Pretend only "a" was delivered; "b" and "c" go back, and a fresh
	// chunk arrives while they wait.
	b.Requeue(entries[1:])
	b.Append([]byte("d"), time.Now())

	got := b.Drain()
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("Drain returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i].Chunk) != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, got[i].Chunk, want[i])
		}
	}
}

func TestBufferRequeueOverCapacityKeepsNewest(t *testing.T) {
	b := newOutBuffer(4, 3)
	var stale []Entry
	for i := 0; i < 6; i++ {
		stale = append(stale, Entry{Chunk: []byte(fmt.Sprintf("s%d", i))})
	}
	b.Requeue(stale)
	if b.Len() != 4 {
		t.Fatalf("Len = %d, want capacity 4", b.Len())
	}
	entries := b.Drain()
	if got, want := string(entries[0].Chunk), "s2"; got != want {
		t.Errorf("oldest = %q, want %q", got, want)
	}
}
