// Package history keeps a bounded, oldest-first window of telemetry records.
package history

import (
	"sync"
	"time"

	"github.com/autopeer-io/voltlink/internal/telemetry"
)

// DefaultCapacity is the number of records retained when no capacity is given.
const DefaultCapacity = 100

// Buffer is a fixed-capacity ring of telemetry records. Appending to a full
// buffer evicts the oldest record. It is safe for concurrent use.
type Buffer struct {
	mu    sync.RWMutex
	items []telemetry.Record
	head  int // index of the oldest record
	size  int
}

// New returns an empty buffer. A non-positive capacity uses DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]telemetry.Record, capacity)}
}

// Append adds r as the newest record.
func (b *Buffer) Append(r telemetry.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = r
		b.size++
		return
	}
	b.items[b.head] = r
	b.head = (b.head + 1) % len(b.items)
}

// Snapshot returns a copy of the retained records, oldest first.
func (b *Buffer) Snapshot() []telemetry.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]telemetry.Record, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Latest returns the newest record, if any.
func (b *Buffer) Latest() (telemetry.Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return telemetry.Record{}, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}

// Reset drops every record and seeds the buffer with a single zero-valued
// record stamped at, so charts always have a starting point.
func (b *Buffer) Reset(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.items)
	b.head = 0
	b.items[0] = telemetry.Zero(at)
	b.size = 1
}

// Len returns the number of retained records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the maximum number of retained records.
func (b *Buffer) Cap() int {
	return len(b.items)
}
