package session

import (
	"fmt"
	"sync"

	"github.com/dingjianrui/code-agent/internal/metrics"
)

// DefaultBufferSize bounds per-session event storage when config does not
const DefaultBufferSize = 1000

// Buffer is a bounded ring of sequenced events supporting resumption.
//
// Events keep their logical sequence numbers as the ring wraps: the buffer
// holds the window [startSeq, lastSeq] and a client that polls with a seq
// older than the window gets a purge error rather than a silent gap.
type Buffer struct {
	events   []Event
	maxSize  int
	startSeq int // seq of the oldest buffered event; 0 while empty
	dropped  int64
	mu       sync.RWMutex
}

// NewBuffer creates a buffer holding at most maxSize events
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultBufferSize
	}
	return &Buffer{
		events:  make([]Event, 0, maxSize),
		maxSize: maxSize,
	}
}

// Append stores an event. The caller assigns sequence numbers; they must
// arrive strictly increasing.
func (b *Buffer) Append(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) == 0 {
		b.startSeq = ev.Seq
	}
	if len(b.events) >= b.maxSize {
		b.events = b.events[1:]
		b.startSeq = b.events[0].Seq
		b.dropped++
		metrics.EventBufferDrops.Inc()
	}
	b.events = append(b.events, ev)
}

// After returns buffered events with seq > sinceSeq, in order.
// sinceSeq 0 means "from the beginning". Returns an error when the
// requested position has already been purged from the ring.
func (b *Buffer) After(sinceSeq int) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil, nil
	}
	if sinceSeq < b.startSeq-1 {
		return nil, fmt.Errorf("%w: after seq %d (oldest available: %d)", ErrEventsPurged, sinceSeq, b.startSeq)
	}

	start := sinceSeq - b.startSeq + 1
	if start < 0 {
		start = 0
	}
	if start >= len(b.events) {
		return nil, nil
	}

	result := make([]Event, len(b.events)-start)
	copy(result, b.events[start:])
	return result, nil
}

// LastSeq returns the seq of the newest buffered event, or 0 if empty
func (b *Buffer) LastSeq() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return 0
	}
	return b.events[len(b.events)-1].Seq
}

// Len returns the number of buffered events
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Dropped returns how many events were evicted by ring overflow
func (b *Buffer) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
