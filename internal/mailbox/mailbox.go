// Package mailbox provides a single-slot, overwrite-on-publish channel
// between pipeline stages.
//
// A producer never blocks: publishing into a full slot replaces the stale
// value and counts a drop. The single consumer either polls (TryTake) or
// waits for the next value (Take) until its context ends or the mailbox is
// closed. Memory use is bounded by one value regardless of how far the
// consumer falls behind.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Take once the mailbox is closed and drained.
var ErrClosed = errors.New("mailbox closed")

// Stats is a point-in-time view of a mailbox's counters.
type Stats struct {
	Published uint64
	Taken     uint64
	// Dropped counts values overwritten before any consumer saw them.
	Dropped uint64
	// ConsecutiveDrops resets on every successful take.
	ConsecutiveDrops uint64
	Full             bool
	Closed           bool
}

// Mailbox holds at most one value of type T.
type Mailbox[T any] struct {
	name string

	mu     sync.Mutex
	val    T
	full   bool
	closed bool
	stats  Stats

	// ready carries a wake-up token whenever the slot becomes full.
	ready chan struct{}

	// OnDrop, when set, is called (outside the lock) after an overwrite.
	OnDrop func(name string)
}

// New returns an empty mailbox. The name labels drop metrics and logs.
func New[T any](name string) *Mailbox[T] {
	return &Mailbox[T]{name: name, ready: make(chan struct{}, 1)}
}

// Name returns the label given to New.
func (m *Mailbox[T]) Name() string { return m.name }

// Put stores v, replacing any unconsumed value. It reports whether a value
// was overwritten. Put on a closed mailbox is a no-op.
func (m *Mailbox[T]) Put(v T) (dropped bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if m.full {
		dropped = true
		m.stats.Dropped++
		m.stats.ConsecutiveDrops++
	}
	m.val = v
	m.full = true
	m.stats.Published++
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	if dropped && m.OnDrop != nil {
		m.OnDrop(m.name)
	}
	return dropped
}

// TryTake removes and returns the value if one is present.
func (m *Mailbox[T]) TryTake() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeLocked()
}

func (m *Mailbox[T]) takeLocked() (T, bool) {
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.val
	m.val = zero
	m.full = false
	m.stats.Taken++
	m.stats.ConsecutiveDrops = 0
	return v, true
}

// Take blocks until a value is available, ctx is done or the mailbox is
// closed. A value published before Close is still delivered.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		v, ok := m.takeLocked()
		closed := m.closed
		m.mu.Unlock()
		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-m.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Close wakes any waiting consumer. Further Puts are ignored.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the counters.
func (m *Mailbox[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Full = m.full
	s.Closed = m.closed
	return s
}
