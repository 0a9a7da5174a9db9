// Package metrics implements the Metrics & Reflection Recorder (C12): an
// append-only InteractionOutcome store, IQ/Empathy daily aggregates, and
// an adaptive routing-threshold tracker with rollback.
package metrics

import (
	"context"
	"sync"
	"time"

	"cognitivecore/internal/model"
)

// OutcomeBackend is the append-only store behind the Recorder. A
// ClickHouse-backed implementation and an in-process ring-buffer
// fallback are provided.
type OutcomeBackend interface {
	Insert(ctx context.Context, outcome model.InteractionOutcome) error
	Since(ctx context.Context, cutoff time.Time) ([]model.InteractionOutcome, error)
}

// RingBufferBackend is the in-process fallback used when no ClickHouse
// DSN is configured, bounding memory with a fixed capacity ring.
type RingBufferBackend struct {
	mu       sync.Mutex
	capacity int
	buf      []model.InteractionOutcome
	next     int
	full     bool
}

// NewRingBufferBackend returns a ring buffer holding up to capacity
// outcomes (default 10000).
func NewRingBufferBackend(capacity int) *RingBufferBackend {
	if capacity <= 0 {
		capacity = 10000
	}
	return &RingBufferBackend{capacity: capacity, buf: make([]model.InteractionOutcome, capacity)}
}

func (b *RingBufferBackend) Insert(ctx context.Context, outcome model.InteractionOutcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = time.Now().UTC()
	}
	b.buf[b.next] = outcome
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.full = true
	}
	return nil
}

func (b *RingBufferBackend) Since(ctx context.Context, cutoff time.Time) ([]model.InteractionOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.next
	if b.full {
		n = b.capacity
	}
	out := make([]model.InteractionOutcome, 0, n)
	for i := 0; i < n; i++ {
		o := b.buf[i]
		if o.RecordedAt.After(cutoff) {
			out = append(out, o)
		}
	}
	return out, nil
}
