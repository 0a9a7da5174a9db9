package conductor

import (
	"context"

	"cognitivecore/internal/gateway"
	"cognitivecore/internal/model"
)

type eventKind int

const (
	eventDelta eventKind = iota
	eventBoundary
	eventDone
	eventCancelled
	eventErr
)

type segmentEvent struct {
	kind     eventKind
	delta    gateway.Delta
	boundary gateway.BoundaryEvent
	err      error
}

// segmentHandler adapts the Gateway's push-style StreamHandler into a
// channel the event loop can select on alongside cancellation.
type segmentHandler struct {
	out chan segmentEvent
}

func (h *segmentHandler) OnBoundary(ev gateway.BoundaryEvent) {
	h.out <- segmentEvent{kind: eventBoundary, boundary: ev}
}

func (h *segmentHandler) OnDelta(d gateway.Delta) {
	h.out <- segmentEvent{kind: eventDelta, delta: d}
}

func (h *segmentHandler) OnDone() {
	h.out <- segmentEvent{kind: eventDone}
}

func (h *segmentHandler) OnCancelled() {
	h.out <- segmentEvent{kind: eventCancelled}
}

// streamSegment runs one large-model ChatStream call on its own goroutine
// and returns a channel of its events, closed when the call returns. A
// buffered channel keeps the backend from blocking on a slow consumer
// between CHECK calls.
func streamSegment(ctx context.Context, large Streamer, role model.ModelRole, msgs []gateway.Message, p gateway.Params) <-chan segmentEvent {
	out := make(chan segmentEvent, 32)
	h := &segmentHandler{out: out}
	go func() {
		defer close(out)
		if err := large.ChatStream(ctx, role, msgs, p, h); err != nil && ctx.Err() == nil {
			out <- segmentEvent{kind: eventErr, err: err}
		}
	}()
	return out
}
