package facade

import (
	"strings"

	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/model"
	"cognitivecore/internal/slots"
)

// EventKind identifies one entry of the external chat stream's event
// vocabulary, per spec §6: queue_update* → loading? →
// thinking_start/step/end* → token* → exactly one of done/error/cancelled.
type EventKind string

const (
	EventQueueUpdate   EventKind = "queue_update"
	EventLoading       EventKind = "loading"
	EventThinkingStart EventKind = "thinking_start"
	EventThinkingStep  EventKind = "thinking_step"
	EventThinkingEnd   EventKind = "thinking_end"
	EventToken         EventKind = "token"
	EventDone          EventKind = "done"
	EventError         EventKind = "error"
	EventCancelled     EventKind = "cancelled"
)

// Event is one item on a chat request's event stream.
type Event struct {
	Kind  EventKind
	Text  string
	Queue *slots.QueueUpdate

	Outcome         *model.InteractionOutcome
	Confidence      float64
	ConfidenceLevel model.ConfidenceLevel

	ErrKind    string
	ErrMessage string
}

func errorEvent(err error) Event {
	return Event{Kind: EventError, ErrKind: string(coreerr.KindOf(err)), ErrMessage: err.Error()}
}

// chatSink adapts the Cognitive Conductor's Sink callbacks onto the
// facade's event vocabulary. It synthesizes thinking_start/thinking_end
// around the run of thinking_step calls the conductor forwards, since the
// conductor itself only knows about individual steps.
type chatSink struct {
	events chan<- Event

	thinkingOpen bool
	finalText    strings.Builder
	pendingScore float64
	pendingLevel model.ConfidenceLevel

	done        bool
	cancelled   bool
	errored     bool
	errKind     string
	partialText string
	lastOutcome model.InteractionOutcome
}

func (s *chatSink) closeThinking() {
	if s.thinkingOpen {
		s.events <- Event{Kind: EventThinkingEnd}
		s.thinkingOpen = false
	}
}

func (s *chatSink) OnToken(text string) {
	s.closeThinking()
	s.finalText.WriteString(text)
	s.events <- Event{Kind: EventToken, Text: text}
}

func (s *chatSink) OnThinkingStep(text string) {
	if !s.thinkingOpen {
		s.thinkingOpen = true
		s.events <- Event{Kind: EventThinkingStart}
	}
	s.events <- Event{Kind: EventThinkingStep, Text: text}
}

// OnRegenerate has no dedicated entry in the external event vocabulary: a
// regeneration pulse is surfaced as a loading event so a client can show
// transient progress without growing the vocabulary spec §6 defines.
func (s *chatSink) OnRegenerate(truncatedText string) {
	s.events <- Event{Kind: EventLoading, Text: "regenerating"}
}

func (s *chatSink) OnConfidence(score float64, level model.ConfidenceLevel) {
	s.pendingScore = score
	s.pendingLevel = level
}

func (s *chatSink) OnDone(outcome model.InteractionOutcome) {
	s.closeThinking()
	s.done = true
	s.lastOutcome = outcome
	s.events <- Event{
		Kind:            EventDone,
		Outcome:         &outcome,
		Confidence:      s.pendingScore,
		ConfidenceLevel: s.pendingLevel,
	}
}

// OnError records a mid-stream backend failure for runChat to persist and
// record an outcome for; it does not itself emit EventError; that happens
// after runChat handles persistence, so the event stream never carries a
// done and an error for the same request (spec §6's done-XOR-error
// contract).
func (s *chatSink) OnError(kind string, partialText string, outcome model.InteractionOutcome) {
	s.closeThinking()
	s.errored = true
	s.errKind = kind
	s.partialText = partialText
	s.lastOutcome = outcome
}

func (s *chatSink) OnCancelled() {
	s.closeThinking()
	s.cancelled = true
	s.events <- Event{Kind: EventCancelled}
}
