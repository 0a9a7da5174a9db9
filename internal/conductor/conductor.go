// Package conductor implements the Cognitive Conductor (C10): the
// generation loop that drives a large model's token stream while a small
// model periodically checks in, steering, regenerating, or stopping early.
// It is built as a single-goroutine cooperative event loop per request, in
// the same vein as the teacher's orchestrator handler loop, with the large
// model's streaming backend pumped through a channel so the loop can honor
// cancellation and interleave small-model CHECK calls between tokens.
package conductor

import (
	"context"
	"strings"
	"time"

	"cognitivecore/internal/gateway"
	"cognitivecore/internal/model"
)

// Defaults for the generation loop's tunables; all are overridable per
// Config for tests and per-deployment tuning.
const (
	defaultCheckWindow          = 20
	defaultMaxCheckWindow       = 80
	defaultMaxRegenRetries      = 2
	defaultMaxSmallFailures     = 3
	defaultCheckMaxTokens       = 80
	defaultQueryPromptChars     = 200
	defaultGeneratedPromptChars = 400
)

// Streamer is the subset of the Model Gateway the loop needs to drive the
// large model's streaming output.
type Streamer interface {
	ChatStream(ctx context.Context, role model.ModelRole, msgs []gateway.Message, p gateway.Params, h gateway.StreamHandler) error
}

// Chatter is the subset of the Model Gateway the loop needs for the small
// model's bounded, non-streaming CHECK calls.
type Chatter interface {
	Chat(ctx context.Context, role model.ModelRole, msgs []gateway.Message, p gateway.Params) (string, error)
}

// Sink receives every visible token, sideband event, and the terminal
// outcome of one Generate call, in strict emission order.
type Sink interface {
	OnToken(text string)
	OnThinkingStep(text string)
	// OnRegenerate signals that truncatedText, already delivered via
	// OnToken, should be discarded by the caller: the large-model backend
	// interface has no assistant-prefill/continuation primitive, so REGEN
	// re-issues a fresh generation rather than rewinding an in-flight one.
	OnRegenerate(truncatedText string)
	OnConfidence(score float64, level model.ConfidenceLevel)
	OnDone(outcome model.InteractionOutcome)
	// OnError reports a mid-stream large-model failure: a terminal outcome
	// distinct from OnDone, since the run never reached a clean completion.
	// kind mirrors coreerr.Kind (e.g. "BackendUnavailable", "Timeout");
	// partialText is everything delivered via OnToken plus the
	// "[connection lost]" marker, for the caller to persist; outcome is
	// still recorded (always ImplicitNegative) the same way a OnDone
	// outcome would be.
	OnError(kind string, partialText string, outcome model.InteractionOutcome)
	OnCancelled()
}

// Config bounds one Generate call's behavior. Zero values take the
// defaults above.
type Config struct {
	CheckWindow      int
	MaxCheckWindow   int
	MaxRegenRetries  int
	MaxSmallFailures int
	LargeParams      gateway.Params
	SmallParams      gateway.Params
}

func (c Config) withDefaults() Config {
	if c.CheckWindow <= 0 {
		c.CheckWindow = defaultCheckWindow
	}
	if c.MaxCheckWindow <= 0 {
		c.MaxCheckWindow = defaultMaxCheckWindow
	}
	if c.MaxRegenRetries <= 0 {
		c.MaxRegenRetries = defaultMaxRegenRetries
	}
	if c.MaxSmallFailures <= 0 {
		c.MaxSmallFailures = defaultMaxSmallFailures
	}
	if c.SmallParams.MaxTokens <= 0 {
		c.SmallParams.MaxTokens = defaultCheckMaxTokens
	}
	return c
}

// Request is everything one Generate call needs beyond the Conductor's own
// dependencies.
type Request struct {
	Query              string
	Route              model.RouteDecision
	Primed             model.PrimedContext
	ReflectionPrefix   string
	ErrorWarning       string
	History            []gateway.Message
	ConversationTurnID int64
}

// Conductor is the C10 facade.
type Conductor struct {
	large Streamer
	small Chatter
	cfg   Config
}

// New constructs a Conductor bound to the large-model streamer and
// small-model chatter (normally both satisfied by the same Model Gateway,
// dispatched to different roles).
func New(large Streamer, small Chatter, cfg Config) *Conductor {
	return &Conductor{large: large, small: small, cfg: cfg.withDefaults()}
}

// Generate runs the PREPARE/STREAM/CHECK/STEER/REGEN/DONE/CANCELLED loop
// for one request, delivering every event to sink. Every termination path
// (DONE, CANCELLED, or a mid-stream large-model failure) is reported
// through sink, never through the returned error; the error return exists
// for callers that want a non-nil signal on malformed input in the future.
func (c *Conductor) Generate(ctx context.Context, req Request, sink Sink) error {
	start := time.Now()

	messages := prepareMessages(req)

	role := req.Route.ModelRole
	if role == "" {
		role = model.RoleLarge
	}

	loop := &generation{
		cond:        c,
		req:         req,
		sink:        sink,
		messages:    messages,
		role:        role,
		checkWindow: c.cfg.CheckWindow,
		startedAt:   start,
	}
	loop.run(ctx)
	return nil
}

// prepareMessages assembles PREPARE's message list: reflection prefix,
// error warning, primed instructions, primed memories as system notes,
// history, then the user query — all as distinct system/user turns so a
// degraded (empty) prefix never breaks the request.
func prepareMessages(req Request) []gateway.Message {
	var out []gateway.Message

	if strings.TrimSpace(req.ReflectionPrefix) != "" {
		out = append(out, gateway.Message{Role: model.RoleSystem, Content: req.ReflectionPrefix})
	}
	if strings.TrimSpace(req.ErrorWarning) != "" {
		out = append(out, gateway.Message{Role: model.RoleSystem, Content: req.ErrorWarning})
	}
	if strings.TrimSpace(req.Primed.InstructionsFragment) != "" {
		out = append(out, gateway.Message{Role: model.RoleSystem, Content: req.Primed.InstructionsFragment})
	}
	for _, mem := range req.Primed.Memories {
		out = append(out, gateway.Message{Role: model.RoleSystem, Content: "Known: " + mem.Content})
	}
	if strings.TrimSpace(req.Route.SystemPromptFragment) != "" {
		out = append(out, gateway.Message{Role: model.RoleSystem, Content: req.Route.SystemPromptFragment})
	}
	out = append(out, req.History...)
	out = append(out, gateway.Message{Role: model.RoleUser, Content: req.Query})
	return out
}
