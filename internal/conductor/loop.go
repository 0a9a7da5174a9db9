package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/gateway"
	"cognitivecore/internal/model"
)

type checkOutcome int

const (
	checkKeepGoing checkOutcome = iota
	checkTerminal
	checkRestart
)

// generation holds one Generate call's mutable loop state. It is driven by
// a single goroutine (Conductor.Generate's caller), so no locking is
// needed: the cooperative single-threaded event-loop model from spec
// §4.10 maps directly onto "one goroutine, no shared mutable state."
type generation struct {
	cond *Conductor
	req  Request
	sink Sink

	messages    []gateway.Message
	role        model.ModelRole
	checkWindow int

	visible          strings.Builder
	windowText       strings.Builder
	windowLogprobs   []float64
	allLogprobs      []float64
	tokensSinceCheck int
	totalTokens      int

	regenAttempts  int
	smallFailures  int
	checksDisabled bool
	lastReason     string

	startedAt time.Time
}

func (g *generation) run(ctx context.Context) {
	for {
		segCtx, cancel := context.WithCancel(ctx)
		events := streamSegment(segCtx, g.cond.large, g.role, g.messages, g.cond.cfg.LargeParams)
		restart := g.drive(ctx, events)
		cancel()
		if !restart {
			return
		}
	}
}

// drive consumes one segment's events until a terminal state (DONE,
// CANCELLED, large-model failure) or a restart condition (STEER, REGEN).
// It returns true when the caller should open a fresh segment.
func (g *generation) drive(ctx context.Context, events <-chan segmentEvent) bool {
	for {
		if ctx.Err() != nil {
			g.sink.OnCancelled()
			return false
		}

		select {
		case <-ctx.Done():
			g.sink.OnCancelled()
			return false
		case ev, ok := <-events:
			if !ok {
				g.finalizeDone()
				return false
			}
			switch ev.kind {
			case eventBoundary:
				if ev.boundary.Name == "thinking_step" {
					g.sink.OnThinkingStep(ev.boundary.Content)
				} else if ev.boundary.Name == "thinking_end" && !g.checksDisabled {
					switch g.handleCheck(ctx) {
					case checkTerminal:
						g.finalizeDone()
						return false
					case checkRestart:
						return true
					}
				}
			case eventDelta:
				g.visible.WriteString(ev.delta.Text)
				g.windowText.WriteString(ev.delta.Text)
				g.sink.OnToken(ev.delta.Text)
				g.tokensSinceCheck++
				g.totalTokens++
				if ev.delta.Logprob != nil {
					g.windowLogprobs = append(g.windowLogprobs, *ev.delta.Logprob)
					g.allLogprobs = append(g.allLogprobs, *ev.delta.Logprob)
				}
				if !g.checksDisabled && g.tokensSinceCheck >= g.checkWindow {
					switch g.handleCheck(ctx) {
					case checkTerminal:
						g.finalizeDone()
						return false
					case checkRestart:
						return true
					}
				}
			case eventDone:
				g.finalizeDone()
				return false
			case eventCancelled:
				g.sink.OnCancelled()
				return false
			case eventErr:
				g.finalizeLargeFailure(ev.err)
				return false
			}
		}
	}
}

// handleCheck runs one CHECK: a bounded small-model call over the current
// window, followed by acting on its verdict.
func (g *generation) handleCheck(ctx context.Context) checkOutcome {
	windowText := g.windowText.String()
	meanLP := meanOf(g.windowLogprobs)
	minLP := minOf(g.windowLogprobs)

	v, err := g.callSmallModel(ctx, windowText, meanLP, minLP)
	g.tokensSinceCheck = 0
	g.windowText.Reset()
	g.windowLogprobs = nil

	if err != nil {
		g.smallFailures++
		if g.smallFailures >= g.cond.cfg.MaxSmallFailures {
			g.checksDisabled = true
		}
		return checkKeepGoing
	}
	g.smallFailures = 0
	g.lastReason = v.Reason

	switch v.Action {
	case actionContinue:
		if g.checkWindow < g.cond.cfg.MaxCheckWindow && g.confidentEnoughToWiden(meanLP, v) {
			g.checkWindow *= 2
			if g.checkWindow > g.cond.cfg.MaxCheckWindow {
				g.checkWindow = g.cond.cfg.MaxCheckWindow
			}
		} else {
			g.checkWindow = g.cond.cfg.CheckWindow
		}
		return checkKeepGoing

	case actionSteer:
		note := v.SteeringNote
		if note == "" {
			note = "Stay focused on the user's request; avoid unrelated tangents."
		}
		g.messages = append(g.messages,
			gateway.Message{Role: model.RoleAssistant, Content: g.visible.String()},
			gateway.Message{Role: model.RoleSystem, Content: "Steering note: " + note},
		)
		g.checkWindow = g.cond.cfg.CheckWindow
		return checkRestart

	case actionRegenerate:
		g.regenAttempts++
		g.sink.OnRegenerate(windowText)
		current := g.visible.String()
		if len(current) >= len(windowText) {
			g.visible.Reset()
			g.visible.WriteString(current[:len(current)-len(windowText)])
		}
		if g.regenAttempts > g.cond.cfg.MaxRegenRetries {
			return checkTerminal
		}
		g.messages = append(g.messages,
			gateway.Message{Role: model.RoleAssistant, Content: g.visible.String()},
			gateway.Message{Role: model.RoleSystem, Content: "Critique: the previous portion needs to be regenerated more carefully."},
		)
		g.checkWindow = g.cond.cfg.CheckWindow
		return checkRestart

	case actionStop:
		return checkTerminal

	default:
		return checkKeepGoing
	}
}

func (g *generation) confidentEnoughToWiden(meanLP float64, v verdict) bool {
	return verdictSentiment(v.Reason) >= 1.0 && meanLP > -0.5
}

func (g *generation) callSmallModel(ctx context.Context, windowText string, meanLP, minLP float64) (verdict, error) {
	prompt := buildCheckPrompt(g.req.Route.Category, g.req.Query, g.visible.String(), meanLP, minLP)
	msgs := []gateway.Message{
		{Role: model.RoleSystem, Content: `You are a metacognitive monitor. Respond with a JSON object: {"action":"continue|steer|stop|regenerate_last_chunk","reason":"...","steering_note":"..."}.`},
		{Role: model.RoleUser, Content: prompt},
	}
	raw, err := g.cond.small.Chat(ctx, model.RoleSmall, msgs, g.cond.cfg.SmallParams)
	if err != nil {
		return verdict{}, err
	}
	return parseVerdict(raw), nil
}

func buildCheckPrompt(category model.IntentCategory, query, generated string, meanLP, minLP float64) string {
	q := truncateHead(query, defaultQueryPromptChars)
	tail := truncateTail(generated, defaultGeneratedPromptChars)
	return fmt.Sprintf("category=%s\nquery=%q\ngenerated_so_far=%q\nlogprobs: mean=%.3f min=%.3f", category, q, tail, meanLP, minLP)
}

func (g *generation) finalizeDone() {
	score := scoreConfidence(meanOf(g.allLogprobs), g.visible.String(), g.lastReason)
	level := model.LevelForScore(score)
	g.sink.OnConfidence(score, level)
	g.sink.OnDone(model.InteractionOutcome{
		MessageID:       g.req.ConversationTurnID,
		FactsInContext:  len(g.req.Primed.Memories),
		StylePromptLen:  len(g.req.Route.SystemPromptFragment),
		ConfidenceScore: score,
		LatencyMS:       time.Since(g.startedAt).Milliseconds(),
		TokensGenerated: g.totalTokens,
		RecordedAt:      time.Now().UTC(),
	})
}

// finalizeLargeFailure handles a mid-stream large-model error: this is not
// a clean completion, so it reports through Sink.OnError rather than
// OnDone (the facade maps OnError to a terminal error event, never a done
// event, honoring the done-XOR-error contract of the external interface).
// The partial text plus a "[connection lost]" marker are still delivered
// for the caller to persist, and the outcome is still recorded, negative.
func (g *generation) finalizeLargeFailure(err error) {
	marker := " [connection lost]"
	g.visible.WriteString(marker)
	g.sink.OnToken(marker)

	score := scoreConfidence(meanOf(g.allLogprobs), g.visible.String(), g.lastReason)
	g.sink.OnConfidence(score, model.LevelForScore(score))
	g.sink.OnError(string(coreerr.KindOf(err)), g.visible.String(), model.InteractionOutcome{
		MessageID:        g.req.ConversationTurnID,
		ImplicitNegative: true,
		FactsInContext:   len(g.req.Primed.Memories),
		StylePromptLen:   len(g.req.Route.SystemPromptFragment),
		ConfidenceScore:  score,
		LatencyMS:        time.Since(g.startedAt).Milliseconds(),
		TokensGenerated:  g.totalTokens,
		RecordedAt:       time.Now().UTC(),
	})
}

func truncateHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func minOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
