// Package facade implements the external interface (spec §6): it wires
// every other component into the one control flow a chat request drives
// through — Slot Manager, Router, Error Memory, Self-Reflection Builder,
// Context Primer, Cognitive Conductor, Memory Store, Metrics Recorder,
// Privacy Lock, Model Gateway, Model Resolver — in the same
// composition-root style as the teacher's cmd/orchestrator wiring, just
// assembled into a long-lived struct instead of a Kafka command handler.
package facade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cognitivecore/internal/conductor"
	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/errormemory"
	"cognitivecore/internal/gateway"
	"cognitivecore/internal/memory"
	"cognitivecore/internal/metrics"
	"cognitivecore/internal/model"
	"cognitivecore/internal/primer"
	"cognitivecore/internal/privacy"
	"cognitivecore/internal/reflection"
	"cognitivecore/internal/resolver"
	"cognitivecore/internal/router"
	"cognitivecore/internal/slots"
)

// defaultTokenBudget bounds GetSmartContext's recent-message/summary/fact
// split for a single turn, per spec §4.6.
const defaultTokenBudget = 4000

// defaultTitleChars bounds how much of a query seeds a new conversation's
// title.
const defaultTitleChars = 60

// ErrDocumentIngestionUnavailable is returned by AddDocument/DeleteDocument:
// document ingestion is explicitly out of scope (spec Non-goals), so these
// exist only to satisfy the external interface's shape.
var ErrDocumentIngestionUnavailable = errors.New("facade: document ingestion is not implemented by this build")

// Core is the facade: the single entry point spec §6 describes, composed
// from every other component. Construct its fields directly (Go, New)
// rather than through a single constructor, mirroring the teacher's
// composition-root main() rather than a monolithic builder function.
type Core struct {
	Gateway     *gateway.Gateway
	Router      *router.Router
	Primer      *primer.Primer
	Memory      *memory.Store
	ErrorMemory *errormemory.ErrorMemory
	Reflection  *reflection.Builder
	Conductor   *conductor.Conductor
	Slots       *slots.Manager
	Metrics     *metrics.Recorder
	Privacy     *privacy.Lock
	Patterns    resolver.Patterns

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// ChatRequest is one external chat() call's input, per spec §6.
type ChatRequest struct {
	Query                string
	ConversationID       string
	ModelOverride        model.ModelRole
	ThinkingModeOverride model.ThinkingMode
	HasImage             bool
}

// Chat starts one request's PREPARE→STREAM→CHECK→...→DONE run and returns
// immediately with a request ID (for Stop) and an event stream. Every
// termination path — normal completion, a Busy fast-fail, a degraded
// PREPARE stage, or cancellation — is reported through the returned
// channel; Chat's own error return is reserved for malformed input.
func (c *Core) Chat(ctx context.Context, req ChatRequest) (string, <-chan Event, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", nil, fmt.Errorf("%w: query must not be empty", coreerr.ErrInvalidRequest)
	}

	requestID := uuid.NewString()
	events := make(chan Event, 64)

	runCtx, cancel := context.WithCancel(ctx)
	c.registerInflight(requestID, cancel)

	go func() {
		defer close(events)
		defer c.unregisterInflight(requestID)
		defer cancel()
		c.runChat(runCtx, req, events)
	}()

	return requestID, events, nil
}

// Stop cancels an in-flight request by the ID Chat returned. It reports
// whether a matching in-flight request was found; the cancellation itself
// surfaces on the request's own event stream as EventCancelled.
func (c *Core) Stop(requestID string) bool {
	c.mu.Lock()
	cancel, ok := c.inflight[requestID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (c *Core) registerInflight(requestID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight == nil {
		c.inflight = make(map[string]context.CancelFunc)
	}
	c.inflight[requestID] = cancel
}

func (c *Core) unregisterInflight(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, requestID)
}

// runChat drives one request end to end, emitting every event onto
// events. It never panics on a degraded dependency: PREPARE-stage failures
// (router, primer, error memory, reflection) fall back to zero values
// rather than aborting the request, per spec §7.
func (c *Core) runChat(ctx context.Context, req ChatRequest, events chan<- Event) {
	_, release, err := c.acquireSlot(ctx, req, events)
	if err != nil {
		events <- errorEvent(err)
		return
	}
	defer release()

	events <- Event{Kind: EventLoading}

	convID := req.ConversationID
	if convID == "" {
		conv, cerr := c.Memory.CreateConversation(ctx, titleFromQuery(req.Query))
		if cerr != nil {
			events <- errorEvent(fmt.Errorf("%w: %v", coreerr.ErrInternal, cerr))
			return
		}
		convID = conv.ID
	}

	previous := c.lastAssistantMessage(ctx, convID)

	userMsg, err := c.Memory.AddMessage(ctx, convID, model.RoleUser, req.Query)
	if err != nil {
		events <- errorEvent(fmt.Errorf("%w: %v", coreerr.ErrInternal, err))
		return
	}

	c.recordCorrectionIfAny(ctx, req.Query, previous, userMsg.ID)

	route := c.route(ctx, req)

	if err := c.checkModelAvailable(ctx, route.ModelRole); err != nil {
		events <- errorEvent(err)
		return
	}

	warning, reflectionPrefix, primed, smart := c.gatherPrepareContext(ctx, req, convID, route)

	history := historyMessages(smart, userMsg.ID)

	condReq := conductor.Request{
		Query:              req.Query,
		Route:              route,
		Primed:             primed,
		ReflectionPrefix:   reflectionPrefix,
		ErrorWarning:       warning,
		History:            history,
		ConversationTurnID: userMsg.ID,
	}

	sink := &chatSink{events: events}
	if err := c.Conductor.Generate(ctx, condReq, sink); err != nil {
		events <- errorEvent(fmt.Errorf("%w: %v", coreerr.ErrInternal, err))
		return
	}

	if sink.cancelled {
		return
	}

	if sink.errored {
		c.finalizeErroredTurn(ctx, convID, sink)
		events <- Event{Kind: EventError, ErrKind: sink.errKind, ErrMessage: "backend failure mid-stream, partial response saved"}
		return
	}

	if !sink.done {
		return
	}

	assistantMsg, err := c.Memory.AddMessage(ctx, convID, model.RoleAssistant, sink.finalText.String())
	if err != nil {
		return
	}
	outcome := sink.lastOutcome
	outcome.MessageID = assistantMsg.ID
	_ = c.Metrics.Record(ctx, outcome)

	go c.extractFactsInBackground(convID)
}

// checkModelAvailable resolves role against the Model Gateway's live
// loaded set in PREPARE, so a request with no usable backend (e.g. a
// VISION route with no vision model loaded) fails fast with
// NoModelAvailable before any token is streamed, instead of reaching the
// Cognitive Conductor and surfacing as a mid-stream backend failure.
func (c *Core) checkModelAvailable(ctx context.Context, role model.ModelRole) error {
	loaded := c.Gateway.ListLoadedModels(ctx)
	if _, err := resolver.Resolve(role, loaded, c.Patterns); err != nil {
		return fmt.Errorf("%w: no model loaded for role %q", coreerr.ErrNoModelAvailable, role)
	}
	return nil
}

// finalizeErroredTurn persists the partial assistant turn and records the
// negative outcome the Cognitive Conductor built for a mid-stream backend
// failure. It never blocks the EventError that follows: a persistence
// failure here is logged-and-swallowed the same way the happy-done path
// swallows one.
func (c *Core) finalizeErroredTurn(ctx context.Context, convID string, sink *chatSink) {
	outcome := sink.lastOutcome
	assistantMsg, err := c.Memory.AddMessage(ctx, convID, model.RoleAssistant, sink.partialText)
	if err == nil {
		outcome.MessageID = assistantMsg.ID
	}
	_ = c.Metrics.Record(ctx, outcome)
}

// extractFactsInBackground runs fact extraction off the request's context,
// through the Slot Manager's background pool rather than its interactive
// one, so extraction (which ExtractFactsAsync runs synchronously) does not
// run inline with a chat request.
func (c *Core) extractFactsInBackground(convID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, release, err := c.Slots.Acquire(ctx, model.PriorityBackground, convID, nil)
	if err != nil {
		return
	}
	defer release()

	window, err := c.Memory.GetMessages(ctx, convID, 0)
	if err != nil {
		return
	}
	c.Memory.ExtractFactsAsync(ctx, convID, window)
}

func (c *Core) acquireSlot(ctx context.Context, req ChatRequest, events chan<- Event) (model.Slot, slots.Release, error) {
	heartbeats := make(chan slots.QueueUpdate, 8)
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for qu := range heartbeats {
			q := qu
			events <- Event{Kind: EventQueueUpdate, Queue: &q}
		}
	}()

	ownerID := req.ConversationID
	if ownerID == "" {
		ownerID = "new-conversation"
	}
	slot, release, err := c.Slots.Acquire(ctx, model.PriorityUser, ownerID, heartbeats)
	close(heartbeats)
	<-forwardDone
	return slot, release, err
}

// lastAssistantMessage finds the most recent assistant turn in convID, for
// correction detection against the user's next message. A missing or
// empty conversation simply yields no previous turn.
func (c *Core) lastAssistantMessage(ctx context.Context, convID string) *model.Message {
	if convID == "" {
		return nil
	}
	msgs, err := c.Memory.GetMessages(ctx, convID, 0)
	if err != nil {
		return nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			m := msgs[i]
			return &m
		}
	}
	return nil
}

func (c *Core) recordCorrectionIfAny(ctx context.Context, query string, previous *model.Message, correctionMessageID int64) {
	if previous == nil {
		return
	}
	if !errormemory.IsCorrection(query, previous.Content) {
		return
	}
	category := classifyCorrectionCategory(query)
	_ = c.ErrorMemory.Record(ctx, previous.ID, correctionMessageID, query, previous.Content, category)
}

// classifyCorrectionCategory applies the same layered, ordered-rules style
// as errormemory's IsCorrection to bucket a detected correction, since the
// detector itself only answers yes/no.
func classifyCorrectionCategory(userMessage string) model.CorrectionCategory {
	low := strings.ToLower(userMessage)
	switch {
	case strings.Contains(low, "meant") || strings.Contains(low, "misunderstood") || strings.Contains(low, "not what i"):
		return model.CorrectionMisunderstanding
	case strings.Contains(low, "tone") || strings.Contains(low, "shorter") || strings.Contains(low, "too long") || strings.Contains(low, "format"):
		return model.CorrectionStyle
	case strings.Contains(low, "wrong") || strings.Contains(low, "incorrect") || strings.Contains(low, "not right"):
		return model.CorrectionContent
	default:
		return model.CorrectionOther
	}
}

func (c *Core) route(ctx context.Context, req ChatRequest) model.RouteDecision {
	profile := &model.UserProfile{}
	route, err := c.Router.Route(ctx, req.Query, profile, req.HasImage)
	if err != nil {
		route = model.RouteDecision{Category: model.IntentQuick, ModelRole: model.RoleLarge, ThinkingMode: model.ThinkingStandard}
	}
	if req.ModelOverride != "" {
		route.ModelRole = req.ModelOverride
	}
	if req.ThinkingModeOverride != "" {
		route.ThinkingMode = req.ThinkingModeOverride
	}
	return route
}

// gatherPrepareContext runs the error-warning lookup, reflection prefix,
// context priming, and smart-context assembly concurrently. Every branch
// degrades to its zero value on error rather than failing the request:
// PREPARE never fails, per spec §7.
func (c *Core) gatherPrepareContext(ctx context.Context, req ChatRequest, convID string, route model.RouteDecision) (warning, reflectionPrefix string, primed model.PrimedContext, smart memory.SmartContext) {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		if w, ok, err := c.ErrorMemory.GetWarning(ctx, route.QueryEmbedding); err == nil && ok {
			warning = w
		}
	}()
	go func() {
		defer wg.Done()
		if p, err := c.Reflection.BuildPrompt(ctx, true); err == nil {
			reflectionPrefix = p
		}
	}()
	go func() {
		defer wg.Done()
		if p, err := c.Primer.Prime(ctx, req.Query, route.Category, route.QueryEmbedding, c.Privacy.IsUnlocked()); err == nil {
			primed = p
		}
	}()
	go func() {
		defer wg.Done()
		if sc, err := c.Memory.GetSmartContext(ctx, convID, defaultTokenBudget, true, route.QueryEmbedding, c.Privacy.IsUnlocked()); err == nil {
			smart = sc
		}
	}()

	wg.Wait()
	return warning, reflectionPrefix, primed, smart
}

// historyMessages converts a SmartContext into the conductor's message
// list, dropping the just-inserted current-turn user message (GetSmartContext
// was called after AddMessage, so it is present at the tail).
func historyMessages(smart memory.SmartContext, currentUserMessageID int64) []gateway.Message {
	var out []gateway.Message
	if smart.Summary != "" {
		out = append(out, gateway.Message{Role: model.RoleSystem, Content: "Conversation summary: " + smart.Summary})
	}
	for _, f := range smart.Facts {
		out = append(out, gateway.Message{Role: model.RoleSystem, Content: "Known: " + f.Content})
	}
	msgs := smart.Messages
	if n := len(msgs); n > 0 && msgs[n-1].ID == currentUserMessageID {
		msgs = msgs[:n-1]
	}
	for _, m := range msgs {
		out = append(out, gateway.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func titleFromQuery(query string) string {
	q := strings.TrimSpace(query)
	if len(q) <= defaultTitleChars {
		return q
	}
	return q[:defaultTitleChars]
}

// ListConversations delegates to the Memory Store.
func (c *Core) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return c.Memory.ListConversations(ctx)
}

// CreateConversation delegates to the Memory Store.
func (c *Core) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	return c.Memory.CreateConversation(ctx, title)
}

// GetMessages delegates to the Memory Store.
func (c *Core) GetMessages(ctx context.Context, convID string) ([]model.Message, error) {
	return c.Memory.GetMessages(ctx, convID, 0)
}

// DeleteConversation delegates to the Memory Store.
func (c *Core) DeleteConversation(ctx context.Context, convID string) error {
	return c.Memory.DeleteConversation(ctx, convID)
}

// AddDocument is a stub: document ingestion is out of scope for this
// build (spec Non-goals). It exists so the external interface's full
// shape is present for a future collaborator to implement against.
func (c *Core) AddDocument(ctx context.Context, text string, metadata map[string]string) (string, error) {
	return "", ErrDocumentIngestionUnavailable
}

// DeleteDocument is a stub; see AddDocument.
func (c *Core) DeleteDocument(ctx context.Context, id string) error {
	return ErrDocumentIngestionUnavailable
}

// MetricsSnapshot is get_metrics()'s response shape.
type MetricsSnapshot struct {
	IQ          float64
	Empathy     float64
	SampleCount int
}

// GetMetrics delegates to the Metrics Recorder's daily aggregate.
func (c *Core) GetMetrics(ctx context.Context) (MetricsSnapshot, error) {
	s, err := c.Metrics.DailyScores(ctx)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("facade: get metrics: %w", err)
	}
	return MetricsSnapshot{IQ: s.IQ, Empathy: s.Empathy, SampleCount: s.Count}, nil
}

// SubmitFeedback records a +1/-1 rating against messageID as a new
// append-only outcome row, consistent with the Metrics Recorder's
// insert-only contract rather than mutating the original InteractionOutcome.
func (c *Core) SubmitFeedback(ctx context.Context, messageID int64, rating int) error {
	if rating != 1 && rating != -1 {
		return fmt.Errorf("%w: rating must be +1 or -1", coreerr.ErrInvalidRequest)
	}
	outcome := model.InteractionOutcome{
		MessageID:        messageID,
		ImplicitPositive: rating > 0,
		ImplicitNegative: rating < 0,
		RecordedAt:       time.Now().UTC(),
	}
	return c.Metrics.Record(ctx, outcome)
}

// UnlockPrivacy opens access to privacy-protected fact categories.
// Credential verification, if any, is a collaborator's responsibility
// upstream of this call: the Privacy Lock itself only manages lock state.
func (c *Core) UnlockPrivacy() {
	c.Privacy.Unlock()
}

// LockPrivacy immediately relocks privacy-protected fact categories.
func (c *Core) LockPrivacy() {
	c.Privacy.Lock()
}

// IsPrivacyUnlocked reports the Privacy Lock's current state.
func (c *Core) IsPrivacyUnlocked() bool {
	return c.Privacy.IsUnlocked()
}

// ModelInfo is one entry of get_models()'s response.
type ModelInfo struct {
	Role      model.ModelRole
	ModelID   string
	Available bool
}

// GetModels resolves every abstract role against the Model Gateway's
// currently loaded models.
func (c *Core) GetModels(ctx context.Context) []ModelInfo {
	loaded := c.Gateway.ListLoadedModels(ctx)
	roles := []model.ModelRole{model.RoleSmall, model.RoleLarge, model.RoleEmbedding, model.RoleVision}
	out := make([]ModelInfo, 0, len(roles))
	for _, role := range roles {
		id, err := resolver.Resolve(role, loaded, c.Patterns)
		out = append(out, ModelInfo{Role: role, ModelID: id, Available: err == nil})
	}
	return out
}
