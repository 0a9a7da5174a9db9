// Package gateway implements the Model Gateway (C1): a uniform
// chat/embedding/streaming interface over one or more model backends, with
// a per-model lock, a minimum interval between consecutive calls to the
// same model identifier (calls to different models are not paced against
// each other), a num_ctx cap, and think-tag
// filtering, grounded on the teacher's internal/llm provider/openai_client
// shape but generalized to multiple backends and a single abstract role.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cognitivecore/internal/coreerr"
	"cognitivecore/internal/model"
	"cognitivecore/internal/telemetry"
)

// Message is one entry of a chat request.
type Message struct {
	Role    model.Role
	Content string
}

// Params bounds a single chat/stream call.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	NumCtx      int
}

// Delta is one visible-content increment in a stream.
type Delta struct {
	Text    string
	Logprob *float64
}

// BoundaryEvent is one of the non-content signals the gateway emits while
// streaming: "loading", "thinking_start", "thinking_step", "thinking_end",
// "done".
type BoundaryEvent struct {
	Name    string
	Content string
}

// StreamHandler receives the pieces of a streaming chat call. ChatStream
// never drops a token: every visible Delta and every BoundaryEvent is
// delivered in generation order. A stream ends with OnDone, or with
// OnCancelled when ctx is cancelled; when ChatStream returns any other
// error (no backend for the role, backend failure) neither is called.
type StreamHandler interface {
	OnBoundary(ev BoundaryEvent)
	OnDelta(d Delta)
	OnDone()
	OnCancelled()
}

// Backend is the minimal surface a concrete model provider must implement.
// Local llama.cpp/vLLM/MLX-style servers speak the OpenAI-compatible
// surface; Anthropic/Gemini backends are optional cloud fallbacks for the
// large/vision roles.
type Backend interface {
	Chat(ctx context.Context, msgs []Message, p Params) (string, error)
	ChatStream(ctx context.Context, msgs []Message, p Params, h StreamHandler) error
	ListModels(ctx context.Context) ([]string, error)
}

// EmbedBackend is implemented by backends that can also produce embeddings.
type EmbedBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type modelState struct {
	mu       sync.Mutex
	lastCall time.Time
}

// Gateway routes chat/stream/embed calls to the backend registered for a
// role, serializing calls per model identifier and spacing consecutive
// calls to the same model identifier by a minimum interval; calls to
// different models are not paced against each other.
type Gateway struct {
	numCtxCap   int
	minInterval time.Duration

	backendsMu sync.RWMutex
	backends   map[model.ModelRole]Backend

	statesMu sync.Mutex
	states   map[string]*modelState

	loadedMu sync.RWMutex
	loaded   map[string]struct{}
}

// Option configures a Gateway at construction.
type Option func(*Gateway)

// WithNumCtxCap overrides the default 8192 context-window cap.
func WithNumCtxCap(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.numCtxCap = n
		}
	}
}

// WithMinRequestInterval overrides the default 50ms minimum interval
// between consecutive calls to the same model identifier.
func WithMinRequestInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.minInterval = d
		}
	}
}

// New constructs a Gateway with no backends registered; call Register for
// each role this process can serve.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		numCtxCap:   8192,
		minInterval: 50 * time.Millisecond,
		backends:    make(map[model.ModelRole]Backend),
		states:      make(map[string]*modelState),
		loaded:      make(map[string]struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Register associates a backend with an abstract role.
func (g *Gateway) Register(role model.ModelRole, b Backend) {
	g.backendsMu.Lock()
	defer g.backendsMu.Unlock()
	g.backends[role] = b
}

func (g *Gateway) backendFor(role model.ModelRole) (Backend, error) {
	g.backendsMu.RLock()
	defer g.backendsMu.RUnlock()
	b, ok := g.backends[role]
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for role %q", coreerr.ErrModelNotLoaded, role)
	}
	return b, nil
}

func (g *Gateway) stateFor(id string) *modelState {
	g.statesMu.Lock()
	defer g.statesMu.Unlock()
	st, ok := g.states[id]
	if !ok {
		st = &modelState{}
		g.states[id] = st
	}
	return st
}

// capParams clamps NumCtx to the configured cap.
func (g *Gateway) capParams(p Params) Params {
	if p.NumCtx <= 0 || p.NumCtx > g.numCtxCap {
		p.NumCtx = g.numCtxCap
	}
	return p
}

// throttle enforces the per-model mutex (serializing calls to one backend
// model identifier) and the soft minimum inter-request interval, then
// returns an unlock func the caller must defer.
func (g *Gateway) throttle(ctx context.Context, id string) (func(), error) {
	st := g.stateFor(id)
	st.mu.Lock()
	wait := time.Until(st.lastCall.Add(g.minInterval))
	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			st.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	return func() {
		st.lastCall = time.Now()
		st.mu.Unlock()
	}, nil
}

// Chat performs a non-streaming chat call against the backend for role,
// retrying once with backoff on BackendUnavailable.
func (g *Gateway) Chat(ctx context.Context, role model.ModelRole, msgs []Message, p Params) (string, error) {
	b, err := g.backendFor(role)
	if err != nil {
		return "", err
	}
	p = g.capParams(p)
	unlock, err := g.throttle(ctx, p.Model)
	if err != nil {
		return "", err
	}
	defer unlock()

	log := telemetry.LoggerWithTrace(ctx)
	text, err := b.Chat(ctx, msgs, p)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unavailable") {
		log.Warn().Str("model", p.Model).Err(err).Msg("backend unavailable, retrying once")
		time.Sleep(200 * time.Millisecond)
		text, err = b.Chat(ctx, msgs, p)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s", coreerr.ErrBackendUnavailable, err)
	}
	return text, nil
}

// ChatStream performs a streaming chat call, filtering <think>...</think>
// content into boundary events and forwarding only visible tokens as
// Deltas. It never silently drops tokens: on ctx cancellation it calls
// h.OnCancelled instead of h.OnDone.
func (g *Gateway) ChatStream(ctx context.Context, role model.ModelRole, msgs []Message, p Params, h StreamHandler) error {
	b, err := g.backendFor(role)
	if err != nil {
		return err
	}
	p = g.capParams(p)
	unlock, err := g.throttle(ctx, p.Model)
	if err != nil {
		h.OnCancelled()
		return err
	}
	defer unlock()

	filter := newThinkFilter(h)
	h.OnBoundary(BoundaryEvent{Name: "loading", Content: p.Model})
	err = b.ChatStream(ctx, msgs, p, filter)
	if ctx.Err() != nil {
		h.OnCancelled()
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %s", coreerr.ErrBackendUnavailable, err)
	}
	filter.flush()
	h.OnDone()
	return nil
}

// Embed delegates to the embedding-capable backend registered for
// RoleEmbedding.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	b, err := g.backendFor(model.RoleEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", coreerr.ErrEmbeddingUnavailable, err)
	}
	eb, ok := b.(EmbedBackend)
	if !ok {
		return nil, fmt.Errorf("%w: backend does not support embeddings", coreerr.ErrEmbeddingUnavailable)
	}
	v, err := eb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", coreerr.ErrEmbeddingUnavailable, err)
	}
	return v, nil
}

// ListLoadedModels returns the identifiers this gateway has observed as
// loaded, across every registered backend.
func (g *Gateway) ListLoadedModels(ctx context.Context) []string {
	g.backendsMu.RLock()
	defer g.backendsMu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, b := range g.backends {
		ids, err := b.ListModels(ctx)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	g.loadedMu.Lock()
	for _, id := range out {
		g.loaded[id] = struct{}{}
	}
	g.loadedMu.Unlock()
	return out
}

// EnsureLoaded reports whether modelID is in the live loaded set, returning
// ModelNotLoaded when it is not. It checks once against ListLoadedModels;
// it does not wait and does not ask a backend to load the model.
func (g *Gateway) EnsureLoaded(ctx context.Context, role model.ModelRole, modelID string) error {
	ids := g.ListLoadedModels(ctx)
	for _, id := range ids {
		if id == modelID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", coreerr.ErrModelNotLoaded, modelID)
}
