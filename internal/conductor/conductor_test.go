package conductor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/gateway"
	"cognitivecore/internal/model"
)

// fakeStreamer plays back a fixed sequence of token segments, one per
// ChatStream call, so tests can simulate STEER/REGEN restarts.
type fakeStreamer struct {
	mu               sync.Mutex
	calls            int
	segments         [][]string
	logprobPerCall   []float64
	failOnCall       int // 1-based; 0 means never fail
	blockUntilCancel bool
}

func (s *fakeStreamer) ChatStream(ctx context.Context, role model.ModelRole, msgs []gateway.Message, p gateway.Params, h gateway.StreamHandler) error {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	lp := -0.1
	if idx < len(s.logprobPerCall) {
		lp = s.logprobPerCall[idx]
	}
	var tokens []string
	if idx < len(s.segments) {
		tokens = s.segments[idx]
	}
	for _, t := range tokens {
		l := lp
		h.OnDelta(gateway.Delta{Text: t, Logprob: &l})
	}

	if s.failOnCall == idx+1 {
		return fmt.Errorf("backend exploded")
	}

	if s.blockUntilCancel && idx == len(s.segments)-1 {
		<-ctx.Done()
		h.OnCancelled()
		return ctx.Err()
	}
	h.OnDone()
	return nil
}

func (s *fakeStreamer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeChatter plays back one scripted CHECK response per call, repeating
// the last entry once exhausted.
type fakeChatter struct {
	mu        sync.Mutex
	calls     int
	responses []string
}

func (c *fakeChatter) Chat(ctx context.Context, role model.ModelRole, msgs []gateway.Message, p gateway.Params) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	if len(c.responses) == 0 {
		return `{"action":"continue","reason":"solid"}`, nil
	}
	if idx >= len(c.responses) {
		return c.responses[len(c.responses)-1], nil
	}
	return c.responses[idx], nil
}

type recordingSink struct {
	mu          sync.Mutex
	tokens      []string
	thinking    []string
	regenerated []string
	confidence  float64
	level       model.ConfidenceLevel
	outcome     model.InteractionOutcome
	done        bool
	cancelled   bool
	errored     bool
	errKind     string
	errText     string
}

func (r *recordingSink) OnToken(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, text)
}
func (r *recordingSink) OnThinkingStep(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thinking = append(r.thinking, text)
}
func (r *recordingSink) OnRegenerate(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regenerated = append(r.regenerated, text)
}
func (r *recordingSink) OnConfidence(score float64, level model.ConfidenceLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confidence = score
	r.level = level
}
func (r *recordingSink) OnDone(outcome model.InteractionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	r.outcome = outcome
}
func (r *recordingSink) OnError(kind string, partialText string, outcome model.InteractionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errored = true
	r.errKind = kind
	r.errText = partialText
	r.outcome = outcome
}
func (r *recordingSink) OnCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *recordingSink) joinedTokens() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := ""
	for _, t := range r.tokens {
		out += t
	}
	return out
}

func basicRequest() Request {
	return Request{
		Query: "how do I deploy this",
		Route: model.RouteDecision{Category: model.IntentCode, ModelRole: model.RoleLarge},
	}
}

func TestGenerateHappyPathEmitsTokensAndDone(t *testing.T) {
	streamer := &fakeStreamer{segments: [][]string{{"hello ", "world"}}}
	chatter := &fakeChatter{}
	c := New(streamer, chatter, Config{CheckWindow: 20})
	sink := &recordingSink{}

	err := c.Generate(context.Background(), basicRequest(), sink)
	require.NoError(t, err)

	assert.Equal(t, "hello world", sink.joinedTokens())
	assert.True(t, sink.done)
	assert.False(t, sink.cancelled)
	assert.Equal(t, 2, sink.outcome.TokensGenerated)
}

func TestGenerateStopVerdictEndsStreamEarly(t *testing.T) {
	streamer := &fakeStreamer{segments: [][]string{{"a", "b", "c", "d", "e"}}}
	chatter := &fakeChatter{responses: []string{`{"action":"stop","reason":"complete"}`}}
	c := New(streamer, chatter, Config{CheckWindow: 2})
	sink := &recordingSink{}

	err := c.Generate(context.Background(), basicRequest(), sink)
	require.NoError(t, err)

	assert.True(t, sink.done)
	assert.Equal(t, 1, streamer.callCount())
}

func TestGenerateSteerRestartsSegment(t *testing.T) {
	// Second segment is shorter than the window so it completes without
	// triggering a second CHECK.
	streamer := &fakeStreamer{segments: [][]string{{"a", "b"}, {"c"}}}
	chatter := &fakeChatter{responses: []string{`{"action":"steer","reason":"drifting","steering_note":"stay on task"}`}}
	c := New(streamer, chatter, Config{CheckWindow: 2})
	sink := &recordingSink{}

	err := c.Generate(context.Background(), basicRequest(), sink)
	require.NoError(t, err)

	assert.True(t, sink.done)
	assert.Equal(t, 2, streamer.callCount())
}

func TestGenerateRegenerateTruncatesAndRetries(t *testing.T) {
	streamer := &fakeStreamer{segments: [][]string{{"a", "b"}, {"c"}}}
	chatter := &fakeChatter{responses: []string{`{"action":"regenerate_last_chunk","reason":"messy"}`}}
	c := New(streamer, chatter, Config{CheckWindow: 2, MaxRegenRetries: 2})
	sink := &recordingSink{}

	err := c.Generate(context.Background(), basicRequest(), sink)
	require.NoError(t, err)

	assert.True(t, sink.done)
	require.Len(t, sink.regenerated, 1)
	assert.Equal(t, 2, streamer.callCount())
}

func TestGenerateRegenExceedsRetriesForcesDone(t *testing.T) {
	streamer := &fakeStreamer{segments: [][]string{{"a", "b"}, {"c", "d"}}}
	chatter := &fakeChatter{responses: []string{
		`{"action":"regenerate_last_chunk","reason":"messy"}`,
		`{"action":"regenerate_last_chunk","reason":"still messy"}`,
	}}
	c := New(streamer, chatter, Config{CheckWindow: 2, MaxRegenRetries: 1})
	sink := &recordingSink{}

	err := c.Generate(context.Background(), basicRequest(), sink)
	require.NoError(t, err)

	assert.True(t, sink.done)
	assert.Equal(t, 2, streamer.callCount())
}

func TestGenerateLargeModelFailureReportsErrorNotDone(t *testing.T) {
	streamer := &fakeStreamer{segments: [][]string{{"partial "}}, failOnCall: 1}
	chatter := &fakeChatter{}
	c := New(streamer, chatter, Config{CheckWindow: 20})
	sink := &recordingSink{}

	err := c.Generate(context.Background(), basicRequest(), sink)
	require.NoError(t, err)

	assert.False(t, sink.done)
	assert.True(t, sink.errored)
	assert.NotEmpty(t, sink.errKind)
	assert.True(t, sink.outcome.ImplicitNegative)
	assert.Contains(t, sink.joinedTokens(), "[connection lost]")
	assert.Contains(t, sink.errText, "[connection lost]")
}

func TestGenerateCancellationCallsOnCancelled(t *testing.T) {
	streamer := &fakeStreamer{segments: [][]string{{"a"}}, blockUntilCancel: true}
	chatter := &fakeChatter{}
	c := New(streamer, chatter, Config{CheckWindow: 20})
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		_ = c.Generate(ctx, basicRequest(), sink)
		close(doneCh)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after cancellation")
	}

	assert.True(t, sink.cancelled)
	assert.False(t, sink.done)
}

func TestParseVerdictStrictJSON(t *testing.T) {
	v := parseVerdict(`{"action":"steer","reason":"off track","steering_note":"focus"}`)
	assert.Equal(t, actionSteer, v.Action)
	assert.Equal(t, "focus", v.SteeringNote)
}

func TestParseVerdictRegexFallback(t *testing.T) {
	v := parseVerdict(`action: stop, reason: "looks complete"`)
	assert.Equal(t, actionStop, v.Action)
	assert.Equal(t, "looks complete", v.Reason)
}

func TestParseVerdictDefaultsToContinueOnGarbage(t *testing.T) {
	v := parseVerdict("the weather is nice today")
	assert.Equal(t, actionContinue, v.Action)
}

func TestParseVerdictEmptyDefaultsToContinue(t *testing.T) {
	v := parseVerdict("")
	assert.Equal(t, actionContinue, v.Action)
}

func TestScoreConfidenceHighLogprobNoHedgeIsHigh(t *testing.T) {
	score := scoreConfidence(-0.05, "The deployment completed successfully.", "confident")
	assert.Greater(t, score, 0.75)
}

func TestScoreConfidenceLowLogprobWithHedgeIsLow(t *testing.T) {
	score := scoreConfidence(-3.0, "I think this might possibly work, not entirely sure.", "unsure")
	assert.Less(t, score, 0.5)
}
