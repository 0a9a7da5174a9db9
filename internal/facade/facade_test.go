package facade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/conductor"
	"cognitivecore/internal/embedding"
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

type fakeLargeBackend struct {
	block bool
}

func (b *fakeLargeBackend) Chat(ctx context.Context, msgs []gateway.Message, p gateway.Params) (string, error) {
	return "ok", nil
}

func (b *fakeLargeBackend) ChatStream(ctx context.Context, msgs []gateway.Message, p gateway.Params, h gateway.StreamHandler) error {
	h.OnDelta(gateway.Delta{Text: "Hello "})
	h.OnDelta(gateway.Delta{Text: "there."})
	if b.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (b *fakeLargeBackend) ListModels(ctx context.Context) ([]string, error) {
	return []string{"large-7b"}, nil
}

type fakeSmallBackend struct{}

func (fakeSmallBackend) Chat(ctx context.Context, msgs []gateway.Message, p gateway.Params) (string, error) {
	return `{"action":"continue","reason":"fine"}`, nil
}

func (fakeSmallBackend) ChatStream(ctx context.Context, msgs []gateway.Message, p gateway.Params, h gateway.StreamHandler) error {
	return nil
}

func (fakeSmallBackend) ListModels(ctx context.Context) ([]string, error) {
	return []string{"small-1b"}, nil
}

type fakeEmbedBackend struct{}

func (fakeEmbedBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakePatternSource struct{}

func (fakePatternSource) TopSuccessPatterns(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}

type fakeStreakSource struct{}

func (fakeStreakSource) PositiveStreak(ctx context.Context) (int, error) { return 0, nil }

type fakeMemoryProvider struct{}

func (fakeMemoryProvider) RelevantFacts(ctx context.Context, category model.IntentCategory, limit int, privacyUnlocked bool) ([]model.Fact, error) {
	return nil, nil
}

type fakePatternProvider struct{}

func (fakePatternProvider) SuccessPatterns(ctx context.Context, category model.IntentCategory, limit int) ([]string, error) {
	return nil, nil
}

type fakeToolHints struct{}

func (fakeToolHints) ToolHints(category model.IntentCategory) []string { return nil }

type fakeInstructions struct{}

func (fakeInstructions) Instructions(category model.IntentCategory) (string, error) { return "", nil }

// newTestCore wires every real component together exactly as a deployment
// would, substituting only the outermost backends (model, embedding,
// persistence) with in-process fakes.
func newTestCore(t *testing.T, large *fakeLargeBackend) *Core {
	t.Helper()

	gw := gateway.New()
	gw.Register(model.RoleLarge, large)
	gw.Register(model.RoleSmall, fakeSmallBackend{})

	embedder := embedding.New(fakeEmbedBackend{}, 3, 100, time.Hour)

	rtr := router.New(embedder, router.ProbeSet{})

	pr := primer.New(embedder, fakeMemoryProvider{}, fakePatternProvider{}, fakeToolHints{}, fakeInstructions{}, primer.Config{
		CacheCapacity: 10, CacheTTL: time.Minute, HitSimilarity: 0.92, MemoriesPerCategory: 3, PatternsPerCategory: 2,
	})

	mem := memory.New(memory.NewMemoryBackend(), nil, nil, nil, memory.Config{})

	errMem := errormemory.New(embedder, errormemory.NewMemoryStore())

	rec := metrics.New(metrics.NewRingBufferBackend(1000))

	refl := reflection.New(rec, errMem, fakePatternSource{}, fakeStreakSource{})

	cond := conductor.New(gw, gw, conductor.Config{})

	sm := slots.New(slots.Config{})

	lock := privacy.New(0)

	return &Core{
		Gateway:     gw,
		Router:      rtr,
		Primer:      pr,
		Memory:      mem,
		ErrorMemory: errMem,
		Reflection:  refl,
		Conductor:   cond,
		Slots:       sm,
		Metrics:     rec,
		Privacy:     lock,
		Patterns:    resolver.DefaultPatterns,
	}
}

func drain(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining event stream")
		}
	}
}

func TestChatHappyPathEmitsTokensAndDone(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})

	_, events, err := core.Chat(context.Background(), ChatRequest{Query: "how do I deploy this service"})
	require.NoError(t, err)

	got := drain(t, events, 2*time.Second)
	require.NotEmpty(t, got)

	var sawLoading, sawToken, sawDone bool
	var tokens string
	for _, ev := range got {
		switch ev.Kind {
		case EventLoading:
			sawLoading = true
		case EventToken:
			sawToken = true
			tokens += ev.Text
		case EventDone:
			sawDone = true
		}
	}
	assert.True(t, sawLoading)
	assert.True(t, sawToken)
	assert.True(t, sawDone)
	assert.Equal(t, "Hello there.", tokens)

	convs, err := core.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)

	msgs, err := core.GetMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there.", msgs[1].Content)
}

func TestChatRejectsEmptyQuery(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	_, _, err := core.Chat(context.Background(), ChatRequest{Query: "   "})
	assert.Error(t, err)
}

func TestChatReusesExistingConversation(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})

	conv, err := core.CreateConversation(context.Background(), "existing")
	require.NoError(t, err)

	_, events, err := core.Chat(context.Background(), ChatRequest{Query: "continue this thread", ConversationID: conv.ID})
	require.NoError(t, err)
	drain(t, events, 2*time.Second)

	msgs, err := core.GetMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestChatCancellationEmitsCancelledWithoutPersistingAssistantTurn(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{block: true})

	requestID, events, err := core.Chat(context.Background(), ChatRequest{Query: "start a long task"})
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		ok := core.Stop(requestID)
		assert.True(t, ok)
	}()

	got := drain(t, events, 2*time.Second)
	var sawCancelled bool
	for _, ev := range got {
		if ev.Kind == EventCancelled {
			sawCancelled = true
		}
		assert.NotEqual(t, EventDone, ev.Kind)
	}
	assert.True(t, sawCancelled)

	convs, err := core.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := core.GetMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1) // only the user's turn, no assistant reply persisted
}

func TestStopUnknownRequestReturnsFalse(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	assert.False(t, core.Stop("does-not-exist"))
}

func TestSubmitFeedbackRejectsInvalidRating(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	err := core.SubmitFeedback(context.Background(), 1, 0)
	assert.Error(t, err)
}

func TestSubmitFeedbackRecordsOutcome(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	require.NoError(t, core.SubmitFeedback(context.Background(), 7, 1))

	snap, err := core.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.SampleCount)
}

func TestPrivacyLockDelegatesToLock(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	assert.False(t, core.IsPrivacyUnlocked())
	core.UnlockPrivacy()
	assert.True(t, core.IsPrivacyUnlocked())
	core.LockPrivacy()
	assert.False(t, core.IsPrivacyUnlocked())
}

func TestGetModelsResolvesRegisteredBackends(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	got := core.GetModels(context.Background())

	byRole := make(map[model.ModelRole]ModelInfo, len(got))
	for _, m := range got {
		byRole[m.Role] = m
	}

	require.Contains(t, byRole, model.RoleLarge)
	assert.True(t, byRole[model.RoleLarge].Available)
	assert.Equal(t, "large-7b", byRole[model.RoleLarge].ModelID)

	require.Contains(t, byRole, model.RoleSmall)
	assert.True(t, byRole[model.RoleSmall].Available)
	assert.Equal(t, "small-1b", byRole[model.RoleSmall].ModelID)

	require.Contains(t, byRole, model.RoleEmbedding)
	assert.False(t, byRole[model.RoleEmbedding].Available)
}

func TestAddAndDeleteDocumentAreUnimplementedStubs(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	_, err := core.AddDocument(context.Background(), "text", nil)
	assert.ErrorIs(t, err, ErrDocumentIngestionUnavailable)
	assert.ErrorIs(t, core.DeleteDocument(context.Background(), "id"), ErrDocumentIngestionUnavailable)
}

func TestDeleteConversationRemovesIt(t *testing.T) {
	core := newTestCore(t, &fakeLargeBackend{})
	conv, err := core.CreateConversation(context.Background(), "to delete")
	require.NoError(t, err)

	require.NoError(t, core.DeleteConversation(context.Background(), conv.ID))

	convs, err := core.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}
