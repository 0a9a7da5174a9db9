package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cognitivecore/internal/model"
)

type fakeBackend struct {
	chatResp   string
	streamText []string
	models     []string
	err        error
}

func (f *fakeBackend) Chat(ctx context.Context, msgs []Message, p Params) (string, error) {
	return f.chatResp, f.err
}

func (f *fakeBackend) ChatStream(ctx context.Context, msgs []Message, p Params, h StreamHandler) error {
	if f.err != nil {
		return f.err
	}
	for _, t := range f.streamText {
		h.OnDelta(Delta{Text: t})
	}
	return nil
}

func (f *fakeBackend) ListModels(ctx context.Context) ([]string, error) {
	return f.models, nil
}

type recordingHandler struct {
	boundaries []BoundaryEvent
	deltas     []string
	done       bool
	cancelled  bool
}

func (r *recordingHandler) OnBoundary(ev BoundaryEvent) { r.boundaries = append(r.boundaries, ev) }
func (r *recordingHandler) OnDelta(d Delta)             { r.deltas = append(r.deltas, d.Text) }
func (r *recordingHandler) OnDone()                     { r.done = true }
func (r *recordingHandler) OnCancelled()                { r.cancelled = true }

func TestChatRoutesToRegisteredBackend(t *testing.T) {
	g := New()
	g.Register(model.RoleSmall, &fakeBackend{chatResp: "hello"})

	out, err := g.Chat(context.Background(), model.RoleSmall, []Message{{Role: model.RoleUser, Content: "hi"}}, Params{Model: "small-1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestChatMissingRoleIsModelNotLoaded(t *testing.T) {
	g := New()
	_, err := g.Chat(context.Background(), model.RoleLarge, nil, Params{Model: "x"})
	require.Error(t, err)
}

func TestChatStreamFiltersThinkTags(t *testing.T) {
	g := New()
	g.Register(model.RoleLarge, &fakeBackend{streamText: []string{"visible ", "<think>reasoning", " more</think>", "tail"}})

	h := &recordingHandler{}
	err := g.ChatStream(context.Background(), model.RoleLarge, nil, Params{Model: "large-1"}, h)
	require.NoError(t, err)

	assert.Equal(t, "visible tail", joinStrings(h.deltas))
	assert.True(t, h.done)
	assert.False(t, h.cancelled)

	var names []string
	for _, b := range h.boundaries {
		names = append(names, b.Name)
	}
	assert.Contains(t, names, "loading")
	assert.Contains(t, names, "thinking_start")
	assert.Contains(t, names, "thinking_end")
}

func TestChatStreamCancellation(t *testing.T) {
	g := New()
	g.Register(model.RoleLarge, &fakeBackend{streamText: []string{"a"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := &recordingHandler{}
	_ = g.ChatStream(ctx, model.RoleLarge, nil, Params{Model: "large-1"}, h)
	assert.True(t, h.cancelled)
	assert.False(t, h.done)
}

func TestCapParamsAppliesDefaultAndOverride(t *testing.T) {
	g := New(WithNumCtxCap(4096))
	assert.Equal(t, 4096, g.capParams(Params{}).NumCtx)
	assert.Equal(t, 4096, g.capParams(Params{NumCtx: 100000}).NumCtx)
	assert.Equal(t, 1024, g.capParams(Params{NumCtx: 1024}).NumCtx)
}

func joinStrings(ss []string) string {
	out := ""
	for _, s := range ss {
		out += s
	}
	return out
}
