package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cognitivecore/internal/model"
)

// NewMemoryBackend returns an in-process Backend, grounded on the
// teacher's mutex-guarded map chat store. Used for tests and for
// deployments with no configured database.
func NewMemoryBackend() Backend {
	return &memBackend{
		conversations: map[string]model.Conversation{},
		messages:      map[string][]model.Message{},
		summaries:     map[string]model.ConversationSummary{},
		facts:         map[string][]model.Fact{},
	}
}

type memBackend struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
	summaries     map[string]model.ConversationSummary
	facts         map[string][]model.Fact
	nextMsgID     int64
}

func (b *memBackend) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	conv := model.Conversation{ID: id, CreatedAt: time.Now().UTC(), Title: title}
	b.conversations[id] = conv
	return conv, nil
}

func (b *memBackend) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conv, ok := b.conversations[id]
	if !ok {
		return model.Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (b *memBackend) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Conversation, 0, len(b.conversations))
	for _, c := range b.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (b *memBackend) DeleteConversation(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(b.conversations, id)
	delete(b.messages, id)
	delete(b.summaries, id)
	delete(b.facts, id)
	return nil
}

func (b *memBackend) TouchConversation(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.MessageCount = len(b.messages[id])
	b.conversations[id] = conv
	return nil
}

func (b *memBackend) InsertMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conversations[msg.ConversationID]; !ok {
		return model.Message{}, ErrNotFound
	}
	msg.ID = atomic.AddInt64(&b.nextMsgID, 1)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	b.messages[msg.ConversationID] = append(b.messages[msg.ConversationID], msg)
	conv := b.conversations[msg.ConversationID]
	conv.MessageCount++
	b.conversations[msg.ConversationID] = conv
	return msg, nil
}

func (b *memBackend) ListMessages(ctx context.Context, convID string, limit int) ([]model.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	msgs := b.messages[convID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (b *memBackend) CountMessages(ctx context.Context, convID string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages[convID]), nil
}

func (b *memBackend) CompressPrefix(ctx context.Context, convID string, throughID int64, summary model.ConversationSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages[convID]
	var kept []model.Message
	for _, m := range msgs {
		if m.ID > throughID {
			kept = append(kept, m)
		}
	}
	b.messages[convID] = kept
	b.summaries[convID] = summary
	return nil
}

func (b *memBackend) GetSummary(ctx context.Context, convID string) (model.ConversationSummary, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.summaries[convID]
	return s, ok, nil
}

func (b *memBackend) InsertFacts(ctx context.Context, facts []model.Fact) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range facts {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		b.facts[f.ConversationID] = append(b.facts[f.ConversationID], f)
	}
	return nil
}

func (b *memBackend) FactsForRanking(ctx context.Context, convID string, exclude []model.FactCategory) ([]model.Fact, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	excluded := make(map[model.FactCategory]struct{}, len(exclude))
	for _, c := range exclude {
		excluded[c] = struct{}{}
	}
	var out []model.Fact
	for _, f := range b.facts[convID] {
		if _, skip := excluded[f.Category]; skip {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (b *memBackend) TopFacts(ctx context.Context, limit int, exclude []model.FactCategory) ([]model.Fact, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	excluded := make(map[model.FactCategory]struct{}, len(exclude))
	for _, c := range exclude {
		excluded[c] = struct{}{}
	}
	var all []model.Fact
	for _, facts := range b.facts {
		for _, f := range facts {
			if _, skip := excluded[f.Category]; skip {
				continue
			}
			all = append(all, f)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (b *memBackend) RecordFactUsage(ctx context.Context, factID string, positive bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for convID, facts := range b.facts {
		for i := range facts {
			if facts[i].ID != factID {
				continue
			}
			now := time.Now().UTC()
			facts[i].UsageCount++
			facts[i].LastUsed = &now
			if positive {
				facts[i].PositiveOutcomes++
			} else {
				facts[i].NegativeOutcomes++
			}
			b.facts[convID] = facts
			return nil
		}
	}
	return ErrNotFound
}

func (b *memBackend) DeleteFactsForConversation(ctx context.Context, convID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.facts, convID)
	return nil
}
