package memory

import (
	"context"
	"errors"

	"cognitivecore/internal/model"
)

// ErrNotFound is returned by Backend lookups that find nothing.
var ErrNotFound = errors.New("memory: not found")

// Backend is the storage layer the Store (C6) drives. Two implementations
// are provided: an in-memory one (tests, single-process deployments) and
// a Postgres one, mirroring the teacher's dual chat-store pattern.
type Backend interface {
	CreateConversation(ctx context.Context, title string) (model.Conversation, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id string) error

	InsertMessage(ctx context.Context, msg model.Message) (model.Message, error)
	ListMessages(ctx context.Context, convID string, limit int) ([]model.Message, error)
	CountMessages(ctx context.Context, convID string) (int, error)

	// CompressPrefix replaces every message with ID <= throughID for convID
	// with summary, atomically.
	CompressPrefix(ctx context.Context, convID string, throughID int64, summary model.ConversationSummary) error
	GetSummary(ctx context.Context, convID string) (model.ConversationSummary, bool, error)

	InsertFacts(ctx context.Context, facts []model.Fact) error
	// FactsForRanking returns every fact for convID whose category is not
	// in exclude, for the caller to rank by embedding similarity.
	FactsForRanking(ctx context.Context, convID string, exclude []model.FactCategory) ([]model.Fact, error)
	// TopFacts returns the limit highest-confidence facts (newest first
	// among equal confidence) across every conversation, for the Context Primer's
	// cross-conversation memory recall. Facts are not indexed by the
	// Semantic Router's intent categories in this data model, so callers
	// cannot filter by category here, only by exclude (mirroring
	// FactsForRanking's privacy-category exclusion).
	TopFacts(ctx context.Context, limit int, exclude []model.FactCategory) ([]model.Fact, error)
	RecordFactUsage(ctx context.Context, factID string, positive bool) error
	DeleteFactsForConversation(ctx context.Context, convID string) error
}

// Initializer creates whatever schema a Backend needs; a no-op for the
// in-memory implementation.
type Initializer interface {
	Init(ctx context.Context) error
}
