package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cognitivecore/internal/model"
)

// NewPostgresBackend returns a Postgres-backed Backend, grounded on the
// teacher's pgChatStore: parameterized SQL throughout, transactional
// writes with rollback on error.
func NewPostgresBackend(pool *pgxpool.Pool) Backend {
	return &pgBackend{pool: pool}
}

type pgBackend struct {
	pool *pgxpool.Pool
}

func (b *pgBackend) Init(ctx context.Context) error {
	if b.pool == nil {
		return errors.New("postgres memory backend requires a pool")
	}
	_, err := b.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    message_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    model_used TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_conv_created_idx ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS conversation_summaries (
    conversation_id UUID PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
    summary_text TEXT NOT NULL,
    messages_covered_min BIGINT NOT NULL,
    messages_covered_max BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS facts (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    content TEXT NOT NULL,
    category TEXT NOT NULL,
    embedding JSONB NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_used TIMESTAMPTZ,
    usage_count INTEGER NOT NULL DEFAULT 0,
    positive_outcomes INTEGER NOT NULL DEFAULT 0,
    negative_outcomes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS facts_conv_category_idx ON facts(conversation_id, category);
`)
	return err
}

func (b *pgBackend) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	id := uuid.New()
	row := b.pool.QueryRow(ctx, `
INSERT INTO conversations (id, title) VALUES ($1, $2)
RETURNING id, title, created_at, message_count`, id, title)
	return scanConversation(row)
}

func (b *pgBackend) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	row := b.pool.QueryRow(ctx, `
SELECT id, title, created_at, message_count FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Conversation{}, ErrNotFound
	}
	return conv, err
}

func (b *pgBackend) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := b.pool.Query(ctx, `
SELECT id, title, created_at, message_count FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (b *pgBackend) DeleteConversation(ctx context.Context, id string) error {
	cmd, err := b.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *pgBackend) TouchConversation(ctx context.Context, id string) error {
	cmd, err := b.pool.Exec(ctx, `
UPDATE conversations SET message_count = (SELECT COUNT(*) FROM messages WHERE conversation_id = $1)
WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *pgBackend) InsertMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
INSERT INTO messages (conversation_id, role, content, model_used, token_count)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, conversation_id, role, content, model_used, token_count, created_at`,
		msg.ConversationID, msg.Role, msg.Content, msg.ModelUsed, msg.TokenCount)
	out, err := scanMessage(row)
	if err != nil {
		return model.Message{}, err
	}

	if _, err := tx.Exec(ctx, `
UPDATE conversations SET message_count = message_count + 1 WHERE id = $1`, msg.ConversationID); err != nil {
		return model.Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Message{}, err
	}
	return out, nil
}

func (b *pgBackend) ListMessages(ctx context.Context, convID string, limit int) ([]model.Message, error) {
	query := `
SELECT id, conversation_id, role, content, model_used, token_count, created_at
FROM messages WHERE conversation_id = $1 ORDER BY id ASC`
	args := []any{convID}
	if limit > 0 {
		query = `
SELECT id, conversation_id, role, content, model_used, token_count, created_at FROM (
    SELECT id, conversation_id, role, content, model_used, token_count, created_at
    FROM messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2
) sub ORDER BY id ASC`
		args = append(args, limit)
	}
	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *pgBackend) CountMessages(ctx context.Context, convID string) (int, error) {
	var n int
	err := b.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, convID).Scan(&n)
	return n, err
}

func (b *pgBackend) CompressPrefix(ctx context.Context, convID string, throughID int64, summary model.ConversationSummary) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
DELETE FROM messages WHERE conversation_id = $1 AND id <= $2`, convID, throughID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO conversation_summaries (conversation_id, summary_text, messages_covered_min, messages_covered_max)
VALUES ($1, $2, $3, $4)
ON CONFLICT (conversation_id) DO UPDATE SET
    summary_text = EXCLUDED.summary_text,
    messages_covered_min = LEAST(conversation_summaries.messages_covered_min, EXCLUDED.messages_covered_min),
    messages_covered_max = EXCLUDED.messages_covered_max,
    created_at = NOW()`,
		convID, summary.SummaryText, summary.MessagesCoveredMin, summary.MessagesCoveredMax); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (b *pgBackend) GetSummary(ctx context.Context, convID string) (model.ConversationSummary, bool, error) {
	row := b.pool.QueryRow(ctx, `
SELECT conversation_id, summary_text, messages_covered_min, messages_covered_max, created_at
FROM conversation_summaries WHERE conversation_id = $1`, convID)
	var s model.ConversationSummary
	err := row.Scan(&s.ConversationID, &s.SummaryText, &s.MessagesCoveredMin, &s.MessagesCoveredMax, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ConversationSummary{}, false, nil
	}
	if err != nil {
		return model.ConversationSummary{}, false, err
	}
	return s, true, nil
}

func (b *pgBackend) InsertFacts(ctx context.Context, facts []model.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, f := range facts {
		id := f.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO facts (id, conversation_id, content, category, embedding, confidence)
VALUES ($1, $2, $3, $4, $5, $6)`,
			id, f.ConversationID, f.Content, string(f.Category), embeddingJSON(f.Embedding), f.Confidence); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (b *pgBackend) FactsForRanking(ctx context.Context, convID string, exclude []model.FactCategory) ([]model.Fact, error) {
	excludeStrs := make([]string, len(exclude))
	for i, c := range exclude {
		excludeStrs[i] = string(c)
	}
	rows, err := b.pool.Query(ctx, `
SELECT id, conversation_id, content, category, embedding, confidence, created_at, last_used, usage_count, positive_outcomes, negative_outcomes
FROM facts WHERE conversation_id = $1 AND NOT (category = ANY($2))`, convID, excludeStrs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *pgBackend) TopFacts(ctx context.Context, limit int, exclude []model.FactCategory) ([]model.Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	excludeStrs := make([]string, len(exclude))
	for i, c := range exclude {
		excludeStrs[i] = string(c)
	}
	rows, err := b.pool.Query(ctx, `
SELECT id, conversation_id, content, category, embedding, confidence, created_at, last_used, usage_count, positive_outcomes, negative_outcomes
FROM facts WHERE NOT (category = ANY($2)) ORDER BY confidence DESC, created_at DESC LIMIT $1`, limit, excludeStrs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (b *pgBackend) RecordFactUsage(ctx context.Context, factID string, positive bool) error {
	column := "negative_outcomes"
	if positive {
		column = "positive_outcomes"
	}
	cmd, err := b.pool.Exec(ctx, `
UPDATE facts SET usage_count = usage_count + 1, last_used = NOW(), `+column+` = `+column+` + 1
WHERE id = $1`, factID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *pgBackend) DeleteFactsForConversation(ctx context.Context, convID string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM facts WHERE conversation_id = $1`, convID)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConversation(row scannable) (model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.MessageCount)
	return c, err
}

func scanMessage(row scannable) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ModelUsed, &m.TokenCount, &m.CreatedAt)
	return m, err
}

func scanFact(row scannable) (model.Fact, error) {
	var f model.Fact
	var embedding []byte
	err := row.Scan(&f.ID, &f.ConversationID, &f.Content, &f.Category, &embedding, &f.Confidence,
		&f.CreatedAt, &f.LastUsed, &f.UsageCount, &f.PositiveOutcomes, &f.NegativeOutcomes)
	if err != nil {
		return model.Fact{}, err
	}
	f.Embedding = decodeEmbeddingJSON(embedding)
	return f, nil
}
