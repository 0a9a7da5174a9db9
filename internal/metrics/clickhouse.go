package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"cognitivecore/internal/model"
)

// ClickHouseBackend is the durable OutcomeBackend, grounded on the
// teacher's clickhouse-go/v2 connection and query idiom (ParseDSN, Open,
// parameterized Query).
type ClickHouseBackend struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseBackend opens a connection to dsn and ensures the
// outcomes table exists. table defaults to "interaction_outcomes".
func NewClickHouseBackend(ctx context.Context, dsn, database, table string) (*ClickHouseBackend, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("metrics: parse clickhouse dsn: %w", err)
	}
	if database != "" {
		opts.Auth.Database = database
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("metrics: open clickhouse: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("metrics: clickhouse ping: %w", err)
	}
	if table == "" {
		table = "interaction_outcomes"
	}
	b := &ClickHouseBackend{conn: conn, table: table}
	if err := b.init(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *ClickHouseBackend) init(ctx context.Context) error {
	return b.conn.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    message_id Int64,
    was_correction UInt8,
    implicit_positive UInt8,
    implicit_negative UInt8,
    facts_in_context Int32,
    style_prompt_len Int32,
    confidence_score Float64,
    latency_ms Int64,
    tokens_generated Int32,
    recorded_at DateTime
) ENGINE = MergeTree()
ORDER BY recorded_at`, b.table))
}

func (b *ClickHouseBackend) Insert(ctx context.Context, o model.InteractionOutcome) error {
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}
	return b.conn.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (message_id, was_correction, implicit_positive, implicit_negative, facts_in_context, style_prompt_len, confidence_score, latency_ms, tokens_generated, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, b.table),
		o.MessageID, boolToUint8(o.WasCorrection), boolToUint8(o.ImplicitPositive), boolToUint8(o.ImplicitNegative),
		o.FactsInContext, o.StylePromptLen, o.ConfidenceScore, o.LatencyMS, o.TokensGenerated, o.RecordedAt)
}

func (b *ClickHouseBackend) Since(ctx context.Context, cutoff time.Time) ([]model.InteractionOutcome, error) {
	rows, err := b.conn.Query(ctx, fmt.Sprintf(`
SELECT message_id, was_correction, implicit_positive, implicit_negative, facts_in_context, style_prompt_len, confidence_score, latency_ms, tokens_generated, recorded_at
FROM %s WHERE recorded_at >= ?`, b.table), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InteractionOutcome
	for rows.Next() {
		var o model.InteractionOutcome
		var wasCorrection, implicitPositive, implicitNegative uint8
		if err := rows.Scan(&o.MessageID, &wasCorrection, &implicitPositive, &implicitNegative,
			&o.FactsInContext, &o.StylePromptLen, &o.ConfidenceScore, &o.LatencyMS, &o.TokensGenerated, &o.RecordedAt); err != nil {
			return nil, err
		}
		o.WasCorrection = wasCorrection != 0
		o.ImplicitPositive = implicitPositive != 0
		o.ImplicitNegative = implicitNegative != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
