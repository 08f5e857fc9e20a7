package repository

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const createDecisionJournalTable = `
CREATE TABLE IF NOT EXISTS decision_journal (
    id         BIGSERIAL   PRIMARY KEY,
    event      TEXT        NOT NULL,
    symbol     TEXT        NOT NULL DEFAULT '',
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_decision_journal_symbol_time
    ON decision_journal (symbol, created_at DESC);
`

// JournalRepository appends decision-learning events. Append-only; rows are
// never updated or deleted by this service.
type JournalRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewJournalRepository(pool PgxPool, tracer trace.Tracer) *JournalRepository {
	return &JournalRepository{pool: pool, tracer: tracer}
}

func (r *JournalRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "journal-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createDecisionJournalTable)
	return err
}

func (r *JournalRepository) Append(ctx context.Context, event, symbol string, payload any) error {
	_, span := r.tracer.Start(ctx, "journal-repo.append")
	defer span.End()

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO decision_journal (event, symbol, payload) VALUES ($1, $2, $3)`,
		event, symbol, raw,
	)
	return err
}

// JournalEvent is one recorded learning event, read back for reporting.
type JournalEvent struct {
	ID        int64           `json:"id"`
	Event     string          `json:"event"`
	Symbol    string          `json:"symbol"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecentEvents lists the newest journal rows, optionally filtered by symbol.
func (r *JournalRepository) RecentEvents(ctx context.Context, symbol string, limit int) ([]JournalEvent, error) {
	_, span := r.tracer.Start(ctx, "journal-repo.recent-events")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, event, symbol, payload, created_at
	 FROM decision_journal
	 ORDER BY created_at DESC
	 LIMIT $1`
	args := []any{limit}
	if symbol != "" {
		query = `SELECT id, event, symbol, payload, created_at
	 FROM decision_journal
	 WHERE symbol = $1
	 ORDER BY created_at DESC
	 LIMIT $2`
		args = []any{symbol, limit}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []JournalEvent
	for rows.Next() {
		var e JournalEvent
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.Event, &e.Symbol, &e.Payload, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = ts.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
