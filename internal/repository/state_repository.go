package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createLearningStateTable = `
CREATE TABLE IF NOT EXISTS learning_state (
    key        TEXT        PRIMARY KEY,
    doc        JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// StateRepository persists keyed JSON documents, one row per owned store
// (adaptive memories, decision learning). Corrupt documents read as absent
// and are overwritten on the next save.
type StateRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewStateRepository(pool PgxPool, tracer trace.Tracer) *StateRepository {
	return &StateRepository{pool: pool, tracer: tracer}
}

func (r *StateRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "state-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createLearningStateTable)
	return err
}

// LoadDocument decodes the stored document for key into out. Returns false
// when the row is missing or its payload does not decode.
func (r *StateRepository) LoadDocument(ctx context.Context, key string, out any) (bool, error) {
	_, span := r.tracer.Start(ctx, "state-repo.load-document")
	defer span.End()

	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM learning_state WHERE key = $1`,
		key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeDocument(key, raw, out), nil
}

// SaveDocument upserts the document for key. Called synchronously after
// every learning mutation.
func (r *StateRepository) SaveDocument(ctx context.Context, key string, doc any) error {
	_, span := r.tracer.Start(ctx, "state-repo.save-document")
	defer span.End()

	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO learning_state (key, doc, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		key, raw,
	)
	return err
}

func decodeDocument(key string, raw []byte, out any) bool {
	if len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("state repository: corrupt document %q treated as absent: %v", key, err)
		return false
	}
	return true
}
