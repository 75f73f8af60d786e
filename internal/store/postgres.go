package store

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresBackend stores each collection as one JSONB document in the
// collections table (see internal/db/migrations).
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Read(ctx context.Context, name string) ([]byte, error) {
	const query = `SELECT body FROM collections WHERE name = $1`
	var body []byte
	if err := p.db.QueryRowContext(ctx, query, name).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}

func (p *PostgresBackend) Write(ctx context.Context, name string, data []byte) error {
	const query = `
		INSERT INTO collections (name, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at`
	_, err := p.db.ExecContext(ctx, query, name, string(data))
	return err
}
