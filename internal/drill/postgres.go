package drill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the drills table. The table is normally owned by the
// content service; [PostgresStore.Migrate] exists for local setups and tests.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_drills (
    id          TEXT PRIMARY KEY,
    type        TEXT NOT NULL,
    document    JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_practice_drills_type ON practice_drills(type);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] that keeps each drill as a single JSONB
// document.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store over db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("drill: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity. It has the shape of a readiness check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("drill: ping: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Drill, error) {
	const query = `SELECT document FROM practice_drills WHERE id = $1`

	var doc []byte
	if err := s.db.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("drill: get %q: %w", id, err)
	}

	var d Drill
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("drill: decode %q: %w", id, err)
	}
	// The row key is authoritative over whatever the document says.
	d.ID = id
	return &d, nil
}

// Put implements [Store] as an upsert.
func (s *PostgresStore) Put(ctx context.Context, d *Drill) error {
	if d.ID == "" {
		return errors.New("drill: id is required")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("drill: encode %q: %w", d.ID, err)
	}

	const query = `
		INSERT INTO practice_drills (id, type, document)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			document = EXCLUDED.document,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, d.ID, string(d.Type), doc); err != nil {
		return fmt.Errorf("drill: put %q: %w", d.ID, err)
	}
	return nil
}
