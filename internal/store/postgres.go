package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `CREATE TABLE IF NOT EXISTS session_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres keeps the three keys as rows of session_kv.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the table if needed.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Postgres) Load(ctx context.Context) (Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM session_kv WHERE key = ANY($1)`, keys,
	)
	if err != nil {
		return Record{}, err
	}
	defer rows.Close()

	vals := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Record{}, err
		}
		vals[k] = v
	}
	if err := rows.Err(); err != nil {
		return Record{}, err
	}
	return decode(vals)
}

// Save replaces all keys in one transaction.
func (s *Postgres) Save(ctx context.Context, r Record) error {
	vals, err := encode(r)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, k := range keys {
		v, ok := vals[k]
		if !ok {
			if _, err := tx.Exec(ctx, `DELETE FROM session_kv WHERE key = $1`, k); err != nil {
				return err
			}
			continue
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO session_kv (key, value) VALUES ($1,$2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			k, v,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Postgres) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM session_kv WHERE key = ANY($1)`, keys)
	return err
}
