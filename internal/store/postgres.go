package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

const createPreferencesTable = `CREATE TABLE IF NOT EXISTS preferences (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`

// PostgresStore keeps one row per key in the preferences table.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresStore connects, pings and creates the preferences table if missing.
func NewPostgresStore(ctx context.Context, dsn string, opts Options) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, createPreferencesTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create preferences table: %w", err)
	}
	return &PostgresStore{pool: pool, opts: opts.withDefaults()}, nil
}

// Save upserts every key in one transaction.
func (p *PostgresStore) Save(ctx context.Context, rec models.WeatherRecord) error {
	values := Encode(rec, p.opts.TimeZone)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	for k, v := range values {
		batch.Queue(
			`INSERT INTO preferences (namespace, key, value, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (namespace, key) DO UPDATE SET value = $3, updated_at = now()`,
			p.opts.Namespace, k, v,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range values {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert preference: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context) (models.CachedState, bool, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM preferences WHERE namespace = $1`,
		p.opts.Namespace,
	)
	if err != nil {
		return models.CachedState{}, false, fmt.Errorf("load preferences: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return models.CachedState{}, false, fmt.Errorf("scan preference: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return models.CachedState{}, false, fmt.Errorf("load preferences: %w", err)
	}
	state, ok := Decode(values)
	return state, ok, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
