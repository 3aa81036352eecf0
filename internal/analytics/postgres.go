package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists view events to a Postgres table so counts survive
// redeploys and can be shared by replicas.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres analytics dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse analytics dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open analytics pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS view_events (
    id          BIGSERIAL PRIMARY KEY,
    slug        TEXT NOT NULL,
    path        TEXT NOT NULL DEFAULT '',
    referrer    TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS view_events_slug_idx ON view_events (slug);
`)
	if err != nil {
		return fmt.Errorf("ensure view_events schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordView(ctx context.Context, event ViewEvent) error {
	if s.pool == nil {
		return fmt.Errorf("analytics pool not configured")
	}
	slug := strings.TrimSpace(event.Slug)
	if slug == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO view_events (slug, path, referrer, user_agent, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, slug, event.Path, event.Referrer, event.UserAgent, event.OccurredAt.UTC())
	return err
}

func (s *PostgresStore) ViewCount(ctx context.Context, slug string) (int64, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("analytics pool not configured")
	}
	var count int64
	row := s.pool.QueryRow(ctx, `SELECT count(*) FROM view_events WHERE slug = $1`, slug)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Close releases the pool, bounded by ctx.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
