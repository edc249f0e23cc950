// Package postgres keeps every ranking run in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "ranking_books"

// Config controls the Postgres connection pool used for ranking rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store writes one row per book per run. Latest returns the newest run in
// ranking order.
type Store struct {
	pool  pool
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the ranking table and its index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id                TEXT        NOT NULL,
	mechanism             TEXT        NOT NULL,
	crawled_at            TIMESTAMPTZ NOT NULL,
	position              INTEGER     NOT NULL,
	book_id               TEXT        NOT NULL,
	name                  TEXT        NOT NULL,
	author                TEXT        NOT NULL,
	weekly_recommendation INTEGER     NOT NULL,
	PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS %[1]s_crawled_at_idx ON %[1]s (crawled_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Save implements ranking.Store. All rows of a run are written in one transaction.
func (s *Store) Save(ctx context.Context, snap ranking.Snapshot) (err error) {
	if snap.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	mechanism,
	crawled_at,
	position,
	book_id,
	name,
	author,
	weekly_recommendation
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	for i, book := range snap.Books {
		if _, err = tx.Exec(ctx, query,
			snap.RunID,
			snap.Mechanism,
			snap.CrawledAt,
			i+1,
			book.ID,
			book.Name,
			book.Author,
			book.WeeklyRecommendation,
		); err != nil {
			return fmt.Errorf("insert book %s: %w", book.ID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Latest implements ranking.Store.
func (s *Store) Latest(ctx context.Context) (ranking.Snapshot, error) {
	query := fmt.Sprintf(`
SELECT run_id, mechanism, crawled_at, book_id, name, author, weekly_recommendation
FROM %[1]s
WHERE run_id = (SELECT run_id FROM %[1]s ORDER BY crawled_at DESC LIMIT 1)
ORDER BY position`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return ranking.Snapshot{}, fmt.Errorf("query latest run: %w", err)
	}
	defer rows.Close()

	var snap ranking.Snapshot
	for rows.Next() {
		var book ranking.Book
		if err := rows.Scan(
			&snap.RunID,
			&snap.Mechanism,
			&snap.CrawledAt,
			&book.ID,
			&book.Name,
			&book.Author,
			&book.WeeklyRecommendation,
		); err != nil {
			return ranking.Snapshot{}, fmt.Errorf("scan book: %w", err)
		}
		snap.Books = append(snap.Books, book.Normalize())
	}
	if err := rows.Err(); err != nil {
		return ranking.Snapshot{}, fmt.Errorf("iterate books: %w", err)
	}
	if len(snap.Books) == 0 {
		return ranking.Snapshot{}, ranking.ErrNotFound
	}
	return snap, nil
}
