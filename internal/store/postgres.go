package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PgxIface is the subset of pgxpool.Pool the store uses. pgxmock implements
// it for tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Postgres stores runs in a `runs` table.
type Postgres struct {
	db     PgxIface
	logger *zap.Logger
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db PgxIface, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger.Named("store")}
}

// Connect opens a pgx pool against the DSN and pings it.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(pool, logger), nil
}

// SaveRun inserts one run row.
func (p *Postgres) SaveRun(ctx context.Context, run Run) error {
	const q = `
		INSERT INTO runs (id, started_at, finished_at, status, reservations, proxy_server, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := p.db.Exec(ctx, q,
		run.ID, run.StartedAt, run.FinishedAt, run.Status,
		run.Reservations, run.ProxyServer, run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, started_at, finished_at, status, reservations, proxy_server, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := p.db.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status,
			&r.Reservations, &r.ProxyServer, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.db.Close()
}

// Noop discards run history. Used when no database is configured.
type Noop struct{}

func (Noop) SaveRun(context.Context, Run) error            { return nil }
func (Noop) ListRuns(context.Context, int) ([]Run, error)  { return nil, nil }
func (Noop) Close()                                        {}
