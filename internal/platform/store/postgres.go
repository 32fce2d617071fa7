package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"curator/internal/platform/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// pgxQuerier is what a pool and an open transaction have in common
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queryLog sees every statement once it finished
type queryLog func(ctx context.Context, sql string, args []any, took time.Duration, err error)

// pgConn adapts a pgxQuerier to RowQuerier
type pgConn struct {
	q   pgxQuerier
	log queryLog
}

func (c pgConn) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	start := time.Now()
	ct, err := c.q.Exec(ctx, sql, args...)
	c.done(ctx, sql, args, start, err)
	return ct, err
}

func (c pgConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	start := time.Now()
	rs, err := c.q.Query(ctx, sql, args...)
	c.done(ctx, sql, args, start, err)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// QueryRow logs after Scan since pgx defers the round trip until then
func (c pgConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	start := time.Now()
	r := c.q.QueryRow(ctx, sql, args...)
	return scanRow{r: r, after: func(err error) { c.done(ctx, sql, args, start, err) }}
}

func (c pgConn) done(ctx context.Context, sql string, args []any, start time.Time, err error) {
	if c.log != nil {
		c.log(ctx, sql, args, time.Since(start), err)
	}
}

type scanRow struct {
	r     pgx.Row
	after func(error)
}

func (s scanRow) Scan(dest ...any) error {
	err := s.r.Scan(dest...)
	s.after(err)
	return err
}

// pgDB is the pooled TxRunner
type pgDB struct {
	pgConn
	pool *pgxpool.Pool
}

var newPool = pgxpool.NewWithConfig

func openPG(ctx context.Context, cfg PGConfig, log logger.Logger) (*pgDB, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	db := &pgDB{pgConn: pgConn{q: pool}, pool: pool}
	if cfg.LogSQL {
		db.log = sqlLogger(log, time.Duration(cfg.SlowQueryMs)*time.Millisecond)
	}
	return db, nil
}

func (d *pgDB) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(pgConn{q: tx, log: d.log})
	})
}

func (d *pgDB) Ping(ctx context.Context) error { return d.pool.Ping(ctx) }

func (d *pgDB) Close() error {
	d.pool.Close()
	return nil
}

// sqlLogger prints statements at debug regardless of the root level,
// slow ones at warn and failures at error
func sqlLogger(l logger.Logger, slow time.Duration) queryLog {
	l = l.Level(zerolog.DebugLevel).With().Str("component", "pg").Logger()
	return func(_ context.Context, sql string, args []any, took time.Duration, err error) {
		ev := l.Debug()
		switch {
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			ev = l.Error().Err(err)
		case slow > 0 && took >= slow:
			ev = l.Warn().Bool("slow", true)
		}
		ev.Dur("took", took).
			Str("sql", strings.Join(strings.Fields(sql), " ")).
			Interface("args", args).
			Msg("pg query")
	}
}
