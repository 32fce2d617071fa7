// Package store opens the backends the curator processes share and exposes
// the narrow seams repositories are written against
package store

import (
	"context"
	"errors"
	"fmt"

	"curator/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Store holds the opened backends, a disabled backend stays nil
type Store struct {
	Log logger.Logger

	PG  TxRunner
	CH  Clickhouse
	RDS Redis
}

// Redis is the coordination store surface (lists, sets, hashes, scripts)
type Redis = redis.UniversalClient

// Row is a single result row
type Row interface {
	Scan(dest ...any) error
}

// Rows is a forward-only result set
type Rows interface {
	Row
	Next() bool
	Err() error
	Close()
}

// CommandTag reports what a statement did
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier is the sql surface repos use, inside or outside a transaction
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner runs fn in a transaction, committing when fn returns nil
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// Clickhouse is the columnar seam the search index writes through
type Clickhouse interface {
	Insert(ctx context.Context, table string, data any) error
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	Close() error
}

// Pinger reports readiness
type Pinger interface{ Ping(context.Context) error }

// Open dials every enabled backend and waits for each to answer
// a failure closes whatever was already opened
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		o(s)
	}
	log := s.Log.With().Str("component", "store").Logger()

	fail := func(err error) (*Store, error) {
		_ = s.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	if cfg.PG.Enabled {
		db, err := openPG(ctx, cfg.PG, s.Log)
		if err != nil {
			return nil, fmt.Errorf("pg: %w", err)
		}
		s.PG = db
		if err := dial(ctx, log, "pg", cfg.tries(), db.Ping); err != nil {
			return fail(err)
		}
	}

	if cfg.CH.Enabled {
		c, err := openCH(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("ch: %w", err))
		}
		s.CH = c
		if err := dial(ctx, log, "ch", cfg.tries(), c.Ping); err != nil {
			return fail(err)
		}
	}

	if cfg.RDS.Enabled {
		r := openRedis(cfg.RDS)
		s.RDS = r
		if err := dial(ctx, log, "redis", cfg.tries(), func(ctx context.Context) error {
			return r.Ping(ctx).Err()
		}); err != nil {
			return fail(err)
		}
	}

	return s, nil
}

// Guard pings every opened backend and joins the failures
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	var errs []error
	check := func(name string, p Pinger) {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if p, ok := s.PG.(Pinger); ok {
		check("pg", p)
	}
	if p, ok := s.CH.(Pinger); ok {
		check("ch", p)
	}
	if s.RDS != nil {
		check("redis", pingFunc(func(ctx context.Context) error { return s.RDS.Ping(ctx).Err() }))
	}
	return errors.Join(errs...)
}

// Close releases every opened backend
func (s *Store) Close(context.Context) error {
	var errs []error
	if s.CH != nil {
		errs = append(errs, s.CH.Close())
	}
	if s.RDS != nil {
		errs = append(errs, s.RDS.Close())
	}
	if c, ok := s.PG.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
