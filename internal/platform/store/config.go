package store

import (
	"context"

	"curator/internal/platform/logger"
	chx "curator/internal/platform/store/ch"
	"curator/internal/platform/store/rds"

	"github.com/redis/go-redis/v9"
)

const defaultConnectTries = 20

// Config selects and configures the backends Open dials
type Config struct {
	AppName string

	// ConnectTries bounds the readiness pings per backend, zero means 20
	ConnectTries uint

	PG  PGConfig
	CH  CHConfig
	RDS RedisConfig
}

// PGConfig configures the postgres pool and statement logging
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int
}

// CHConfig configures clickhouse
type CHConfig struct {
	Enabled bool
	URL     string
	Role    string
}

// RedisConfig configures the coordination store
type RedisConfig struct {
	Enabled  bool
	Addr     string
	DB       int
	Password string
	PoolSize int
}

func (c Config) tries() uint {
	if c.ConnectTries == 0 {
		return defaultConnectTries
	}
	return c.ConnectTries
}

// Option adjusts a Store before Open dials anything
type Option func(*Store)

// WithLogger sets the logger backends log through
func WithLogger(log logger.Logger) Option {
	return func(s *Store) { s.Log = log }
}

func openCH(ctx context.Context, cfg Config) (*clickhouseAdapter, error) {
	c, err := chx.Open(ctx, chx.Config{URL: cfg.CH.URL, Role: cfg.CH.Role, Tag: cfg.AppName})
	if err != nil {
		return nil, err
	}
	return &clickhouseAdapter{inner: c}, nil
}

func openRedis(cfg RedisConfig) *redis.Client {
	return rds.New(rds.Config{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
		PoolSize: cfg.PoolSize,
	})
}
