// Package rds builds the redis client used as the coordination store
package rds

import "github.com/redis/go-redis/v9"

// Config configures redis connectivity
type Config struct {
	Addr     string
	DB       int
	Password string
	PoolSize int
}

// New builds a client without dialing, the first command connects
func New(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
		PoolSize: cfg.PoolSize,
		// blocking pops must give up when the worker context deadline passes
		ContextTimeoutEnabled: true,
	})
}
