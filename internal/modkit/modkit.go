// Package modkit carries the shared deps and build options every module is constructed with
package modkit

import (
	"net/http"

	"curator/internal/modkit/module"
	"curator/internal/modkit/repokit"
	"curator/internal/platform/config"
	"curator/internal/platform/logger"
	"curator/internal/platform/store"
)

// Module is the mountable unit api and worker binaries compose
type Module = module.Module

// Deps holds the core dependencies passed to modules
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	PG  repokit.TxRunner
	CH  store.Clickhouse
	RDS store.Redis
}

// Option adjusts how a module is built
type Option func(*Built)

// Built is the result of applying options
type Built struct {
	Name   string
	Prefix string
	Mw     []func(http.Handler) http.Handler
}

func WithName(name string) Option { return func(b *Built) { b.Name = name } }

func WithPrefix(prefix string) Option { return func(b *Built) { b.Prefix = prefix } }

// WithMiddlewares appends per module middleware, outermost first
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(b *Built) { b.Mw = append(b.Mw, mw...) }
}

// Build applies opts in order
func Build(opts ...Option) Built {
	var b Built
	for _, o := range opts {
		o(&b)
	}
	return b
}
