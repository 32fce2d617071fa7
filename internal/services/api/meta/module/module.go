// Package module mounts the meta endpoints under /meta
package module

import (
	"context"
	"net/http"
	"time"

	"curator/internal/modkit"
	"curator/internal/modkit/httpkit"
	"curator/internal/platform/store"
	str "curator/internal/platform/strings"
	metahttp "curator/internal/services/api/meta/http"
)

type Module struct {
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler
	deps   metahttp.Deps
}

func New(deps modkit.Deps, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("meta"), modkit.WithPrefix("/meta")}, opts...)...)
	return &Module{
		name:   b.Name,
		prefix: b.Prefix,
		mws:    b.Mw,
		deps: metahttp.Deps{
			ServiceName: "curator-api",
			StartedAt:   time.Now(),
			Backends: []metahttp.Backend{
				{Name: "pg", P: pinger(deps.PG)},
				{Name: "redis", P: redisPinger(deps)},
				{Name: "ch", P: pinger(deps.CH), Optional: true},
			},
		},
	}
}

func pinger(v any) store.Pinger {
	p, _ := v.(store.Pinger)
	return p
}

// the redis client's Ping returns a command, not an error
func redisPinger(deps modkit.Deps) store.Pinger {
	if deps.RDS == nil {
		return nil
	}
	return metahttp.PingFunc(func(ctx context.Context) error { return deps.RDS.Ping(ctx).Err() })
}

func (m *Module) MountRoutes(r httpkit.Router) {
	httpkit.MountUnder(r, str.MustPrefix(m.prefix), m.mws, func(r httpkit.Router) { metahttp.Register(r, m.deps) })
}

func (m *Module) Name() string { return str.MustString(m.name, "module name") }

func (m *Module) Ports() any { return nil }
