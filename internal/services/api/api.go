// Package api composes the curator HTTP surface from its modules
package api

import (
	"curator/internal/modkit"
	"curator/internal/modkit/httpkit"
	"curator/internal/modkit/swaggerkit"
	"curator/internal/platform/config"
	"curator/internal/platform/logger"
	phttp "curator/internal/platform/net/http"
	"curator/internal/platform/net/middleware"
	"curator/internal/platform/store"
	"curator/internal/platform/telemetry"
	metamod "curator/internal/services/api/meta/module"
	refreshmod "curator/internal/services/refresh/module"
)

type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	Metrics        *telemetry.Provider
	Refresh        refreshmod.Options
	EnableSwagger  bool
	EnableProfiler bool
}

// Mount puts /metrics, the docs and profiler when enabled, and every module
// under /api/v1 behind the common stack
func Mount(r phttp.Router, opt Options) {
	deps := modkit.Deps{Cfg: opt.Config, PG: opt.Store.PG, CH: opt.Store.CH, RDS: opt.Store.RDS}
	if opt.Logger != nil {
		deps.Log = *opt.Logger
	}
	mods := []modkit.Module{
		metamod.New(deps),
		refreshmod.New(deps, opt.Refresh, modkit.WithMiddlewares(middleware.AllowContentType("application/json"))),
	}

	r.Handle("/metrics", opt.Metrics.Handler())
	swaggerkit.Mount(r, opt.EnableSwagger)
	phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

	httpkit.MountAPIV1(r, httpkit.CommonStack(), func(api httpkit.Router) {
		for _, m := range mods {
			m.MountRoutes(api)
		}
	})
}
