// @title         Curator API
// @version       0.1.0
// @description   Refresh requests, sweeps and scheduler inspection
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"

	"curator/internal/modkit/repokit"
	"curator/internal/platform/config"
	"curator/internal/platform/logger"
	phttp "curator/internal/platform/net/http"
	"curator/internal/platform/store"
	"curator/internal/platform/telemetry"

	"curator/internal/services/api"
	refreshmod "curator/internal/services/refresh/module"
)

func main() {
	// service-scoped config for HTTP etc (CORE_API_*)
	root := config.New()
	apiCfg := root.Prefix("CORE_API_")

	pgCfg := root.Prefix("SERVICE_PGSQL_")      // pgCfg lives under SERVICE_PGSQL_*
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_") // chCfg lives under SERVICE_CLICKHOUSE_*
	rdCfg := root.Prefix("SERVICE_REDIS_")      // rdCfg lives under SERVICE_REDIS_*

	// bring up logging early
	l := logger.Get()

	// open the platform store (postgres + redis, clickhouse when configured)
	chURL := chCfg.MayString("DBURL", "")
	st, err := store.Open(
		context.Background(),
		store.Config{
			AppName: "curator-api",
			PG: store.PGConfig{
				Enabled:     true,
				URL:         pgCfg.MustString("DBURL"),
				MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
				SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
				LogSQL:      pgCfg.MayBool("LOG_SQL", false),
			},
			CH: store.CHConfig{
				Enabled: chURL != "",
				URL:     chURL,
			},
			RDS: store.RedisConfig{
				Enabled:  true,
				Addr:     rdCfg.MustString("ADDR"),
				DB:       rdCfg.MayInt("DB", 0),
				Password: rdCfg.MayString("PASSWORD", ""),
				PoolSize: rdCfg.MayInt("POOL_SIZE", 10),
			},
		},
		store.WithLogger(*logger.Get()),
	)
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	repokit.MustGuard(context.Background(), st)

	metrics, err := telemetry.NewProvider(root.MayBool("CURATOR_METRICS", true))
	if err != nil {
		l.Panic().Err(err).Msg("metrics provider failed")
	}
	defer func() { _ = metrics.Shutdown(context.Background()) }()

	rm, err := telemetry.NewRefreshMetrics(metrics.Meter)
	if err != nil {
		l.Panic().Err(err).Msg("refresh metrics failed")
	}

	// http server (reads CORE_API_PORT / CORE_API_ADDR)
	srv := phttp.NewServer(apiCfg)

	// mount our API
	api.Mount(
		srv.Router(),
		api.Options{
			Config:         root,
			Store:          st,
			Logger:         l,
			Metrics:        metrics,
			Refresh:        refreshmod.Options{Metrics: rm},
			EnableSwagger:  apiCfg.MayBool("SWAGGER", true),
			EnableProfiler: apiCfg.MayBool("PROFILER", false),
		},
	)

	// run
	if err := srv.Run(context.Background()); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
