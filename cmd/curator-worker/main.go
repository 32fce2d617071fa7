package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"curator/internal/modkit"
	"curator/internal/modkit/module"
	"curator/internal/modkit/repokit"
	"curator/internal/platform/config"
	"curator/internal/platform/logger"
	phttp "curator/internal/platform/net/http"
	"curator/internal/platform/store"
	"curator/internal/platform/telemetry"

	refreshdom "curator/internal/services/refresh/domain"
	refreshmod "curator/internal/services/refresh/module"

	"golang.org/x/sync/errgroup"
)

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func parseWhen(label, v string) time.Time {
	// Accept either date or date+hour
	// - "YYYY-MM-DD" (midnight UTC)
	// - "YYYY-MM-DDTHH"
	if v == "" {
		return time.Time{}
	}
	layouts := []string{"2006-01-02T15", "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC()
		}
		lastErr = err
	}
	panic(fmt.Errorf("bad -%s: %w", label, lastErr))
}

func main() {
	root := config.New()
	dbCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")
	rdCfg := root.Prefix("SERVICE_REDIS_")

	l := logger.Get()

	// Flags
	var (
		fMode     = flag.String("mode", "worker", "curator mode: worker | derived | all | sweep | enqueue | discover | seed | migrate")
		fConc     = flag.Int("concurrency", 0, "fetch worker concurrency (0 = config)")
		fDerived  = flag.Int("derived-concurrency", 0, "derived worker concurrency (0 = config)")
		fBackend  = flag.String("backend", "", "sweep: only this backend")
		fLimit    = flag.Int("limit", 0, "sweep: max entities per backend (0 = config); discover: max entities offered (0 = unlimited)")
		fSince    = flag.String("since", "", "discover: first archive hour (UTC) YYYY-MM-DD or YYYY-MM-DDTHH")
		fUntil    = flag.String("until", "", "discover: upper bound (UTC, exclusive) YYYY-MM-DD or YYYY-MM-DDTHH")
		fDepth    = flag.Int("depth", 0, "sweep/enqueue: fan-out depth")
		fPriority = flag.Int("priority", 0, "sweep/enqueue: job priority")
		fKey      = flag.String("key", "", "enqueue: entity key backend:kind:natural")
		fBy       = flag.String("requested-by", "", "enqueue: notification target")
		fTokens   = flag.String("tokens", "", "comma-separated backend:principal:secret credentials (optional; can also come from env)")
		fCaps     = flag.String("capabilities", "", "capability TOML file overlaying the defaults")
		fMetrics  = flag.Bool("metrics", true, "expose prometheus metrics while running workers")
	)
	flag.Parse()

	// Export a few knobs as env so the module can read via FromConfig if desired
	mustSetEnv("CURATOR_TOKENS", *fTokens)
	mustSetEnv("CURATOR_CAPABILITY_FILE", *fCaps)
	if *fConc > 0 {
		mustSetEnv("CURATOR_WORKER_CONCURRENCY", fmt.Sprintf("%d", *fConc))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chURL := chCfg.MayString("DBURL", "")
	st, err := store.Open(ctx, store.Config{
		AppName: "curator-worker",
		PG: store.PGConfig{
			Enabled:     true,
			URL:         dbCfg.MustString("DBURL"),
			MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 8)),
			SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
			LogSQL:      dbCfg.MayBool("LOG_SQL", false),
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
			PoolSize: rdCfg.MayInt("POOL_SIZE", 20),
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	repokit.MustGuard(ctx, st)

	metrics, err := telemetry.NewProvider(*fMetrics)
	if err != nil {
		l.Panic().Err(err).Msg("metrics provider failed")
	}
	defer func() { _ = metrics.Shutdown(context.Background()) }()
	rm, err := telemetry.NewRefreshMetrics(metrics.Meter)
	if err != nil {
		l.Panic().Err(err).Msg("refresh metrics failed")
	}

	// Shared deps
	deps := modkit.Deps{
		Cfg: root,
		PG:  st.PG,
		CH:  st.CH,
		RDS: st.RDS,
		Log: *l,
	}

	rf := refreshmod.New(deps, refreshmod.Options{
		Concurrency:        *fConc,
		DerivedConcurrency: *fDerived,
		Metrics:            rm,
	})
	ports := module.MustPortsOf[refreshmod.Ports](rf)

	switch *fMode {
	case "worker", "derived", "all":
		if _, err := ports.Seeder.SeedCredentials(ctx); err != nil {
			l.Fatal().Err(err).Msg("credential seeding failed")
		}
		if err := runWorkers(ctx, *fMode, ports, metrics, *fMetrics, root); err != nil {
			l.Fatal().Err(err).Str("mode", *fMode).Msg("curator workers failed")
		}

	case "sweep":
		// Enqueue every entity that is due, then exit
		n, err := ports.Sweep.Sweep(ctx, refreshdom.SweepParams{
			Backend:  *fBackend,
			Limit:    *fLimit,
			Depth:    *fDepth,
			Priority: *fPriority,
		})
		if err != nil {
			l.Fatal().Err(err).Msg("curator sweep failed")
		}
		l.Info().Int("enqueued", n).Msg("sweep complete")

	case "enqueue":
		if *fKey == "" {
			l.Panic().Msg("curator enqueue mode: -key is required (backend:kind:natural)")
		}
		ok, err := ports.Signals.Request(ctx, refreshdom.RefreshRequest{
			EntityKey:   *fKey,
			Depth:       *fDepth,
			Priority:    *fPriority,
			RequestedBy: *fBy,
		})
		if err != nil {
			l.Fatal().Err(err).Msg("curator enqueue failed")
		}
		l.Info().Str("entity", *fKey).Bool("accepted", ok).Msg("enqueue complete")

	case "discover":
		// Offer entities active in GH Archive hours to the scheduler, then exit
		since := parseWhen("since", *fSince)
		if since.IsZero() {
			l.Panic().Msg("curator discover mode: -since is required (YYYY-MM-DD or YYYY-MM-DDTHH)")
		}
		res, err := ports.Discover.Discover(ctx, refreshdom.DiscoverParams{
			Since: since,
			Until: parseWhen("until", *fUntil), // may be zero, one hour then
			Limit: *fLimit,
		})
		if err != nil {
			l.Fatal().Err(err).Msg("curator discover failed")
		}
		l.Info().
			Int("hours", res.Hours).
			Int("missing", res.Missing).
			Int("entities", res.Entities).
			Int("enqueued", res.Enqueued).
			Msg("discover complete")

	case "seed":
		n, err := ports.Seeder.SeedCredentials(ctx)
		if err != nil {
			l.Fatal().Err(err).Msg("credential seeding failed")
		}
		l.Info().Int("created", n).Msg("seed complete")

	case "migrate":
		if err := ports.Migrate.Migrate(ctx); err != nil {
			l.Fatal().Err(err).Msg("curator migrate failed")
		}

	default:
		l.Panic().Str("mode", *fMode).Msg("curator unknown -mode (expected: worker | derived | all | sweep | enqueue | discover | seed | migrate)")
	}
}

// runWorkers runs the selected worker pools and the metrics listener until ctx ends
func runWorkers(ctx context.Context, mode string, ports refreshmod.Ports, metrics *telemetry.Provider, serveMetrics bool, root config.Conf) error {
	g, ctx := errgroup.WithContext(ctx)

	if mode == "worker" || mode == "all" {
		g.Go(func() error { return ports.Worker.Run(ctx) })
	}
	if mode == "derived" || mode == "all" {
		g.Go(func() error { return ports.Derived.RunDerived(ctx) })
	}

	if serveMetrics {
		// reads CURATOR_WORKER_API_PORT, defaults to :4000
		srv := phttp.NewServer(root.Prefix("CURATOR_WORKER_"))
		srv.Router().Handle("/metrics", metrics.Handler())
		g.Go(func() error { return srv.Run(ctx) })
	}

	// a signal cancels every loop, which is a clean stop
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
