// Package module wires the refresh scheduler and exposes its ports
package module

import (
	"net/http"

	"curator/internal/adapters/ingest/gharchive"
	"curator/internal/adapters/provider/github"
	"curator/internal/adapters/search"
	"curator/internal/core/capability"
	"curator/internal/modkit"
	"curator/internal/modkit/httpkit"
	"curator/internal/modkit/repokit"
	"curator/internal/platform/logger"
	str "curator/internal/platform/strings"
	"curator/internal/services/refresh/credpool"
	"curator/internal/services/refresh/derived"
	"curator/internal/services/refresh/domain"
	"curator/internal/services/refresh/guardrails"
	refreshhttp "curator/internal/services/refresh/http"
	"curator/internal/services/refresh/notify"
	"curator/internal/services/refresh/orchestrator"
	"curator/internal/services/refresh/queue"
	"curator/internal/services/refresh/repo"
	"curator/internal/services/refresh/service"
)

// Module defines the refresh module
type Module struct {
	deps   modkit.Deps
	opts   Options
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler

	svc   service.Service
	ports Ports
}

// New constructs the refresh module with its ports
// redis and postgres are required, clickhouse is optional and only feeds the search index
func New(deps modkit.Deps, overrides Options, mopts ...modkit.Option) *Module {
	if deps.RDS == nil {
		panic("refresh module requires a redis client")
	}
	if deps.PG == nil {
		panic("refresh module requires a postgres runner")
	}

	// Load defaults from config then apply overrides from CLI (if provided)
	opts := FromConfig(deps.Cfg).merge(overrides)
	caps := mustCapabilities(opts)

	b := modkit.Build(append([]modkit.Option{modkit.WithName("refresh"), modkit.WithPrefix("/refresh")}, mopts...)...)

	entities := repokit.MustBind(repo.NewPG(), repokit.WithBeginHooks(deps.PG, repo.LockTimeout(opts.LockTimeout)))
	pool := credpool.New(deps.RDS, credpool.Options{
		Namespace: opts.Namespace,
		PollDelay: opts.PollDelay,
		LeaseTTL:  opts.LeaseTTL,
		Metrics:   opts.Metrics,
	})
	jobs := queue.New(deps.RDS, queue.Options{
		Namespace:   opts.Namespace,
		MaxPriority: opts.MaxPriority,
		PendingTTL:  opts.PendingTTL,
		RunningTTL:  opts.RunningTTL,
		Metrics:     opts.Metrics,
	})
	backlog := queue.NewDerived(deps.RDS, opts.Namespace, opts.DerivedGateTTL)
	sink := notify.New(deps.RDS, opts.Namespace, opts.NotifyKeep)

	gh := github.NewProvider(github.NewClient(github.Options{
		BaseURL:    opts.GitHubBaseURL,
		UserAgent:  opts.GitHubUserAgent,
		Timeout:    opts.GitHubTimeout,
		MaxRetries: opts.GitHubMaxRetries,
		MaxPages:   opts.GitHubMaxPages,
	}))

	orch := orchestrator.New(orchestrator.Deps{
		Storage:      entities,
		Pool:         pool,
		Queue:        jobs,
		Derived:      backlog,
		Notifier:     sink,
		Providers:    []domain.Provider{gh},
		Capabilities: caps,
		Metrics:      opts.Metrics,
	}, orchestrator.Options{
		BlockingCheckout: opts.BlockingCheckout,
		FanoutStep:       opts.FanoutStep,
	})

	migrators := []service.Migrator{entities}
	dd := derived.Deps{Storage: entities, Queue: backlog, Metrics: opts.Metrics}
	if deps.CH != nil {
		idx := search.New(deps.CH)
		dd.Index = idx
		migrators = append(migrators, idx)
	} else {
		logger.Named("refresh").Warn().Msg("clickhouse not configured, search index disabled")
	}
	refresher := derived.New(dd, derived.Options{BestN: opts.BestN, PollTimeout: opts.DequeueTimeout})

	svc := service.New(service.Deps{
		Orchestrator:  orch,
		Derived:       refresher,
		Queue:         jobs,
		DerivedQueue:  backlog,
		Entities:      entities,
		Stale:         entities,
		Credentials:   pool,
		Notifier:      sink,
		Notifications: sink,
		Capabilities:  caps,
		Metrics:       opts.Metrics,
		Migrators:     migrators,
		Lease:         guardrails.NewLease(deps.RDS, opts.Namespace, "sweep", opts.SweepLease),
		Discovery:     gharchive.NewSource(gharchive.NewHTTPFetcher(opts.ArchiveBaseURL, opts.ArchiveTimeout)),
	}, service.Config{
		Concurrency:          opts.Concurrency,
		DerivedConcurrency:   opts.DerivedConcurrency,
		DequeueTimeout:       opts.DequeueTimeout,
		MaxCredentialRetries: opts.MaxCredentialRetries,
		RetryDelay:           opts.RetryDelay,
		MaxDepth:             opts.MaxDepth,
		SweepLimit:           opts.SweepLimit,
		SeenPriority:         opts.SeenPriority,
		NotificationLimit:    opts.NotificationLimit,
		Tokens:               opts.Tokens,
	})

	m := &Module{
		deps:   deps,
		opts:   opts,
		name:   b.Name,
		prefix: b.Prefix,
		mws:    b.Mw,
		svc:    svc,
	}
	m.ports = Ports{
		Worker:   svc,
		Derived:  svc,
		Sweep:    svc,
		Signals:  svc,
		Admin:    svc,
		Migrate:  svc,
		Seeder:   svc,
		Discover: svc,
	}
	return m
}

// mustCapabilities resolves the capability table, a broken file is fatal at startup
func mustCapabilities(o Options) *capability.Table {
	if o.Capabilities != nil {
		return o.Capabilities
	}
	if o.CapabilityFile == "" {
		return capability.Default()
	}
	t, err := capability.Load(o.CapabilityFile, capability.Default())
	if err != nil {
		panic("refresh module: " + err.Error())
	}
	return t
}

// Name returns the module name
func (m *Module) Name() string { return str.MustString(m.name, "module name") }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Options returns the resolved options
func (m *Module) Options() Options { return m.opts }

// MountRoutes mounts the admin and signal routes under the module prefix
func (m *Module) MountRoutes(r httpkit.Router) {
	httpkit.MountUnder(r, m.Prefix(), m.mws, func(rr httpkit.Router) {
		refreshhttp.Register(rr, m.svc, refreshhttp.AdminPort(m.opts.AdminToken))
	})
}
