// Package service contains the refresh workflows: workers, sweep, signals and admin reads
package service

import (
	"context"
	"time"

	"curator/internal/core/capability"
	"curator/internal/core/entitykey"
	"curator/internal/platform/logger"
	"curator/internal/platform/telemetry"
	"curator/internal/services/refresh/domain"
)

// Service defines the refresh service contract
type Service interface {
	domain.WorkerPort
	domain.DerivedPort
	domain.SweepPort
	domain.SignalsPort
	domain.AdminPort
	domain.MigratePort
	domain.SeederPort
	domain.DiscoverPort
}

// Runner executes one job, satisfied by the orchestrator
type Runner interface {
	Run(ctx context.Context, job domain.Job) (domain.Result, error)
}

// DerivedRunner drains the derived-data queue, satisfied by the derived refresher
type DerivedRunner interface {
	Run(ctx context.Context) error
}

// Queue is the job queue plus its inspection helpers
type Queue interface {
	domain.JobQueue
	Pending(ctx context.Context, entityKey string) (int, bool, error)
	Depths(ctx context.Context) (map[int]int64, error)
}

// DerivedQueue reports the derived backlog
type DerivedQueue interface {
	Len(ctx context.Context) (int64, error)
}

// Credentials is the administrative side of the credential pool
type Credentials interface {
	Register(ctx context.Context, backend, principal, secret string) (domain.Credential, bool, error)
	Revalidate(ctx context.Context, backend, id string) error
	List(ctx context.Context, backend string) ([]domain.Credential, error)
	Stats(ctx context.Context, backend string) (domain.CredentialStats, error)
}

// Notifications reads delivered notifications
type Notifications interface {
	Recent(ctx context.Context, target string, limit int) ([]domain.Notification, error)
}

// Entities loads stored entities
type Entities interface {
	Load(ctx context.Context, key entitykey.Key) (*domain.Entity, error)
}

// Migrator creates one storage schema
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Discovery lists the entities active in one archive hour with the hour's event count
type Discovery interface {
	Entities(ctx context.Context, hour time.Time) ([]entitykey.Key, int, error)
}

// Lease serializes named operations across processes
type Lease interface {
	Do(ctx context.Context, name string, fn func(context.Context) error) error
}

// Deps are the collaborators wired by the module
type Deps struct {
	Orchestrator  Runner
	Derived       DerivedRunner
	Queue         Queue
	DerivedQueue  DerivedQueue
	Entities      Entities
	Stale         domain.SweepStorage
	Credentials   Credentials
	Notifier      domain.Notifier
	Notifications Notifications
	Capabilities  *capability.Table
	Metrics       *telemetry.RefreshMetrics
	Migrators     []Migrator
	Lease         Lease     // optional, guards Sweep
	Discovery     Discovery // optional, feeds Discover
}

// Config carries runtime knobs for workers and one-shot operations
type Config struct {
	Concurrency          int
	DerivedConcurrency   int
	DequeueTimeout       time.Duration
	MaxCredentialRetries int
	RetryDelay           time.Duration
	MaxDepth             int
	SweepLimit           int
	SeenPriority         int
	NotificationLimit    int

	// Tokens are backend:principal:secret triples registered by SeedCredentials
	Tokens []string
}

// Svc implements the refresh service
type Svc struct {
	d   Deps
	cfg Config
	log *logger.Logger
	now func() time.Time
}

var _ Service = (*Svc)(nil)

// New constructs a refresh service
func New(d Deps, cfg Config) *Svc {
	if d.Queue == nil {
		panic("refresh.Service requires a non nil Queue")
	}
	if d.Capabilities == nil {
		d.Capabilities = capability.Default()
	}
	return &Svc{d: d, cfg: withDefaults(cfg), log: logger.Named("refresh"), now: time.Now}
}

// withDefaults fills zero values
func withDefaults(c Config) Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.DerivedConcurrency <= 0 {
		c.DerivedConcurrency = 1
	}
	if c.DequeueTimeout <= 0 {
		c.DequeueTimeout = 5 * time.Second
	}
	if c.MaxCredentialRetries < 0 {
		c.MaxCredentialRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 5
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = 1000
	}
	if c.NotificationLimit <= 0 {
		c.NotificationLimit = 20
	}
	return c
}
