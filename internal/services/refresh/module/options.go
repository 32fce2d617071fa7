package module

import (
	"time"

	"curator/internal/core/capability"
	"curator/internal/platform/config"
	"curator/internal/platform/telemetry"
)

// Options controls the refresh module. Values may also be read from env
type Options struct {
	// Workers
	Concurrency          int
	DerivedConcurrency   int
	DequeueTimeout       time.Duration
	MaxCredentialRetries int
	RetryDelay           time.Duration

	// Queue and fan-out
	Namespace    string
	MaxPriority  int
	FanoutStep   int
	MaxDepth     int
	SeenPriority int
	SweepLimit   int
	SweepLease   time.Duration
	PendingTTL   time.Duration
	RunningTTL   time.Duration

	// Credentials
	BlockingCheckout bool
	PollDelay        time.Duration
	LeaseTTL         time.Duration
	Tokens           []string

	// GitHub client
	GitHubBaseURL    string
	GitHubUserAgent  string
	GitHubTimeout    time.Duration
	GitHubMaxRetries int
	GitHubMaxPages   int

	// Derived data
	BestN          int
	DerivedGateTTL time.Duration

	// Discovery from GH Archive hours
	ArchiveBaseURL string
	ArchiveTimeout time.Duration

	// Notifications
	NotifyKeep        int
	NotificationLimit int

	// CapabilityFile overlays the built-in capability table when set
	CapabilityFile string

	// LockTimeout bounds row lock waits in refresh transactions
	LockTimeout time.Duration

	// AdminToken guards sweep and the credential routes, empty leaves them open
	AdminToken string

	// Wiring only, never read from env
	Capabilities *capability.Table
	Metrics      *telemetry.RefreshMetrics
}

// FromConfig reads options using CURATOR_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CURATOR_")
	return Options{
		Concurrency:          c.MayInt("WORKER_CONCURRENCY", 4),
		DerivedConcurrency:   c.MayInt("DERIVED_CONCURRENCY", 1),
		DequeueTimeout:       c.MayDuration("DEQUEUE_TIMEOUT", 5*time.Second),
		MaxCredentialRetries: c.MayInt("CREDENTIAL_RETRIES", 2),
		RetryDelay:           c.MayDuration("RETRY_DELAY", 5*time.Second),

		Namespace:    c.MayString("NAMESPACE", "curator:"),
		MaxPriority:  c.MayInt("MAX_PRIORITY", 5),
		FanoutStep:   c.MayInt("FANOUT_STEP", 1),
		MaxDepth:     c.MayInt("MAX_DEPTH", 5),
		SeenPriority: c.MayInt("SEEN_PRIORITY", 0),
		SweepLimit:   c.MayInt("SWEEP_LIMIT", 1000),
		SweepLease:   c.MayDuration("SWEEP_LEASE", 10*time.Minute),
		PendingTTL:   c.MayDuration("PENDING_TTL", 24*time.Hour),
		RunningTTL:   c.MayDuration("RUNNING_TTL", 30*time.Minute),

		BlockingCheckout: c.MayBool("BLOCKING_CHECKOUT", true),
		PollDelay:        c.MayDuration("CREDENTIAL_POLL", 250*time.Millisecond),
		LeaseTTL:         c.MayDuration("CREDENTIAL_LEASE_TTL", 30*time.Minute),
		Tokens:           c.MayCSV("TOKENS", nil),

		GitHubBaseURL:    c.MayString("GITHUB_BASE_URL", "https://api.github.com"),
		GitHubUserAgent:  c.MayString("GITHUB_USER_AGENT", "curator/refresh"),
		GitHubTimeout:    c.MayDuration("GITHUB_TIMEOUT", 15*time.Second),
		GitHubMaxRetries: c.MayInt("GITHUB_MAX_RETRIES", 3),
		GitHubMaxPages:   c.MayInt("GITHUB_MAX_PAGES", 10),

		BestN:          c.MayInt("DERIVED_BEST_N", 5),
		DerivedGateTTL: c.MayDuration("DERIVED_GATE_TTL", time.Hour),

		ArchiveBaseURL: c.MayString("ARCHIVE_BASE_URL", "https://data.gharchive.org"),
		ArchiveTimeout: c.MayDuration("ARCHIVE_TIMEOUT", 2*time.Minute),

		NotifyKeep:        c.MayInt("NOTIFY_KEEP", 100),
		NotificationLimit: c.MayInt("NOTIFICATION_LIMIT", 20),

		CapabilityFile: c.MayString("CAPABILITY_FILE", ""),
		AdminToken:     c.MayString("ADMIN_TOKEN", ""),
		LockTimeout:    c.MayDuration("LOCK_TIMEOUT", 5*time.Second),
	}
}

// merge applies non-zero overrides on top of o
// BlockingCheckout is env only since its zero value is meaningful
func (o Options) merge(ov Options) Options {
	if ov.Concurrency != 0 {
		o.Concurrency = ov.Concurrency
	}
	if ov.DerivedConcurrency != 0 {
		o.DerivedConcurrency = ov.DerivedConcurrency
	}
	if ov.DequeueTimeout != 0 {
		o.DequeueTimeout = ov.DequeueTimeout
	}
	if ov.MaxCredentialRetries != 0 {
		o.MaxCredentialRetries = ov.MaxCredentialRetries
	}
	if ov.RetryDelay != 0 {
		o.RetryDelay = ov.RetryDelay
	}
	if ov.Namespace != "" {
		o.Namespace = ov.Namespace
	}
	if ov.MaxPriority != 0 {
		o.MaxPriority = ov.MaxPriority
	}
	if ov.FanoutStep != 0 {
		o.FanoutStep = ov.FanoutStep
	}
	if ov.MaxDepth != 0 {
		o.MaxDepth = ov.MaxDepth
	}
	if ov.SeenPriority != 0 {
		o.SeenPriority = ov.SeenPriority
	}
	if ov.SweepLimit != 0 {
		o.SweepLimit = ov.SweepLimit
	}
	if ov.SweepLease != 0 {
		o.SweepLease = ov.SweepLease
	}
	if ov.PendingTTL != 0 {
		o.PendingTTL = ov.PendingTTL
	}
	if ov.RunningTTL != 0 {
		o.RunningTTL = ov.RunningTTL
	}
	if ov.PollDelay != 0 {
		o.PollDelay = ov.PollDelay
	}
	if ov.LeaseTTL != 0 {
		o.LeaseTTL = ov.LeaseTTL
	}
	if len(ov.Tokens) > 0 {
		o.Tokens = ov.Tokens
	}
	if ov.GitHubBaseURL != "" {
		o.GitHubBaseURL = ov.GitHubBaseURL
	}
	if ov.GitHubUserAgent != "" {
		o.GitHubUserAgent = ov.GitHubUserAgent
	}
	if ov.GitHubTimeout != 0 {
		o.GitHubTimeout = ov.GitHubTimeout
	}
	if ov.GitHubMaxRetries != 0 {
		o.GitHubMaxRetries = ov.GitHubMaxRetries
	}
	if ov.GitHubMaxPages != 0 {
		o.GitHubMaxPages = ov.GitHubMaxPages
	}
	if ov.BestN != 0 {
		o.BestN = ov.BestN
	}
	if ov.DerivedGateTTL != 0 {
		o.DerivedGateTTL = ov.DerivedGateTTL
	}
	if ov.ArchiveBaseURL != "" {
		o.ArchiveBaseURL = ov.ArchiveBaseURL
	}
	if ov.ArchiveTimeout != 0 {
		o.ArchiveTimeout = ov.ArchiveTimeout
	}
	if ov.NotifyKeep != 0 {
		o.NotifyKeep = ov.NotifyKeep
	}
	if ov.NotificationLimit != 0 {
		o.NotificationLimit = ov.NotificationLimit
	}
	if ov.CapabilityFile != "" {
		o.CapabilityFile = ov.CapabilityFile
	}
	if ov.LockTimeout != 0 {
		o.LockTimeout = ov.LockTimeout
	}
	if ov.AdminToken != "" {
		o.AdminToken = ov.AdminToken
	}
	if ov.Capabilities != nil {
		o.Capabilities = ov.Capabilities
	}
	if ov.Metrics != nil {
		o.Metrics = ov.Metrics
	}
	return o
}
