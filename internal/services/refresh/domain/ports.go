package domain

import (
	"context"
	"time"

	"curator/internal/core/capability"
	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
)

// Storage is the relational store the orchestrator writes through
// every write names the columns it owns so concurrent workers merge
type Storage interface {
	// Load returns nil, nil when the entity is unknown
	Load(ctx context.Context, key entitykey.Key) (*Entity, error)
	// Create inserts the entity or returns the existing row
	Create(ctx context.Context, key entitykey.Key) (*Entity, error)
	Save(ctx context.Context, e *Entity, fields ...Field) error
	SaveCollection(ctx context.Context, id int64, d entitystate.Descriptor) error
	Members(ctx context.Context, id int64, collection string) ([]entitykey.Key, error)
	SyncMembers(ctx context.Context, id int64, collection string, add, remove []entitykey.Key) error
	// SoftDelete flags the entity and clears its related collections
	SoftDelete(ctx context.Context, id int64) error
}

// DerivedStorage is what the derived-data refresher reads and writes
type DerivedStorage interface {
	Load(ctx context.Context, key entitykey.Key) (*Entity, error)
	// BestScores returns the highest repository scores owned by an account
	BestScores(ctx context.Context, owner entitykey.Key, limit int) ([]float64, error)
	SaveDerived(ctx context.Context, id int64, score float64, tags []string) error
}

// SweepStorage lists entities that may be due
type SweepStorage interface {
	Stale(ctx context.Context, q StaleQuery) ([]*Entity, error)
}

// Provider talks to one backend
type Provider interface {
	Backend() string
	FetchPrimary(ctx context.Context, e *Entity, cred Credential) (Attributes, error)
	FetchRelated(ctx context.Context, e *Entity, c capability.Collection, cred Credential) ([]entitykey.Key, error)
}

// CredentialPool hands out credentials one worker at a time
type CredentialPool interface {
	Checkout(ctx context.Context, backend, preferred string, blocking bool) (Credential, error)
	Release(ctx context.Context, cred Credential) error
	MarkUnhealthy(ctx context.Context, cred Credential, status int, message string) error
	Cooldown(ctx context.Context, cred Credential, until time.Time) error
}

// JobQueue is the de-duplicated priority queue
type JobQueue interface {
	Enqueue(ctx context.Context, j Job) (bool, error)
	Dequeue(ctx context.Context, timeout time.Duration) (Job, error)
	MarkRunning(ctx context.Context, j Job) error
	DoneRunning(ctx context.Context, entityKey string) error
	Running(ctx context.Context, entityKey string) (depth int, ok bool, err error)
}

// DerivedQueue is the de-duplicated queue of entities whose derived data is stale
type DerivedQueue interface {
	Enqueue(ctx context.Context, entityKey string) (bool, error)
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
}

// Notifier delivers completion messages to a requester
type Notifier interface {
	Notify(ctx context.Context, target string, n Notification) error
}

// SearchIndex stores search documents
type SearchIndex interface {
	Upsert(ctx context.Context, docs ...SearchDoc) error
}

// Ports exposed by the module

// WorkerPort runs the long-lived fetch workers
type WorkerPort interface {
	Run(ctx context.Context) error
}

// DerivedPort runs the long-lived derived-data workers
type DerivedPort interface {
	RunDerived(ctx context.Context) error
}

// SweepPort enqueues every entity that is due
type SweepPort interface {
	Sweep(ctx context.Context, p SweepParams) (int, error)
}

// SignalsPort is the non-blocking enqueue surface for callers
type SignalsPort interface {
	Request(ctx context.Context, r RefreshRequest) (bool, error)
	Seen(ctx context.Context, key entitykey.Key) (bool, error)
}

// AdminPort is the operator read and credential surface
type AdminPort interface {
	Entity(ctx context.Context, key entitykey.Key) (EntityView, error)
	Queue(ctx context.Context) (QueueView, error)
	Credentials(ctx context.Context, backend string) (CredentialsView, error)
	RegisterCredential(ctx context.Context, r CredentialRegistration) (Credential, bool, error)
	RevalidateCredential(ctx context.Context, backend, id string) error
	Notifications(ctx context.Context, target string, limit int) ([]Notification, error)
}

// MigratePort creates the storage schemas
type MigratePort interface {
	Migrate(ctx context.Context) error
}

// SeederPort registers the credentials named in configuration
type SeederPort interface {
	SeedCredentials(ctx context.Context) (int, error)
}

// DiscoverPort feeds entities seen in activity archives through Seen
type DiscoverPort interface {
	Discover(ctx context.Context, p DiscoverParams) (DiscoverResult, error)
}
