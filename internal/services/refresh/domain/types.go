// Package domain defines the types and ports of the refresh service
package domain

import (
	"time"

	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
)

// Entity is an account or repository mirrored from a backend
type Entity struct {
	ID  int64
	Key entitykey.Key

	LastFetch   *time.Time
	LastAttempt *time.Time
	Deleted     bool

	// Related is keyed by collection name
	Related map[string]entitystate.Descriptor

	BackendLastStatus int
	BackendSameStatus int

	Attributes map[string]any
	Owner      string
	Score      float64
	Tags       []string
}

// Facts projects the fields the state machine reads
func (e *Entity) Facts() entitystate.Facts {
	if e == nil {
		return entitystate.Facts{}
	}
	return entitystate.Facts{
		ID:                e.ID,
		LastFetch:         e.LastFetch,
		LastAttempt:       e.LastAttempt,
		Deleted:           e.Deleted,
		Related:           e.Related,
		BackendLastStatus: e.BackendLastStatus,
		BackendSameStatus: e.BackendSameStatus,
	}
}

// Field names a column group that Save is allowed to touch
type Field string

const (
	// FieldAttributes covers attributes and owner
	FieldAttributes Field = "attributes"
	// FieldLastFetch covers last_fetch
	FieldLastFetch Field = "last_fetch"
	// FieldBackendStatus covers last_attempt, backend_last_status and backend_same_status
	FieldBackendStatus Field = "backend_status"
)

// Attributes is what a primary fetch returns
type Attributes struct {
	Fields map[string]any
	Owner  string // natural key of the owning account, repositories only
}

// Credential is a rate limited secret used to call a backend
type Credential struct {
	ID            string    `json:"id"`
	Backend       string    `json:"backend"`
	Principal     string    `json:"principal"`
	Secret        string    `json:"-"`
	StatusCode    int       `json:"status_code"`
	Message       string    `json:"message,omitempty"`
	Blocked       bool      `json:"blocked"`
	Available     bool      `json:"available"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
	// Lease identifies one checkout, Release only returns the credential it names
	Lease string `json:"-"`
}

// Job is a request to refresh one entity to a depth
type Job struct {
	EntityKey   string `json:"entity_key"`
	Depth       int    `json:"depth"`
	RequestedBy string `json:"requested_by,omitempty"`

	// Priority travels in the bucket key, not the payload
	Priority int `json:"-"`
}

// Outcome is the notification verdict
type Outcome string

const (
	// OutcomeSuccess reports a refresh that committed without errors
	OutcomeSuccess Outcome = "success"
	// OutcomeError reports a refresh with at least one failure
	OutcomeError Outcome = "error"
)

// Notification is delivered to the requester when a job finishes
type Notification struct {
	EntityKey string    `json:"entity_key"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail"`
	At        time.Time `json:"at"`
}

// Phase is where an orchestration run ended
type Phase int

const (
	// PhaseStart ended before any provider call
	PhaseStart Phase = iota
	// PhasePrimary ended in the primary fetch
	PhasePrimary
	// PhaseRelated ended in related collection sync
	PhaseRelated
	// PhaseFanout ended after enqueueing relations
	PhaseFanout
	// PhaseDone completed every step
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhasePrimary:
		return "primary_fetch"
	case PhaseRelated:
		return "related_fetch"
	case PhaseFanout:
		return "fanout"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Result summarizes one orchestration run
type Result struct {
	EntityKey string
	Phase     Phase
	Skipped   bool // nothing was permitted
	Deleted   bool // provider reported the entity missing
	Saved     bool // any field or collection was written
	Synced    []string
	Enqueued  int
}

// SearchDoc is one row of the search index
type SearchDoc struct {
	EntityKey string
	Backend   string
	Kind      string
	Name      string
	Summary   string
	Score     float64
	Tags      []string
	Deleted   bool
	UpdatedAt time.Time
}

// StaleQuery selects sweep candidates
type StaleQuery struct {
	Backend       string
	Kind          entitykey.Kind // empty for every kind
	FetchedBefore time.Time      // last_fetch older than this or null
	RelatedBefore time.Time      // any collection modified before this or missing
	Collections   []string       // collections every entity must have a row for
	After         *StaleCursor   // resume after this row of the previous page
	Limit         int
}

// StaleCursor is the sort position of the last row of a Stale page
type StaleCursor struct {
	LastFetch *time.Time
	ID        int64
}

// CursorOf positions a cursor at e
func CursorOf(e *Entity) *StaleCursor { return &StaleCursor{LastFetch: e.LastFetch, ID: e.ID} }
