package domain

import (
	"strings"
	"time"

	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
)

// RefreshRequest asks for a refresh of one entity, by key or by its parts
type RefreshRequest struct {
	EntityKey   string `json:"entity_key,omitempty" validate:"required_without=NaturalKey,omitempty,max=300"`
	Backend     string `json:"backend,omitempty" validate:"required_with=NaturalKey,omitempty,max=40"`
	Kind        string `json:"kind,omitempty" validate:"required_with=NaturalKey,omitempty,oneof=account repository"`
	NaturalKey  string `json:"natural_key,omitempty" validate:"omitempty,max=255"`
	Depth       int    `json:"depth" validate:"gte=0,lte=5"`
	Priority    int    `json:"priority" validate:"gte=0"`
	RequestedBy string `json:"requested_by,omitempty" validate:"omitempty,max=100"`
}

// Key resolves the normalized entity key of the request
func (r RefreshRequest) Key() (entitykey.Key, error) {
	if strings.TrimSpace(r.EntityKey) != "" {
		return entitykey.Parse(r.EntityKey)
	}
	return entitykey.New(r.Backend, entitykey.Kind(strings.ToLower(strings.TrimSpace(r.Kind))), r.NaturalKey)
}

// RefreshAccepted is the answer to a refresh request
type RefreshAccepted struct {
	EntityKey string `json:"entity_key"`
	Accepted  bool   `json:"accepted"`
}

// SweepRequest is the admin form of SweepParams
type SweepRequest struct {
	Backend  string `json:"backend,omitempty" validate:"omitempty,max=40"`
	Limit    int    `json:"limit,omitempty" validate:"gte=0"`
	Depth    int    `json:"depth,omitempty" validate:"gte=0,lte=5"`
	Priority int    `json:"priority,omitempty" validate:"gte=0"`
}

// SweepResult reports how many jobs a sweep queued
type SweepResult struct {
	Enqueued int `json:"enqueued"`
}

// RegisteredCredential is the answer to a registration
type RegisteredCredential struct {
	Credential Credential `json:"credential"`
	Created    bool       `json:"created"`
}

// SweepParams controls one sweep pass
type SweepParams struct {
	Backend  string
	Limit    int
	Depth    int
	Priority int
}

// EntityView is the read model returned by the admin API
type EntityView struct {
	Key               string                            `json:"key"`
	ID                int64                             `json:"id"`
	Status            entitystate.Status                `json:"status"`
	Deleted           bool                              `json:"deleted"`
	LastFetch         string                            `json:"last_fetch,omitempty"`
	BackendLastStatus int                               `json:"backend_last_status"`
	BackendSameStatus int                               `json:"backend_same_status"`
	Related           map[string]entitystate.Descriptor `json:"related"`
	Score             float64                           `json:"score"`
	Tags              []string                          `json:"tags"`
	PendingPriority   *int                              `json:"pending_priority,omitempty"`
	RunningDepth      *int                              `json:"running_depth,omitempty"`
}

// CredentialRegistration adds a credential to the pool
type CredentialRegistration struct {
	Backend   string `json:"backend" validate:"required,max=40"`
	Principal string `json:"principal" validate:"required,max=100"`
	Secret    string `json:"secret" validate:"required,min=8"`
}

// QueueView reports bucket lengths
type QueueView struct {
	Buckets map[int]int64 `json:"buckets"`
	Derived int64         `json:"derived"`
}

// CredentialStats counts the credentials of one backend
type CredentialStats struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Blocked   int64 `json:"blocked"`
}

// CredentialsView lists a backend's credentials with secrets redacted
type CredentialsView struct {
	Backend     string          `json:"backend"`
	Stats       CredentialStats `json:"stats"`
	Credentials []Credential    `json:"credentials"`
}

// DiscoverParams bounds one discovery pass over archive hours [Since, Until)
type DiscoverParams struct {
	Since time.Time
	Until time.Time
	// Limit caps the entities offered to Seen, 0 is unlimited
	Limit int
}

// DiscoverResult counts what a discovery pass did
type DiscoverResult struct {
	Hours    int `json:"hours"`
	Missing  int `json:"missing"`
	Events   int `json:"events"`
	Entities int `json:"entities"`
	Enqueued int `json:"enqueued"`
}
