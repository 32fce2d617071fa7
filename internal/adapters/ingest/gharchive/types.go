package gharchive

import (
	"fmt"
	"strings"
	"time"

	"curator/internal/core/entitykey"
)

// Backend is the backend every archive event belongs to
const Backend = "github"

// HourRef identifies a GH Archive hour (UTC).
type HourRef struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// NewHourRef creates an HourRef from a time.Time, converting to UTC
func NewHourRef(t time.Time) HourRef {
	ut := t.UTC()
	return HourRef{Year: ut.Year(), Month: int(ut.Month()), Day: ut.Day(), Hour: ut.Hour()}
}

// String returns the string representation of the HourRef in GH Archive format
func (h HourRef) String() string {
	// Matches GH Archive naming: YYYY-MM-DD-H.json.gz
	return fmt.Sprintf("%04d-%02d-%02d-%d", h.Year, h.Month, h.Day, h.Hour)
}

// EventEnvelope is the outer event format GH Archive stores per line
// only the identity fields are kept
type EventEnvelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Actor     Actor     `json:"actor"`
	Repo      Repo      `json:"repo"`
	Org       *Actor    `json:"org,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor is the user who triggered the event
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Repo is the repository the event occurred in
type Repo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"` // owner/name
}

// Keys returns the entity keys an event touches: actor, org and repository
// bot actors and malformed names are skipped
func (e EventEnvelope) Keys() []entitykey.Key {
	out := make([]entitykey.Key, 0, 3)
	add := func(kind entitykey.Kind, natural string) {
		if natural == "" || strings.HasSuffix(natural, "[bot]") {
			return
		}
		if k, err := entitykey.New(Backend, kind, natural); err == nil {
			out = append(out, k)
		}
	}
	add(entitykey.Account, e.Actor.Login)
	if e.Org != nil {
		add(entitykey.Account, e.Org.Login)
	}
	add(entitykey.Repository, e.Repo.Name)
	return out
}
