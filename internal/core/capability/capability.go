// Package capability is the static table of what each backend can refresh
// it maps backend -> entity kind -> related collections and refresh windows
package capability

import (
	"maps"
	"slices"
	"time"

	"curator/internal/core/entitykey"
	perr "curator/internal/platform/errors"
)

// Collection describes one related collection of an entity kind
type Collection struct {
	Name   string         // descriptor name, e.g. "followers"
	Method string         // provider fetch method
	Target entitykey.Kind // kind of the member entities
}

// Windows are the freshness and permission intervals for one entity kind
type Windows struct {
	StalePrimary      time.Duration
	StaleRelated      time.Duration
	MinRefetchPrimary time.Duration
	MinRefetchRelated time.Duration

	// MaxSameStatus is how many identical provider errors in a row pause primary fetches
	MaxSameStatus int
}

// KindSpec is everything the scheduler knows about a kind on a backend
type KindSpec struct {
	Collections []Collection
	Windows     Windows
}

// Collection finds a collection by name
func (k KindSpec) Collection(name string) (Collection, bool) {
	for _, c := range k.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Table is read-only after construction and safe for concurrent use
type Table struct {
	backends map[string]map[entitykey.Kind]KindSpec
}

// New builds a table from an explicit backend map
func New(backends map[string]map[entitykey.Kind]KindSpec) *Table {
	t := &Table{backends: make(map[string]map[entitykey.Kind]KindSpec, len(backends))}
	for b, kinds := range backends {
		t.backends[b] = maps.Clone(kinds)
	}
	return t
}

// Kind returns the spec for backend and kind or a configuration error
func (t *Table) Kind(backend string, kind entitykey.Kind) (KindSpec, error) {
	kinds, ok := t.backends[backend]
	if !ok {
		return KindSpec{}, perr.Configurationf("capability: backend %q is not configured", backend)
	}
	spec, ok := kinds[kind]
	if !ok {
		return KindSpec{}, perr.Configurationf("capability: backend %q does not support %s", backend, kind)
	}
	return spec, nil
}

// Supports reports whether backend exposes collection on kind
func (t *Table) Supports(backend string, kind entitykey.Kind, collection string) bool {
	spec, err := t.Kind(backend, kind)
	if err != nil {
		return false
	}
	_, ok := spec.Collection(collection)
	return ok
}

// Backends lists configured backend names in stable order
func (t *Table) Backends() []string {
	return slices.Sorted(maps.Keys(t.backends))
}

// Kinds lists the kinds configured for a backend in stable order
func (t *Table) Kinds(backend string) []entitykey.Kind {
	return slices.Sorted(maps.Keys(t.backends[backend]))
}

// Default is the built-in table
func Default() *Table {
	account := Windows{
		StalePrimary:      24 * time.Hour,
		StaleRelated:      72 * time.Hour,
		MinRefetchPrimary: 15 * time.Minute,
		MinRefetchRelated: time.Hour,
		MaxSameStatus:     3,
	}
	repository := Windows{
		StalePrimary:      6 * time.Hour,
		StaleRelated:      24 * time.Hour,
		MinRefetchPrimary: 15 * time.Minute,
		MinRefetchRelated: time.Hour,
		MaxSameStatus:     3,
	}

	return New(map[string]map[entitykey.Kind]KindSpec{
		"github": {
			entitykey.Account: {
				Collections: []Collection{
					{Name: "followers", Method: "followers", Target: entitykey.Account},
					{Name: "following", Method: "following", Target: entitykey.Account},
					{Name: "repositories", Method: "repos", Target: entitykey.Repository},
				},
				Windows: account,
			},
			entitykey.Repository: {
				Collections: []Collection{
					{Name: "contributors", Method: "contributors", Target: entitykey.Account},
					{Name: "forks", Method: "forks", Target: entitykey.Repository},
				},
				Windows: repository,
			},
		},
		"gitlab": {
			entitykey.Account: {
				Collections: []Collection{
					{Name: "projects", Method: "projects", Target: entitykey.Repository},
				},
				Windows: account,
			},
			entitykey.Repository: {
				Collections: []Collection{
					{Name: "members", Method: "members", Target: entitykey.Account},
					{Name: "forks", Method: "forks", Target: entitykey.Repository},
				},
				Windows: repository,
			},
		},
	})
}
