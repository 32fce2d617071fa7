package capability

import (
	"time"

	"curator/internal/core/entitykey"
	perr "curator/internal/platform/errors"

	"github.com/BurntSushi/toml"
)

// fileTable is the TOML shape of a capability override file
//
//	[backends.github.repository]
//	stale_primary = "6h"
//	[[backends.github.repository.collections]]
//	name = "contributors"
//	method = "contributors"
//	target = "account"
type fileTable struct {
	Backends map[string]map[string]fileKind `toml:"backends"`
}

type fileKind struct {
	StalePrimary      *time.Duration   `toml:"stale_primary"`
	StaleRelated      *time.Duration   `toml:"stale_related"`
	MinRefetchPrimary *time.Duration   `toml:"min_refetch_primary"`
	MinRefetchRelated *time.Duration   `toml:"min_refetch_related"`
	MaxSameStatus     *int             `toml:"max_same_status"`
	Collections       []fileCollection `toml:"collections"`
}

type fileCollection struct {
	Name   string `toml:"name"`
	Method string `toml:"method"`
	Target string `toml:"target"`
}

// Load merges a TOML override file onto base
// windows override field by field; a non-empty collections list replaces the kind's list
func Load(path string, base *Table) (*Table, error) {
	var f fileTable
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeConfiguration, "capability: decode %s", path)
	}
	return merge(base, f)
}

// Parse is Load for in-memory documents
func Parse(doc string, base *Table) (*Table, error) {
	var f fileTable
	if _, err := toml.Decode(doc, &f); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeConfiguration, "capability: decode document")
	}
	return merge(base, f)
}

func merge(base *Table, f fileTable) (*Table, error) {
	out := map[string]map[entitykey.Kind]KindSpec{}
	if base != nil {
		for b, kinds := range base.backends {
			out[b] = map[entitykey.Kind]KindSpec{}
			for k, spec := range kinds {
				out[b][k] = spec
			}
		}
	}

	for backend, kinds := range f.Backends {
		if out[backend] == nil {
			out[backend] = map[entitykey.Kind]KindSpec{}
		}
		for kindName, fk := range kinds {
			kind := entitykey.Kind(kindName)
			if !kind.Valid() {
				return nil, perr.Configurationf("capability: %s: unknown kind %q", backend, kindName)
			}
			spec := out[backend][kind]
			applyWindows(&spec.Windows, fk)
			if len(fk.Collections) > 0 {
				cols := make([]Collection, 0, len(fk.Collections))
				for _, c := range fk.Collections {
					target := entitykey.Kind(c.Target)
					if c.Name == "" || !target.Valid() {
						return nil, perr.Configurationf("capability: %s.%s: bad collection %+v", backend, kindName, c)
					}
					method := c.Method
					if method == "" {
						method = c.Name
					}
					cols = append(cols, Collection{Name: c.Name, Method: method, Target: target})
				}
				spec.Collections = cols
			}
			out[backend][kind] = spec
		}
	}
	return New(out), nil
}

func applyWindows(w *Windows, fk fileKind) {
	if fk.StalePrimary != nil {
		w.StalePrimary = *fk.StalePrimary
	}
	if fk.StaleRelated != nil {
		w.StaleRelated = *fk.StaleRelated
	}
	if fk.MinRefetchPrimary != nil {
		w.MinRefetchPrimary = *fk.MinRefetchPrimary
	}
	if fk.MinRefetchRelated != nil {
		w.MinRefetchRelated = *fk.MinRefetchRelated
	}
	if fk.MaxSameStatus != nil {
		w.MaxSameStatus = *fk.MaxSameStatus
	}
}
