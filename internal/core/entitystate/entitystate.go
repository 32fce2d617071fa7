// Package entitystate derives the refresh status of an entity from its timestamps
// nothing here is stored; every call recomputes from the facts it is given
package entitystate

import (
	"time"

	"curator/internal/core/capability"
)

// Status is the derived refresh status
type Status string

const (
	// Creating means the entity has no surrogate id yet
	Creating Status = "creating"
	// FetchNeeded means the primary attributes are missing or stale
	FetchNeeded Status = "fetch_needed"
	// NeedRelated means only related collections are missing or stale
	NeedRelated Status = "need_related"
	// Updating means a refresh job is pending or running
	Updating Status = "updating"
	// OK means nothing is due
	OK Status = "ok"
)

func (s Status) String() string { return string(s) }

// Due reports whether the status asks for a refresh
func (s Status) Due() bool {
	return s == Creating || s == FetchNeeded || s == NeedRelated
}

// Descriptor is the freshness record of one related collection
type Descriptor struct {
	Name     string
	Method   string
	Count    *int
	Modified *time.Time
}

// Facts is the subset of an entity the state machine reads
type Facts struct {
	ID                int64
	LastFetch         *time.Time
	LastAttempt       *time.Time
	Deleted           bool
	Related           map[string]Descriptor
	BackendLastStatus int
	BackendSameStatus int
}

// Classify returns the status of f at now for the given kind spec
// deleted entities are excluded from scheduling and report OK
func Classify(f Facts, spec capability.KindSpec, now time.Time) Status {
	if f.ID == 0 {
		return Creating
	}
	if f.Deleted {
		return OK
	}
	w := spec.Windows
	if f.LastFetch == nil || now.Sub(*f.LastFetch) > w.StalePrimary {
		return FetchNeeded
	}
	for _, c := range spec.Collections {
		d, ok := f.Related[c.Name]
		if !ok || d.Count == nil || d.Modified == nil || now.Sub(*d.Modified) > w.StaleRelated {
			return NeedRelated
		}
	}
	return OK
}

// Decorate overlays the in-flight signal on a classified status
func Decorate(s Status, busy bool) Status {
	if busy && s != Creating {
		return Updating
	}
	return s
}

// FetchAllowed gates a new primary fetch attempt
// a recent success or a streak of identical provider errors refuses the attempt
func FetchAllowed(f Facts, w capability.Windows, now time.Time) bool {
	if f.Deleted {
		return false
	}
	if f.ID == 0 {
		return true
	}
	if f.LastFetch != nil && now.Sub(*f.LastFetch) < w.MinRefetchPrimary {
		return false
	}
	if failing(f, w) && f.LastAttempt != nil && now.Sub(*f.LastAttempt) < w.StalePrimary {
		return false
	}
	return true
}

// FetchRelatedAllowed gates a related-collection fetch for descriptor d
func FetchRelatedAllowed(f Facts, d Descriptor, w capability.Windows, now time.Time) bool {
	if f.Deleted || f.ID == 0 {
		return false
	}
	if d.Modified != nil && now.Sub(*d.Modified) < w.MinRefetchRelated {
		return false
	}
	return true
}

// NextStatus computes the repeat counter after observing status
func NextStatus(f Facts, status int) (last, same int) {
	if status == f.BackendLastStatus && f.BackendSameStatus > 0 {
		return status, f.BackendSameStatus + 1
	}
	return status, 1
}

func failing(f Facts, w capability.Windows) bool {
	if w.MaxSameStatus <= 0 {
		return false
	}
	return IsErrorStatus(f.BackendLastStatus) && f.BackendSameStatus >= w.MaxSameStatus
}

// IsErrorStatus reports provider statuses that count as failures
func IsErrorStatus(code int) bool { return code >= 400 || code < 0 }
