package domain

import (
	stderrs "errors"
	"fmt"
	"strings"
	"time"

	perr "curator/internal/platform/errors"
)

// ErrQueueEmpty is returned by blocking dequeues that timed out
var ErrQueueEmpty = stderrs.New("queue: empty")

// Kind classifies failures by retry policy
type Kind int

const (
	// KindNone is a nil error
	KindNone Kind = iota
	// KindNotFound is terminal, the entity is soft deleted
	KindNotFound
	// KindPermissionDenied revalidates the credential and retries with another
	KindPermissionDenied
	// KindRateLimited retries later, the credential cools down
	KindRateLimited
	// KindTransient retries later
	KindTransient
	// KindConfiguration is terminal until the deployment is fixed
	KindConfiguration
	// KindAggregate is partial success, committed and reported only
	KindAggregate
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindConfiguration:
		return "configuration"
	case KindAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// KindOf maps any error onto the retry taxonomy
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var agg *AggregateError
	if stderrs.As(err, &agg) {
		return KindAggregate
	}
	switch perr.CodeOf(err) {
	case perr.ErrorCodeNotFound:
		return KindNotFound
	case perr.ErrorCodeUnauthorized, perr.ErrorCodeForbidden:
		return KindPermissionDenied
	case perr.ErrorCodeTooManyRequests:
		return KindRateLimited
	case perr.ErrorCodeConfiguration, perr.ErrorCodeInvalidArgument:
		return KindConfiguration
	default:
		return KindTransient
	}
}

// StatusOf is the provider-like status code recorded for err
func StatusOf(err error) int {
	var se interface{ HTTPStatus() int }
	if stderrs.As(err, &se) {
		return se.HTTPStatus()
	}
	if err == nil {
		return 200
	}
	return perr.HTTPStatus(err)
}

// RateLimitError carries the reset time reported by the backend
type RateLimitError struct {
	Reset time.Time
	Err   error
}

func (e *RateLimitError) Error() string { return e.Err.Error() }

// Unwrap exposes the coded cause
func (e *RateLimitError) Unwrap() error { return e.Err }

// ResetOf returns the reset time carried by err, if any
func ResetOf(err error) (time.Time, bool) {
	var rl *RateLimitError
	if stderrs.As(err, &rl) && !rl.Reset.IsZero() {
		return rl.Reset, true
	}
	return time.Time{}, false
}

// CollectionError is one failed related-collection sync
type CollectionError struct {
	Collection string
	Err        error
}

func (e CollectionError) Error() string { return e.Collection + ": " + e.Err.Error() }

// Unwrap exposes the cause
func (e CollectionError) Unwrap() error { return e.Err }

// AggregateError reports collections that failed while the rest committed
type AggregateError struct {
	EntityKey string
	Failures  []CollectionError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%s: %d related collection(s) failed: %s", e.EntityKey, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every cause to errors.Is and errors.As
func (e *AggregateError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f)
	}
	return out
}

// Collections names the failed collections
func (e *AggregateError) Collections() []string {
	out := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Collection)
	}
	return out
}
