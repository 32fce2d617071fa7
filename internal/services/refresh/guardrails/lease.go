// Package guardrails keeps one-at-a-time refresh operations from overlapping across processes
package guardrails

import (
	"context"
	"fmt"
	"os"
	"time"

	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld signals another process owns the lease already
var ErrLeaseHeld = perr.New(perr.ErrorCodeConflict, "lease already held")

const defaultTTL = 10 * time.Minute

// releaseScript deletes the lease only while this owner still holds it
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lease is a redis SET NX lease that expires on its own when the holder dies
type Lease struct {
	rdb   redis.UniversalClient
	ns    string
	owner string
	ttl   time.Duration
}

// NewLease builds a lease source; owner is suffixed with pid and a random tag
func NewLease(rdb redis.UniversalClient, namespace, owner string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Lease{
		rdb:   rdb,
		ns:    namespace,
		owner: fmt.Sprintf("%s:%d:%s", owner, os.Getpid(), uuid.NewString()[:8]),
		ttl:   ttl,
	}
}

func (l *Lease) key(name string) string { return l.ns + "lease:" + name }

// Do runs fn while holding the named lease, or returns ErrLeaseHeld
func (l *Lease) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	ok, err := l.rdb.SetNX(ctx, l.key(name), l.owner, l.ttl).Result()
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "lease %s: claim", name)
	}
	if !ok {
		return ErrLeaseHeld
	}
	defer func() {
		if err := releaseScript.Run(context.WithoutCancel(ctx), l.rdb, []string{l.key(name)}, l.owner).Err(); err != nil {
			logger.C(ctx).Warn().Err(err).Str("lease", name).Msg("lease release failed, it will expire")
		}
	}()
	return fn(ctx)
}
