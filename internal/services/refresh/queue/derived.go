package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"

	"github.com/redis/go-redis/v9"
)

// DefaultGateTTL is how long an enqueued key blocks duplicates when its pop was lost
const DefaultGateTTL = time.Hour

// derivedEnqueueScript pushes a key once until a worker pops it or the gate ages out
// KEYS: pending zset scored by enqueue ms, queue list
// ARGV: entity key, now ms, ttl ms
var derivedEnqueueScript = redis.NewScript(`
local at = redis.call('ZSCORE', KEYS[1], ARGV[1])
if at and tonumber(ARGV[2]) - tonumber(at) < tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// Derived is the queue of entities whose score and tags need recomputing
type Derived struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
	now func() time.Time
}

var _ domain.DerivedQueue = (*Derived)(nil)

// NewDerived builds the derived-data queue; ttl <= 0 uses DefaultGateTTL
func NewDerived(rdb redis.UniversalClient, namespace string, ttl time.Duration) *Derived {
	if ttl <= 0 {
		ttl = DefaultGateTTL
	}
	return &Derived{rdb: rdb, ns: namespace, ttl: ttl, now: time.Now}
}

func (d *Derived) pendingKey() string { return d.ns + "derived:gate" }
func (d *Derived) queueKey() string   { return d.ns + "derived:queue" }

// Enqueue adds entityKey unless it is already waiting
func (d *Derived) Enqueue(ctx context.Context, entityKey string) (bool, error) {
	if strings.TrimSpace(entityKey) == "" {
		return false, perr.InvalidArgf("derived queue: entity key is required")
	}
	keys := []string{d.pendingKey(), d.queueKey()}
	n, err := derivedEnqueueScript.Run(ctx, d.rdb, keys, entityKey, d.now().UnixMilli(), d.ttl.Milliseconds()).Int()
	if err != nil {
		return false, perr.Wrap(err, perr.ErrorCodeUnavailable, "derived queue: enqueue")
	}
	return n == 1, nil
}

// Dequeue blocks for the next entity key
func (d *Derived) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout < minBlock {
		timeout = minBlock
	}
	res, err := d.rdb.BLPop(ctx, timeout, d.queueKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", perr.Wrap(err, perr.ErrorCodeUnavailable, "derived queue: dequeue")
	}
	// reopen the gate before processing so edits made meanwhile are picked up again
	if err := d.rdb.ZRem(ctx, d.pendingKey(), res[1]).Err(); err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeUnavailable, "derived queue: release")
	}
	return res[1], nil
}

// Len is the number of waiting keys
func (d *Derived) Len(ctx context.Context) (int64, error) {
	n, err := d.rdb.LLen(ctx, d.queueKey()).Result()
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeUnavailable, "derived queue: len")
	}
	return n, nil
}
