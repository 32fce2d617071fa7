// Package queue is the de-duplicated priority job queue shared by every worker
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
	"curator/internal/platform/telemetry"
	"curator/internal/services/refresh/domain"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Dequeue when the timeout elapsed with nothing to do
var ErrEmpty = domain.ErrQueueEmpty

const (
	// DefaultMaxPriority gives buckets priority:0 through priority:5
	DefaultMaxPriority = 5
	// DefaultPendingTTL bounds how long a pending entry blocks lower requests
	DefaultPendingTTL = 24 * time.Hour
	// DefaultRunningTTL bounds a running marker left by a worker that died
	DefaultRunningTTL = 30 * time.Minute

	minBlock = time.Second
)

// Pending entries are "<priority>:<seq>:<enqueued unix ms>"; seq tells pushes apart
// and entries older than the ttl count as absent so a lost job cannot wedge its entity

// enqueueScript keeps one pending job per entity at its highest priority
// KEYS: pending hash, target bucket, sequence counter
// ARGV: entity key, priority, payload json without seq, now ms, ttl ms
var enqueueScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local p, _, at = string.match(cur, '^(%d+):(%d+):(%d+)$')
  if p and tonumber(p) >= tonumber(ARGV[2]) and tonumber(ARGV[4]) - tonumber(at) < tonumber(ARGV[5]) then
    return 0
  end
end
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2] .. ':' .. seq .. ':' .. ARGV[4])
local body = string.sub(ARGV[3], 1, -2) .. ',"seq":' .. seq .. '}'
redis.call('RPUSH', KEYS[2], body)
return 1
`)

// claimScript deletes the pending entry only if it still names this push
// KEYS: pending hash
// ARGV: entity key, "<priority>:<seq>"
var claimScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and string.sub(cur, 1, string.len(ARGV[2]) + 1) == ARGV[2] .. ':' then
  redis.call('HDEL', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// Options configures a Queue
type Options struct {
	Namespace   string
	MaxPriority int
	PendingTTL  time.Duration
	RunningTTL  time.Duration
	Metrics     *telemetry.RefreshMetrics
}

// Queue implements domain.JobQueue on redis lists and hashes
type Queue struct {
	rdb     redis.UniversalClient
	ns      string
	max     int
	pending time.Duration
	running time.Duration
	metrics *telemetry.RefreshMetrics
	log     logger.Logger
	now     func() time.Time
}

var _ domain.JobQueue = (*Queue)(nil)

type payload struct {
	EntityKey   string `json:"entity_key"`
	Depth       int    `json:"depth"`
	RequestedBy string `json:"requested_by,omitempty"`
	Seq         int64  `json:"seq,omitempty"`
}

// New builds a queue on rdb
func New(rdb redis.UniversalClient, o Options) *Queue {
	if o.MaxPriority <= 0 {
		o.MaxPriority = DefaultMaxPriority
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = DefaultPendingTTL
	}
	if o.RunningTTL <= 0 {
		o.RunningTTL = DefaultRunningTTL
	}
	return &Queue{
		rdb:     rdb,
		ns:      o.Namespace,
		max:     o.MaxPriority,
		pending: o.PendingTTL,
		running: o.RunningTTL,
		metrics: o.Metrics,
		log:     *logger.Named("refresh.queue"),
		now:     time.Now,
	}
}

// MaxPriority is the highest bucket
func (q *Queue) MaxPriority() int { return q.max }

func (q *Queue) pendingKey() string              { return q.ns + "pending" }
func (q *Queue) seqKey() string                  { return q.ns + "pending:seq" }
func (q *Queue) runningKey(entity string) string { return q.ns + "running:" + entity }
func (q *Queue) bucket(p int) string             { return q.ns + "priority:" + strconv.Itoa(p) }

// Clamp bounds p to the configured buckets
func (q *Queue) Clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > q.max:
		return q.max
	default:
		return p
	}
}

// Enqueue adds j unless a job for the same entity is pending at an equal or higher priority
// a strictly higher request moves the entity to the higher bucket
func (q *Queue) Enqueue(ctx context.Context, j domain.Job) (bool, error) {
	if strings.TrimSpace(j.EntityKey) == "" {
		return false, perr.InvalidArgf("queue: entity key is required")
	}
	if j.Depth < 0 {
		j.Depth = 0
	}
	p := q.Clamp(j.Priority)
	body, err := json.Marshal(payload{EntityKey: j.EntityKey, Depth: j.Depth, RequestedBy: j.RequestedBy})
	if err != nil {
		return false, perr.Wrap(err, perr.ErrorCodeJSON, "queue: encode job")
	}
	keys := []string{q.pendingKey(), q.bucket(p), q.seqKey()}
	n, err := enqueueScript.Run(ctx, q.rdb, keys, j.EntityKey, p, string(body), q.now().UnixMilli(), q.pending.Milliseconds()).Int()
	if err != nil {
		return false, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: enqueue")
	}
	return n == 1, nil
}

// Dequeue blocks until a current job is available, highest priority first
// jobs superseded by a later higher-priority enqueue are discarded
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (domain.Job, error) {
	if timeout < minBlock {
		timeout = minBlock
	}
	keys := make([]string, 0, q.max+1)
	for p := q.max; p >= 0; p-- {
		keys = append(keys, q.bucket(p))
	}
	deadline := time.Now().Add(timeout)

	for {
		wait := time.Until(deadline)
		if wait < minBlock {
			wait = minBlock
		}
		res, err := q.rdb.BLPop(ctx, wait, keys...).Result()
		if errors.Is(err, redis.Nil) {
			return domain.Job{}, ErrEmpty
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Job{}, ctxErr
			}
			return domain.Job{}, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: dequeue")
		}

		j, ok := q.decode(res[0], res[1])
		if ok {
			token := strconv.Itoa(j.Priority) + ":" + strconv.FormatInt(j.seq, 10)
			claimed, err := claimScript.Run(ctx, q.rdb, []string{q.pendingKey()}, j.EntityKey, token).Int()
			if err != nil {
				// the pending entry ages out after the ttl and a later enqueue pushes afresh
				return domain.Job{}, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: claim")
			}
			if claimed == 1 {
				return j.Job, nil
			}
		}

		q.metrics.RecordStaleDiscard(ctx)
		q.log.Debug().Str("bucket", res[0]).Str("payload", res[1]).Msg("discarded stale job")
		if !time.Now().Before(deadline) {
			return domain.Job{}, ErrEmpty
		}
	}
}

// popped is a decoded job and the push it came from
type popped struct {
	domain.Job
	seq int64
}

func (q *Queue) decode(bucket, body string) (popped, bool) {
	p, err := strconv.Atoi(strings.TrimPrefix(bucket, q.ns+"priority:"))
	if err != nil {
		return popped{}, false
	}
	var pl payload
	if err := json.Unmarshal([]byte(body), &pl); err != nil || pl.EntityKey == "" {
		q.log.Warn().Err(err).Str("payload", body).Msg("undecodable job payload")
		return popped{}, false
	}
	j := domain.Job{EntityKey: pl.EntityKey, Depth: pl.Depth, RequestedBy: pl.RequestedBy, Priority: p}
	return popped{Job: j, seq: pl.Seq}, true
}

// Pending reports the pending priority of an entity
func (q *Queue) Pending(ctx context.Context, entityKey string) (int, bool, error) {
	v, err := q.rdb.HGet(ctx, q.pendingKey(), entityKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: read pending")
	}
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, false, nil
	}
	p, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false, nil
	}
	at, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || q.now().UnixMilli()-at >= q.pending.Milliseconds() {
		return 0, false, nil
	}
	return p, true, nil
}

// Depths returns the length of every bucket
func (q *Queue) Depths(ctx context.Context) (map[int]int64, error) {
	pipe := q.rdb.Pipeline()
	cmds := make(map[int]*redis.IntCmd, q.max+1)
	for p := 0; p <= q.max; p++ {
		cmds[p] = pipe.LLen(ctx, q.bucket(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: depths")
	}
	out := make(map[int]int64, len(cmds))
	for p, c := range cmds {
		out[p] = c.Val()
	}
	return out, nil
}

// MarkRunning records that a worker is processing j
// the marker expires so a worker that died does not hide the entity from sweeps
func (q *Queue) MarkRunning(ctx context.Context, j domain.Job) error {
	if err := q.rdb.Set(ctx, q.runningKey(j.EntityKey), j.Depth, q.running).Err(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: mark running")
	}
	return nil
}

// DoneRunning clears the running marker
func (q *Queue) DoneRunning(ctx context.Context, entityKey string) error {
	if err := q.rdb.Del(ctx, q.runningKey(entityKey)).Err(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: done running")
	}
	return nil
}

// Running reports the depth an entity is being processed at
func (q *Queue) Running(ctx context.Context, entityKey string) (int, bool, error) {
	n, err := q.rdb.Get(ctx, q.runningKey(entityKey)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, perr.Wrap(err, perr.ErrorCodeUnavailable, "queue: read running")
	}
	return n, true, nil
}
