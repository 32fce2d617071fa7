// Package credpool manages the shared pool of backend credentials
// all state lives in redis so every worker process sees one pool
package credpool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
	"curator/internal/platform/telemetry"
	"curator/internal/services/refresh/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrExhausted means no usable credential is free right now; callers retry later
var ErrExhausted = perr.New(perr.ErrorCodeUnavailable, "credential pool exhausted")

const (
	defaultPollDelay = 250 * time.Millisecond
	// DefaultLeaseTTL is how long a checkout may be held before the pool reclaims it
	DefaultLeaseTTL = 30 * time.Minute
)

// Options configures a Pool
type Options struct {
	Namespace string
	PollDelay time.Duration
	LeaseTTL  time.Duration
	Metrics   *telemetry.RefreshMetrics
	Log       *logger.Logger
}

// Pool implements domain.CredentialPool on redis
type Pool struct {
	rdb     redis.UniversalClient
	keys    keyspace
	poll    time.Duration
	lease   time.Duration
	metrics *telemetry.RefreshMetrics
	log     logger.Logger
	now     func() time.Time
}

var _ domain.CredentialPool = (*Pool)(nil)

type record struct {
	Principal string `json:"principal"`
	Secret    string `json:"secret"`
}

type statusRecord struct {
	Code    int       `json:"code"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Stats counts the credentials of a backend
type Stats = domain.CredentialStats

// New builds a pool on rdb
func New(rdb redis.UniversalClient, o Options) *Pool {
	if o.PollDelay <= 0 {
		o.PollDelay = defaultPollDelay
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = DefaultLeaseTTL
	}
	l := logger.Named("refresh.credpool")
	if o.Log != nil {
		l = o.Log
	}
	return &Pool{
		rdb:     rdb,
		keys:    keyspace{ns: o.Namespace},
		poll:    o.PollDelay,
		lease:   o.LeaseTTL,
		metrics: o.Metrics,
		log:     *l,
		now:     time.Now,
	}
}

// ID is the stable identifier of a (backend, secret) pair
func ID(backend, secret string) string {
	sum := sha256.Sum256([]byte(backend + "\x00" + secret))
	return hex.EncodeToString(sum[:8])
}

// Register adds a credential; the same secret registered twice keeps one entry
func (p *Pool) Register(ctx context.Context, backend, principal, secret string) (domain.Credential, bool, error) {
	backend = strings.TrimSpace(backend)
	principal = strings.ToLower(strings.TrimSpace(principal))
	if backend == "" || principal == "" || secret == "" {
		return domain.Credential{}, false, perr.InvalidArgf("credential: backend, principal and secret are required")
	}
	id := ID(backend, secret)
	rec, err := json.Marshal(record{Principal: principal, Secret: secret})
	if err != nil {
		return domain.Credential{}, false, perr.Wrap(err, perr.ErrorCodeJSON, "credential: encode record")
	}
	st, err := json.Marshal(statusRecord{Code: 200, At: p.now().UTC()})
	if err != nil {
		return domain.Credential{}, false, perr.Wrap(err, perr.ErrorCodeJSON, "credential: encode status")
	}

	keys := []string{p.keys.secrets(backend), p.keys.principals(backend), p.keys.status(backend), p.keys.available(backend)}
	added, err := registerScript.Run(ctx, p.rdb, keys, id, string(rec), principal, string(st)).Int()
	if err != nil {
		return domain.Credential{}, false, perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: register")
	}
	p.log.Info().Str("backend", backend).Str("principal", principal).Str("credential", id).Bool("new", added == 1).Msg("credential registered")
	return domain.Credential{ID: id, Backend: backend, Principal: principal, Secret: secret, StatusCode: 200}, added == 1, nil
}

// Checkout hands out one healthy credential that no other worker holds
// preferred is a principal whose credential is tried first
// blocking polls at a fixed delay until a credential frees up or ctx ends
// a checkout not released within the lease ttl is reclaimed by the next Checkout
func (p *Pool) Checkout(ctx context.Context, backend, preferred string, blocking bool) (domain.Credential, error) {
	start := p.now()
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	lease := uuid.NewString()

	var (
		id  string
		err error
	)
	if !blocking {
		id, err = p.tryCheckout(ctx, backend, preferred, lease)
	} else {
		op := func() (string, error) {
			got, err := p.tryCheckout(ctx, backend, preferred, lease)
			if err != nil && !errors.Is(err, ErrExhausted) {
				return "", backoff.Permanent(err)
			}
			return got, err
		}
		id, err = backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewConstantBackOff(p.poll)),
			backoff.WithMaxElapsedTime(0),
		)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Credential{}, ctxErr
		}
		return domain.Credential{}, err
	}

	p.metrics.RecordCredentialWait(ctx, backend, p.now().Sub(start))

	cred, err := p.load(ctx, backend, id)
	if err != nil {
		// hand the id back so a broken record does not shrink the pool
		_ = p.Release(ctx, domain.Credential{ID: id, Backend: backend, Lease: lease})
		return domain.Credential{}, err
	}
	cred.Lease = lease
	return cred, nil
}

func (p *Pool) tryCheckout(ctx context.Context, backend, preferred, lease string) (string, error) {
	keys := []string{
		p.keys.available(backend), p.keys.blocked(backend), p.keys.cooldown(backend),
		p.keys.principals(backend), p.keys.leases(backend),
	}
	now := p.now()
	id, err := checkoutScript.Run(ctx, p.rdb, keys, preferred, now.UnixMilli(), lease, now.Add(p.lease).UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return "", ErrExhausted
	}
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: checkout")
	}
	return id, nil
}

// Release returns a credential to the availability set
// unhealthy credentials stay in the blocked set so checkout skips them
// a holder whose lease was reclaimed and handed on releases nothing
func (p *Pool) Release(ctx context.Context, cred domain.Credential) error {
	if cred.ID == "" {
		return nil
	}
	keys := []string{p.keys.available(cred.Backend), p.keys.leases(cred.Backend)}
	n, err := releaseScript.Run(ctx, p.rdb, keys, cred.ID, cred.Lease).Int()
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: release")
	}
	if n == 0 {
		p.log.Warn().Str("backend", cred.Backend).Str("credential", cred.ID).Msg("release skipped, lease held by another checkout")
	}
	return nil
}

// MarkUnhealthy records status and blocks the credential until Revalidate
func (p *Pool) MarkUnhealthy(ctx context.Context, cred domain.Credential, status int, message string) error {
	st, err := json.Marshal(statusRecord{Code: status, Message: trim(message), At: p.now().UTC()})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "credential: encode status")
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.keys.status(cred.Backend), cred.ID, string(st))
		pipe.SAdd(ctx, p.keys.blocked(cred.Backend), cred.ID)
		return nil
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: mark unhealthy")
	}
	p.log.Warn().Str("backend", cred.Backend).Str("credential", cred.ID).Int("status", status).Str("message", trim(message)).Msg("credential marked unhealthy")
	return nil
}

// Revalidate clears the blocked flag after an operator fixed the credential
func (p *Pool) Revalidate(ctx context.Context, backend, id string) error {
	ok, err := p.rdb.HExists(ctx, p.keys.secrets(backend), id).Result()
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: revalidate")
	}
	if !ok {
		return perr.NotFoundf("credential %s not found", id)
	}
	st, err := json.Marshal(statusRecord{Code: 200, Message: "revalidated", At: p.now().UTC()})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "credential: encode status")
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, p.keys.blocked(backend), id)
		pipe.HDel(ctx, p.keys.cooldown(backend), id)
		pipe.HSet(ctx, p.keys.status(backend), id, string(st))
		return nil
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: revalidate")
	}
	p.log.Info().Str("backend", backend).Str("credential", id).Msg("credential revalidated")
	return nil
}

// Cooldown keeps a rate limited credential out of checkout until the reset time
func (p *Pool) Cooldown(ctx context.Context, cred domain.Credential, until time.Time) error {
	if until.IsZero() {
		return nil
	}
	if err := p.rdb.HSet(ctx, p.keys.cooldown(cred.Backend), cred.ID, until.UnixMilli()).Err(); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: cooldown")
	}
	return nil
}

// List returns every credential of a backend with secrets redacted by json tags
func (p *Pool) List(ctx context.Context, backend string) ([]domain.Credential, error) {
	ids, err := p.rdb.HKeys(ctx, p.keys.secrets(backend)).Result()
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: list")
	}
	out := make([]domain.Credential, 0, len(ids))
	for _, id := range ids {
		c, err := p.load(ctx, backend, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Stats reports pool sizes for a backend
func (p *Pool) Stats(ctx context.Context, backend string) (Stats, error) {
	pipe := p.rdb.Pipeline()
	total := pipe.HLen(ctx, p.keys.secrets(backend))
	avail := pipe.SCard(ctx, p.keys.available(backend))
	blocked := pipe.SCard(ctx, p.keys.blocked(backend))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: stats")
	}
	return Stats{Total: total.Val(), Available: avail.Val(), Blocked: blocked.Val()}, nil
}

func (p *Pool) load(ctx context.Context, backend, id string) (domain.Credential, error) {
	pipe := p.rdb.Pipeline()
	recCmd := pipe.HGet(ctx, p.keys.secrets(backend), id)
	stCmd := pipe.HGet(ctx, p.keys.status(backend), id)
	blockedCmd := pipe.SIsMember(ctx, p.keys.blocked(backend), id)
	availCmd := pipe.SIsMember(ctx, p.keys.available(backend), id)
	coolCmd := pipe.HGet(ctx, p.keys.cooldown(backend), id)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Credential{}, perr.Wrap(err, perr.ErrorCodeUnavailable, "credential: load")
	}

	raw, err := recCmd.Result()
	if errors.Is(err, redis.Nil) {
		return domain.Credential{}, perr.NotFoundf("credential %s not found", id)
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.Credential{}, perr.Wrap(err, perr.ErrorCodeJSON, "credential: decode record")
	}

	c := domain.Credential{
		ID:         id,
		Backend:    backend,
		Principal:  rec.Principal,
		Secret:     rec.Secret,
		StatusCode: 200,
		Blocked:    blockedCmd.Val(),
		Available:  availCmd.Val(),
	}
	if s, err := stCmd.Result(); err == nil {
		var st statusRecord
		if json.Unmarshal([]byte(s), &st) == nil {
			c.StatusCode, c.Message = st.Code, st.Message
		}
	}
	if ms, err := coolCmd.Result(); err == nil {
		if n, err := strconv.ParseInt(ms, 10, 64); err == nil {
			c.CooldownUntil = time.UnixMilli(n).UTC()
		}
	}
	return c, nil
}

func trim(s string) string {
	const n = 500
	if len(s) <= n {
		return s
	}
	return s[:n]
}
