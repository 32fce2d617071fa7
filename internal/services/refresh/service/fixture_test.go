package service

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"curator/internal/core/capability"
	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
	"curator/internal/services/refresh/credpool"
	"curator/internal/services/refresh/domain"
	"curator/internal/services/refresh/notify"
	"curator/internal/services/refresh/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type runnerFunc func(ctx context.Context, job domain.Job) (domain.Result, error)

type fakeRunner struct {
	mu   sync.Mutex
	jobs []domain.Job
	fn   runnerFunc
}

func (r *fakeRunner) Run(ctx context.Context, job domain.Job) (domain.Result, error) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	fn := r.fn
	r.mu.Unlock()
	if fn == nil {
		return domain.Result{EntityKey: job.EntityKey, Phase: domain.PhaseDone}, nil
	}
	return fn(ctx, job)
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type fakeEntities struct {
	mu sync.Mutex
	m  map[entitykey.Key]*domain.Entity
}

func (f *fakeEntities) Load(_ context.Context, key entitykey.Key) (*domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m[key], nil
}

// Stale mirrors the storage query: cutoffs, kind filter, oldest fetch first, then the limit
func (f *fakeEntities) Stale(_ context.Context, q domain.StaleQuery) ([]*domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Entity
	for _, e := range f.m {
		if e.Key.Backend != q.Backend || e.Deleted || (q.Kind != "" && e.Key.Kind != q.Kind) {
			continue
		}
		if staleFor(e, q) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *domain.Entity) int {
		switch {
		case a.LastFetch == nil && b.LastFetch == nil:
			return cmp.Compare(a.ID, b.ID)
		case a.LastFetch == nil:
			return -1
		case b.LastFetch == nil:
			return 1
		}
		if c := a.LastFetch.Compare(*b.LastFetch); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if c := q.After; c != nil {
		i := slices.IndexFunc(out, func(e *domain.Entity) bool { return e.ID == c.ID })
		out = out[i+1:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func staleFor(e *domain.Entity, q domain.StaleQuery) bool {
	if e.LastFetch == nil || e.LastFetch.Before(q.FetchedBefore) || len(e.Related) == 0 {
		return true
	}
	for _, c := range q.Collections {
		if _, ok := e.Related[c]; !ok {
			return true
		}
	}
	for _, d := range e.Related {
		if d.Count == nil || d.Modified == nil || d.Modified.Before(q.RelatedBefore) {
			return true
		}
	}
	return false
}

type fixture struct {
	svc    *Svc
	runner *fakeRunner
	q      *queue.Queue
	der    *queue.Derived
	pool   *credpool.Pool
	sink   *notify.Sink
	ents   *fakeEntities
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		runner: &fakeRunner{},
		q:      queue.New(rdb, queue.Options{Namespace: "t:"}),
		der:    queue.NewDerived(rdb, "t:", 0),
		pool:   credpool.New(rdb, credpool.Options{Namespace: "t:"}),
		sink:   notify.New(rdb, "t:", 10),
		ents:   &fakeEntities{m: map[entitykey.Key]*domain.Entity{}},
		mr:     mr,
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.DequeueTimeout == 0 {
		cfg.DequeueTimeout = time.Second
	}
	f.svc = New(Deps{
		Orchestrator:  f.runner,
		Queue:         f.q,
		DerivedQueue:  f.der,
		Entities:      f.ents,
		Stale:         f.ents,
		Credentials:   f.pool,
		Notifier:      f.sink,
		Notifications: f.sink,
		Capabilities:  capability.Default(),
	}, cfg)
	f.svc.now = func() time.Time { return t0 }
	return f
}

func (f *fixture) put(e *domain.Entity) {
	f.ents.mu.Lock()
	defer f.ents.mu.Unlock()
	f.ents.m[e.Key] = e
}

func ptr[T any](v T) *T { return &v }

// fresh builds a stored entity that classifies ok at t0
func fresh(key entitykey.Key, id int64) *domain.Entity {
	spec, _ := capability.Default().Kind(key.Backend, key.Kind)
	e := &domain.Entity{ID: id, Key: key, LastFetch: ptr(t0.Add(-time.Minute)), Related: map[string]entitystate.Descriptor{}}
	for _, c := range spec.Collections {
		e.Related[c.Name] = entitystate.Descriptor{Name: c.Name, Method: c.Method, Count: ptr(1), Modified: ptr(t0.Add(-time.Minute))}
	}
	return e
}
