package orchestrator

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"curator/internal/core/capability"
	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"
)

type memStorage struct {
	mu       sync.Mutex
	nextID   int64
	entities map[entitykey.Key]*domain.Entity
	members  map[int64]map[string][]entitykey.Key
	saves    [][]domain.Field
}

func newMemStorage() *memStorage {
	return &memStorage{entities: map[entitykey.Key]*domain.Entity{}, members: map[int64]map[string][]entitykey.Key{}}
}

func clone(e *domain.Entity) *domain.Entity {
	c := *e
	c.Related = maps.Clone(e.Related)
	c.Attributes = maps.Clone(e.Attributes)
	return &c
}

func (m *memStorage) Load(_ context.Context, key entitykey.Key) (*domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[key]
	if !ok {
		return nil, nil
	}
	return clone(e), nil
}

func (m *memStorage) Create(ctx context.Context, key entitykey.Key) (*domain.Entity, error) {
	m.mu.Lock()
	if _, ok := m.entities[key]; !ok {
		m.nextID++
		e := &domain.Entity{ID: m.nextID, Key: key, Related: map[string]entitystate.Descriptor{}}
		if o, ok := key.Owner(); ok {
			e.Owner = o.Natural
		}
		m.entities[key] = e
	}
	m.mu.Unlock()
	return m.Load(ctx, key)
}

func (m *memStorage) byID(id int64) *domain.Entity {
	for _, e := range m.entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (m *memStorage) Save(_ context.Context, e *domain.Entity, fields ...domain.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, fields)
	s := m.byID(e.ID)
	for _, f := range fields {
		switch f {
		case domain.FieldAttributes:
			s.Attributes = maps.Clone(e.Attributes)
			s.Owner = e.Owner
		case domain.FieldLastFetch:
			s.LastFetch = e.LastFetch
		case domain.FieldBackendStatus:
			s.LastAttempt = e.LastAttempt
			s.BackendLastStatus = e.BackendLastStatus
			s.BackendSameStatus = e.BackendSameStatus
		}
	}
	return nil
}

func (m *memStorage) SaveCollection(_ context.Context, id int64, d entitystate.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID(id)
	if s.Related == nil {
		s.Related = map[string]entitystate.Descriptor{}
	}
	s.Related[d.Name] = d
	return nil
}

func (m *memStorage) Members(_ context.Context, id int64, collection string) ([]entitykey.Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.members[id][collection]), nil
}

func (m *memStorage) SyncMembers(_ context.Context, id int64, collection string, add, remove []entitykey.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[id] == nil {
		m.members[id] = map[string][]entitykey.Key{}
	}
	cur := slices.DeleteFunc(m.members[id][collection], func(k entitykey.Key) bool { return slices.Contains(remove, k) })
	for _, k := range add {
		if !slices.Contains(cur, k) {
			cur = append(cur, k)
		}
	}
	m.members[id][collection] = cur
	return nil
}

func (m *memStorage) SoftDelete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID(id)
	s.Deleted = true
	s.Related = map[string]entitystate.Descriptor{}
	delete(m.members, id)
	return nil
}

type fakePool struct {
	mu        sync.Mutex
	checkouts []string
	releases  int
	unhealthy []int
	cooldowns []time.Time
	err       error
	// limit fails checkouts past this many when set
	limit int
}

func (p *fakePool) Checkout(_ context.Context, backend, preferred string, _ bool) (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.Credential{}, p.err
	}
	if p.limit > 0 && len(p.checkouts) >= p.limit {
		return domain.Credential{}, perr.New(perr.ErrorCodeUnavailable, "credential pool exhausted")
	}
	p.checkouts = append(p.checkouts, preferred)
	return domain.Credential{ID: "c1", Backend: backend, Principal: "pool", Secret: "s"}, nil
}

func (p *fakePool) Release(context.Context, domain.Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases++
	return nil
}

func (p *fakePool) MarkUnhealthy(_ context.Context, _ domain.Credential, status int, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unhealthy = append(p.unhealthy, status)
	return nil
}

func (p *fakePool) Cooldown(_ context.Context, _ domain.Credential, until time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cooldowns = append(p.cooldowns, until)
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []domain.Job
	running map[string]int
}

func (q *fakeQueue) Enqueue(_ context.Context, j domain.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, j)
	return true, nil
}

func (q *fakeQueue) Dequeue(context.Context, time.Duration) (domain.Job, error) {
	return domain.Job{}, nil
}

func (q *fakeQueue) MarkRunning(context.Context, domain.Job) error { return nil }

func (q *fakeQueue) DoneRunning(context.Context, string) error { return nil }

func (q *fakeQueue) Running(_ context.Context, key string) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.running[key]
	return d, ok, nil
}

type fakeDerived struct{ keys []string }

func (d *fakeDerived) Enqueue(_ context.Context, key string) (bool, error) {
	d.keys = append(d.keys, key)
	return true, nil
}

func (d *fakeDerived) Dequeue(context.Context, time.Duration) (string, error) { return "", nil }

type fakeNotifier struct {
	got map[string][]domain.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, target string, x domain.Notification) error {
	if n.got == nil {
		n.got = map[string][]domain.Notification{}
	}
	n.got[target] = append(n.got[target], x)
	return nil
}

type fakeProvider struct {
	primaryCalls int
	primary      func(e *domain.Entity) (domain.Attributes, error)
	relatedCalls map[string]int
	related      map[string]func() ([]entitykey.Key, error)
}

func (p *fakeProvider) Backend() string { return "github" }

func (p *fakeProvider) FetchPrimary(_ context.Context, e *domain.Entity, _ domain.Credential) (domain.Attributes, error) {
	p.primaryCalls++
	if p.primary == nil {
		return domain.Attributes{Fields: map[string]any{"login": e.Key.Natural}}, nil
	}
	return p.primary(e)
}

func (p *fakeProvider) FetchRelated(_ context.Context, _ *domain.Entity, c capability.Collection, _ domain.Credential) ([]entitykey.Key, error) {
	if p.relatedCalls == nil {
		p.relatedCalls = map[string]int{}
	}
	p.relatedCalls[c.Name]++
	if f, ok := p.related[c.Name]; ok {
		return f()
	}
	return nil, nil
}
