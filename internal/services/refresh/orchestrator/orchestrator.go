// Package orchestrator runs one refresh job against storage, the credential pool and a provider
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"curator/internal/core/capability"
	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
	"curator/internal/platform/telemetry"
	"curator/internal/services/refresh/domain"
)

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Storage      domain.Storage
	Pool         domain.CredentialPool
	Queue        domain.JobQueue
	Derived      domain.DerivedQueue
	Notifier     domain.Notifier
	Providers    []domain.Provider
	Capabilities *capability.Table
	Metrics      *telemetry.RefreshMetrics
}

// Options tunes orchestration
type Options struct {
	// BlockingCheckout waits for a credential instead of failing fast
	BlockingCheckout bool
	// FanoutStep is subtracted from the parent priority for related jobs
	FanoutStep int
}

// Orchestrator implements the refresh state machine
type Orchestrator struct {
	d         Deps
	opts      Options
	providers map[string]domain.Provider
	now       func() time.Time
}

// New builds an Orchestrator
func New(d Deps, o Options) *Orchestrator {
	if o.FanoutStep <= 0 {
		o.FanoutStep = 1
	}
	if d.Capabilities == nil {
		d.Capabilities = capability.Default()
	}
	ps := make(map[string]domain.Provider, len(d.Providers))
	for _, p := range d.Providers {
		ps[p.Backend()] = p
	}
	return &Orchestrator{d: d, opts: o, providers: ps, now: time.Now}
}

// run carries the per-job state between phases
type run struct {
	job      domain.Job
	key      entitykey.Key
	spec     capability.KindSpec
	provider domain.Provider
	entity   *domain.Entity
	now      time.Time

	cred     domain.Credential
	haveCred bool

	res      domain.Result
	failures []domain.CollectionError
	members  []entitykey.Key
}

// Run executes job and returns what happened
// errors from the primary fetch propagate as is, related failures come back as *domain.AggregateError
func (o *Orchestrator) Run(ctx context.Context, job domain.Job) (domain.Result, error) {
	r := &run{job: job, now: o.now().UTC(), res: domain.Result{EntityKey: job.EntityKey, Phase: domain.PhaseStart}}
	ctx = logger.With(ctx, logger.C(ctx).With().
		Str("entity_key", job.EntityKey).
		Int("depth", job.Depth).
		Int("priority", job.Priority).
		Logger())
	defer o.release(ctx, r)

	proceed, err := o.start(ctx, r)
	if err != nil || !proceed {
		return r.res, err
	}

	primaryOK := entitystate.FetchAllowed(r.entity.Facts(), r.spec.Windows, r.now)
	related := o.permittedCollections(r)

	if primaryOK {
		r.res.Phase = domain.PhasePrimary
		stop, err := o.primary(ctx, r)
		if err != nil || stop {
			if stop && err == nil {
				o.finish(ctx, r)
			}
			return r.res, err
		}
	}

	if len(related) > 0 {
		r.res.Phase = domain.PhaseRelated
		o.related(ctx, r, related)
	}
	o.release(ctx, r)

	if r.job.Depth > 0 {
		r.res.Phase = domain.PhaseFanout
		o.fanout(ctx, r)
	}

	r.res.Phase = domain.PhaseDone
	o.finish(ctx, r)

	if len(r.failures) > 0 {
		return r.res, &domain.AggregateError{EntityKey: r.key.String(), Failures: r.failures}
	}
	return r.res, nil
}

// start resolves configuration and loads or creates the entity
func (o *Orchestrator) start(ctx context.Context, r *run) (bool, error) {
	key, err := entitykey.Parse(r.job.EntityKey)
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeConfiguration, "refresh: bad entity key %q", r.job.EntityKey)
	}
	r.key = key
	r.res.EntityKey = key.String()

	spec, err := o.d.Capabilities.Kind(key.Backend, key.Kind)
	if err != nil {
		return false, err
	}
	r.spec = spec
	p, ok := o.providers[key.Backend]
	if !ok {
		return false, perr.Configurationf("refresh: no provider for backend %q", key.Backend)
	}
	r.provider = p

	e, err := o.d.Storage.Load(ctx, key)
	if err != nil {
		return false, err
	}
	if e == nil {
		if e, err = o.d.Storage.Create(ctx, key); err != nil {
			return false, err
		}
	}
	r.entity = e

	if e.Deleted {
		r.res.Phase = domain.PhaseDone
		r.res.Deleted = true
		o.notify(ctx, r, domain.OutcomeSuccess, "entity is deleted")
		return false, nil
	}

	facts := e.Facts()
	if !entitystate.FetchAllowed(facts, spec.Windows, r.now) && len(o.permittedCollections(r)) == 0 {
		r.res.Phase = domain.PhaseDone
		r.res.Skipped = true
		logger.C(ctx).Debug().Msg("refresh skipped, nothing permitted")
		o.notify(ctx, r, domain.OutcomeSuccess, "up to date")
		return false, nil
	}
	return true, nil
}

func (o *Orchestrator) permittedCollections(r *run) []capability.Collection {
	facts := r.entity.Facts()
	var out []capability.Collection
	for _, c := range r.spec.Collections {
		d, ok := facts.Related[c.Name]
		if !ok {
			d = entitystate.Descriptor{Name: c.Name, Method: c.Method}
		}
		if entitystate.FetchRelatedAllowed(facts, d, r.spec.Windows, r.now) {
			out = append(out, c)
		}
	}
	return out
}

func (o *Orchestrator) checkout(ctx context.Context, r *run) error {
	return o.checkoutMode(ctx, r, o.opts.BlockingCheckout)
}

func (o *Orchestrator) checkoutMode(ctx context.Context, r *run, blocking bool) error {
	if r.haveCred {
		return nil
	}
	preferred := r.job.RequestedBy
	if preferred == "" {
		preferred = r.key.Principal()
	}
	cred, err := o.d.Pool.Checkout(ctx, r.key.Backend, preferred, blocking)
	if err != nil {
		return err
	}
	r.cred, r.haveCred = cred, true
	logger.C(ctx).Debug().Str("credential", cred.ID).Str("principal", cred.Principal).Msg("credential checked out")
	return nil
}

func (o *Orchestrator) release(ctx context.Context, r *run) {
	if !r.haveCred {
		return
	}
	// a cancelled job still hands its credential back
	if err := o.d.Pool.Release(context.WithoutCancel(ctx), r.cred); err != nil {
		logger.C(ctx).Error().Err(err).Str("credential", r.cred.ID).Msg("credential release failed")
	}
	r.haveCred = false
}

// primary fetches the entity attributes; stop reports a terminal outcome that skips the remaining phases
func (o *Orchestrator) primary(ctx context.Context, r *run) (stop bool, err error) {
	if err := o.checkout(ctx, r); err != nil {
		return false, err
	}
	e := r.entity
	facts := e.Facts()

	attrs, ferr := r.provider.FetchPrimary(ctx, e, r.cred)

	status := domain.StatusOf(ferr)
	e.BackendLastStatus, e.BackendSameStatus = entitystate.NextStatus(facts, status)
	at := r.now
	e.LastAttempt = &at

	if ferr != nil {
		if err := o.d.Storage.Save(ctx, e, domain.FieldBackendStatus); err != nil {
			logger.C(ctx).Error().Err(err).Msg("saving backend status failed")
		}
		return o.primaryFailed(ctx, r, status, ferr)
	}

	fields := []domain.Field{domain.FieldBackendStatus, domain.FieldLastFetch}
	if attrs.Owner != "" && attrs.Owner != e.Owner {
		e.Owner = attrs.Owner
		r.res.Saved = true
	}
	if !sameJSON(e.Attributes, attrs.Fields) {
		e.Attributes = attrs.Fields
		r.res.Saved = true
	}
	if r.res.Saved {
		fields = append(fields, domain.FieldAttributes)
	}
	e.LastFetch = &at
	if err := o.d.Storage.Save(ctx, e, fields...); err != nil {
		return false, err
	}
	return false, nil
}

func (o *Orchestrator) primaryFailed(ctx context.Context, r *run, status int, err error) (bool, error) {
	log := logger.C(ctx)
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		if derr := o.d.Storage.SoftDelete(ctx, r.entity.ID); derr != nil {
			return false, derr
		}
		r.entity.Deleted = true
		r.res.Deleted = true
		r.res.Saved = true
		r.res.Phase = domain.PhaseDone
		log.Info().Int("status", status).Msg("entity gone upstream, soft deleted")
		return true, nil
	case domain.KindPermissionDenied:
		if merr := o.d.Pool.MarkUnhealthy(ctx, r.cred, status, err.Error()); merr != nil {
			log.Error().Err(merr).Str("credential", r.cred.ID).Msg("mark unhealthy failed")
		}
	case domain.KindRateLimited:
		if until, ok := domain.ResetOf(err); ok {
			if cerr := o.d.Pool.Cooldown(ctx, r.cred, until); cerr != nil {
				log.Error().Err(cerr).Str("credential", r.cred.ID).Msg("credential cooldown failed")
			}
		}
	}
	return false, err
}

// related syncs every permitted collection, collecting failures instead of aborting
func (o *Orchestrator) related(ctx context.Context, r *run, cols []capability.Collection) {
	log := logger.C(ctx)
	for i, c := range cols {
		if !r.haveCred {
			// a swapped credential is taken without waiting, a cooled down pool fails the rest now
			blocking := o.opts.BlockingCheckout && i == 0
			if err := o.checkoutMode(ctx, r, blocking); err != nil {
				for _, rest := range cols[i:] {
					r.failures = append(r.failures, domain.CollectionError{Collection: rest.Name, Err: err})
				}
				return
			}
		}

		members, err := r.provider.FetchRelated(ctx, r.entity, c, r.cred)
		if err == nil {
			err = o.syncCollection(ctx, r, c, members)
		}
		if err == nil {
			r.res.Synced = append(r.res.Synced, c.Name)
			r.members = append(r.members, members...)
			continue
		}

		r.failures = append(r.failures, domain.CollectionError{Collection: c.Name, Err: err})
		log.Warn().Err(err).Str("collection", c.Name).Msg("related collection failed")
		o.relatedFailed(ctx, r, err)
	}
}

// relatedFailed retires the credential only when the token itself is at fault;
// a 403 on one collection is about that resource and leaves the credential in use
func (o *Orchestrator) relatedFailed(ctx context.Context, r *run, err error) {
	log := logger.C(ctx)
	status := domain.StatusOf(err)
	switch domain.KindOf(err) {
	case domain.KindPermissionDenied:
		if status != http.StatusUnauthorized {
			return
		}
		if merr := o.d.Pool.MarkUnhealthy(ctx, r.cred, status, err.Error()); merr != nil {
			log.Error().Err(merr).Str("credential", r.cred.ID).Msg("mark unhealthy failed")
		}
		o.release(ctx, r)
	case domain.KindRateLimited:
		if until, ok := domain.ResetOf(err); ok {
			if cerr := o.d.Pool.Cooldown(ctx, r.cred, until); cerr != nil {
				log.Error().Err(cerr).Str("credential", r.cred.ID).Msg("credential cooldown failed")
			}
		}
		o.release(ctx, r)
	}
}

func (o *Orchestrator) syncCollection(ctx context.Context, r *run, c capability.Collection, members []entitykey.Key) error {
	stored, err := o.d.Storage.Members(ctx, r.entity.ID, c.Name)
	if err != nil {
		return err
	}
	add, remove := diff(stored, members)
	if len(add) > 0 || len(remove) > 0 {
		if err := o.d.Storage.SyncMembers(ctx, r.entity.ID, c.Name, add, remove); err != nil {
			return err
		}
		r.res.Saved = true
	}

	n := len(uniq(members))
	at := r.now
	d := entitystate.Descriptor{Name: c.Name, Method: c.Method, Count: &n, Modified: &at}
	if err := o.d.Storage.SaveCollection(ctx, r.entity.ID, d); err != nil {
		return err
	}
	if r.entity.Related == nil {
		r.entity.Related = map[string]entitystate.Descriptor{}
	}
	r.entity.Related[c.Name] = d
	return nil
}

// fanout enqueues the members of synced collections one level shallower
func (o *Orchestrator) fanout(ctx context.Context, r *run) {
	if r.job.Depth <= 0 || o.d.Queue == nil {
		return
	}
	log := logger.C(ctx)
	depth := r.job.Depth - 1
	prio := max(r.job.Priority-o.opts.FanoutStep, 0)

	n := 0
	for _, m := range uniq(r.members) {
		if m == r.key {
			continue
		}
		ks := m.String()
		if running, ok, err := o.d.Queue.Running(ctx, ks); err == nil && ok && running >= depth {
			continue
		}
		added, err := o.d.Queue.Enqueue(ctx, domain.Job{EntityKey: ks, Depth: depth, Priority: prio})
		if err != nil {
			log.Warn().Err(err).Str("member", ks).Msg("fanout enqueue failed")
			continue
		}
		if added {
			n++
		}
	}
	r.res.Enqueued = n
	o.d.Metrics.RecordFanout(ctx, n)
	if n > 0 {
		log.Debug().Int("enqueued", n).Int("child_depth", depth).Int("child_priority", prio).Msg("fanout")
	}
}

// finish queues derived data and notifies the requester
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	if r.res.Saved && o.d.Derived != nil {
		if _, err := o.d.Derived.Enqueue(ctx, r.key.String()); err != nil {
			logger.C(ctx).Warn().Err(err).Msg("derived enqueue failed")
		}
	}

	switch {
	case len(r.failures) > 0:
		agg := &domain.AggregateError{EntityKey: r.key.String(), Failures: r.failures}
		o.notify(ctx, r, domain.OutcomeError, agg.Error())
	case r.res.Deleted:
		o.notify(ctx, r, domain.OutcomeSuccess, "entity deleted upstream")
	default:
		o.notify(ctx, r, domain.OutcomeSuccess, "refreshed")
	}
}

func (o *Orchestrator) notify(ctx context.Context, r *run, outcome domain.Outcome, detail string) {
	if o.d.Notifier == nil || r.job.RequestedBy == "" {
		return
	}
	n := domain.Notification{EntityKey: r.res.EntityKey, Outcome: outcome, Detail: detail, At: o.now().UTC()}
	if err := o.d.Notifier.Notify(ctx, r.job.RequestedBy, n); err != nil {
		logger.C(ctx).Warn().Err(err).Msg("notify failed")
	}
}

func diff(stored, fetched []entitykey.Key) (add, remove []entitykey.Key) {
	have := make(map[entitykey.Key]struct{}, len(stored))
	for _, k := range stored {
		have[k] = struct{}{}
	}
	want := make(map[entitykey.Key]struct{}, len(fetched))
	for _, k := range fetched {
		if _, dup := want[k]; dup {
			continue
		}
		want[k] = struct{}{}
		if _, ok := have[k]; !ok {
			add = append(add, k)
		}
	}
	for _, k := range stored {
		if _, ok := want[k]; !ok {
			remove = append(remove, k)
		}
	}
	return add, remove
}

func uniq(ks []entitykey.Key) []entitykey.Key {
	seen := make(map[entitykey.Key]struct{}, len(ks))
	out := make([]entitykey.Key, 0, len(ks))
	for _, k := range ks {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// sameJSON compares documents by their canonical encoding so stored and fetched numbers match
func sameJSON(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
