package service

import (
	"context"
	"slices"
	"time"

	"curator/internal/core/capability"
	"curator/internal/core/entitystate"
	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"
)

// Sweep enqueues every stored entity whose classified status is due
// entities already running are left to their worker
// with a lease configured only one sweep runs at a time across processes
func (s *Svc) Sweep(ctx context.Context, p domain.SweepParams) (int, error) {
	if s.d.Lease == nil {
		return s.sweep(ctx, p)
	}
	var n int
	err := s.d.Lease.Do(ctx, "sweep", func(ctx context.Context) error {
		var err error
		n, err = s.sweep(ctx, p)
		return err
	})
	return n, err
}

func (s *Svc) sweep(ctx context.Context, p domain.SweepParams) (int, error) {
	if s.d.Stale == nil {
		return 0, perr.Configurationf("refresh: sweep requires storage")
	}
	backends := s.d.Capabilities.Backends()
	if p.Backend != "" {
		if !slices.Contains(backends, p.Backend) {
			return 0, perr.InvalidArgf("sweep: backend %q is not configured", p.Backend)
		}
		backends = []string{p.Backend}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = s.cfg.SweepLimit
	}
	depth := min(max(p.Depth, 0), s.cfg.MaxDepth)

	now := s.now().UTC()
	total := 0
	for _, b := range backends {
		n, candidates, err := s.sweepBackend(ctx, b, depth, p.Priority, limit, now)
		total += n
		if err != nil {
			return total, err
		}
		s.log.Info().Str("backend", b).Int("candidates", candidates).Int("enqueued", n).Msg("sweep pass")
	}
	return total, nil
}

// sweepBackend queries each kind with its own windows so rows that are not due
// under one kind's windows never crowd out due rows of another
func (s *Svc) sweepBackend(ctx context.Context, b string, depth, priority, limit int, now time.Time) (n, candidates int, err error) {
	for _, k := range s.d.Capabilities.Kinds(b) {
		if n >= limit {
			break
		}
		spec, err := s.d.Capabilities.Kind(b, k)
		if err != nil {
			continue
		}
		cols := make([]string, 0, len(spec.Collections))
		for _, c := range spec.Collections {
			cols = append(cols, c.Name)
		}
		// page on past rows that are pending or running until the limit is enqueued
		var after *domain.StaleCursor
		for n < limit {
			ents, err := s.d.Stale.Stale(ctx, domain.StaleQuery{
				Backend:       b,
				Kind:          k,
				FetchedBefore: now.Add(-spec.Windows.StalePrimary),
				RelatedBefore: now.Add(-spec.Windows.StaleRelated),
				Collections:   cols,
				After:         after,
				Limit:         limit,
			})
			if err != nil {
				return n, candidates, err
			}
			candidates += len(ents)

			for _, e := range ents {
				if n >= limit {
					break
				}
				added, err := s.sweepOne(ctx, e, spec, depth, priority, now)
				if err != nil {
					return n, candidates, err
				}
				if added {
					n++
				}
			}
			if len(ents) < limit {
				break
			}
			after = domain.CursorOf(ents[len(ents)-1])
		}
	}
	return n, candidates, nil
}

func (s *Svc) sweepOne(ctx context.Context, e *domain.Entity, spec capability.KindSpec, depth, priority int, now time.Time) (bool, error) {
	if !entitystate.Classify(e.Facts(), spec, now).Due() {
		return false, nil
	}
	ks := e.Key.String()
	if _, running, err := s.d.Queue.Running(ctx, ks); err == nil && running {
		return false, nil
	}
	return s.d.Queue.Enqueue(ctx, domain.Job{EntityKey: ks, Depth: depth, Priority: priority})
}
