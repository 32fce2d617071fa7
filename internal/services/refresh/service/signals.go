package service

import (
	"context"
	"strings"

	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"
)

// Request validates and enqueues an explicit refresh
// the bool reports whether the queue accepted it or an equal or higher request was already pending
func (s *Svc) Request(ctx context.Context, r domain.RefreshRequest) (bool, error) {
	key, err := r.Key()
	if err != nil {
		return false, err
	}
	if _, err := s.d.Capabilities.Kind(key.Backend, key.Kind); err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "refresh: %s cannot be refreshed", key)
	}
	if r.Depth < 0 || r.Depth > s.cfg.MaxDepth {
		return false, perr.InvalidArgf("refresh: depth must be within 0..%d", s.cfg.MaxDepth)
	}
	if r.Priority < 0 {
		return false, perr.InvalidArgf("refresh: priority must not be negative")
	}
	return s.d.Queue.Enqueue(ctx, domain.Job{
		EntityKey:   key.String(),
		Depth:       r.Depth,
		Priority:    r.Priority,
		RequestedBy: strings.TrimSpace(r.RequestedBy),
	})
}

// Seen queues a shallow low priority refresh for an entity a caller came across, only when it is due
func (s *Svc) Seen(ctx context.Context, key entitykey.Key) (bool, error) {
	spec, err := s.d.Capabilities.Kind(key.Backend, key.Kind)
	if err != nil {
		return false, err
	}
	var facts entitystate.Facts
	if s.d.Entities != nil {
		e, err := s.d.Entities.Load(ctx, key)
		if err != nil {
			return false, err
		}
		facts = e.Facts()
	}
	if !entitystate.Classify(facts, spec, s.now().UTC()).Due() {
		return false, nil
	}
	return s.d.Queue.Enqueue(ctx, domain.Job{EntityKey: key.String(), Priority: s.cfg.SeenPriority})
}
