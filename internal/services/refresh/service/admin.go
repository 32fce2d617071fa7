package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"curator/internal/core/entitykey"
	"curator/internal/core/entitystate"
	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"
)

// Entity returns the stored entity with its derived and queue status
func (s *Svc) Entity(ctx context.Context, key entitykey.Key) (domain.EntityView, error) {
	spec, err := s.d.Capabilities.Kind(key.Backend, key.Kind)
	if err != nil {
		return domain.EntityView{}, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "entity: %s is not supported", key)
	}
	if s.d.Entities == nil {
		return domain.EntityView{}, perr.Configurationf("entity: storage is not configured")
	}
	e, err := s.d.Entities.Load(ctx, key)
	if err != nil {
		return domain.EntityView{}, err
	}
	if e == nil {
		return domain.EntityView{}, perr.NotFoundf("entity %s not found", key)
	}

	ks := key.String()
	pending, isPending, err := s.d.Queue.Pending(ctx, ks)
	if err != nil {
		return domain.EntityView{}, err
	}
	running, isRunning, err := s.d.Queue.Running(ctx, ks)
	if err != nil {
		return domain.EntityView{}, err
	}

	status := entitystate.Decorate(entitystate.Classify(e.Facts(), spec, s.now().UTC()), isPending || isRunning)
	v := domain.EntityView{
		Key:               ks,
		ID:                e.ID,
		Status:            status,
		Deleted:           e.Deleted,
		BackendLastStatus: e.BackendLastStatus,
		BackendSameStatus: e.BackendSameStatus,
		Related:           e.Related,
		Score:             e.Score,
		Tags:              e.Tags,
	}
	if e.LastFetch != nil {
		v.LastFetch = e.LastFetch.UTC().Format(time.RFC3339)
	}
	if isPending {
		v.PendingPriority = &pending
	}
	if isRunning {
		v.RunningDepth = &running
	}
	return v, nil
}

// Queue reports bucket depths and the derived backlog
func (s *Svc) Queue(ctx context.Context) (domain.QueueView, error) {
	b, err := s.d.Queue.Depths(ctx)
	if err != nil {
		return domain.QueueView{}, err
	}
	v := domain.QueueView{Buckets: b}
	if s.d.DerivedQueue != nil {
		if v.Derived, err = s.d.DerivedQueue.Len(ctx); err != nil {
			return domain.QueueView{}, err
		}
	}
	return v, nil
}

// Credentials lists the credentials of a backend
func (s *Svc) Credentials(ctx context.Context, backend string) (domain.CredentialsView, error) {
	backend, err := s.backend(backend)
	if err != nil {
		return domain.CredentialsView{}, err
	}
	list, err := s.d.Credentials.List(ctx, backend)
	if err != nil {
		return domain.CredentialsView{}, err
	}
	st, err := s.d.Credentials.Stats(ctx, backend)
	if err != nil {
		return domain.CredentialsView{}, err
	}
	if list == nil {
		list = []domain.Credential{}
	}
	return domain.CredentialsView{Backend: backend, Stats: st, Credentials: list}, nil
}

// RegisterCredential adds a credential to a configured backend's pool
func (s *Svc) RegisterCredential(ctx context.Context, r domain.CredentialRegistration) (domain.Credential, bool, error) {
	backend, err := s.backend(r.Backend)
	if err != nil {
		return domain.Credential{}, false, err
	}
	c, created, err := s.d.Credentials.Register(ctx, backend, r.Principal, r.Secret)
	if err != nil {
		return domain.Credential{}, false, err
	}
	s.log.Info().Str("backend", backend).Str("credential", c.ID).Bool("created", created).Msg("credential registered")
	return c, created, nil
}

// RevalidateCredential returns a blocked credential to service
func (s *Svc) RevalidateCredential(ctx context.Context, backend, id string) error {
	backend, err := s.backend(backend)
	if err != nil {
		return err
	}
	if err := s.d.Credentials.Revalidate(ctx, backend, id); err != nil {
		return err
	}
	s.log.Info().Str("backend", backend).Str("credential", id).Msg("credential revalidated")
	return nil
}

// Notifications returns the newest notifications for target
func (s *Svc) Notifications(ctx context.Context, target string, limit int) ([]domain.Notification, error) {
	if s.d.Notifications == nil {
		return nil, perr.Configurationf("notifications: sink is not configured")
	}
	if limit <= 0 {
		limit = s.cfg.NotificationLimit
	}
	out, err := s.d.Notifications.Recent(ctx, target, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Notification{}
	}
	return out, nil
}

func (s *Svc) backend(b string) (string, error) {
	if s.d.Credentials == nil {
		return "", perr.Configurationf("credentials: pool is not configured")
	}
	b = strings.ToLower(strings.TrimSpace(b))
	if !slices.Contains(s.d.Capabilities.Backends(), b) {
		return "", perr.InvalidArgf("backend %q is not configured", b)
	}
	return b, nil
}
