package service

import (
	"context"
	"errors"
	"strings"
	"time"

	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
	"curator/internal/services/refresh/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// job outcomes reported to metrics
const (
	outcomeOK       = "ok"
	outcomeSkipped  = "skipped"
	outcomePartial  = "partial"
	outcomeRequeued = "requeued"
	outcomeDropped  = "dropped"
)

// Run starts Concurrency fetch workers and blocks until ctx ends
func (s *Svc) Run(ctx context.Context) error {
	if s.d.Orchestrator == nil {
		return perr.Configurationf("refresh: worker requires an orchestrator")
	}
	g, ctx := errgroup.WithContext(ctx)
	for range s.cfg.Concurrency {
		wl := s.log.With().Str("worker", uuid.NewString()[:8]).Logger()
		g.Go(func() error { return s.loop(logger.With(ctx, wl)) })
	}
	s.log.Info().Int("concurrency", s.cfg.Concurrency).Msg("refresh workers started")
	return g.Wait()
}

// RunDerived starts DerivedConcurrency derived-data workers
func (s *Svc) RunDerived(ctx context.Context) error {
	if s.d.Derived == nil {
		return perr.Configurationf("refresh: derived worker is not configured")
	}
	g, ctx := errgroup.WithContext(ctx)
	for range s.cfg.DerivedConcurrency {
		wl := s.log.With().Str("derived_worker", uuid.NewString()[:8]).Logger()
		g.Go(func() error { return s.d.Derived.Run(logger.With(ctx, wl)) })
	}
	return g.Wait()
}

func (s *Svc) loop(ctx context.Context) error {
	log := logger.C(ctx)
	for {
		job, err := s.d.Queue.Dequeue(ctx, s.cfg.DequeueTimeout)
		switch {
		case errors.Is(err, domain.ErrQueueEmpty):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Error().Err(err).Msg("dequeue failed")
			if !sleep(ctx, s.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}
		s.process(ctx, job)
	}
}

// process runs one job to a settled outcome, it never returns an error
func (s *Svc) process(ctx context.Context, job domain.Job) {
	start := s.now()
	log := logger.C(ctx).With().Str("entity_key", job.EntityKey).Int("depth", job.Depth).Int("priority", job.Priority).Logger()

	if err := s.d.Queue.MarkRunning(ctx, job); err != nil {
		log.Warn().Err(err).Msg("mark running failed")
	}
	res, err := s.runWithRetries(ctx, job)
	if derr := s.d.Queue.DoneRunning(context.WithoutCancel(ctx), job.EntityKey); derr != nil {
		log.Warn().Err(derr).Msg("done running failed")
	}

	kind := domain.KindOf(err)
	outcome := s.settle(logger.With(ctx, log), job, res, err)
	s.d.Metrics.RecordJob(ctx, backendOf(job.EntityKey), outcome, kind.String(), s.now().Sub(start))
}

// runWithRetries retries permission failures at once, the failed credential is already blocked
func (s *Svc) runWithRetries(ctx context.Context, job domain.Job) (domain.Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := s.runSafe(ctx, job)
		if domain.KindOf(err) != domain.KindPermissionDenied || attempt >= s.cfg.MaxCredentialRetries || ctx.Err() != nil {
			return res, err
		}
		logger.C(ctx).Debug().Err(err).Int("attempt", attempt+1).Str("entity_key", job.EntityKey).Msg("retrying with another credential")
	}
}

func (s *Svc) runSafe(ctx context.Context, job domain.Job) (res domain.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perr.PanicErrf("refresh: panic running %s: %v", job.EntityKey, r)
		}
	}()
	return s.d.Orchestrator.Run(ctx, job)
}

// settle applies the retry policy and returns the outcome label
func (s *Svc) settle(ctx context.Context, job domain.Job, res domain.Result, err error) string {
	log := logger.C(ctx)
	if err == nil {
		if res.Skipped {
			return outcomeSkipped
		}
		log.Debug().Str("phase", res.Phase.String()).Int("enqueued", res.Enqueued).Bool("saved", res.Saved).Msg("refresh done")
		return outcomeOK
	}
	if perr.IsCode(err, perr.ErrorCodePanic) {
		log.Error().Err(err).Msg("refresh panicked, job dropped")
		s.giveUp(ctx, job, err)
		return outcomeDropped
	}

	switch domain.KindOf(err) {
	case domain.KindAggregate:
		// committed work stays, the sweep picks up the failed collections
		log.Warn().Err(err).Msg("refresh partially failed")
		return outcomePartial
	case domain.KindNotFound:
		return outcomeOK
	case domain.KindRateLimited, domain.KindTransient:
		s.requeue(ctx, job, err)
		return outcomeRequeued
	case domain.KindPermissionDenied:
		log.Warn().Err(err).Int("retries", s.cfg.MaxCredentialRetries).Msg("no usable credential, job dropped")
	default:
		log.Error().Err(err).Msg("refresh misconfigured, job dropped")
	}
	s.giveUp(ctx, job, err)
	return outcomeDropped
}

// requeue puts the job back at the lowest priority after RetryDelay
// on shutdown the job is pushed back at once so it is not lost
func (s *Svc) requeue(ctx context.Context, job domain.Job, cause error) {
	sleep(ctx, s.cfg.RetryDelay)
	job.Priority = 0
	added, err := s.d.Queue.Enqueue(context.WithoutCancel(ctx), job)
	if err != nil {
		logger.C(ctx).Error().Err(err).AnErr("cause", cause).Msg("requeue failed, job lost until next sweep")
		return
	}
	logger.C(ctx).Info().Err(cause).Bool("added", added).Msg("job requeued")
}

func (s *Svc) giveUp(ctx context.Context, job domain.Job, err error) {
	if s.d.Notifier == nil || job.RequestedBy == "" {
		return
	}
	n := domain.Notification{EntityKey: job.EntityKey, Outcome: domain.OutcomeError, Detail: err.Error(), At: s.now().UTC()}
	if nerr := s.d.Notifier.Notify(context.WithoutCancel(ctx), job.RequestedBy, n); nerr != nil {
		logger.C(ctx).Warn().Err(nerr).Msg("notify failed")
	}
}

func backendOf(entityKey string) string {
	b, _, _ := strings.Cut(entityKey, ":")
	return b
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
