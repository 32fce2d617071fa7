// Package derived recomputes scores, tags and search documents for refreshed entities
package derived

import (
	"context"
	"errors"
	"time"

	"curator/internal/core/entitykey"
	perr "curator/internal/platform/errors"
	"curator/internal/platform/logger"
	"curator/internal/platform/telemetry"
	"curator/internal/services/refresh/domain"
)

// DefaultBestN is how many repositories feed an account score
const DefaultBestN = 5

// Deps are the collaborators of a Refresher
type Deps struct {
	Storage domain.DerivedStorage
	Queue   domain.DerivedQueue
	Index   domain.SearchIndex // optional
	Metrics *telemetry.RefreshMetrics
}

// Options tunes the refresher
type Options struct {
	BestN       int
	PollTimeout time.Duration
}

// Refresher drains the derived-data queue
type Refresher struct {
	d    Deps
	opts Options
	now  func() time.Time
}

// New builds a Refresher
func New(d Deps, o Options) *Refresher {
	if o.BestN <= 0 {
		o.BestN = DefaultBestN
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	return &Refresher{d: d, opts: o, now: time.Now}
}

// Run pops and refreshes keys until ctx ends
// a failing key is logged and dropped, the next successful fetch queues it again
func (r *Refresher) Run(ctx context.Context) error {
	log := logger.C(ctx)
	for {
		key, err := r.d.Queue.Dequeue(ctx, r.opts.PollTimeout)
		switch {
		case errors.Is(err, domain.ErrQueueEmpty):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			log.Error().Err(err).Msg("derived dequeue failed")
			if !sleep(ctx, r.opts.PollTimeout) {
				return ctx.Err()
			}
			continue
		}

		if err := r.Refresh(ctx, key); err != nil {
			log.Warn().Err(err).Str("entity_key", key).Msg("derived refresh failed")
		}
	}
}

// Refresh recomputes score and tags of one entity and upserts its search document
func (r *Refresher) Refresh(ctx context.Context, entityKey string) error {
	outcome := "error"
	defer func() { r.d.Metrics.RecordDerived(ctx, outcome) }()

	key, err := entitykey.Parse(entityKey)
	if err != nil {
		return err
	}
	e, err := r.d.Storage.Load(ctx, key)
	if err != nil {
		return err
	}
	if e == nil {
		outcome = "missing"
		return perr.NotFoundf("derived: entity %s not stored", key)
	}

	var score float64
	if !e.Deleted {
		switch key.Kind {
		case entitykey.Repository:
			score = RepositoryScore(e.Attributes)
		case entitykey.Account:
			best, err := r.d.Storage.BestScores(ctx, key, r.opts.BestN)
			if err != nil {
				return err
			}
			score = AccountScore(e.Attributes, best)
		}
	}
	tags := Tags(e, score)
	if e.Deleted {
		tags = nil
	}

	if err := r.d.Storage.SaveDerived(ctx, e.ID, score, tags); err != nil {
		return err
	}
	if r.d.Index != nil {
		doc := Doc(e, score, tags)
		doc.UpdatedAt = r.now().UTC()
		if err := r.d.Index.Upsert(ctx, doc); err != nil {
			return err
		}
	}

	// owners rank on their best repositories
	if key.Kind == entitykey.Repository && score != e.Score {
		if owner, ok := key.Owner(); ok {
			if _, err := r.d.Queue.Enqueue(ctx, owner.String()); err != nil {
				logger.C(ctx).Warn().Err(err).Str("owner", owner.String()).Msg("owner derived enqueue failed")
			}
		}
	}

	outcome = "ok"
	logger.C(ctx).Debug().Str("entity_key", entityKey).Float64("score", score).Strs("tags", tags).Msg("derived refreshed")
	return nil
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
