package service

import (
	"context"
	"time"

	"curator/internal/core/entitykey"
	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"
)

// Discover offers every entity active in the archive hours [Since, Until) to Seen
// unpublished hours are counted and skipped, any other failure stops the pass
func (s *Svc) Discover(ctx context.Context, p domain.DiscoverParams) (domain.DiscoverResult, error) {
	var res domain.DiscoverResult
	if s.d.Discovery == nil {
		return res, perr.Configurationf("refresh: discovery source not configured")
	}
	if p.Since.IsZero() {
		return res, perr.InvalidArgf("discover: since is required")
	}
	since := p.Since.UTC().Truncate(time.Hour)
	until := p.Until.UTC()
	if p.Until.IsZero() {
		until = since.Add(time.Hour)
	}
	if !until.After(since) {
		return res, perr.InvalidArgf("discover: until must be after since")
	}
	if p.Limit < 0 {
		return res, perr.InvalidArgf("discover: limit must not be negative")
	}

	offered := map[entitykey.Key]struct{}{}
	for h := since; h.Before(until); h = h.Add(time.Hour) {
		keys, events, err := s.d.Discovery.Entities(ctx, h)
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			res.Missing++
			s.log.Warn().Time("hour", h).Msg("archive hour missing, skipped")
			continue
		}
		if err != nil {
			return res, err
		}
		res.Hours++
		res.Events += events

		n := 0
		for _, k := range keys {
			if _, dup := offered[k]; dup {
				continue
			}
			if p.Limit > 0 && res.Entities >= p.Limit {
				s.log.Info().Int("limit", p.Limit).Msg("discover limit reached")
				return res, nil
			}
			offered[k] = struct{}{}
			res.Entities++
			added, err := s.Seen(ctx, k)
			if err != nil {
				return res, err
			}
			if added {
				n++
			}
		}
		res.Enqueued += n
		s.log.Info().Time("hour", h).Int("events", events).Int("entities", len(keys)).Int("enqueued", n).Msg("archive hour discovered")
	}
	return res, nil
}
