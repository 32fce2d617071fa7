// Package notify delivers job completion messages to per-requester redis lists
package notify

import (
	"context"
	"encoding/json"
	"strings"

	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"

	"github.com/redis/go-redis/v9"
)

// DefaultKeep is how many notifications each target retains
const DefaultKeep = 100

// Sink implements domain.Notifier
type Sink struct {
	rdb  redis.UniversalClient
	ns   string
	keep int64
}

var _ domain.Notifier = (*Sink)(nil)

// New builds a sink; keep <= 0 uses DefaultKeep
func New(rdb redis.UniversalClient, namespace string, keep int) *Sink {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Sink{rdb: rdb, ns: namespace, keep: int64(keep)}
}

func (s *Sink) key(target string) string {
	return s.ns + "notifications:" + strings.ToLower(strings.TrimSpace(target))
}

// Notify prepends n to the target's list; an empty target is a no-op
func (s *Sink) Notify(ctx context.Context, target string, n domain.Notification) error {
	if strings.TrimSpace(target) == "" {
		return nil
	}
	body, err := json.Marshal(n)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "notify: encode")
	}
	k := s.key(target)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, k, body)
		pipe.LTrim(ctx, k, 0, s.keep-1)
		return nil
	})
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "notify: push")
	}
	return nil
}

// Recent returns up to limit notifications for target, newest first
func (s *Sink) Recent(ctx context.Context, target string, limit int) ([]domain.Notification, error) {
	if limit <= 0 || int64(limit) > s.keep {
		limit = int(s.keep)
	}
	raw, err := s.rdb.LRange(ctx, s.key(target), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "notify: read")
	}
	out := make([]domain.Notification, 0, len(raw))
	for _, r := range raw {
		var n domain.Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
