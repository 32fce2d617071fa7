package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"curator/internal/core/entitykey"
	perr "curator/internal/platform/errors"
	"curator/internal/services/refresh/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDiscovery struct {
	hours map[time.Time][]entitykey.Key
	err   map[time.Time]error
	asked []time.Time
}

func (d *fakeDiscovery) Entities(_ context.Context, hour time.Time) ([]entitykey.Key, int, error) {
	d.asked = append(d.asked, hour)
	if err := d.err[hour]; err != nil {
		return nil, 0, err
	}
	keys := d.hours[hour]
	return keys, len(keys) * 10, nil
}

func TestDiscover_OffersDueEntitiesOnce(t *testing.T) {
	f := newFixture(t, Config{SeenPriority: 0})
	ctx := context.Background()

	alice := entitykey.MustNew("github", entitykey.Account, "alice")
	tool := entitykey.MustNew("github", entitykey.Repository, "alice/tool")
	known := entitykey.MustNew("github", entitykey.Account, "known")
	f.put(fresh(known, 9))

	h0 := t0.Truncate(time.Hour)
	d := &fakeDiscovery{
		hours: map[time.Time][]entitykey.Key{
			h0:                {alice, tool},
			h0.Add(time.Hour): {alice, known},
		},
		err: map[time.Time]error{h0.Add(2 * time.Hour): perr.NotFoundf("not published")},
	}
	f.svc.d.Discovery = d

	res, err := f.svc.Discover(ctx, domain.DiscoverParams{Since: t0.Add(10 * time.Minute), Until: h0.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, domain.DiscoverResult{Hours: 2, Missing: 1, Events: 40, Entities: 3, Enqueued: 2}, res)
	assert.Equal(t, []time.Time{h0, h0.Add(time.Hour), h0.Add(2 * time.Hour)}, d.asked)

	for _, k := range []entitykey.Key{alice, tool} {
		p, pending, err := f.q.Pending(ctx, k.String())
		require.NoError(t, err)
		assert.True(t, pending, k.String())
		assert.Zero(t, p)
	}
	_, pending, err := f.q.Pending(ctx, known.String())
	require.NoError(t, err)
	assert.False(t, pending, "fresh entity is not due")
}

func TestDiscover_LimitStopsEarly(t *testing.T) {
	f := newFixture(t, Config{})
	h0 := t0.Truncate(time.Hour)
	f.svc.d.Discovery = &fakeDiscovery{hours: map[time.Time][]entitykey.Key{
		h0: {
			entitykey.MustNew("github", entitykey.Account, "a"),
			entitykey.MustNew("github", entitykey.Account, "b"),
			entitykey.MustNew("github", entitykey.Account, "c"),
		},
	}}

	res, err := f.svc.Discover(context.Background(), domain.DiscoverParams{Since: h0, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entities)
	assert.Equal(t, 1, res.Hours)
}

func TestDiscover_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.Discover(ctx, domain.DiscoverParams{Since: t0})
	assert.True(t, perr.IsCode(err, perr.ErrorCodeConfiguration))

	f.svc.d.Discovery = &fakeDiscovery{}
	_, err = f.svc.Discover(ctx, domain.DiscoverParams{})
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))

	_, err = f.svc.Discover(ctx, domain.DiscoverParams{Since: t0, Until: t0.Add(-time.Hour)})
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}

func TestDiscover_SourceFailureStops(t *testing.T) {
	f := newFixture(t, Config{})
	h0 := t0.Truncate(time.Hour)
	boom := errors.New("boom")
	f.svc.d.Discovery = &fakeDiscovery{err: map[time.Time]error{h0: boom}}

	_, err := f.svc.Discover(context.Background(), domain.DiscoverParams{Since: h0, Until: h0.Add(2 * time.Hour)})
	require.ErrorIs(t, err, boom)
}
