package module

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"curator/internal/modkit"
	phttp "curator/internal/platform/net/http"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountRoutes_MetaPrefixAndMiddleware(t *testing.T) {
	hits := 0
	count := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			next.ServeHTTP(w, r)
		})
	}

	m := New(modkit.Deps{}, modkit.WithMiddlewares(count))
	require.Equal(t, "meta", m.Name())

	mux := chi.NewRouter()
	m.MountRoutes(phttp.AdaptChi(mux))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/meta/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hits)
}

func TestRedisPinger(t *testing.T) {
	assert.Nil(t, redisPinger(modkit.Deps{}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := redisPinger(modkit.Deps{RDS: rdb})
	require.NotNil(t, p)
	require.NoError(t, p.Ping(context.Background()))

	mr.Close()
	assert.Error(t, p.Ping(context.Background()))
}

func TestPinger_NilBackendsAreSkipped(t *testing.T) {
	m := New(modkit.Deps{}).(*Module)
	for _, b := range m.deps.Backends {
		assert.Nil(t, b.P, b.Name)
	}
}
