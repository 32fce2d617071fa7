package module

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"curator/internal/core/entitykey"
	"curator/internal/modkit"
	"curator/internal/modkit/module"
	"curator/internal/platform/config"
	phttp "curator/internal/platform/net/http"
	"curator/internal/platform/store"
	"curator/internal/platform/testkit"
	"curator/internal/services/refresh/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopPG satisfies the runner without a database, nothing in these tests reaches SQL
type nopPG struct{}

func (nopPG) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (nopPG) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (nopPG) QueryRow(context.Context, string, ...any) store.Row             { return nil }
func (p nopPG) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	return fn(p)
}

func newDeps(t *testing.T) modkit.Deps {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = rdb.Close() })
	return modkit.Deps{Cfg: config.New(), PG: nopPG{}, RDS: rdb}
}

func TestFromConfig_ReadsPrefixedEnv(t *testing.T) {
	t.Setenv("CURATOR_WORKER_CONCURRENCY", "9")
	t.Setenv("CURATOR_RETRY_DELAY", "2s")
	t.Setenv("CURATOR_TOKENS", "github:alice:aaaaaaaa, github:bob:bbbbbbbb")
	t.Setenv("CURATOR_BLOCKING_CHECKOUT", "false")

	o := FromConfig(config.New())
	assert.Equal(t, 9, o.Concurrency)
	assert.Equal(t, 2*time.Second, o.RetryDelay)
	assert.Equal(t, []string{"github:alice:aaaaaaaa", "github:bob:bbbbbbbb"}, o.Tokens)
	assert.False(t, o.BlockingCheckout)
	assert.Equal(t, "curator:", o.Namespace)
	assert.Equal(t, 5, o.MaxDepth)
}

func TestNew_MergesOverrides(t *testing.T) {
	t.Setenv("CURATOR_WORKER_CONCURRENCY", "9")
	m := New(newDeps(t), Options{Concurrency: 2, Namespace: "t:"})

	assert.Equal(t, 2, m.Options().Concurrency)
	assert.Equal(t, "t:", m.Options().Namespace)
	assert.Equal(t, 1, m.Options().DerivedConcurrency)
	assert.Equal(t, "refresh", m.Name())
	assert.Equal(t, "/refresh", m.Prefix())
}

func TestNew_ExposesAllPorts(t *testing.T) {
	m := New(newDeps(t), Options{Namespace: "t:"})

	p := module.MustPortsOf[Ports](m)
	assert.NotNil(t, p.Worker)
	assert.NotNil(t, p.Derived)
	assert.NotNil(t, p.Sweep)
	assert.NotNil(t, p.Signals)
	assert.NotNil(t, p.Admin)
	assert.NotNil(t, p.Migrate)
	assert.NotNil(t, p.Seeder)
	assert.NotNil(t, p.Discover)

	_, ok := module.PortsOf[domain.SignalsPort](m)
	assert.True(t, ok)
}

func TestNew_RequiresRedis(t *testing.T) {
	deps := newDeps(t)
	deps.RDS = nil
	testkit.MustPanic(t, func() { New(deps, Options{}) })
}

func TestNew_LoadsCapabilityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caps.toml")
	doc := "[backends.forgejo.account]\nstale_primary = \"12h\"\n[[backends.forgejo.account.collections]]\nname = \"repositories\"\nmethod = \"repos\"\ntarget = \"repository\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	m := New(newDeps(t), Options{Namespace: "t:", CapabilityFile: path})
	admin := module.MustPortsOf[Ports](m).Admin

	// forgejo is now a known backend, an empty credential list rather than a 422
	v, err := admin.Credentials(context.Background(), "forgejo")
	require.NoError(t, err)
	assert.Equal(t, "forgejo", v.Backend)
	assert.Empty(t, v.Credentials)

	assert.Panics(t, func() {
		New(newDeps(t), Options{CapabilityFile: filepath.Join(t.TempDir(), "missing.toml")})
	})
}

func TestSignals_EnqueueThroughModule(t *testing.T) {
	m := New(newDeps(t), Options{Namespace: "t:"})
	p := module.MustPortsOf[Ports](m)
	ctx := context.Background()

	ok, err := p.Signals.Request(ctx, domain.RefreshRequest{EntityKey: "github:account:Alice", Priority: 3})
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := p.Admin.Queue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Buckets[3])

	ok, err = p.Signals.Request(ctx, domain.RefreshRequest{EntityKey: entitykey.MustNew("github", entitykey.Account, "alice").String(), Priority: 1})
	require.NoError(t, err)
	assert.False(t, ok, "duplicate key must not be queued twice")
}

func TestMountRoutes_ServesUnderPrefix(t *testing.T) {
	m := New(newDeps(t), Options{Namespace: "t:"})
	mux := chi.NewRouter()
	m.MountRoutes(phttp.AdaptChi(mux))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refresh/queue", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refresh/credentials/bitbucket", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMountRoutes_AdminTokenGuardsCredentials(t *testing.T) {
	m := New(newDeps(t), Options{Namespace: "t:", AdminToken: "s3cret"})
	mux := chi.NewRouter()
	m.MountRoutes(phttp.AdaptChi(mux))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refresh/credentials/github", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/refresh/credentials/github", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refresh/queue", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
