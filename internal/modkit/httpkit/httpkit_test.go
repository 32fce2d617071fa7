package httpkit_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"curator/internal/modkit/httpkit"
	perr "curator/internal/platform/errors"
	phttp "curator/internal/platform/net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	Name string `json:"name" validate:"required"`
}

func serve(t *testing.T, mount func(httpkit.Router)) http.Handler {
	t.Helper()
	mux := chi.NewRouter()
	mount(phttp.AdaptChi(mux))
	return mux
}

func call(t *testing.T, h http.Handler, method, path, body string, hdr ...string) (int, httpkit.Envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env httpkit.Envelope
	if rec.Code != http.StatusNoContent {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func TestRoutes_WrapResults(t *testing.T) {
	h := serve(t, func(r httpkit.Router) {
		httpkit.Get(r, "/plain", func(*http.Request) (any, error) { return "hi", nil })
		httpkit.Get(r, "/missing", func(*http.Request) (any, error) { return nil, perr.NotFoundf("nope") })
		httpkit.Post(r, "/empty", func(*http.Request) (any, error) { return httpkit.NoContent(), nil })
		httpkit.PostBound(r, "/bound", func(_ *http.Request, in ping) (any, error) { return httpkit.Created(in.Name), nil })
		r.Get("/raw", httpkit.Handle(func(*http.Request) httpkit.Response { return httpkit.Error(errors.New("plain")) }))
	})

	code, env := call(t, h, "GET", "/plain", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hi", env.Data)

	code, env = call(t, h, "GET", "/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "nope", env.Error)

	code, _ = call(t, h, "POST", "/empty", "")
	assert.Equal(t, http.StatusNoContent, code)

	code, env = call(t, h, "POST", "/bound", `{"name":"alice"}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "alice", env.Data)

	code, env = call(t, h, "POST", "/bound", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, perr.ErrorCodeValidation, env.Code)

	code, _ = call(t, h, "GET", "/raw", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestProtected_OnlyGuardsItsGroup(t *testing.T) {
	port := httpkit.NewPortFunc(func(tok string) (string, error) {
		if tok != "s3cret" {
			return "", errors.New("bad")
		}
		return "ops", nil
	})
	whoami := func(r *http.Request) (any, error) { return httpkit.User(r) }
	h := serve(t, func(r httpkit.Router) {
		httpkit.Get(r, "/open", whoami)
		httpkit.Protected(r, port, func(pr httpkit.Router) { httpkit.Get(pr, "/admin", whoami) })
	})

	code, env := call(t, h, "GET", "/open", "")
	assert.Equal(t, http.StatusUnauthorized, code, "User without a principal")
	assert.Equal(t, "missing bearer token", env.Error)

	code, _ = call(t, h, "GET", "/admin", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = call(t, h, "GET", "/admin", "", "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid bearer token", env.Error)

	code, env = call(t, h, "GET", "/admin", "", "Authorization", "bearer  s3cret ")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ops", env.Data)
}

func TestPort_Parse(t *testing.T) {
	p := httpkit.NewPortFunc(func(tok string) (string, error) { return "u:" + tok, nil })
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"missing":      {header: "", ok: false},
		"wrong scheme": {header: "Basic abc", ok: false},
		"no token":     {header: "Bearer ", ok: false},
		"valid":        {header: "Bearer abc", want: "u:abc", ok: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", tc.header)
			uid, err := p.Parse(req)
			if !tc.ok {
				assert.True(t, perr.IsCode(err, perr.ErrorCodeUnauthorized))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, uid)
		})
	}

	_, err := httpkit.NewPortFunc(nil).Parse(func() *http.Request {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer x")
		return r
	}())
	assert.True(t, perr.IsCode(err, perr.ErrorCodeUnauthorized))
}

func TestMountAPIV1_AppliesScopeMiddleware(t *testing.T) {
	var hits int
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++; next.ServeHTTP(w, r) })
	}
	h := serve(t, func(r httpkit.Router) {
		httpkit.MountAPIV1(r, []func(http.Handler) http.Handler{mw}, func(api httpkit.Router) {
			httpkit.MountUnder(api, "/meta", nil, func(m httpkit.Router) {
				httpkit.Get(m, "/version", func(*http.Request) (any, error) { return "v", nil })
			})
		})
	})

	code, env := call(t, h, "GET", "/api/v1/meta/version", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "v", env.Data)
	assert.Equal(t, 1, hits)
}

func TestCommonStack_Heartbeat(t *testing.T) {
	h := serve(t, func(r httpkit.Router) {
		r.Use(httpkit.CommonStack()...)
		httpkit.Get(r, "/x", func(*http.Request) (any, error) { return nil, nil })
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Cache-Control"))
}
