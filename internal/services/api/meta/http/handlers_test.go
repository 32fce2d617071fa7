package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	phttp "curator/internal/platform/net/http"
)

func serve(t *testing.T, d Deps, path string) (int, map[string]any) {
	t.Helper()
	mux := chi.NewRouter()
	Register(phttp.AdaptChi(mux), d)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Data
}

var up = PingFunc(func(context.Context) error { return nil })

func TestHealth(t *testing.T) {
	code, d := serve(t, Deps{ServiceName: "curator-api", StartedAt: time.Now().Add(-time.Minute)}, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, d["ok"])
	assert.Equal(t, "curator-api", d["service"])
	assert.InDelta(t, 60, d["uptime"], 2)
}

func TestReady(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })
	tests := []struct {
		name     string
		backends []Backend
		want     string
	}{
		{"all up", []Backend{{Name: "pg", P: up}, {Name: "redis", P: up}}, "ok"},
		{"optional missing", []Backend{{Name: "pg", P: up}, {Name: "ch", Optional: true}}, "ok"},
		{"required missing", []Backend{{Name: "pg"}, {Name: "redis", P: up}}, "degraded"},
		{"one down", []Backend{{Name: "pg"}, {Name: "redis", P: down}}, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, d := serve(t, Deps{Backends: tt.backends}, "/ready")
			assert.Equal(t, tt.want, d["status"])
			assert.Len(t, d["checks"], len(tt.backends))
		})
	}
}

func TestReady_ReportsPingError(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })
	_, d := serve(t, Deps{Backends: []Backend{{Name: "redis", P: down}}}, "/ready")
	check := d["checks"].([]any)[0].(map[string]any)
	assert.Equal(t, "fail", check["status"])
	assert.Equal(t, "connection refused", check["error"])
}

func TestVersion(t *testing.T) {
	code, d := serve(t, Deps{}, "/version")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "curator", d["service"])
}
