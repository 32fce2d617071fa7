package middleware

import (
	"bytes"
	"compress/flate"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"curator/internal/platform/logger"
)

func TestCompress_GzipWhenAccepted(t *testing.T) {
	h := Compress(flate.BestSpeed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, strings.Repeat("a", 4<<10))
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestCORS_Preflight(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		want    string
	}{
		{"any origin by default", nil, ""},
		{"listed origin", []string{"https://example.com"}, "https://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.origins...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
			req := httptest.NewRequest(http.MethodOptions, "/", nil)
			req.Header.Set("Origin", "https://example.com")
			req.Header.Set("Access-Control-Request-Method", "POST")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.want == "" {
				assert.NotEmpty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
			assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
		})
	}
}

func TestAccessLog(t *testing.T) {
	tests := []struct {
		name   string
		slow   time.Duration
		status int
		level  string
	}{
		{"fast", 0, http.StatusCreated, `"level":"info"`},
		{"slow", time.Nanosecond, 0, `"level":"warn"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := AccessLog(tt.slow)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte("hi"))
				_, _ = w.Write([]byte("there"))
			}))
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req = req.WithContext(logger.With(req.Context(), zerolog.New(&buf)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, "hithere", rec.Body.String())
			out := buf.String()
			assert.Contains(t, out, tt.level)
			assert.Contains(t, out, `"bytes":7`)
			if tt.status != 0 {
				assert.Contains(t, out, `"status":201`)
			} else {
				assert.Contains(t, out, `"status":200`)
			}
		})
	}
}
