// Package logger owns the process wide zerolog logger and its context plumbing
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"curator/internal/platform/config/raw"
)

// Logger is the project wide logging type
type Logger = zerolog.Logger

type options struct {
	level       string
	console     bool
	service     string
	component   string
	caller      bool
	sampleEvery int
}

// fromEnv reads LOG_*; raw keeps config and logger free of an import cycle
func fromEnv() options {
	rc := raw.New().Prefix("LOG_")
	return options{
		level:       rc.Get("LEVEL", "debug"),
		console:     strings.EqualFold(rc.Get("FORMAT", "console"), "console"),
		service:     rc.Get("SERVICE", ""),
		component:   rc.Get("COMPONENT", ""),
		caller:      rc.GetBool("CALLER", false),
		sampleEvery: rc.GetInt("SAMPLE_EVERY", 0),
	}
}

func build(o options, w io.Writer) Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(o.level)))
	if err != nil || o.level == "" {
		lvl = zerolog.DebugLevel
	}
	if o.console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	c := zerolog.New(w).Level(lvl).With().Timestamp()
	if bi, ok := debug.ReadBuildInfo(); ok {
		c = c.Str("go_version", bi.GoVersion)
	}
	if o.service != "" {
		c = c.Str("service", o.service)
	}
	if o.component != "" {
		c = c.Str("component", o.component)
	}
	if o.caller {
		c = c.Caller()
	}
	l := c.Logger()
	if o.sampleEvery > 1 {
		l = l.Sample(&zerolog.BasicSampler{N: uint32(o.sampleEvery)})
	}
	return l
}

var root = sync.OnceValue(func() *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := build(fromEnv(), os.Stdout)
	return &l
})

// Get returns the root logger, built from LOG_* on first use
func Get() *Logger { return root() }

// Named returns a child of the root with a component field
func Named(component string) *Logger {
	if component == "" {
		return Get()
	}
	l := Get().With().Str("component", component).Logger()
	return &l
}

type ctxKey struct{}

// With stores l in ctx so C builds on its fields
func With(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, &l)
}

// C returns the logger scoped to ctx, tagged with the chi request id when present
func C(ctx context.Context) *Logger {
	l := Get()
	if v, ok := ctx.Value(ctxKey{}).(*Logger); ok && v != nil {
		l = v
	}
	id := chimw.GetReqID(ctx)
	if id == "" {
		return l
	}
	ll := l.With().Str("request_id", id).Logger()
	return &ll
}
