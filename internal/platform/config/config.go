// Package config reads typed settings from prefixed environment variables
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"curator/internal/platform/logger"
)

// Conf is a view over the variables starting with its prefix
type Conf struct{ prefix string }

// New is the unprefixed root
func New() Conf { return Conf{} }

// Prefix narrows to variables starting with p as well
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p} }

func (c Conf) lookup(key string) (string, string) {
	name := c.prefix + key
	return name, strings.TrimSpace(os.Getenv(name))
}

// MustString panics when the variable is unset or blank
func (c Conf) MustString(key string) string {
	name, v := c.lookup(key)
	if v == "" {
		logger.Get().Panic().Str("key", name).Msg("missing required config")
	}
	return v
}

// MayString falls back to def when unset
func (c Conf) MayString(key, def string) string {
	if _, v := c.lookup(key); v != "" {
		return v
	}
	return def
}

// MayInt falls back to def when unset or unparsable
func (c Conf) MayInt(key string, def int) int { return may(c, key, def, strconv.Atoi) }

// MayBool falls back to def when unset or unparsable
func (c Conf) MayBool(key string, def bool) bool { return may(c, key, def, strconv.ParseBool) }

// MayDuration takes time.ParseDuration syntax, def when unset or unparsable
func (c Conf) MayDuration(key string, def time.Duration) time.Duration {
	return may(c, key, def, time.ParseDuration)
}

// MayCSV splits on commas and drops blanks, def when nothing is left
func (c Conf) MayCSV(key string, def []string) []string {
	_, v := c.lookup(key)
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// may parses the variable, a bad value is logged and replaced by def
func may[T any](c Conf, key string, def T, parse func(string) (T, error)) T {
	name, v := c.lookup(key)
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		logger.Get().Warn().Err(err).Str("key", name).Str("value", v).Interface("default", def).Msg("bad config value, using default")
		return def
	}
	return out
}
