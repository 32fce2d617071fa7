package strings

import (
	"testing"

	"curator/internal/platform/testkit"

	"github.com/stretchr/testify/assert"
)

func TestIfEmpty(t *testing.T) {
	assert.Equal(t, []string{"GET"}, IfEmpty(nil, []string{"GET"}))
	assert.Equal(t, []string{"POST"}, IfEmpty([]string{"POST"}, []string{"GET"}))
}

func TestMustString(t *testing.T) {
	assert.Equal(t, "refresh", MustString("refresh", "module name"))
	testkit.MustPanic(t, func() { MustString("  ", "module name") })
}

func TestMustPrefix(t *testing.T) {
	for in, want := range map[string]string{
		"refresh":     "/refresh",
		" /refresh/ ": "/refresh",
		"//meta//":    "/meta",
		"/api/v1":     "/api/v1",
	} {
		assert.Equal(t, want, MustPrefix(in), in)
	}
	testkit.MustPanic(t, func() { MustPrefix(" / ") })
}
