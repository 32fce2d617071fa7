package raw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetters(t *testing.T) {
	t.Setenv("LOG_LEVEL", " info ")
	t.Setenv("LOG_CALLER", "yes")
	t.Setenv("LOG_COLOR", "0")
	t.Setenv("LOG_SAMPLE_EVERY", "10")
	t.Setenv("LOG_NEG", "-1")
	c := New().Prefix("LOG_")

	assert.Equal(t, "info", c.Get("LEVEL", "debug"))
	assert.Equal(t, "debug", c.Get("UNSET", "debug"))
	assert.True(t, c.GetBool("CALLER", false))
	assert.False(t, c.GetBool("COLOR", true))
	assert.True(t, c.GetBool("UNSET", true))
	assert.Equal(t, 10, c.GetInt("SAMPLE_EVERY", 0))
	assert.Equal(t, 5, c.GetInt("NEG", 5))
	assert.Equal(t, 5, c.GetInt("LEVEL", 5))
}
