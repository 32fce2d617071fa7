package rds

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNew_TalksToServer(t *testing.T) {
	mr := miniredis.RunT(t)

	c := New(Config{Addr: mr.Addr(), PoolSize: 2})
	defer c.Close()

	if err := c.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mr.Keys(); len(got) != 1 || got[0] != "k" {
		t.Fatalf("keys = %v", got)
	}
	if !c.Options().ContextTimeoutEnabled {
		t.Fatalf("context timeouts must be honored for blocking pops")
	}
}
