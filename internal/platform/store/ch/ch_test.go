package ch

import (
	"context"
	"strings"
	"testing"
)

func TestOpen_RejectsEmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestOpen_RejectsBadDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{URL: "://nope"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNilClient_MethodsFailSafe(t *testing.T) {
	t.Parallel()

	var c *CH
	ctx := context.Background()
	if err := c.Insert(ctx, "t", [][]any{{1}}); err == nil {
		t.Fatalf("Insert on nil client should error")
	}
	if _, err := c.Query(ctx, "SELECT 1"); err == nil {
		t.Fatalf("Query on nil client should error")
	}
	if err := c.Ping(ctx); err == nil {
		t.Fatalf("Ping on nil client should error")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client should be a no-op, got %v", err)
	}
}

func TestInsert_EmptyRowsIsNoop(t *testing.T) {
	t.Parallel()

	c := &CH{}
	// no conn: empty batches return before touching the driver
	if err := c.Insert(context.Background(), "t", nil); err == nil {
		t.Fatalf("expected not connected error before empty check")
	}
}

func TestBuildClientInfo_Products(t *testing.T) {
	t.Parallel()

	ci := BuildClientInfo(" worker ", "")
	if len(ci.Products) != 5 {
		t.Fatalf("want 5 products, got %d", len(ci.Products))
	}
	if ci.Products[0].Name != "curator" || ci.Products[0].Version != "unknown" {
		t.Fatalf("unexpected first product: %+v", ci.Products[0])
	}
	if ci.Products[1].Version != "worker" {
		t.Fatalf("role not trimmed: %q", ci.Products[1].Version)
	}
	if !strings.HasPrefix(ci.Products[2].Version, "go") {
		t.Fatalf("go version missing: %q", ci.Products[2].Version)
	}
}
