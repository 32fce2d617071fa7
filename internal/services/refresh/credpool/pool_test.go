package credpool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	perr "curator/internal/platform/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newPool(t *testing.T) (*Pool, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Options{PollDelay: 10 * time.Millisecond}), mr
}

func mustRegister(t *testing.T, p *Pool, backend, principal, secret string) string {
	t.Helper()
	c, _, err := p.Register(context.Background(), backend, principal, secret)
	if err != nil {
		t.Fatalf("register %s: %v", principal, err)
	}
	return c.ID
}

func TestRegister_Idempotent(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()

	c1, added, err := p.Register(ctx, "github", "Alice", "tok-aaaaaaaa")
	if err != nil || !added {
		t.Fatalf("first register added=%v err=%v", added, err)
	}
	if c1.Principal != "alice" {
		t.Fatalf("principal not normalized: %q", c1.Principal)
	}
	c2, added, err := p.Register(ctx, "github", "alice", "tok-aaaaaaaa")
	if err != nil || added {
		t.Fatalf("second register added=%v err=%v", added, err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("ids differ: %s vs %s", c1.ID, c2.ID)
	}
	st, err := p.Stats(ctx, "github")
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.Available != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRegister_RejectsEmpty(t *testing.T) {
	p, _ := newPool(t)
	_, _, err := p.Register(context.Background(), "github", "", "x")
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("want invalid argument, got %v", err)
	}
}

func TestRegister_DoesNotReAddCheckedOut(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")

	if _, err := p.Checkout(ctx, "github", "", false); err != nil {
		t.Fatal(err)
	}
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")
	if _, err := p.Checkout(ctx, "github", "", false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("re-register must not free a held credential, got %v", err)
	}
}

func TestCheckout_ExclusiveUntilRelease(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")

	c, err := p.Checkout(ctx, "github", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if c.Secret != "tok-aaaaaaaa" || c.Principal != "alice" {
		t.Fatalf("credential = %+v", c)
	}
	if _, err := p.Checkout(ctx, "github", "", false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("want exhausted, got %v", err)
	}
	if err := p.Release(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Checkout(ctx, "github", "", false); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestCheckout_BackendsAreIsolated(t *testing.T) {
	p, _ := newPool(t)
	mustRegister(t, p, "gitlab", "alice", "tok-aaaaaaaa")
	if _, err := p.Checkout(context.Background(), "github", "", false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("want exhausted, got %v", err)
	}
}

func TestCheckout_PrefersPrincipal(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")
	bob := mustRegister(t, p, "github", "bob", "tok-bbbbbbbb")
	mustRegister(t, p, "github", "carol", "tok-cccccccc")

	c, err := p.Checkout(ctx, "github", "Bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != bob {
		t.Fatalf("preferred credential not chosen: %s", c.Principal)
	}

	// preferred is held, any other is returned
	c2, err := p.Checkout(ctx, "github", "bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if c2.ID == bob {
		t.Fatal("held credential handed out twice")
	}
}

func TestMarkUnhealthy_ThenRevalidate(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	id := mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")

	c, err := p.Checkout(ctx, "github", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.MarkUnhealthy(ctx, c, 401, "bad credentials"); err != nil {
		t.Fatal(err)
	}
	if err := p.Release(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Checkout(ctx, "github", "", false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("unhealthy credential handed out: %v", err)
	}

	list, err := p.List(ctx, "github")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Blocked || list[0].StatusCode != 401 || list[0].Message != "bad credentials" {
		t.Fatalf("list = %+v", list)
	}

	if err := p.Revalidate(ctx, "github", id); err != nil {
		t.Fatal(err)
	}
	c, err = p.Checkout(ctx, "github", "", false)
	if err != nil {
		t.Fatalf("after revalidate: %v", err)
	}
	if c.StatusCode != 200 || c.Blocked {
		t.Fatalf("credential = %+v", c)
	}
}

func TestRevalidate_Unknown(t *testing.T) {
	p, _ := newPool(t)
	err := p.Revalidate(context.Background(), "github", "nope")
	if !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestCooldown_SkipsUntilReset(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")

	c, err := p.Checkout(ctx, "github", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Cooldown(ctx, c, now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	_ = p.Release(ctx, c)

	if _, err := p.Checkout(ctx, "github", "", false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("cooling credential handed out: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := p.Checkout(ctx, "github", "", false); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestCheckout_BlockingWaitsForRelease(t *testing.T) {
	p, _ := newPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")

	held, err := p.Checkout(ctx, "github", "", true)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = p.Release(context.Background(), held)
	}()

	start := time.Now()
	got, err := p.Checkout(ctx, "github", "", true)
	if err != nil {
		t.Fatalf("blocking checkout: %v", err)
	}
	if got.ID != held.ID {
		t.Fatalf("got %s want %s", got.ID, held.ID)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("checkout returned before the credential was released")
	}
}

func TestCheckout_BlockingHonorsContext(t *testing.T) {
	p, _ := newPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Checkout(ctx, "github", "", true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func TestCheckout_ConcurrentNeverDoubleHands(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	for _, n := range []string{"a", "b", "c"} {
		mustRegister(t, p, "github", n, "tok-"+strings.Repeat(n, 8))
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		seen = map[string]int{}
	)
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Checkout(ctx, "github", "", false)
			if err != nil {
				return
			}
			mu.Lock()
			seen[c.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 3 {
		t.Fatalf("want 3 distinct credentials, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("credential %s handed out %d times", id, n)
		}
	}
}

func TestList_RedactsSecret(t *testing.T) {
	p, _ := newPool(t)
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")
	list, err := p.List(context.Background(), "github")
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(list)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "tok-aaaaaaaa") {
		t.Fatalf("secret leaked: %s", b)
	}
	if !list[0].Available {
		t.Fatalf("registered credential should be available: %+v", list[0])
	}
}

func TestID_Stable(t *testing.T) {
	if ID("github", "x") != ID("github", "x") {
		t.Fatal("id not stable")
	}
	if ID("github", "x") == ID("gitlab", "x") {
		t.Fatal("id must depend on backend")
	}
	if len(ID("github", "x")) != 16 {
		t.Fatalf("id length = %d", len(ID("github", "x")))
	}
}

func TestCheckout_ReclaimsExpiredLease(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	id := mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")

	// the holder dies without releasing
	if _, err := p.Checkout(ctx, "github", "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Checkout(ctx, "github", "", false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("leased credential handed out: %v", err)
	}

	now = now.Add(DefaultLeaseTTL + time.Second)
	c, err := p.Checkout(ctx, "github", "", false)
	if err != nil {
		t.Fatalf("expired lease not reclaimed: %v", err)
	}
	if c.ID != id {
		t.Fatalf("got %s want %s", c.ID, id)
	}
}

func TestRelease_ReclaimedHolderDoesNotFreeNewLease(t *testing.T) {
	p, _ := newPool(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	mustRegister(t, p, "github", "alice", "tok-aaaaaaaa")

	stale, err := p.Checkout(ctx, "github", "", false)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(DefaultLeaseTTL + time.Second)
	fresh, err := p.Checkout(ctx, "github", "", false)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Release(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Checkout(ctx, "github", "", false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("late release freed a credential someone else holds: %v", err)
	}
	if err := p.Release(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Checkout(ctx, "github", "", false); err != nil {
		t.Fatalf("after current holder released: %v", err)
	}
}
