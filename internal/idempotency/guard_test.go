package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, 2*time.Minute, 24*time.Hour), mr
}

func TestGuard_FirstClaimWins(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	first := g.Begin(ctx, "idem:k1")
	if first.State != StateNew {
		t.Fatalf("first Begin = %q, want new", first.State)
	}
	second := g.Begin(ctx, "idem:k1")
	if second.State != StateProcessing {
		t.Fatalf("Begin during processing = %q, want processing", second.State)
	}
}

func TestGuard_CompleteReplaysResult(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if res := g.Begin(ctx, "idem:k1"); res.State != StateNew {
		t.Fatalf("claim = %q, want new", res.State)
	}
	g.Complete(ctx, "idem:k1", `{"job_id":"j1","status":"processing"}`)

	replay := g.Begin(ctx, "idem:k1")
	if replay.State != StateCompleted {
		t.Fatalf("Begin after Complete = %q, want completed", replay.State)
	}
	if replay.CachedResult != `{"job_id":"j1","status":"processing"}` {
		t.Fatalf("cached result = %q", replay.CachedResult)
	}
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	if res := g.Begin(ctx, "idem:k1"); res.State != StateNew {
		t.Fatalf("claim = %q, want new", res.State)
	}
	g.Release(ctx, "idem:k1")

	if res := g.Begin(ctx, "idem:k1"); res.State != StateNew {
		t.Fatalf("Begin after Release = %q, want new", res.State)
	}
}

func TestGuard_PendingMarkerExpires(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()

	if res := g.Begin(ctx, "idem:k1"); res.State != StateNew {
		t.Fatalf("claim = %q, want new", res.State)
	}

	// A crashed worker never calls Complete or Release; the marker TTL is
	// what un-sticks the key.
	mr.FastForward(3 * time.Minute)

	if res := g.Begin(ctx, "idem:k1"); res.State != StateNew {
		t.Fatalf("Begin after marker expiry = %q, want new", res.State)
	}
}

func TestGuard_FailsOpenWhenStoreDown(t *testing.T) {
	g, mr := newTestGuard(t)
	mr.Close()

	res := g.Begin(context.Background(), "idem:k1")
	if res.State != StateNew {
		t.Fatalf("store outage Begin = %q, want fail-open new", res.State)
	}
}

func TestGuard_NilGuardIsInert(t *testing.T) {
	var g *Guard
	ctx := context.Background()

	if res := g.Begin(ctx, "idem:k1"); res.State != StateNew {
		t.Fatalf("nil guard Begin = %q, want new", res.State)
	}
	g.Complete(ctx, "idem:k1", "x")
	g.Release(ctx, "idem:k1")
}

func TestKeyFromParams_Deterministic(t *testing.T) {
	a := KeyFromParams("s1", "process", map[string]string{"kind": "upscale", "scale": "2"})
	b := KeyFromParams("s1", "process", map[string]string{"scale": "2", "kind": "upscale"})
	if a != b {
		t.Fatalf("param order changed the key: %s vs %s", a, b)
	}
	if c := KeyFromParams("s2", "process", map[string]string{"kind": "upscale", "scale": "2"}); c == a {
		t.Fatal("different subjects produced the same key")
	}
}

func TestKeyFromContent_SensitiveToEveryInput(t *testing.T) {
	base := KeyFromContent("s1", "process:upscale", []byte("payload"))

	if k := KeyFromContent("s1", "process:upscale", []byte("payload")); k != base {
		t.Fatal("identical inputs produced different keys")
	}
	if k := KeyFromContent("s2", "process:upscale", []byte("payload")); k == base {
		t.Fatal("subject not part of the key")
	}
	if k := KeyFromContent("s1", "process:bg_removal", []byte("payload")); k == base {
		t.Fatal("operation not part of the key")
	}
	if k := KeyFromContent("s1", "process:upscale", []byte("payload2")); k == base {
		t.Fatal("content not part of the key")
	}
}
