package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewLimiter(client, 2, 1, time.Minute)
	clock := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "USR-1")
		if err != nil || !d.Allowed {
			t.Fatalf("submission %d should pass: %+v err=%v", i, d, err)
		}
	}
	d, _ := limiter.Allow(ctx, "USR-1")
	if d.Allowed {
		t.Fatalf("third submission should be throttled")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry after %s", d.RetryAfter)
	}

	if d, _ := limiter.Allow(ctx, "USR-2"); !d.Allowed {
		t.Fatalf("buckets are per key")
	}

	clock = clock.Add(1500 * time.Millisecond)
	d, _ = limiter.Allow(ctx, "USR-1")
	if !d.Allowed {
		t.Fatalf("bucket should have refilled")
	}
	if d.Tokens < 0.4 || d.Tokens > 0.6 {
		t.Fatalf("expected half a token left, got %v", d.Tokens)
	}
}
