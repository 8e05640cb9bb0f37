package urlcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/movinesta/movinesta-cli/internal/urlcache"
)

func TestStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	s := urlcache.NewStore()

	s.Set(ctx, "message_attachments/c1/u1/a.jpg", "https://signed.example/a.jpg", 120)

	url, ok := s.Get(ctx, "message_attachments/c1/u1/a.jpg")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if url != "https://signed.example/a.jpg" {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestStore_MissOnUnknownPath(t *testing.T) {
	ctx := context.Background()
	s := urlcache.NewStore()

	if _, ok := s.Get(ctx, "nope"); ok {
		t.Fatal("expected miss for unknown path")
	}
	if _, ok := s.Get(ctx, ""); ok {
		t.Fatal("expected miss for empty path")
	}
}

func TestStore_EarlyRefreshMargin(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := urlcache.NewStoreAt(func() time.Time { return now })

	// TTL 120s minus the 60s margin leaves a 60s usable window.
	s.Set(ctx, "p", "https://signed.example/p", 120)

	now = now.Add(59 * time.Second)
	if _, ok := s.Get(ctx, "p"); !ok {
		t.Fatal("expected hit inside the usable window")
	}

	now = now.Add(1 * time.Second)
	if _, ok := s.Get(ctx, "p"); ok {
		t.Fatal("expected miss once the margin-adjusted deadline passes")
	}

	// The expired entry must have been evicted on read.
	if s.Len() != 0 {
		t.Fatalf("expected lazy eviction, still %d entries", s.Len())
	}
}

func TestStore_TTLBelowMarginExpiresImmediately(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := urlcache.NewStoreAt(func() time.Time { return now })

	s.Set(ctx, "short", "https://signed.example/short", 30)

	if _, ok := s.Get(ctx, "short"); ok {
		t.Fatal("TTL below the refresh margin should be an immediate miss")
	}
}

func TestStore_OverwriteExtendsDeadline(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := urlcache.NewStoreAt(func() time.Time { return now })

	s.Set(ctx, "p", "https://signed.example/v1", 120)
	now = now.Add(55 * time.Second)
	s.Set(ctx, "p", "https://signed.example/v2", 120)
	now = now.Add(50 * time.Second)

	url, ok := s.Get(ctx, "p")
	if !ok {
		t.Fatal("expected hit after overwrite reset the deadline")
	}
	if url != "https://signed.example/v2" {
		t.Fatalf("expected latest url, got %s", url)
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := urlcache.NewStore()

	s.Set(ctx, "p", "https://signed.example/p", 3600)
	s.Delete(ctx, "p")

	if _, ok := s.Get(ctx, "p"); ok {
		t.Fatal("expected miss after delete")
	}
}
