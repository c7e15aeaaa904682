package cache

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/store"
)

func newTestCache(t *testing.T) (*RecommendationCache, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	t.Cleanup(func() { _ = ms.Close() })
	return New(ms), ms
}

func TestKey(t *testing.T) {
	if got, want := Key(42, core.StrategyHybrid, 10), "rec:user:42:strat:hybrid:limit:10"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	if got, want := IndexKey(42), "rec:user:42:keys"; got != want {
		t.Errorf("IndexKey = %q, want %q", got, want)
	}
}

func TestRecommendationCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	items := []core.Scored{{ItemID: 3, Score: 0.9}, {ItemID: 1, Score: 0.5}}

	if _, ok := c.Get(ctx, 1, core.StrategyCF, 10); ok {
		t.Fatal("empty cache should miss")
	}
	if err := c.Put(ctx, 1, core.StrategyCF, 10, items); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get(ctx, 1, core.StrategyCF, 10)
	if !ok || !reflect.DeepEqual(got, items) {
		t.Errorf("Get = %v, %v, want %v", got, ok, items)
	}

	// 策略或条数不同都是不同的键
	if _, ok := c.Get(ctx, 1, core.StrategyCF, 5); ok {
		t.Error("different limit should miss")
	}
	if _, ok := c.Get(ctx, 1, core.StrategyHybrid, 10); ok {
		t.Error("different strategy should miss")
	}
}

func TestRecommendationCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Put(ctx, 1, core.StrategyPopular, 10, []core.Scored{{ItemID: 1, Score: 0.9}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tests := []struct {
		name    string
		elapsed time.Duration
		wantHit bool
	}{
		{name: "fresh", elapsed: time.Minute, wantHit: true},
		{name: "just before ttl", elapsed: core.DefaultCacheTTL - time.Second, wantHit: true},
		{name: "at ttl", elapsed: core.DefaultCacheTTL, wantHit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.now = func() time.Time { return now.Add(tt.elapsed) }
			if _, ok := c.Get(ctx, 1, core.StrategyPopular, 10); ok != tt.wantHit {
				t.Errorf("hit = %v, want %v", ok, tt.wantHit)
			}
		})
	}
}

func TestRecommendationCache_Undecodable(t *testing.T) {
	ctx := context.Background()
	c, ms := newTestCache(t)
	_ = ms.Set(ctx, Key(1, core.StrategyCF, 10), []byte("not json"))
	if _, ok := c.Get(ctx, 1, core.StrategyCF, 10); ok {
		t.Error("undecodable entry should miss")
	}
}

func TestRecommendationCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, ms := newTestCache(t)
	items := []core.Scored{{ItemID: 1, Score: 0.5}}

	for _, s := range core.AllStrategies() {
		for _, limit := range []int{5, 10, 20} {
			if err := c.Put(ctx, 1, s, limit, items); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
	}
	_ = c.Put(ctx, 2, core.StrategyCF, 10, items)

	if err := c.Invalidate(ctx, 1); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	for _, s := range core.AllStrategies() {
		for _, limit := range []int{5, 10, 20} {
			if _, ok := c.Get(ctx, 1, s, limit); ok {
				t.Errorf("%s/%d still cached after invalidate", s, limit)
			}
		}
	}
	if _, err := ms.Get(ctx, IndexKey(1)); !core.IsStoreNotFound(err) {
		t.Errorf("index should be deleted, err = %v", err)
	}
	if _, ok := c.Get(ctx, 2, core.StrategyCF, 10); !ok {
		t.Error("other users must not be affected")
	}
}

func TestRecommendationCache_InvalidateWithoutIndex(t *testing.T) {
	ctx := context.Background()
	c, ms := newTestCache(t)
	_ = c.Put(ctx, 1, core.StrategyHybrid, DefaultLimit, []core.Scored{{ItemID: 1, Score: 0.5}})
	_ = ms.Delete(ctx, IndexKey(1))

	if err := c.Invalidate(ctx, 1); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := c.Get(ctx, 1, core.StrategyHybrid, DefaultLimit); ok {
		t.Error("default key should be deleted even without an index")
	}
}
