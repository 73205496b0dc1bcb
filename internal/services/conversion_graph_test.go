package services

import (
	"context"
	"testing"
	"time"
)

func TestConversionGraphReachable(t *testing.T) {
	g := NewConversionGraph([]ConversionEdge{
		{From: "box", To: "pack", Factor: 4},
		{From: "pack", To: "pcs", Factor: 6},
		{From: "kg", To: "g", Factor: 1000},
	})

	reach := g.Reachable("box")
	if len(reach) != 2 {
		t.Fatalf("expected 2 reachable nodes, got %v", reach)
	}
	if r := reach["pcs"]; r.Depth != 2 || r.Factor != 24 {
		t.Errorf("box->pcs = %+v, want depth 2 factor 24", r)
	}
	if _, ok := reach["kg"]; ok {
		t.Error("kg must not be reachable from box")
	}

	f, ok := g.Factor("pcs", "box")
	if !ok || f < 1.0/24-1e-12 || f > 1.0/24+1e-12 {
		t.Errorf("pcs->box = %v, want 1/24", f)
	}
	if _, ok := g.Factor("g", "pcs"); ok {
		t.Error("g->pcs must be unreachable")
	}
}

func TestConversionGraphIgnoresBadEdges(t *testing.T) {
	g := NewConversionGraph([]ConversionEdge{
		{From: "a", To: "a", Factor: 3},
		{From: "a", To: "b", Factor: 0},
	})
	if len(g.Reachable("a")) != 0 {
		t.Error("self loops and zero factors must be skipped")
	}
}

func TestMemoryGraphCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryGraphCache()
	if _, ok := cache.Get(ctx, "t1"); ok {
		t.Fatal("empty cache returned a graph")
	}
	g := NewConversionGraph(nil)
	cache.Set(ctx, "t1", g)
	if got, ok := cache.Get(ctx, "t1"); !ok || got != g {
		t.Fatal("cache did not return stored graph")
	}
	cache.Invalidate(ctx, "t1")
	if _, ok := cache.Get(ctx, "t1"); ok {
		t.Fatal("graph survived invalidation")
	}
}

func TestMemoryGraphCacheExpires(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryGraphCache()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Set(ctx, "t1", NewConversionGraph(nil))
	now = now.Add(9 * time.Minute)
	if _, ok := cache.Get(ctx, "t1"); !ok {
		t.Fatal("graph expired too early")
	}
	now = now.Add(time.Minute)
	if _, ok := cache.Get(ctx, "t1"); ok {
		t.Fatal("graph must expire after ttl")
	}
}
