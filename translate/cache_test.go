package translate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCachedSkipsProviderOnHit(t *testing.T) {
	p := &stubProvider{name: "A"}
	c := NewCached(newTestEngine(p), time.Minute)
	defer c.Stop()

	out1, err := c.Translate(context.Background(), "hello", "en", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out2, err := c.Translate(context.Background(), "hello", "en", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out1 != out2 {
		t.Errorf("cache returned different result: %q vs %q", out1, out2)
	}
	if p.calls != 1 {
		t.Errorf("expected a single provider call, got %d", p.calls)
	}
}

func TestCachedDistinctPairs(t *testing.T) {
	p := &stubProvider{name: "A"}
	c := NewCached(newTestEngine(p), time.Minute)
	defer c.Stop()

	if _, err := c.Translate(context.Background(), "hello", "en", "vi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Translate(context.Background(), "hello", "en", "fr"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected two provider calls for distinct pairs, got %d", p.calls)
	}
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	p := &stubProvider{name: "A", fail: true}
	c := NewCached(newTestEngine(p), time.Minute)
	defer c.Stop()

	if _, err := c.Translate(context.Background(), "hello", "en", "vi"); !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	p.fail = false
	if _, err := c.Translate(context.Background(), "hello", "en", "vi"); err != nil {
		t.Errorf("expected recovery after provider heals, got %v", err)
	}
}
