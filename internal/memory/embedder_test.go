package memory

import (
	"context"
	"fmt"
	"math"
	"testing"
)

type embedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, _ := e.Embed(context.Background(), "the quick brown fox")
	b, _ := e.Embed(context.Background(), "the  QUICK brown fox!")
	if len(a) != 64 {
		t.Fatalf("dims = %d", len(a))
	}
	if cosine(a, b) < 0.999 {
		t.Errorf("case and punctuation changed the vector: cos = %v", cosine(a, b))
	}
}

func TestHashEmbedderUnitNorm(t *testing.T) {
	e := NewHashEmbedder(32)
	vec, _ := e.Embed(context.Background(), "some words to bucket")
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", norm)
	}

	// Empty input stays a zero vector, which cosine treats as no match.
	zero, _ := e.Embed(context.Background(), "")
	if cosine(zero, vec) != 0 {
		t.Error("zero vector scored nonzero")
	}
}

func TestHashEmbedderSimilarTextsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	query, _ := e.Embed(ctx, "favorite tea and coffee drinks")
	near, _ := e.Embed(ctx, "the user drinks tea not coffee")
	far, _ := e.Embed(ctx, "sqlite write ahead logging mode")

	if cosine(query, near) <= cosine(query, far) {
		t.Errorf("overlapping text did not score higher: near=%v far=%v",
			cosine(query, near), cosine(query, far))
	}
}

func TestFallbackEmbedderSticksWithPrimary(t *testing.T) {
	calls := 0
	primary := embedderFunc(func(_ context.Context, text string) ([]float32, error) {
		calls++
		return []float32{1, 0}, nil
	})
	fb := NewFallbackEmbedder(primary, NewHashEmbedder(64))

	vec, err := fb.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 2 {
		t.Errorf("fallback used despite healthy primary: dims = %d", len(vec))
	}
	// One probe plus one real call.
	if calls != 2 {
		t.Errorf("primary called %d times, want 2", calls)
	}
}

func TestFallbackEmbedderSticksWithFallbackAfterFailedProbe(t *testing.T) {
	failures := 0
	primary := embedderFunc(func(_ context.Context, _ string) ([]float32, error) {
		failures++
		return nil, fmt.Errorf("connection refused")
	})
	fb := NewFallbackEmbedder(primary, NewHashEmbedder(64))

	for i := 0; i < 3; i++ {
		vec, err := fb.Embed(context.Background(), "hello")
		if err != nil {
			t.Fatal(err)
		}
		if len(vec) != 64 {
			t.Fatalf("dims = %d, want fallback's 64", len(vec))
		}
	}
	// The choice is sticky: the primary is probed exactly once.
	if failures != 1 {
		t.Errorf("primary probed %d times, want 1", failures)
	}
}
