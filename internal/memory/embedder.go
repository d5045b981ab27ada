package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"math"
	"strings"
	"sync"
)

// HashEmbedder is a deterministic, offline embedding source: token hashes
// bucketed into a fixed-dimension bag-of-words vector. Retrieval quality is
// far below a real embedding model; it exists so the index works with no
// local daemon configured, and it keeps tests hermetic.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder returns a HashEmbedder with the given dimensionality.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{Dims: dims}
}

// FallbackEmbedder probes the primary once and sticks with whichever source
// answered first. The choice is sticky because the index freezes vector
// dimensionality; switching sources mid-run would corrupt similarity.
type FallbackEmbedder struct {
	primary  Embedder
	fallback Embedder

	once   sync.Once
	chosen Embedder
}

func NewFallbackEmbedder(primary, fallback Embedder) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, fallback: fallback}
}

func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.once.Do(func() {
		if _, err := e.primary.Embed(ctx, "probe"); err != nil {
			slog.Warn("embedding model unavailable, using hash embedder", "error", err)
			e.chosen = e.fallback
			return
		}
		e.chosen = e.primary
	})
	return e.chosen.Embed(ctx, text)
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.Dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok == "" {
			continue
		}
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(e.Dims)
		// Sign from a second hash byte spreads tokens across both halves.
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
