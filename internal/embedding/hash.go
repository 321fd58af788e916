package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"unicode"
)

const DefaultDimension = 256

// HashEmbedder maps text to a unit vector by hashing word tokens into
// buckets. Identical text always produces the identical vector, and texts
// sharing vocabulary land near each other, which is enough for routing to be
// deterministic and testable without an embedding service.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(h.dim)
		// Second hash word picks the sign so antonym-free collisions
		// don't always reinforce.
		if binary.BigEndian.Uint32(sum[4:8])&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	Normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Name() string { return "hash" }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
