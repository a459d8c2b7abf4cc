package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider is a deterministic, model-free fallback provider. Each token
// of the input is hashed into a bucket of the output vector and the result
// is L2-normalized, so identical descriptions always map to identical
// vectors and lexically overlapping texts land near each other. It keeps
// local deployments and tests functional without a model server, at the
// cost of real semantic quality.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a deterministic hash-based provider.
func NewHashProvider(dims int) *HashProvider {
	return &HashProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashProvider) Dimensions() int {
	return p.dims
}

// Embed maps text to a normalized token-bucket vector. Empty or whitespace
// input is valid and yields the zero vector of the declared dimension.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := int(sum % uint32(p.dims)) //nolint:gosec // dims validated positive
		// Top bit picks the sign so antonym-free buckets don't only accumulate.
		if sum&0x80000000 != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}
