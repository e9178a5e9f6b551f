package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 256

// HashEngine embeds text by feature hashing word tokens and character
// trigrams into a fixed-size vector. It needs no model server, so it backs
// tests and offline runs; texts that share vocabulary score closer.
type HashEngine struct {
	dims int
}

// NewHashEngine creates an engine producing dims-dimensional vectors.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEngine{dims: dims}
}

func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range tokenize(text) {
		e.add(vec, "w:"+stem(tok), 1)
		padded := "^" + tok + "$"
		for i := 0; i+3 <= len(padded); i++ {
			e.add(vec, "g:"+padded[i:i+3], 0.5)
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

func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEngine) Name() string { return fmt.Sprintf("hash:%d", e.dims) }

// add hashes feature into a bucket; one hash bit picks the sign so that
// collisions tend to cancel.
func (e *HashEngine) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// tokenize splits text into lowercase letter/digit runs. Underscores split
// too, so field names like account_id contribute "account" and "id".
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// stem strips a plural suffix so "customers" and "customer" share a feature.
func stem(tok string) string {
	switch {
	case len(tok) > 4 && strings.HasSuffix(tok, "ies"):
		return tok[:len(tok)-3] + "y"
	case len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss"):
		return tok[:len(tok)-1]
	default:
		return tok
	}
}
