// Package embedding turns knowledge documents and questions into vectors.
// Providers are a deterministic hashing embedder, Ollama, Gemini and a local
// ONNX model; New wraps the chosen one in a local LRU and an optional redis tier.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// embedEach embeds texts one by one, stopping at the first failure or when
// ctx is done. The error names the failing position.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d of %d: %w", i+1, len(texts), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// meanPool averages the rows of hidden (tokens x dim) whose mask is set.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	var n float32
	for tok, m := range mask {
		if m == 0 || (tok+1)*dim > len(hidden) {
			continue
		}
		for i, v := range hidden[tok*dim : (tok+1)*dim] {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}
