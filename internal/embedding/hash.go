package embedding

import (
	"context"

	"github.com/hyperjump/text2sql/pkg/utils"
)

// HashEmbedder is a deterministic, dependency-free embedder. Character
// unigrams and bigrams of each word are feature-hashed into a fixed-size
// vector, so texts sharing words or CJK characters land close together.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns an embedder that produces vectors of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the L2-normalized hashed feature vector of text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb := make([]float32, e.dimensions)
	for _, gram := range Grams(text) {
		h := HashString(gram)
		sign := float32(1)
		if (h>>16)&1 == 1 {
			sign = -1
		}
		emb[h%e.dimensions] += sign
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}
