// Package vector holds the exact cosine index behind semantic retrieval of
// knowledge documents. Schemas have at most a few thousand tables, so every
// search scans all vectors.
package vector

import "context"

// Index stores document embeddings and ranks them against a question.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int, keep func(id string) bool) ([]Hit, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// Hit is one ranked document. Distance is cosine distance in [0, 2].
type Hit struct {
	ID       string
	Distance float64
}
