// Package keyword provides BM25 search over knowledge documents.
package keyword

import (
	"context"

	"github.com/hyperjump/text2sql/internal/models"
)

// Query narrows and weights a keyword search. The zero value searches every
// document with no boosts and exact term matching.
type Query struct {
	Where models.Where
	// TableBoost weights hits on the table_name field; values above 1 rank a
	// document for the named table above ones that only mention it.
	TableBoost float64
	// ColumnBoost weights hits on the joined column names.
	ColumnBoost float64
	// Fuzziness is the edit distance allowed per term. 0 disables fuzzy matching.
	Fuzziness int
}

// Index stores knowledge documents for keyword retrieval.
type Index interface {
	Index(ctx context.Context, doc *models.Document) error
	IndexBatch(ctx context.Context, docs []*models.Document) error
	Search(ctx context.Context, text string, limit int, q Query) ([]Hit, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// Hit is one scored document id.
type Hit struct {
	ID    string
	Score float64
}
