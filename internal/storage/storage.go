// Package storage persists knowledge documents grouped into build generations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/text2sql/internal/models"
)

// ErrNotFound is returned when a document or generation does not exist.
var ErrNotFound = errors.New("not found")

// Generation status values.
const (
	StatusStaging = "staging"
	StatusActive  = "active"
	StatusRetired = "retired"
)

// Generation is one complete build of the knowledge store.
type Generation struct {
	ID            string
	Status        string
	CreatedAt     time.Time
	ActivatedAt   *time.Time
	DocumentCount int64
}

// Storage defines generation and document persistence operations.
type Storage interface {
	// Generation operations
	CreateGeneration(ctx context.Context, id string) error
	ActivateGeneration(ctx context.Context, id string) error
	ActiveGeneration(ctx context.Context) (*Generation, error)
	DeleteGeneration(ctx context.Context, id string) error

	// Document operations
	InsertDocuments(ctx context.Context, generation string, docs []*models.Document) error
	UpsertDocument(ctx context.Context, generation string, doc *models.Document) error
	GetDocument(ctx context.Context, generation, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, generation string, limit int) ([]*models.Document, error)
	CountDocuments(ctx context.Context, generation string) (int64, error)

	Close() error
}
