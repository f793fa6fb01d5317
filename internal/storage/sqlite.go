package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/text2sql/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kb_generations (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		activated_at TIMESTAMP,
		document_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_generations_status ON kb_generations(status);

	CREATE TABLE IF NOT EXISTS kb_documents (
		generation_id TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (generation_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_generation ON kb_documents(generation_id);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateGeneration registers a new staging generation.
func (s *SQLiteStorage) CreateGeneration(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kb_generations (id, status, created_at) VALUES (?, ?, ?)`,
		id, StatusStaging, time.Now(),
	)
	return err
}

// ActivateGeneration retires the current active generation and activates id
// in a single transaction.
func (s *SQLiteStorage) ActivateGeneration(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kb_documents WHERE generation_id = ?`, id,
	).Scan(&count); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE kb_generations SET status = ? WHERE status = ? AND id <> ?`,
		StatusRetired, StatusActive, id,
	); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE kb_generations SET status = ?, activated_at = ?, document_count = ? WHERE id = ?`,
		StatusActive, time.Now(), count, id,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// ActiveGeneration returns the active generation, or ErrNotFound if no build has completed.
func (s *SQLiteStorage) ActiveGeneration(ctx context.Context) (*Generation, error) {
	var gen Generation
	var activated sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, created_at, activated_at, document_count
		 FROM kb_generations WHERE status = ? ORDER BY activated_at DESC LIMIT 1`,
		StatusActive,
	).Scan(&gen.ID, &gen.Status, &gen.CreatedAt, &activated, &gen.DocumentCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active generation: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if activated.Valid {
		gen.ActivatedAt = &activated.Time
	}
	return &gen, nil
}

// DeleteGeneration removes a generation and all of its documents.
func (s *SQLiteStorage) DeleteGeneration(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_documents WHERE generation_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_generations WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertDocuments inserts multiple documents into a generation in a transaction.
func (s *SQLiteStorage) InsertDocuments(ctx context.Context, generation string, docs []*models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kb_documents (generation_id, id, content, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now
		if _, err := stmt.ExecContext(ctx, generation, doc.ID, doc.Content, string(metadataJSON), doc.CreatedAt, doc.UpdatedAt); err != nil {
			return fmt.Errorf("insert %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// UpsertDocument inserts or replaces one document. The original creation time is kept.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, generation string, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kb_documents (generation_id, id, content, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(generation_id, id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		generation, doc.ID, doc.Content, string(metadataJSON), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE kb_generations SET document_count =
			(SELECT COUNT(*) FROM kb_documents WHERE generation_id = ?)
		 WHERE id = ?`,
		generation, generation,
	)
	return err
}

// GetDocument returns a document of a generation by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, generation, id string) (*models.Document, error) {
	var doc models.Document
	var metadataJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, metadata, created_at, updated_at
		 FROM kb_documents WHERE generation_id = ? AND id = ?`, generation, id,
	).Scan(&doc.ID, &doc.Content, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

// ListDocuments returns documents of a generation ordered by id. limit <= 0 means no limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, generation string, limit int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, created_at, updated_at
		 FROM kb_documents WHERE generation_id = ? ORDER BY id LIMIT ?`,
		generation, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var metadataJSON string
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("document %s: failed to unmarshal metadata: %w", doc.ID, err)
			}
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of documents in a generation.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, generation string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kb_documents WHERE generation_id = ?`, generation,
	).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
