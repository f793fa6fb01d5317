package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/text2sql/internal/config"
	"github.com/hyperjump/text2sql/internal/embedding"
	"github.com/hyperjump/text2sql/internal/keyword"
	"github.com/hyperjump/text2sql/internal/metrics"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/storage"
	"github.com/hyperjump/text2sql/internal/vector"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// ErrEmpty is returned by operations that need a built knowledge store.
var ErrEmpty = errors.New("knowledge store is empty")

const defaultEmbedConcurrency = 4

// generation is one activated build: its documents, vectors and keyword index.
// Readers hold mu for reading; the generation is closed under the write lock
// once it has been swapped out, so close waits for in-flight searches.
type generation struct {
	id        string
	createdAt time.Time
	mu        sync.RWMutex
	docs      map[string]*models.Document
	vectors   *vector.MemoryIndex
	keywords  *keyword.BleveIndex
	closed    bool
}

func (g *generation) close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.keywords.Close()
}

// Store is the generation-tagged knowledge store. SQLite rows are the source
// of truth; each generation also carries a vector index file and a bleve directory.
type Store struct {
	storage     storage.Storage
	embedder    embedding.Embedder
	logger      *zap.Logger
	dbPath      string
	blevePath   string
	vectorPath  string
	concurrency int

	active atomic.Pointer[generation]
	// writeMu serializes Rebuild and Upsert.
	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithConcurrency bounds the number of parallel embedding calls during a rebuild.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewStore creates a store over st. Call Load to reopen the active generation.
func NewStore(cfg config.KnowledgeConfig, st storage.Storage, emb embedding.Embedder, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		storage:     st,
		embedder:    emb,
		logger:      utils.OrNop(logger),
		dbPath:      cfg.DatabasePath,
		blevePath:   cfg.BlevePath,
		vectorPath:  filepath.Join(filepath.Dir(cfg.DatabasePath), "vectors"),
		concurrency: defaultEmbedConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the SQLite store at cfg.DatabasePath and loads the active generation.
func Open(ctx context.Context, cfg config.KnowledgeConfig, emb embedding.Embedder, logger *zap.Logger, opts ...Option) (*Store, error) {
	st, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	s := NewStore(cfg, st, emb, logger, opts...)
	if err := s.Load(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) vectorFile(id string) string { return filepath.Join(s.vectorPath, id+".vec") }
func (s *Store) bleveDir(id string) string   { return filepath.Join(s.blevePath, id) }

// Load reopens the active generation recorded in storage. An empty store is not an error.
func (s *Store) Load(ctx context.Context) error {
	active, err := s.storage.ActiveGeneration(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Info("Knowledge store is empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read active generation: %w", err)
	}

	docs, err := s.storage.ListDocuments(ctx, active.ID, 0)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	gen, err := s.openGeneration(ctx, active.ID, docs)
	if err != nil {
		return err
	}
	gen.createdAt = active.CreatedAt
	if active.ActivatedAt != nil {
		gen.createdAt = *active.ActivatedAt
	}
	s.active.Store(gen)
	s.logger.Info("Loaded knowledge store",
		zap.String("generation", gen.id),
		zap.Int("documents", len(gen.docs)))
	return nil
}

// openGeneration restores the indexes of an existing generation, re-embedding
// or re-indexing when the files on disk are missing or stale.
func (s *Store) openGeneration(ctx context.Context, id string, docs []*models.Document) (*generation, error) {
	vectors, err := vector.NewMemoryIndex(s.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	if err := vectors.Load(s.vectorFile(id)); err != nil {
		s.logger.Warn("Discarding unreadable vector file", zap.String("generation", id), zap.Error(err))
	}
	if vectors.Size() != len(docs) {
		s.logger.Info("Re-embedding knowledge documents", zap.String("generation", id), zap.Int("documents", len(docs)))
		if err := s.embedDocuments(ctx, docs); err != nil {
			return nil, err
		}
		vectors, err = buildVectors(s.embedder.Dimensions(), docs)
		if err != nil {
			return nil, err
		}
		if err := vectors.Save(s.vectorFile(id)); err != nil {
			return nil, fmt.Errorf("failed to save vectors: %w", err)
		}
	}

	keywords, err := keyword.NewBleveIndex(s.bleveDir(id))
	if err != nil {
		return nil, err
	}
	if n, err := keywords.DocCount(); err != nil || n != uint64(len(docs)) {
		if err := keywords.IndexBatch(ctx, docs); err != nil {
			_ = keywords.Close()
			return nil, fmt.Errorf("failed to index documents: %w", err)
		}
	}

	return &generation{id: id, createdAt: time.Now(), docs: docMap(docs), vectors: vectors, keywords: keywords}, nil
}

// Rebuild replaces the whole store with docs. The new generation is fully
// embedded, persisted and indexed before it is activated; readers keep using
// the previous generation until the swap.
func (s *Store) Rebuild(ctx context.Context, docs []*models.Document) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.KnowledgeRebuilds.WithLabelValues(result).Inc()
	}()
	return s.rebuildLocked(ctx, docs)
}

func (s *Store) rebuildLocked(ctx context.Context, docs []*models.Document) error {
	if err := validateDocuments(docs); err != nil {
		return err
	}
	start := time.Now()
	id := uuid.NewString()
	if err := s.storage.CreateGeneration(ctx, id); err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}

	gen, err := s.stage(ctx, id, docs)
	if err != nil {
		s.discard(id)
		return err
	}
	if err := s.storage.ActivateGeneration(ctx, id); err != nil {
		_ = gen.close()
		s.discard(id)
		return fmt.Errorf("failed to activate generation: %w", err)
	}

	old := s.active.Swap(gen)
	s.logger.Info("Activated knowledge generation",
		zap.String("generation", id),
		zap.Int("documents", len(docs)),
		zap.Duration("took", time.Since(start)))

	if old != nil {
		if err := old.close(); err != nil {
			s.logger.Warn("Failed to close previous generation", zap.String("generation", old.id), zap.Error(err))
		}
		s.discard(old.id)
	}
	return nil
}

// stage embeds, persists and indexes docs under generation id.
func (s *Store) stage(ctx context.Context, id string, docs []*models.Document) (*generation, error) {
	if err := s.embedDocuments(ctx, docs); err != nil {
		return nil, err
	}
	if err := s.storage.InsertDocuments(ctx, id, docs); err != nil {
		return nil, fmt.Errorf("failed to store documents: %w", err)
	}

	vectors, err := buildVectors(s.embedder.Dimensions(), docs)
	if err != nil {
		return nil, err
	}
	if err := vectors.Save(s.vectorFile(id)); err != nil {
		return nil, fmt.Errorf("failed to save vectors: %w", err)
	}

	keywords, err := keyword.NewBleveIndex(s.bleveDir(id))
	if err != nil {
		return nil, err
	}
	if err := keywords.IndexBatch(ctx, docs); err != nil {
		_ = keywords.Close()
		return nil, fmt.Errorf("failed to index documents: %w", err)
	}
	return &generation{id: id, createdAt: time.Now(), docs: docMap(docs), vectors: vectors, keywords: keywords}, nil
}

// embedDocuments fills doc.Embedding for every document, embedding in parallel.
func (s *Store) embedDocuments(ctx context.Context, docs []*models.Document) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, doc := range docs {
		g.Go(func() error {
			emb, err := s.embedder.Embed(gctx, doc.Content)
			if err != nil {
				return fmt.Errorf("embed %s: %w", doc.ID, err)
			}
			doc.Embedding = emb
			return nil
		})
	}
	return g.Wait()
}

// discard removes every trace of a generation. Failures are logged; a leftover
// generation is never activated.
func (s *Store) discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.storage.DeleteGeneration(ctx, id); err != nil {
		s.logger.Warn("Failed to delete generation rows", zap.String("generation", id), zap.Error(err))
	}
	if err := os.Remove(s.vectorFile(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove vector file", zap.String("generation", id), zap.Error(err))
	}
	if err := os.RemoveAll(s.bleveDir(id)); err != nil {
		s.logger.Warn("Failed to remove keyword index", zap.String("generation", id), zap.Error(err))
	}
}

// acquire returns the active generation with its read lock held.
func (s *Store) acquire() (*generation, error) {
	for {
		g := s.active.Load()
		if g == nil {
			return nil, ErrEmpty
		}
		g.mu.RLock()
		if !g.closed {
			return g, nil
		}
		// Swapped out between Load and RLock; the pointer already holds its successor.
		g.mu.RUnlock()
	}
}

// Search returns the topK documents nearest to text that satisfy where.
// An empty store yields no matches.
func (s *Store) Search(ctx context.Context, text string, topK int, where models.Where) ([]models.Match, error) {
	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	g, err := s.acquire()
	if errors.Is(err, ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer g.mu.RUnlock()

	hits, err := g.vectors.Search(ctx, query, topK, func(id string) bool {
		doc, ok := g.docs[id]
		return ok && where.Matches(doc.Metadata)
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Match, 0, len(hits))
	for _, h := range hits {
		doc := g.docs[h.ID]
		out = append(out, models.Match{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata, Distance: h.Distance})
	}
	return out, nil
}

// KeywordSearch runs a bleve query. Scores are mapped to distances as
// 1/(1+score) so callers can treat both searches alike.
func (s *Store) KeywordSearch(ctx context.Context, text string, topK int, where models.Where) ([]models.Match, error) {
	g, err := s.acquire()
	if errors.Is(err, ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer g.mu.RUnlock()

	results, err := g.keywords.Search(ctx, text, topK, keyword.Query{Where: where, TableBoost: 2, ColumnBoost: 1.5})
	if err != nil {
		return nil, err
	}
	out := make([]models.Match, 0, len(results))
	for _, r := range results {
		doc, ok := g.docs[r.ID]
		if !ok || !where.Matches(doc.Metadata) {
			continue
		}
		out = append(out, models.Match{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata, Distance: 1 / (1 + r.Score)})
	}
	return out, nil
}

// GetDocument returns a copy of the document with id, or nil if absent.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	g, err := s.acquire()
	if errors.Is(err, ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer g.mu.RUnlock()

	doc, ok := g.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

// ListDocuments returns up to limit documents ordered by id. limit <= 0 returns all.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]*models.Document, error) {
	g, err := s.acquire()
	if errors.Is(err, ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.docs))
	for id := range g.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.Document, len(ids))
	for i, id := range ids {
		cp := *g.docs[id]
		out[i] = &cp
	}
	return out, nil
}

// Count returns the number of documents in the active generation.
func (s *Store) Count() int {
	g, err := s.acquire()
	if err != nil {
		return 0
	}
	defer g.mu.RUnlock()
	return len(g.docs)
}

// Upsert inserts or replaces one document in the active generation in place.
// On an empty store a first generation holding only doc is built.
func (s *Store) Upsert(ctx context.Context, doc *models.Document) error {
	if err := validateDocuments([]*models.Document{doc}); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.active.Load() == nil {
		return s.rebuildLocked(ctx, []*models.Document{doc})
	}

	emb, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embed %s: %w", doc.ID, err)
	}
	doc.Embedding = emb

	// writeMu keeps the active generation fixed while we hold it.
	g := s.active.Load()
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.docs[doc.ID]; ok && doc.CreatedAt.IsZero() {
		doc.CreatedAt = prev.CreatedAt
	}
	if err := s.storage.UpsertDocument(ctx, g.id, doc); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	if err := g.vectors.Add(ctx, []string{doc.ID}, [][]float32{emb}); err != nil {
		return err
	}
	if err := g.vectors.Save(s.vectorFile(g.id)); err != nil {
		return fmt.Errorf("failed to save vectors: %w", err)
	}
	if err := g.keywords.Index(ctx, doc); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	g.docs[doc.ID] = doc
	s.logger.Info("Upserted knowledge document", zap.String("id", doc.ID), zap.String("generation", g.id))
	return nil
}

// Stats summarizes the active generation.
type Stats struct {
	DocumentCount int               `json:"document_count"`
	TableCount    int               `json:"table_count"`
	Generation    string            `json:"generation,omitempty"`
	LastUpdated   *time.Time        `json:"last_updated,omitempty"`
	DiskBytes     int64             `json:"disk_bytes"`
	Disk          storage.Footprint `json:"disk"`
}

// Stats returns counts for the active generation and the on-disk footprint of the store.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	if g, err := s.acquire(); err == nil {
		st.DocumentCount = len(g.docs)
		for _, doc := range g.docs {
			if doc.Metadata.Type == models.DocTypeTable {
				st.TableCount++
			}
		}
		st.Generation = g.id
		updated := g.createdAt
		for _, doc := range g.docs {
			if doc.UpdatedAt.After(updated) {
				updated = doc.UpdatedAt
			}
		}
		st.LastUpdated = &updated
		g.mu.RUnlock()
	}
	fp, err := storage.MeasureFootprint(s.dbPath, s.blevePath, s.vectorPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compute disk usage: %w", err)
	}
	st.Disk = fp
	st.DiskBytes = fp.Total()
	return st, nil
}

// Close closes the active generation and the underlying storage.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var errs []error
	if g := s.active.Swap(nil); g != nil {
		errs = append(errs, g.close())
	}
	errs = append(errs, s.storage.Close())
	return errors.Join(errs...)
}

func validateDocuments(docs []*models.Document) error {
	seen := make(map[string]bool, len(docs))
	for i, doc := range docs {
		if doc == nil || doc.ID == "" {
			return fmt.Errorf("document %d has no id", i)
		}
		if seen[doc.ID] {
			return fmt.Errorf("duplicate document id %q", doc.ID)
		}
		seen[doc.ID] = true
	}
	return nil
}

func buildVectors(dims int, docs []*models.Document) (*vector.MemoryIndex, error) {
	idx, err := vector.NewMemoryIndex(dims)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	vecs := make([][]float32, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		vecs[i] = doc.Embedding
	}
	if err := idx.Add(context.Background(), ids, vecs); err != nil {
		return nil, fmt.Errorf("failed to build vector index: %w", err)
	}
	return idx, nil
}

func docMap(docs []*models.Document) map[string]*models.Document {
	m := make(map[string]*models.Document, len(docs))
	for _, doc := range docs {
		m[doc.ID] = doc
	}
	return m
}
