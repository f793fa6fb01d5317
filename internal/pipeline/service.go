package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/analyzer"
	"github.com/hyperjump/text2sql/internal/config"
	"github.com/hyperjump/text2sql/internal/database"
	"github.com/hyperjump/text2sql/internal/embedding"
	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/knowledge"
	"github.com/hyperjump/text2sql/internal/llm"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/prompt"
	"github.com/hyperjump/text2sql/internal/retriever"
	"github.com/hyperjump/text2sql/internal/schema"
	"github.com/hyperjump/text2sql/internal/validator"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// MetadataSource yields the schema the knowledge base is built from.
type MetadataSource interface {
	Extract(ctx context.Context) (*schema.Metadata, error)
}

// MetadataFile reads metadata saved by SaveMetadata.
type MetadataFile string

// Extract loads the file.
func (f MetadataFile) Extract(ctx context.Context) (*schema.Metadata, error) {
	return schema.LoadMetadata(string(f))
}

// Components are the collaborators a Service is assembled from.
type Components struct {
	Store     *knowledge.Store
	Generator llm.Generator
	Validator *validator.Validator
	// Metadata is nil when neither a database nor a metadata file is available.
	Metadata       MetadataSource
	EmbeddingModel string
}

// Service is the entry point used by the CLI, HTTP and MCP surfaces.
type Service struct {
	store          *knowledge.Store
	generator      llm.Generator
	validator      *validator.Validator
	metadata       MetadataSource
	retriever      *retriever.Retriever
	orchestrator   *Orchestrator
	embeddingModel string
	logger         *zap.Logger
	now            func() time.Time

	closers []io.Closer
}

// NewService assembles a service from already constructed components.
func NewService(cfg config.PipelineConfig, c Components, logger *zap.Logger) *Service {
	logger = utils.OrNop(logger)
	a := analyzer.New()
	r := retriever.New(c.Store, a, retriever.Options{
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
		Hybrid:         cfg.HybridOrDefault(),
		SchemaBudget:   cfg.SchemaBudget,
	}, logger.Named("retriever"))
	orch := NewOrchestrator(a, r, prompt.New(nil, logger), c.Generator, c.Validator,
		cfg.MaxAttempts, cfg.SQLTimeout, logger.Named("pipeline"))

	return &Service{
		store:          c.Store,
		generator:      c.Generator,
		validator:      c.Validator,
		metadata:       c.Metadata,
		retriever:      r,
		orchestrator:   orch,
		embeddingModel: c.EmbeddingModel,
		logger:         logger,
		now:            time.Now,
	}
}

// Open builds every component from cfg. An unreachable target database is
// not fatal: the service then runs offline, without dry runs or execution,
// and builds from watch.metadata_file if one is configured.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	logger = utils.OrNop(logger)

	emb, err := embedding.New(ctx, cfg.Embedding, cfg.Cache, logger.Named("embedding"))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	store, err := knowledge.Open(ctx, cfg.Knowledge, emb, logger.Named("knowledge"))
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}
	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		_ = store.Close()
		_ = emb.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	var (
		db      *sql.DB
		source  MetadataSource
		dialect database.Dialect
	)
	db, dialect, err = database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Warn("Could not connect to database, running in offline mode", zap.Error(err))
		dialect, _ = database.ParseDialect(cfg.Database.Type)
	} else {
		source = schema.NewIntrospector(db, dialect, cfg.Database.Name, logger.Named("schema"))
	}
	if source == nil && cfg.Watch.MetadataFile != "" {
		source = MetadataFile(cfg.Watch.MetadataFile)
	}

	s := NewService(cfg.Pipeline, Components{
		Store:          store,
		Generator:      gen,
		Validator:      validator.New(db, dialect, cfg.Pipeline.SQLTimeout, logger.Named("validator")),
		Metadata:       source,
		EmbeddingModel: cfg.Embedding.Provider + ":" + cfg.Embedding.Model,
	}, logger)
	s.closers = append(s.closers, store, emb)
	if db != nil {
		s.closers = append(s.closers, db)
	}
	return s, nil
}

// Close releases the store, embedder and database pool.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// QueryToSQL answers one natural-language question.
func (s *Service) QueryToSQL(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	return s.orchestrator.QueryToSQL(ctx, req)
}

// BuildOptions control a knowledge-base build.
type BuildOptions struct {
	Force bool
	Rules *knowledge.BusinessRules
}

// BuildResult reports a knowledge-base build.
type BuildResult struct {
	Skipped   bool `json:"skipped"`
	Documents int  `json:"documents"`
	Tables    int  `json:"tables"`
}

// BuildKnowledgeBase extracts the schema and replaces the knowledge base with
// documents rendered from it. A non-empty store is kept unless opts.Force.
func (s *Service) BuildKnowledgeBase(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	if !opts.Force && s.store.Count() > 0 {
		s.logger.Info("Knowledge base already exists, use force to rebuild", zap.Int("documents", s.store.Count()))
		return &BuildResult{Skipped: true, Documents: s.store.Count()}, nil
	}
	if s.metadata == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "no database connection or metadata file to build from")
	}

	md, err := s.metadata.Extract(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to extract metadata: %w", err)
	}
	docs := knowledge.BuildDocuments(md, opts.Rules, s.now())
	if err := s.store.Rebuild(ctx, docs); err != nil {
		return nil, err
	}
	s.logger.Info("Knowledge base built", zap.Int("documents", len(docs)), zap.Int("tables", len(md.Tables)))
	return &BuildResult{Documents: len(docs), Tables: len(md.Tables)}, nil
}

// AddBusinessRule records a named business metric in the business-rules document.
func (s *Service) AddBusinessRule(ctx context.Context, name, definition string) error {
	name, definition = strings.TrimSpace(name), strings.TrimSpace(definition)
	if name == "" || definition == "" {
		return apperrors.InvalidInput("rule name and definition are required")
	}
	existing, err := s.store.GetDocument(ctx, models.BusinessRulesID)
	if err != nil {
		return err
	}
	return s.store.Upsert(ctx, knowledge.AddBusinessRule(existing, name, definition, s.now()))
}

// TableSummary is one row of the schema overview.
type TableSummary struct {
	Name     string `json:"name"`
	Columns  int    `json:"columns"`
	RowCount int64  `json:"row_count"`
}

// SchemaInfo is either the overview of all tables or one table in detail.
type SchemaInfo struct {
	Tables []TableSummary     `json:"tables,omitempty"`
	Table  *models.TableEntry `json:"table,omitempty"`
}

// SchemaInfo describes table, or every table when table is empty.
func (s *Service) SchemaInfo(ctx context.Context, table string) (*SchemaInfo, error) {
	if table != "" {
		doc, err := s.store.GetDocument(ctx, models.TableDocumentID(table))
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, apperrors.NotFound("table %s not found", table)
		}
		entry := models.NewTableEntry(models.Match{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata})
		return &SchemaInfo{Table: &entry}, nil
	}

	sc, err := s.fullContext(ctx)
	if err != nil {
		return nil, err
	}
	info := &SchemaInfo{Tables: []TableSummary{}}
	for _, t := range sc.Tables {
		info.Tables = append(info.Tables, TableSummary{Name: t.Name, Columns: len(t.Columns), RowCount: t.RowCount})
	}
	return info, nil
}

// fullContext is a schema context holding every table of the knowledge base.
func (s *Service) fullContext(ctx context.Context) (*models.SchemaContext, error) {
	docs, err := s.store.ListDocuments(ctx, 0)
	if err != nil {
		return nil, err
	}
	sc := &models.SchemaContext{}
	for _, doc := range docs {
		if doc.Metadata.Type != models.DocTypeTable {
			continue
		}
		sc.Tables = append(sc.Tables, models.NewTableEntry(models.Match{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata}))
	}
	sc.Relationships = retriever.Relationships(sc.Tables)
	return sc, nil
}

// ValidateSQL validates sql against every table in the knowledge base.
// Validation failures are reported in the outcome, not as an error.
func (s *Service) ValidateSQL(ctx context.Context, query string) (*models.ValidationOutcome, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.InvalidInput("sql cannot be empty")
	}
	sc, err := s.fullContext(ctx)
	if err != nil {
		return nil, err
	}
	outcome, _ := s.validator.ValidateAndFix(ctx, query, sc)
	return &outcome, nil
}

// ExplainSQL returns the backend plan of sql.
func (s *Service) ExplainSQL(ctx context.Context, query string) (*models.ExplainResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.InvalidInput("sql cannot be empty")
	}
	return s.validator.Explain(ctx, query)
}

// Export writes the knowledge base as JSON to w.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	return s.store.Export(ctx, w)
}

// Import replaces the knowledge base with an export read from r.
func (s *Service) Import(ctx context.Context, r io.Reader) (int, error) {
	n, err := s.store.Import(ctx, r)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "failed to import knowledge base")
	}
	return n, nil
}

// Stats describes the knowledge base and the configured backends.
type Stats struct {
	*knowledge.Stats
	DatabaseType   string `json:"database_type"`
	LLMModel       string `json:"llm_model"`
	EmbeddingModel string `json:"embedding_model"`
}

// Stats reports knowledge-base counts and backend names.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ks, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Stats:          ks,
		DatabaseType:   string(s.validator.Dialect()),
		LLMModel:       s.generator.Model(),
		EmbeddingModel: s.embeddingModel,
	}, nil
}

// Rebuild is used by the file watcher: it rebuilds from the metadata source
// with rules loaded from rulesPath, if set.
func (s *Service) Rebuild(ctx context.Context, rulesPath string) error {
	var rules *knowledge.BusinessRules
	if rulesPath != "" {
		r, err := knowledge.LoadBusinessRules(rulesPath)
		if err != nil {
			return err
		}
		rules = r
	}
	_, err := s.BuildKnowledgeBase(ctx, BuildOptions{Force: true, Rules: rules})
	return err
}
