// Package retriever assembles the schema context of a question from the knowledge store.
package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/analyzer"
	"github.com/hyperjump/text2sql/internal/metrics"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// Searcher is the knowledge-store capability retrieval needs.
type Searcher interface {
	Search(ctx context.Context, text string, topK int, where models.Where) ([]models.Match, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

// KeywordSearcher is implemented by stores that also offer keyword search.
// FindRelatedTables uses it when available.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, text string, topK int, where models.Where) ([]models.Match, error)
}

const (
	relatedTopK     = 5
	maxRelatedTable = 2
)

var tableOnly = models.Where{Type: models.DocTypeTable}

// Options control one retrieval.
type Options struct {
	TopK           int
	ScoreThreshold float64
	Hybrid         bool
	// SchemaBudget caps the rendered schema size in bytes. Above it each
	// table is narrowed to its relevant columns. Zero disables the cap.
	SchemaBudget int
}

// Option overrides a default retrieval option.
type Option func(*Options)

// WithTopK sets the number of matches requested per search.
func WithTopK(k int) Option { return func(o *Options) { o.TopK = k } }

// WithScoreThreshold sets the minimum similarity; matches farther than
// 1-threshold are dropped.
func WithScoreThreshold(t float64) Option { return func(o *Options) { o.ScoreThreshold = t } }

// WithHybrid toggles searching with the enhanced query as well.
func WithHybrid(h bool) Option { return func(o *Options) { o.Hybrid = h } }

// WithSchemaBudget sets the rendered schema size above which tables are
// narrowed to their relevant columns.
func WithSchemaBudget(n int) Option { return func(o *Options) { o.SchemaBudget = n } }

// Retriever builds schema contexts.
type Retriever struct {
	store    Searcher
	analyzer *analyzer.Analyzer
	defaults Options
	logger   *zap.Logger
}

// New creates a retriever. defaults apply when a call passes no overriding Option.
func New(store Searcher, a *analyzer.Analyzer, defaults Options, logger *zap.Logger) *Retriever {
	if a == nil {
		a = analyzer.New()
	}
	if defaults.TopK <= 0 {
		defaults.TopK = 3
	}
	return &Retriever{store: store, analyzer: a, defaults: defaults, logger: utils.OrNop(logger)}
}

// Retrieve analyzes query and assembles its schema context.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...Option) (*models.SchemaContext, error) {
	return r.RetrieveParsed(ctx, r.analyzer.Parse(query), opts...)
}

// RetrieveParsed assembles the schema context for an already analyzed query.
// Matches from the original and, when hybrid, the enhanced query are kept if
// their distance is at most 1-threshold, then merged in first-seen order.
func (r *Retriever) RetrieveParsed(ctx context.Context, parsed *models.ParsedQuery, opts ...Option) (*models.SchemaContext, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.RetrievalDuration, start)

	o := r.defaults
	for _, opt := range opts {
		opt(&o)
	}

	queries := []string{parsed.Original}
	if o.Hybrid {
		queries = append(queries, analyzer.EnhanceSearchQuery(parsed))
	}

	maxDistance := 1 - o.ScoreThreshold
	var kept []models.Match
	seen := make(map[string]bool)
	for _, q := range queries {
		matches, err := r.store.Search(ctx, q, o.TopK, tableOnly)
		if err != nil {
			return nil, fmt.Errorf("knowledge search failed: %w", err)
		}
		for _, m := range matches {
			if m.Distance > maxDistance || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			kept = append(kept, m)
		}
	}

	sc := &models.SchemaContext{}
	names := make(map[string]bool)
	for _, m := range kept {
		entry := models.NewTableEntry(m)
		if names[entry.Name] {
			continue
		}
		names[entry.Name] = true
		sc.Tables = append(sc.Tables, entry)
	}
	sc.Relationships = Relationships(sc.Tables)
	sc.FullSchema = RenderSchema(sc.Tables)
	if o.SchemaBudget > 0 && len(sc.FullSchema) > o.SchemaBudget {
		r.narrow(parsed, sc.Tables)
	}

	rules, err := r.store.GetDocument(ctx, models.BusinessRulesID)
	if err != nil {
		r.logger.Warn("Could not retrieve business rules", zap.Error(err))
	} else if rules != nil {
		sc.BusinessRules = rules.Content
	}

	r.logger.Debug("Retrieved schema context",
		zap.Strings("tables", sc.TableNames()),
		zap.Int("relationships", len(sc.Relationships)),
		zap.Duration("took", time.Since(start)))
	return sc, nil
}

// Relationships returns the foreign keys of tables whose referenced table is
// also among tables. References to other tables are dropped.
func Relationships(tables []models.TableEntry) []models.Relationship {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t.Name] = true
	}
	var rels []models.Relationship
	for _, t := range tables {
		for _, fk := range t.ForeignKeys {
			if !present[fk.References.Table] {
				continue
			}
			rels = append(rels, models.Relationship{
				FromTable:  t.Name,
				FromColumn: fk.Column,
				ToTable:    fk.References.Table,
				ToColumn:   fk.References.Column,
			})
		}
	}
	return rels
}

// RenderSchema concatenates the table documents under per-table headers.
func RenderSchema(tables []models.TableEntry) string {
	var b strings.Builder
	for _, t := range tables {
		fmt.Fprintf(&b, "\n\n--- Table: %s ---\n", t.Name)
		b.WriteString(t.Document)
	}
	return b.String()
}

// FindRelatedTables searches per extracted entity for tables not yet in
// current and returns at most two of them.
func (r *Retriever) FindRelatedTables(ctx context.Context, query string, current []string) []string {
	parsed := r.analyzer.Parse(query)
	exclude := make(map[string]bool, len(current))
	for _, name := range current {
		exclude[name] = true
	}

	kw, _ := r.store.(KeywordSearcher)
	var related []string
	add := func(matches []models.Match) {
		for _, m := range matches {
			name := models.NewTableEntry(m).Name
			if name == "" || exclude[name] {
				continue
			}
			exclude[name] = true
			related = append(related, name)
		}
	}

	for _, entity := range parsed.Entities {
		matches, err := r.store.Search(ctx, entity, relatedTopK, tableOnly)
		if err != nil {
			r.logger.Warn("Related table search failed", zap.String("entity", entity), zap.Error(err))
			return nil
		}
		add(matches)
		if kw != nil {
			matches, err := kw.KeywordSearch(ctx, entity, relatedTopK, tableOnly)
			if err != nil {
				r.logger.Warn("Related table keyword search failed", zap.String("entity", entity), zap.Error(err))
			} else {
				add(matches)
			}
		}
	}
	if len(related) > maxRelatedTable {
		related = related[:maxRelatedTable]
	}
	return related
}

// Expand returns a copy of sc with the named tables appended. Names already
// in sc or without a table document are skipped.
func (r *Retriever) Expand(ctx context.Context, sc *models.SchemaContext, names []string) (*models.SchemaContext, error) {
	out := &models.SchemaContext{BusinessRules: sc.BusinessRules}
	out.Tables = append(out.Tables, sc.Tables...)
	for _, name := range names {
		if _, ok := out.Table(name); ok {
			continue
		}
		doc, err := r.store.GetDocument(ctx, models.TableDocumentID(name))
		if err != nil {
			return nil, fmt.Errorf("failed to load table %s: %w", name, err)
		}
		if doc == nil {
			continue
		}
		out.Tables = append(out.Tables, models.NewTableEntry(models.Match{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}))
	}
	out.Relationships = Relationships(out.Tables)
	out.FullSchema = RenderSchema(out.Tables)
	return out, nil
}

var timeColumnMarkers = []string{"time", "date", "created", "updated"}

// RelevantColumns narrows a table's columns to those the query likely needs:
// time columns when a relative time range is present, columns containing a
// metric or entity, and the primary keys. It returns nil if the table is unknown.
func (r *Retriever) RelevantColumns(ctx context.Context, query, table string) ([]string, error) {
	doc, err := r.store.GetDocument(ctx, models.TableDocumentID(table))
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return relevantColumns(r.analyzer.Parse(query), doc.Metadata.Columns, doc.Metadata.PrimaryKeys), nil
}

func relevantColumns(parsed *models.ParsedQuery, columns, primaryKeys []string) []string {
	var out []string
	if parsed.TimeRange.RelativeTime != "" {
		for _, col := range columns {
			if utils.ContainsAny(strings.ToLower(col), timeColumnMarkers...) {
				out = utils.AppendUnique(out, col)
			}
		}
	}
	for _, term := range append(append([]string{}, parsed.Metrics...), parsed.Entities...) {
		term = strings.ToLower(term)
		for _, col := range columns {
			if strings.Contains(strings.ToLower(col), term) {
				out = utils.AppendUnique(out, col)
			}
		}
	}
	return utils.AppendUnique(out, primaryKeys...)
}

// narrow sets the focus of each table whose relevant columns are a strict
// subset of its columns. The full column list stays for validation.
func (r *Retriever) narrow(parsed *models.ParsedQuery, tables []models.TableEntry) {
	for i := range tables {
		t := &tables[i]
		focus := relevantColumns(parsed, t.Columns, t.PrimaryKeys)
		if len(focus) == 0 || len(focus) >= len(t.Columns) {
			continue
		}
		t.Focus = focus
		r.logger.Debug("Narrowed table columns",
			zap.String("table", t.Name),
			zap.Int("columns", len(t.Columns)),
			zap.Int("kept", len(focus)))
	}
}
