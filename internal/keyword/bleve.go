package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/text2sql/internal/models"
)

var _ Index = (*BleveIndex)(nil)

// BleveIndex implements Index on a bleve scorch index.
type BleveIndex struct {
	index bleve.Index
}

// indexedDocument is the shape handed to bleve. Columns are joined so a
// question mentioning a column name finds its table.
type indexedDocument struct {
	Content   string `json:"content"`
	Columns   string `json:"columns"`
	Type      string `json:"type"`
	TableName string `json:"table_name"`
}

func toIndexed(doc *models.Document) indexedDocument {
	return indexedDocument{
		Content:   doc.Content,
		Columns:   strings.Join(doc.Metadata.Columns, " "),
		Type:      doc.Metadata.Type,
		TableName: doc.Metadata.TableName,
	}
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused.
// If you change the index mapping in code, remove the index directory to force a rebuild.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + unicode segmentation, no stemming) keeps
	// identifiers such as order_amount intact and splits Han text per character.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("columns", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("table_name", keywordFieldMapping)
	im.AddDocumentMapping("document", docMapping)
	im.DefaultType = "document"
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes a single document by its id, replacing any previous version.
func (b *BleveIndex) Index(ctx context.Context, doc *models.Document) error {
	return b.index.Index(doc.ID, toIndexed(doc))
}

// IndexBatch indexes documents in one bleve batch.
func (b *BleveIndex) IndexBatch(ctx context.Context, docs []*models.Document) error {
	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(doc.ID, toIndexed(doc)); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search matches text against content, column names and table names and
// returns up to limit hits ordered by score.
func (b *BleveIndex) Search(ctx context.Context, text string, limit int, q Query) ([]Hit, error) {
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return nil, nil
	}
	tableBoost, columnBoost := q.TableBoost, q.ColumnBoost
	if tableBoost <= 0 {
		tableBoost = 1
	}
	if columnBoost <= 0 {
		columnBoost = 1
	}

	var content, columns blevequery.Query
	if q.Fuzziness > 0 {
		content = buildFuzzyQuery(text, q.Fuzziness, "content", 1)
		columns = buildFuzzyQuery(text, q.Fuzziness, "columns", columnBoost)
	} else {
		cq := bleve.NewMatchQuery(text)
		cq.SetField("content")
		content = cq
		colq := bleve.NewMatchQuery(text)
		colq.SetField("columns")
		colq.SetBoost(columnBoost)
		columns = colq
	}

	should := []blevequery.Query{content, columns}
	for _, term := range tokenizeQuery(text) {
		tq := bleve.NewTermQuery(term)
		tq.SetField("table_name")
		tq.SetBoost(tableBoost)
		should = append(should, tq)
	}

	var root blevequery.Query = bleve.NewDisjunctionQuery(should...)
	if filters := whereFilters(q.Where); len(filters) > 0 {
		root = bleve.NewConjunctionQuery(append([]blevequery.Query{root}, filters...)...)
	}

	req := bleve.NewSearchRequest(root)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}
	out := make([]Hit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = Hit{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// whereFilters turns the set fields of w into keyword-field term queries.
func whereFilters(w models.Where) []blevequery.Query {
	var out []blevequery.Query
	if w.Type != "" {
		tq := bleve.NewTermQuery(w.Type)
		tq.SetField("type")
		out = append(out, tq)
	}
	if w.TableName != "" {
		tq := bleve.NewTermQuery(w.TableName)
		tq.SetField("table_name")
		out = append(out, tq)
	}
	return out
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ",.;:!?\"'()，。；：！？")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// buildFuzzyQuery ORs one fuzzy query per term of text, restricted to field.
func buildFuzzyQuery(text string, fuzziness int, field string, boost float64) blevequery.Query {
	terms := tokenizeQuery(text)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}

	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
