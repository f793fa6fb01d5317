package knowledge

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hyperjump/text2sql/internal/config"
	"github.com/hyperjump/text2sql/internal/embedding"
	"github.com/hyperjump/text2sql/internal/models"
)

// countingEmbedder wraps the hash embedder, counting calls and optionally failing.
type countingEmbedder struct {
	*embedding.HashEmbedder
	calls atomic.Int64
	fail  atomic.Bool
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(64)}
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return nil, errors.New("embedding backend down")
	}
	return e.HashEmbedder.Embed(ctx, text)
}

func testConfig(t *testing.T) config.KnowledgeConfig {
	dir := t.TempDir()
	return config.KnowledgeConfig{
		DatabasePath: filepath.Join(dir, "knowledge.db"),
		BlevePath:    filepath.Join(dir, "bleve"),
	}
}

func openStore(t *testing.T, cfg config.KnowledgeConfig, emb embedding.Embedder) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, emb, nil, WithConcurrency(2))
	require.NoError(t, err)
	return s
}

func sampleDocs() []*models.Document {
	return []*models.Document{
		{
			ID:      "table_users",
			Content: "# Table: users\n\n## Description\n用户表\n\n## Columns\n- **id**: int (主键)\n- **username**: varchar\n- **city**: varchar - 城市\n",
			Metadata: models.DocumentMetadata{
				Type: models.DocTypeTable, TableName: "users",
				Columns: []string{"id", "username", "city"}, PrimaryKeys: []string{"id"},
			},
		},
		{
			ID:      "table_orders",
			Content: "# Table: orders\n\n## Description\n订单表\n\n## Columns\n- **id**: bigint (主键)\n- **user_id**: bigint\n- **order_amount**: decimal - 订单金额\n",
			Metadata: models.DocumentMetadata{
				Type: models.DocTypeTable, TableName: "orders",
				Columns:     []string{"id", "user_id", "order_amount"},
				PrimaryKeys: []string{"id"},
				ForeignKeys: []models.ForeignKey{{Column: "user_id", References: models.ColumnRef{Table: "users", Column: "id"}}},
			},
		},
		{
			ID:       models.BusinessRulesID,
			Content:  "# Business Rules and Definitions\n\n## Business Metrics\n- **GMV**: 订单金额总和",
			Metadata: models.DocumentMetadata{Type: models.DocTypeBusiness},
		},
	}
}

func TestStore_EmptyStore(t *testing.T) {
	s := openStore(t, testConfig(t), newCountingEmbedder())
	defer s.Close()
	ctx := context.Background()

	matches, err := s.Search(ctx, "用户", 3, models.Where{})
	require.NoError(t, err)
	assert.Empty(t, matches)

	doc, err := s.GetDocument(ctx, models.BusinessRulesID)
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Zero(t, s.Count())

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.DocumentCount)
	assert.Empty(t, st.Generation)
}

func TestStore_RebuildAndSearch(t *testing.T) {
	s := openStore(t, testConfig(t), newCountingEmbedder())
	defer s.Close()
	ctx := context.Background()

	docs := sampleDocs()
	usersContent := docs[0].Content
	require.NoError(t, s.Rebuild(ctx, docs))
	assert.Equal(t, 3, s.Count())

	matches, err := s.Search(ctx, usersContent, 3, models.Where{Type: models.DocTypeTable})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "table_users", matches[0].ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-5)
	for _, m := range matches {
		assert.Equal(t, models.DocTypeTable, m.Metadata.Type)
		assert.GreaterOrEqual(t, m.Distance, 0.0)
		assert.LessOrEqual(t, m.Distance, 2.0)
	}

	kw, err := s.KeywordSearch(ctx, "order_amount", 5, models.Where{Type: models.DocTypeTable})
	require.NoError(t, err)
	require.NotEmpty(t, kw)
	assert.Equal(t, "table_orders", kw[0].ID)

	doc, err := s.GetDocument(ctx, models.BusinessRulesID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Contains(t, doc.Content, "GMV")

	list, err := s.ListDocuments(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.BusinessRulesID, list[0].ID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.DocumentCount)
	assert.Equal(t, 2, st.TableCount)
	assert.NotEmpty(t, st.Generation)
	assert.NotNil(t, st.LastUpdated)
	assert.Positive(t, st.DiskBytes)
}

func TestStore_RebuildReplacesGeneration(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg, newCountingEmbedder())
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, sampleDocs()))
	first := s.active.Load().id

	require.NoError(t, s.Rebuild(ctx, sampleDocs()[:1]))
	second := s.active.Load().id
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, s.Count())

	n, err := s.storage.CountDocuments(ctx, first)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(filepath.Join(cfg.BlevePath, first))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.vectorFile(first))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_FailedRebuildKeepsActive(t *testing.T) {
	emb := newCountingEmbedder()
	s := openStore(t, testConfig(t), emb)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, sampleDocs()))
	active := s.active.Load().id

	emb.fail.Store(true)
	err := s.Rebuild(ctx, sampleDocs()[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding backend down")
	emb.fail.Store(false)

	assert.Equal(t, active, s.active.Load().id)
	assert.Equal(t, 3, s.Count())

	gen, err := s.storage.ActiveGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, active, gen.ID)
}

func TestStore_RejectsDuplicateIDs(t *testing.T) {
	s := openStore(t, testConfig(t), newCountingEmbedder())
	defer s.Close()
	docs := sampleDocs()
	docs[1].ID = docs[0].ID
	assert.Error(t, s.Rebuild(context.Background(), docs))
	assert.Zero(t, s.Count())
}

func TestStore_LoadReusesPersistedIndexes(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s := openStore(t, cfg, newCountingEmbedder())
	require.NoError(t, s.Rebuild(ctx, sampleDocs()))
	id := s.active.Load().id
	require.NoError(t, s.Close())

	emb := newCountingEmbedder()
	s = openStore(t, cfg, emb)
	defer s.Close()
	assert.Zero(t, emb.calls.Load(), "vectors come from the saved index file")
	assert.Equal(t, id, s.active.Load().id)
	assert.Equal(t, 3, s.Count())

	matches, err := s.Search(ctx, sampleDocs()[1].Content, 1, models.Where{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "table_orders", matches[0].ID)
}

func TestStore_LoadReembedsWithoutVectorFile(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s := openStore(t, cfg, newCountingEmbedder())
	require.NoError(t, s.Rebuild(ctx, sampleDocs()))
	vecFile := s.vectorFile(s.active.Load().id)
	require.NoError(t, s.Close())
	require.NoError(t, os.Remove(vecFile))

	emb := newCountingEmbedder()
	s = openStore(t, cfg, emb)
	defer s.Close()
	assert.Equal(t, int64(3), emb.calls.Load())
	_, err := os.Stat(vecFile)
	assert.NoError(t, err)
}

func TestStore_Upsert(t *testing.T) {
	s := openStore(t, testConfig(t), newCountingEmbedder())
	defer s.Close()
	ctx := context.Background()

	rules := AddBusinessRule(nil, "活跃用户", "近30天有登录的用户", buildTime)
	require.NoError(t, s.Upsert(ctx, rules))
	assert.Equal(t, 1, s.Count(), "first upsert builds a generation")
	gen := s.active.Load().id

	existing, err := s.GetDocument(ctx, models.BusinessRulesID)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, AddBusinessRule(existing, "GMV", "成交总额", buildTime)))
	assert.Equal(t, gen, s.active.Load().id, "upsert applies in place")
	assert.Equal(t, 1, s.Count())

	got, err := s.GetDocument(ctx, models.BusinessRulesID)
	require.NoError(t, err)
	assert.Contains(t, got.Content, "GMV")
	assert.Contains(t, got.Content, "活跃用户")

	matches, err := s.Search(ctx, got.Content, 1, models.Where{Type: models.DocTypeBusiness})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 0, matches[0].Distance, 1e-5)

	kw, err := s.KeywordSearch(ctx, "GMV", 1, models.Where{})
	require.NoError(t, err)
	require.Len(t, kw, 1)
}

func TestStore_SearchDuringRebuild(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := openStore(t, testConfig(t), newCountingEmbedder())
	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx, sampleDocs()))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				matches, err := s.Search(ctx, "用户 城市", 3, models.Where{Type: models.DocTypeTable})
				if err != nil {
					errs <- err
					return
				}
				// Every generation built here holds both tables.
				if len(matches) != 2 {
					errs <- errors.New("observed a partial generation")
					return
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Rebuild(ctx, sampleDocs()))
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	require.NoError(t, s.Close())
}

func TestStore_ExportImport(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, testConfig(t), newCountingEmbedder())
	defer src.Close()
	require.NoError(t, src.Rebuild(ctx, sampleDocs()))

	var buf bytes.Buffer
	require.NoError(t, src.Export(ctx, &buf))
	assert.Contains(t, buf.String(), `"version": "1"`)
	assert.NotContains(t, buf.String(), "embedding")

	dst := openStore(t, testConfig(t), newCountingEmbedder())
	defer dst.Close()
	n, err := dst.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, dst.Count())

	doc, err := dst.GetDocument(ctx, "table_orders")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "users", doc.Metadata.ForeignKeys[0].References.Table)
}

func TestStore_ImportRejectsInvalidPayload(t *testing.T) {
	s := openStore(t, testConfig(t), newCountingEmbedder())
	defer s.Close()
	ctx := context.Background()

	for name, payload := range map[string]string{
		"not json":      `{`,
		"no documents":  `{"version": "1", "documents": []}`,
		"bad type":      `{"version": "1", "documents": [{"id": "x", "content": "c", "metadata": {"type": "view"}}]}`,
		"wrong version": `{"version": "2", "documents": [{"id": "x", "content": "c", "metadata": {"type": "table"}}]}`,
		"missing id":    `{"version": "1", "documents": [{"content": "c", "metadata": {"type": "table"}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Import(ctx, strings.NewReader(payload))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid export payload")
		})
	}
	assert.Zero(t, s.Count())
}
