package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/text2sql/internal/models"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func fixtureDocs() []*models.Document {
	return []*models.Document{
		{
			ID:      "table_orders",
			Content: "表名: orders\n描述: 订单表\n字段信息:\n  - order_amount (decimal): 订单金额",
			Metadata: models.DocumentMetadata{
				Type:      models.DocTypeTable,
				TableName: "orders",
				Columns:   []string{"id", "user_id", "order_amount", "created_at"},
			},
		},
		{
			ID:      "table_users",
			Content: "表名: users\n描述: 用户表\n字段信息:\n  - city (varchar): 城市",
			Metadata: models.DocumentMetadata{
				Type:      models.DocTypeTable,
				TableName: "users",
				Columns:   []string{"id", "name", "city"},
			},
		},
		{
			ID:       models.BusinessRulesID,
			Content:  "业务规则和定义:\n- GMV: 订单金额总和",
			Metadata: models.DocumentMetadata{Type: models.DocTypeBusiness},
		},
	}
}

func TestBleveIndex_SearchByColumn(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexBatch(ctx, fixtureDocs()))

	results, err := idx.Search(ctx, "order_amount", 10, Query{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "table_orders", results[0].ID)
}

func TestBleveIndex_SearchByTableName(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexBatch(ctx, fixtureDocs()))

	results, err := idx.Search(ctx, "users", 10, Query{TableBoost: 3})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "table_users", results[0].ID)
}

func TestBleveIndex_TypeFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexBatch(ctx, fixtureDocs()))

	results, err := idx.Search(ctx, "订单", 10, Query{Where: models.Where{Type: models.DocTypeTable}})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, models.BusinessRulesID, r.ID)
	}

	results, err = idx.Search(ctx, "GMV", 10, Query{Where: models.Where{Type: models.DocTypeBusiness}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.BusinessRulesID, results[0].ID)
}

func TestBleveIndex_TableFilter(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexBatch(ctx, fixtureDocs()))

	// "id" is a column of both tables; the filter keeps only users.
	results, err := idx.Search(ctx, "id", 10, Query{Where: models.Where{TableName: "users"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "table_users", results[0].ID)
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.IndexBatch(ctx, fixtureDocs()))

	results, err := idx.Search(ctx, "citty", 10, Query{Fuzziness: 1})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "table_users", results[0].ID)
}

func TestBleveIndex_IndexDeleteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	require.NoError(t, err)
	ctx := context.Background()

	docs := fixtureDocs()
	for _, d := range docs {
		require.NoError(t, idx.Index(ctx, d))
	}
	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	require.NoError(t, idx.Delete(ctx, "table_users"))
	require.NoError(t, idx.Close())

	idx, err = NewBleveIndex(path)
	require.NoError(t, err)
	defer idx.Close()
	n, err = idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "  ", 10, Query{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
