package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/text2sql/internal/config"
	"github.com/hyperjump/text2sql/internal/database"
	"github.com/hyperjump/text2sql/internal/embedding"
	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/knowledge"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/schema"
	"github.com/hyperjump/text2sql/internal/validator"
)

type staticMetadata struct {
	md    *schema.Metadata
	err   error
	calls int
}

func (s *staticMetadata) Extract(ctx context.Context) (*schema.Metadata, error) {
	s.calls++
	return s.md, s.err
}

func shopMetadata() *schema.Metadata {
	return &schema.Metadata{
		DatabaseType: "mysql",
		Tables: map[string]*schema.Table{
			"users": {
				Name:    "users",
				Comment: "用户表",
				Columns: []schema.Column{
					{Name: "id", Type: "bigint", IsPrimary: true},
					{Name: "username", Type: "varchar(64)"},
					{Name: "city", Type: "varchar(64)", Nullable: true, Comment: "城市"},
				},
				RowCount: 100,
			},
			"orders": {
				Name:    "orders",
				Comment: "订单表",
				Columns: []schema.Column{
					{Name: "id", Type: "bigint", IsPrimary: true},
					{Name: "user_id", Type: "bigint", IsForeign: true, References: &models.ColumnRef{Table: "users", Column: "id"}},
					{Name: "amount", Type: "decimal(10,2)"},
				},
				RowCount: 1000,
			},
		},
		ExtractedAt: time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC),
	}
}

func newService(t *testing.T, source MetadataSource) *Service {
	t.Helper()
	dir := t.TempDir()
	store, err := knowledge.Open(context.Background(), config.KnowledgeConfig{
		DatabasePath: filepath.Join(dir, "knowledge.db"),
		BlevePath:    filepath.Join(dir, "bleve"),
	}, embedding.NewHashEmbedder(64), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewService(config.PipelineConfig{TopK: 3, ScoreThreshold: 0, MaxAttempts: 2}, Components{
		Store:          store,
		Generator:      &scriptedGenerator{responses: []string{"```sql\nSELECT 1 AS ok\n```"}},
		Validator:      validator.New(nil, database.MySQL, 0, nil),
		Metadata:       source,
		EmbeddingModel: "hash:test",
	}, nil)
}

func TestService_BuildKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	source := &staticMetadata{md: shopMetadata()}
	s := newService(t, source)

	res, err := s.BuildKnowledgeBase(ctx, BuildOptions{Rules: &knowledge.BusinessRules{Metrics: map[string]string{"GMV": "订单金额总和"}}})
	require.NoError(t, err)
	assert.Equal(t, &BuildResult{Documents: 3, Tables: 2}, res)

	res, err = s.BuildKnowledgeBase(ctx, BuildOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, source.calls, "existing knowledge base is kept")

	res, err = s.BuildKnowledgeBase(ctx, BuildOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents, "force rebuild without rules drops the rules document")
	assert.Equal(t, 2, source.calls)
}

func TestService_BuildWithoutSource(t *testing.T) {
	s := newService(t, nil)
	_, err := s.BuildKnowledgeBase(context.Background(), BuildOptions{})
	assert.Equal(t, apperrors.ErrCodeConfig, apperrors.CodeOf(err))
}

func TestService_BuildExtractFailure(t *testing.T) {
	s := newService(t, &staticMetadata{err: errors.New("access denied")})
	_, err := s.BuildKnowledgeBase(context.Background(), BuildOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestService_AddBusinessRule(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &staticMetadata{md: shopMetadata()})
	_, err := s.BuildKnowledgeBase(ctx, BuildOptions{})
	require.NoError(t, err)

	require.NoError(t, s.AddBusinessRule(ctx, "客单价", "总金额除以订单数"))
	doc, err := s.store.GetDocument(ctx, models.BusinessRulesID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Contains(t, doc.Content, "- **客单价**: 总金额除以订单数")

	err = s.AddBusinessRule(ctx, " ", "x")
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}

func TestService_SchemaInfo(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &staticMetadata{md: shopMetadata()})
	_, err := s.BuildKnowledgeBase(ctx, BuildOptions{})
	require.NoError(t, err)

	info, err := s.SchemaInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []TableSummary{
		{Name: "orders", Columns: 3, RowCount: 1000},
		{Name: "users", Columns: 3, RowCount: 100},
	}, info.Tables)

	info, err = s.SchemaInfo(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, info.Table)
	assert.Equal(t, []string{"id", "user_id", "amount"}, info.Table.Columns)
	assert.Contains(t, info.Table.Document, "CREATE TABLE orders")

	_, err = s.SchemaInfo(ctx, "ghost")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestService_ValidateSQL(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &staticMetadata{md: shopMetadata()})
	_, err := s.BuildKnowledgeBase(ctx, BuildOptions{})
	require.NoError(t, err)

	out, err := s.ValidateSQL(ctx, "SELECT u.username, SUM(o.amount) FROM users u JOIN orders o ON u.id = o.user_id GROUP BY u.username")
	require.NoError(t, err)
	assert.True(t, out.Valid)

	out, err = s.ValidateSQL(ctx, "SELECT total FROM orders")
	require.NoError(t, err)
	assert.False(t, out.Valid)
	assert.Equal(t, models.StageSemantic, out.Stage)
	assert.Equal(t, "Invalid column(s) in table orders: total", out.Error)

	_, err = s.ValidateSQL(ctx, "")
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}

func TestService_QueryToSQL(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &staticMetadata{md: shopMetadata()})
	_, err := s.BuildKnowledgeBase(ctx, BuildOptions{})
	require.NoError(t, err)

	res, err := s.QueryToSQL(ctx, models.QueryRequest{Query: "统计每个城市的用户数量", ShowIntermediate: true})
	require.NoError(t, err)
	require.NotNil(t, res.Intermediate)
	assert.Equal(t, models.IntentAggregation, res.Intermediate.ParsedQuery.Intent)
	assert.Equal(t, "SELECT 1 AS ok", res.SQL)
	// Without a database the validated SQL comes back with no rows.
	assert.True(t, res.IsValid)
	assert.Equal(t, 0, res.CorrectionAttempts)
	assert.Empty(t, res.Error)
	assert.Empty(t, res.Rows)
}

func TestService_ExportImportAndStats(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &staticMetadata{md: shopMetadata()})
	_, err := s.BuildKnowledgeBase(ctx, BuildOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Export(ctx, &buf))

	other := newService(t, nil)
	n, err := other.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := other.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.DocumentCount)
	assert.Equal(t, 2, st.TableCount)
	assert.Equal(t, "mysql", st.DatabaseType)
	assert.Equal(t, "scripted", st.LLMModel)
	assert.Equal(t, "hash:test", st.EmbeddingModel)

	_, err = other.Import(ctx, bytes.NewBufferString(`{"documents": "nope"}`))
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}

func TestService_RebuildWithRulesFile(t *testing.T) {
	ctx := context.Background()
	s := newService(t, &staticMetadata{md: shopMetadata()})

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  GMV: 订单金额总和\n"), 0o644))
	require.NoError(t, s.Rebuild(ctx, path))

	doc, err := s.store.GetDocument(ctx, models.BusinessRulesID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Contains(t, doc.Content, "- **GMV**: 订单金额总和")

	assert.Error(t, s.Rebuild(ctx, filepath.Join(t.TempDir(), "missing.yaml")))
}
