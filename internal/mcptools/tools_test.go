package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeService struct {
	req   models.QueryRequest
	rules map[string]string
	err   error
}

func (f *fakeService) QueryToSQL(_ context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.QueryResult{Query: req.Query, SQL: "SELECT COUNT(*) FROM users", IsValid: true}, nil
}

func (f *fakeService) ValidateSQL(_ context.Context, sql string) (*models.ValidationOutcome, error) {
	return &models.ValidationOutcome{Stage: models.StageSemantic, Valid: false, Error: "Invalid table(s): nope"}, nil
}

func (f *fakeService) ExplainSQL(_ context.Context, sql string) (*models.ExplainResult, error) {
	return &models.ExplainResult{SQL: sql, Plan: json.RawMessage(`[]`), QueryType: "aggregation"}, nil
}

func (f *fakeService) SchemaInfo(_ context.Context, table string) (*pipeline.SchemaInfo, error) {
	if table == "" {
		return &pipeline.SchemaInfo{Tables: []pipeline.TableSummary{{Name: "users", Columns: 3, RowCount: 10}}}, nil
	}
	if table != "users" {
		return nil, apperrors.NotFound("table %s not found", table)
	}
	return &pipeline.SchemaInfo{Table: &models.TableEntry{Name: "users", Document: "# Table: users"}}, nil
}

func (f *fakeService) AddBusinessRule(_ context.Context, name, definition string) error {
	if f.rules == nil {
		f.rules = map[string]string{}
	}
	f.rules[name] = definition
	return nil
}

func call(t *testing.T, h server.ToolHandlerFunc, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := h(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok, "result content is not text")
	return text.Text, result.IsError
}

func TestQueryToSQLTool(t *testing.T) {
	svc := &fakeService{}
	text, isErr := call(t, wrapQuery(svc, zap.NewNop()), "query_to_sql", map[string]any{
		"query":             "用户总数",
		"max_corrections":   2,
		"show_intermediate": true,
	})
	require.False(t, isErr, text)

	var out models.QueryResult
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, "SELECT COUNT(*) FROM users", out.SQL)
	assert.Equal(t, 2, svc.req.Attempts())
	assert.True(t, svc.req.ShowIntermediate)
}

func TestQueryToSQLTool_DefaultCorrections(t *testing.T) {
	svc := &fakeService{}
	text, isErr := call(t, wrapQuery(svc, nil), "query_to_sql", map[string]any{"query": "用户总数"})
	require.False(t, isErr, text)
	assert.Nil(t, svc.req.MaxCorrections)
}

func TestQueryToSQLTool_Error(t *testing.T) {
	svc := &fakeService{err: &apperrors.GenerationError{Err: errors.New("model not loaded")}}
	text, isErr := call(t, wrapQuery(svc, nil), "query_to_sql", map[string]any{"query": "x"})
	assert.True(t, isErr)
	assert.Contains(t, text, "model not loaded")
}

func TestValidateSQLTool(t *testing.T) {
	text, isErr := call(t, wrapValidate(&fakeService{}), "validate_sql", map[string]any{"sql": "SELECT * FROM nope"})
	require.False(t, isErr)
	assert.Contains(t, text, `"is_valid": false`)
	assert.Contains(t, text, "Invalid table(s): nope")
}

func TestExplainSQLTool(t *testing.T) {
	text, isErr := call(t, wrapExplain(&fakeService{}), "explain_sql", map[string]any{"sql": "SELECT city, COUNT(*) FROM users GROUP BY city"})
	require.False(t, isErr)
	assert.Contains(t, text, `"query_type": "aggregation"`)
}

func TestSchemaInfoTool(t *testing.T) {
	svc := &fakeService{}
	h := wrapSchema(svc)

	text, isErr := call(t, h, "schema_info", map[string]any{})
	require.False(t, isErr)
	assert.Contains(t, text, `"name": "users"`)

	text, isErr = call(t, h, "schema_info", map[string]any{"table_name": "users"})
	require.False(t, isErr)
	assert.Equal(t, "# Table: users", text)

	text, isErr = call(t, h, "schema_info", map[string]any{"table_name": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, text, "not found")
}

func TestAddBusinessRuleTool(t *testing.T) {
	svc := &fakeService{}
	text, isErr := call(t, wrapAddRule(svc, zap.NewNop()), "add_business_rule", map[string]any{
		"rule_name":       "GMV",
		"rule_definition": "成交总额",
	})
	require.False(t, isErr)
	assert.Contains(t, text, "GMV")
	assert.Equal(t, "成交总额", svc.rules["GMV"])
}

func TestNewServer(t *testing.T) {
	require.NotNil(t, NewServer(&fakeService{}, "test", nil))
}
