// Package mcptools exposes the text2sql pipeline as MCP tools over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/pipeline"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Service is the part of the pipeline reachable from MCP clients.
type Service interface {
	QueryToSQL(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	ValidateSQL(ctx context.Context, sql string) (*models.ValidationOutcome, error)
	ExplainSQL(ctx context.Context, sql string) (*models.ExplainResult, error)
	SchemaInfo(ctx context.Context, table string) (*pipeline.SchemaInfo, error)
	AddBusinessRule(ctx context.Context, name, definition string) error
}

// QueryArgs are the arguments of query_to_sql.
type QueryArgs struct {
	Query            string `json:"query" jsonschema:"required,description=自然语言问题"`
	MaxCorrections   *int   `json:"max_corrections,omitempty" jsonschema:"description=最大修正次数"`
	ShowIntermediate bool   `json:"show_intermediate,omitempty" jsonschema:"description=返回中间步骤"`
}

// SQLArgs are the arguments of validate_sql and explain_sql.
type SQLArgs struct {
	SQL string `json:"sql" jsonschema:"required,description=SQL语句"`
}

// SchemaArgs are the arguments of schema_info.
type SchemaArgs struct {
	TableName string `json:"table_name,omitempty" jsonschema:"description=表名，为空时返回所有表"`
}

// RuleArgs are the arguments of add_business_rule.
type RuleArgs struct {
	RuleName       string `json:"rule_name" jsonschema:"required,description=规则名称"`
	RuleDefinition string `json:"rule_definition" jsonschema:"required,description=规则定义"`
}

// NewServer builds an MCP server with every text2sql tool registered.
func NewServer(svc Service, version string, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer("text2sql", version, server.WithToolCapabilities(true))
	Register(s, svc, logger)
	return s
}

// Register adds the text2sql tools to s.
func Register(s *server.MCPServer, svc Service, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.AddTool(mcp.NewTool("query_to_sql",
		mcp.WithDescription("Convert a natural-language question into validated SQL and execute it."),
		mcp.WithInputSchema[QueryArgs](),
	), wrapQuery(svc, logger))
	s.AddTool(mcp.NewTool("validate_sql",
		mcp.WithDescription("Validate SQL syntax and table/column references against the knowledge base."),
		mcp.WithInputSchema[SQLArgs](),
	), wrapValidate(svc))
	s.AddTool(mcp.NewTool("explain_sql",
		mcp.WithDescription("Return the database execution plan and estimated cost of a SQL query."),
		mcp.WithInputSchema[SQLArgs](),
	), wrapExplain(svc))
	s.AddTool(mcp.NewTool("schema_info",
		mcp.WithDescription("List the tables of the knowledge base, or describe one table."),
		mcp.WithInputSchema[SchemaArgs](),
	), wrapSchema(svc))
	s.AddTool(mcp.NewTool("add_business_rule",
		mcp.WithDescription("Add a named business metric definition to the knowledge base."),
		mcp.WithInputSchema[RuleArgs](),
	), wrapAddRule(svc, logger))
}

// ServeStdio serves the tools on stdin/stdout until the client disconnects.
func ServeStdio(svc Service, version string, logger *zap.Logger) error {
	return server.ServeStdio(NewServer(svc, version, logger))
}

func wrapQuery(svc Service, logger *zap.Logger) server.ToolHandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args QueryArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		logger.Debug("mcp query_to_sql", zap.String("query", args.Query))
		result, err := svc.QueryToSQL(ctx, models.QueryRequest{
			Query:            args.Query,
			MaxCorrections:   args.MaxCorrections,
			ShowIntermediate: args.ShowIntermediate,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(result)
	}
}

func wrapValidate(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SQLArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		outcome, err := svc.ValidateSQL(ctx, args.SQL)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(outcome)
	}
}

func wrapExplain(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SQLArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		plan, err := svc.ExplainSQL(ctx, args.SQL)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(plan)
	}
}

func wrapSchema(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args SchemaArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		info, err := svc.SchemaInfo(ctx, args.TableName)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if info.Table != nil {
			return mcp.NewToolResultText(info.Table.Document), nil
		}
		return jsonResult(info)
	}
}

func wrapAddRule(svc Service, logger *zap.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args RuleArgs
		if err := request.BindArguments(&args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if err := svc.AddBusinessRule(ctx, args.RuleName, args.RuleDefinition); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		logger.Info("business rule added", zap.String("rule", args.RuleName))
		return mcp.NewToolResultText(fmt.Sprintf("business rule %q added", args.RuleName)), nil
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
