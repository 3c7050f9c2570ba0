package mcp

import (
	"context"
	"errors"

	"github.com/kaz/mcpsql/internal/query"
	"github.com/kaz/mcpsql/internal/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func (r *registrar) registerSchemaTools(s *server.MCPServer) {
	schemaInfoTool := mcp.NewTool("get_database_schema_info",
		mcp.WithDescription("Describes the connected MySQL database: server metadata, every table with its columns, "+
			"primary and foreign keys, and the relationship map between tables. "+
			"This can be slow on large schemas."),
	)
	s.AddTool(schemaInfoTool, logged("get_database_schema_info", r.handleSchemaInfo))

	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describes a single table: columns, primary and foreign keys, indexes and size."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Table name"),
		),
	)
	s.AddTool(describeTableTool, logged("describe_table", r.handleDescribeTable))
}

func (r *registrar) handleSchemaInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := r.Schema.Information(ctx)
	if errors.Is(err, schema.ErrNoTables) {
		return toolError("%v", err), nil
	}
	if err != nil {
		return toolError("failed to read schema: %v", err), nil
	}
	return newToolResultJSON(info)
}

func (r *registrar) handleDescribeTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil || table == "" {
		return toolError("table is required"), nil
	}

	detail, err := r.Schema.Table(ctx, table)
	if err != nil {
		return toolError("%v", err), nil
	}
	return newToolResultJSON(detail)
}

func (r *registrar) registerQueryTools(s *server.MCPServer) {
	executeTool := mcp.NewTool("execute_query_tool",
		mcp.WithDescription("Executes a SQL statement against the MySQL database and reports its execution time. "+
			"SELECT and other reads return rows; INSERT, UPDATE, DELETE and REPLACE run in a transaction and return the number of affected rows. "+
			"Always pass dynamic values through params instead of concatenating them into the query."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL statement to execute, using ? placeholders for parameters"),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameter values bound to the ? placeholders"),
		),
		mcp.WithBoolean("fetch_all",
			mcp.Description("Return every row (true) or only the first row (false)"),
			mcp.DefaultBool(true),
		),
	)
	s.AddTool(executeTool, logged("execute_query_tool", r.handleExecuteQuery))
}

func (r *registrar) handleExecuteQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return toolError("query is required"), nil
	}
	params, err := sqlParams(req.GetArguments()["params"])
	if err != nil {
		return toolError("%v", err), nil
	}

	out, err := r.Query.Execute(ctx, q, params, req.GetBool("fetch_all", true))
	if errors.Is(err, query.ErrEmptyQuery) {
		return toolError("%v", err), nil
	}
	if err != nil {
		return nil, err
	}
	return newToolResultJSON(out)
}
