package server

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lczm/pgmcp/internal/database"
	"github.com/lczm/pgmcp/internal/mcp/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolQuery            = "query"
	ToolListTables       = "list_tables"
	ToolTableSchema      = "get_table_schema"
	ToolTableConstraints = "get_table_constraints"
	ToolTableIndexes     = "get_table_indexes"
	ToolExplainAnalyze   = "explain_analyze"
)

type QueryInput struct {
	Query string `json:"query" jsonschema:"SQL query to execute"`
}

type TableListInput struct {
	Schema string `json:"schema,omitempty" jsonschema:"Schema name (default: public)"`
}

type TableInput struct {
	TableName string `json:"table_name" jsonschema:"Name of the table"`
	Schema    string `json:"schema,omitempty" jsonschema:"Schema name (default: public)"`
}

type ExplainInput struct {
	Query   string `json:"query" jsonschema:"SQL query to explain and analyze"`
	Analyze *bool  `json:"analyze,omitempty" jsonschema:"Run ANALYZE to get actual execution statistics (default: true)"`
	Verbose *bool  `json:"verbose,omitempty" jsonschema:"Include verbose output with additional details (default: false)"`
	Costs   *bool  `json:"costs,omitempty" jsonschema:"Include estimated startup and total costs (default: true)"`
	Buffers *bool  `json:"buffers,omitempty" jsonschema:"Include buffer usage statistics (default: false)"`
	Timing  *bool  `json:"timing,omitempty" jsonschema:"Include actual timing information (default: true)"`
	Summary *bool  `json:"summary,omitempty" jsonschema:"Include summary information (default: true)"`
	Format  string `json:"format,omitempty" jsonschema:"Output format: text, json, xml, or yaml (default: json)"`
}

type TableListOutput struct {
	Schema string           `json:"schema"`
	Tables []database.Table `json:"tables"`
}

type TableSchemaOutput struct {
	Table   string            `json:"table_name"`
	Columns []database.Column `json:"columns"`
}

type TableConstraintsOutput struct {
	Table       string                `json:"table_name"`
	Constraints []database.Constraint `json:"constraints"`
}

type TableIndexesOutput struct {
	Table   string           `json:"table_name"`
	Indexes []database.Index `json:"indexes"`
}

func (s *Server) registerTools() error {
	queryDescription := "Execute a SQL query against the PostgreSQL database and return results as JSON (columns, rows, count)."
	if s.cfg.ReadOnly {
		queryDescription += " The connection is read-only: INSERT, UPDATE, DELETE and DDL statements are rejected."
	}

	if err := addTool(s, ToolQuery, queryDescription, s.handleQuery); err != nil {
		return err
	}
	if err := addTool(s, ToolListTables, "List all tables in the specified schema (default: public)", s.handleListTables); err != nil {
		return err
	}
	if err := addTool(s, ToolTableSchema, "Get the schema information (columns, data types, etc.) for a specific table", s.handleTableSchema); err != nil {
		return err
	}
	if err := addTool(s, ToolTableConstraints, "Get all constraints (primary key, foreign key, unique, check) for a specific table", s.handleTableConstraints); err != nil {
		return err
	}
	if err := addTool(s, ToolTableIndexes, "Get all indexes for a specific table including index type and columns", s.handleTableIndexes); err != nil {
		return err
	}
	return addTool(s, ToolExplainAnalyze, "Run EXPLAIN ANALYZE on a query to get the query execution plan and performance metrics. Supports options for analyze, verbose, costs, buffers, timing, summary, and output format (text, json, xml, yaml). The statement runs in a transaction that is always rolled back.", s.handleExplain)
}

// addTool registers handle with schemas inferred from In and Out. A handler error is
// reported to the client as a tool result with IsError set; the session stays up.
func addTool[In, Out any](s *Server, name, description string, handle func(context.Context, In) (Out, error)) error {
	inputSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", name, err)
	}
	outputSchema, err := jsonschema.For[Out](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", name, err)
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		out, err := handle(ctx, in)
		duration := time.Since(start)
		metrics.ObserveToolCall(name, duration.Seconds(), err)

		if err != nil {
			s.log.Warn("mcp/server: tool call failed", "tool", name, "duration", duration, "error", err)
			var zero Out
			return nil, zero, err
		}
		s.log.Debug("mcp/server: tool call complete", "tool", name, "duration", duration)
		return nil, out, nil
	})
	return nil
}

func (s *Server) handleQuery(ctx context.Context, in QueryInput) (database.QueryResult, error) {
	// size only: statements may carry role passwords
	s.log.Debug("mcp/tool: running query", "sql_len", len(in.Query))
	res, err := s.cfg.DB.Query(ctx, in.Query)
	if err != nil {
		return database.QueryResult{}, err
	}
	metrics.QueryRowsReturned.Observe(float64(res.Count))
	return *res, nil
}

func (s *Server) handleListTables(ctx context.Context, in TableListInput) (TableListOutput, error) {
	tables, err := s.cfg.DB.ListTables(ctx, in.Schema)
	if err != nil {
		return TableListOutput{}, err
	}
	return TableListOutput{Schema: schemaOrDefault(in.Schema), Tables: tables}, nil
}

func (s *Server) handleTableSchema(ctx context.Context, in TableInput) (TableSchemaOutput, error) {
	columns, err := s.cfg.DB.TableColumns(ctx, in.Schema, in.TableName)
	if err != nil {
		return TableSchemaOutput{}, err
	}
	return TableSchemaOutput{Table: in.TableName, Columns: columns}, nil
}

func (s *Server) handleTableConstraints(ctx context.Context, in TableInput) (TableConstraintsOutput, error) {
	constraints, err := s.cfg.DB.TableConstraints(ctx, in.Schema, in.TableName)
	if err != nil {
		return TableConstraintsOutput{}, err
	}
	return TableConstraintsOutput{Table: in.TableName, Constraints: constraints}, nil
}

func (s *Server) handleTableIndexes(ctx context.Context, in TableInput) (TableIndexesOutput, error) {
	indexes, err := s.cfg.DB.TableIndexes(ctx, in.Schema, in.TableName)
	if err != nil {
		return TableIndexesOutput{}, err
	}
	return TableIndexesOutput{Table: in.TableName, Indexes: indexes}, nil
}

func (s *Server) handleExplain(ctx context.Context, in ExplainInput) (database.ExplainResult, error) {
	defaults := database.DefaultExplainOptions()
	opts := database.ExplainOptions{
		Analyze: boolOr(in.Analyze, defaults.Analyze),
		Verbose: boolOr(in.Verbose, defaults.Verbose),
		Costs:   boolOr(in.Costs, defaults.Costs),
		Buffers: boolOr(in.Buffers, defaults.Buffers),
		Timing:  boolOr(in.Timing, defaults.Timing),
		Summary: boolOr(in.Summary, defaults.Summary),
		Format:  cmp.Or(in.Format, defaults.Format),
	}
	res, err := s.cfg.DB.Explain(ctx, in.Query, opts)
	if err != nil {
		return database.ExplainResult{}, err
	}
	return *res, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func schemaOrDefault(schema string) string {
	if schema == "" {
		return "public"
	}
	return schema
}
