package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lczm/pgmcp/internal/database"
	"github.com/lczm/pgmcp/internal/mcp/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	SchemaResourceURI      = "postgres://schema"
	TableSchemaURITemplate = "postgres://{table}/schema"

	resourcePrefix = "postgres://"
	resourceSuffix = "/schema"
	jsonMIMEType   = "application/json"
)

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         SchemaResourceURI,
		Name:        "database_schema",
		Description: "Every table and view in the public schema with its columns and data types",
		MIMEType:    jsonMIMEType,
	}, s.readDatabaseSchema)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: TableSchemaURITemplate,
		Name:        "table_schema",
		Description: "Column definitions for one table; use schema.table for tables outside public",
		MIMEType:    jsonMIMEType,
	}, s.readTableSchema)
}

func (s *Server) readDatabaseSchema(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	tables, err := s.cfg.DB.DatabaseSchema(ctx, "")
	metrics.ObserveResourceRead("schema", err)
	if err != nil {
		s.log.Warn("mcp/server: failed to read database schema", "error", err)
		return nil, err
	}
	return jsonResource(req.Params.URI, map[string]any{"tables": tables})
}

func (s *Server) readTableSchema(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	schema, table, err := parseTableURI(uri)
	if err != nil {
		metrics.ObserveResourceRead("table_schema", err)
		return nil, mcp.ResourceNotFoundError(uri)
	}

	columns, err := s.cfg.DB.TableColumns(ctx, schema, table)
	metrics.ObserveResourceRead("table_schema", err)
	if errors.Is(err, database.ErrTableNotFound) {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	if err != nil {
		s.log.Warn("mcp/server: failed to read table schema", "table", table, "error", err)
		return nil, err
	}
	return jsonResource(uri, TableSchemaOutput{Table: table, Columns: columns})
}

// parseTableURI splits postgres://[schema.]table/schema. An empty schema means public.
func parseTableURI(uri string) (schema, table string, err error) {
	name, ok := strings.CutPrefix(uri, resourcePrefix)
	if !ok {
		return "", "", fmt.Errorf("unexpected resource uri %q", uri)
	}
	name, ok = strings.CutSuffix(name, resourceSuffix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("unexpected resource uri %q", uri)
	}
	name, err = url.PathUnescape(name)
	if err != nil {
		return "", "", fmt.Errorf("unexpected resource uri %q: %w", uri, err)
	}
	if before, after, found := strings.Cut(name, "."); found && before != "" && after != "" {
		return before, after, nil
	}
	return "", name, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: jsonMIMEType,
			Text:     string(data),
		}},
	}, nil
}
