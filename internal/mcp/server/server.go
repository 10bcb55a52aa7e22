package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lczm/pgmcp/internal/database"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName = "postgres-mcp"

	instructions = `This server exposes a PostgreSQL database.
Read postgres://schema (or call list_tables) before writing SQL, and use
postgres://{table}/schema or get_table_schema for column details. Prefer
aggregated queries with LIMIT over large raw result sets.`
)

// Database is the part of *database.DB the tools and resources need.
type Database interface {
	Query(ctx context.Context, query string) (*database.QueryResult, error)
	ListTables(ctx context.Context, schema string) ([]database.Table, error)
	TableColumns(ctx context.Context, schema, table string) ([]database.Column, error)
	TableConstraints(ctx context.Context, schema, table string) ([]database.Constraint, error)
	TableIndexes(ctx context.Context, schema, table string) ([]database.Index, error)
	DatabaseSchema(ctx context.Context, schema string) ([]database.TableSchema, error)
	Explain(ctx context.Context, query string, opts database.ExplainOptions) (*database.ExplainResult, error)
}

type Config struct {
	Logger   *slog.Logger
	DB       Database
	Version  string
	ReadOnly bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return nil
}

type Server struct {
	log *slog.Logger
	cfg Config
	mcp *mcp.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: cfg.Version,
	}, &mcp.ServerOptions{
		Instructions: instructions,
	})

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcpServer,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()

	return s, nil
}

// MCP returns the underlying SDK server, for callers that manage their own transport.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves a single session on transport until the peer disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.log.Info("mcp/server: running", "name", serverName, "version", s.cfg.Version, "read_only", s.cfg.ReadOnly)
	if err := s.mcp.Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	s.log.Info("mcp/server: session closed")
	return nil
}
