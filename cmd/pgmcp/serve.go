package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lczm/pgmcp/internal/config"
	"github.com/lczm/pgmcp/internal/database"
	"github.com/lczm/pgmcp/internal/logger"
	"github.com/lczm/pgmcp/internal/mcp/metrics"
	"github.com/lczm/pgmcp/internal/mcp/server"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdin/stdout.",
		Long: `Run the MCP server on stdin/stdout.

Connection settings come from PGUSER, PGDATABASE, PGHOST and PGPASSWORD (plus the
optional PGPORT and PGSSLMODE), read from the environment or the --env-file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (e.g. localhost:9090); disabled when empty")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, metricsAddr string) error {
	log := logger.New(opts.verbose)

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	log.Info("pgmcp: starting server", "version", version, "config", cfg)

	db, err := database.Connect(ctx, database.Config{
		Logger:       log,
		ConnString:   cfg.Postgres.ConnString(),
		ReadOnly:     cfg.ReadOnly,
		MaxRows:      cfg.MaxRows,
		QueryTimeout: cfg.QueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Postgres.Redacted(), err)
	}
	defer db.Close()

	if metricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		stop, err := startMetricsServer(log, metricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	srv, err := server.New(server.Config{
		Logger:   log,
		DB:       db,
		Version:  version,
		ReadOnly: db.ReadOnly(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx, &mcp.StdioTransport{})
}

// startMetricsServer serves /metrics in the background and returns a func that shuts it down.
func startMetricsServer(log *slog.Logger, addr string) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	log.Info("pgmcp: prometheus metrics server listening", "address", listener.Addr().String())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("pgmcp: prometheus metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}, nil
}
