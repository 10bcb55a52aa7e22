package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/lczm/pgmcp/internal/agent"
	"github.com/lczm/pgmcp/internal/config"
	"github.com/lczm/pgmcp/internal/logger"
	mcpclient "github.com/lczm/pgmcp/internal/mcp/client"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"
)

type clientOptions struct {
	server    string
	direct    bool
	logDir    string
	model     string
	maxRounds int
	maxTokens int64
}

func (o *clientOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.server, "server", "", "command that starts the MCP server (default: this binary's serve command)")
	fs.BoolVar(&o.direct, "direct", false, "skip the planning phase and run the tool loop directly")
	fs.StringVar(&o.logDir, "log-dir", agent.DefaultLogDir, "directory for planning_log.txt and execution_log.txt; empty disables them")
	fs.StringVar(&o.model, "model", "", "anthropic model (default: ANTHROPIC_MODEL or "+string(agent.DefaultModel)+")")
	fs.IntVar(&o.maxRounds, "max-rounds", 10, "maximum tool rounds per question")
	fs.Int64Var(&o.maxTokens, "max-tokens", 2000, "maximum output tokens per model call")
}

// serverCommand returns the argv used to spawn the MCP server.
func serverCommand(opts *rootOptions, server string) ([]string, error) {
	if server != "" {
		argv := strings.Fields(server)
		if len(argv) == 0 {
			return nil, fmt.Errorf("empty server command")
		}
		return argv, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	argv := []string{exe, "serve", "--env-file", opts.envFile}
	if opts.verbose {
		argv = append(argv, "--verbose")
	}
	return argv, nil
}

// connectMCP spawns the server as a child process and connects to it over stdio. A
// dropped session respawns the child.
func connectMCP(ctx context.Context, log *slog.Logger, opts *rootOptions, server string) (*mcpclient.Client, error) {
	argv, err := serverCommand(opts, server)
	if err != nil {
		return nil, err
	}
	log.Debug("pgmcp: spawning server", "command", argv[0])

	c, err := mcpclient.New(ctx, mcpclient.Config{
		Logger: log,
		NewTransport: func() mcp.Transport {
			cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
			if opts.verbose {
				cmd.Stderr = os.Stderr
			} else {
				cmd.Stderr = io.Discard
			}
			return &mcp.CommandTransport{Command: cmd}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	return c, nil
}

// session bundles what the chat and ask commands need.
type session struct {
	log     *slog.Logger
	mcp     *mcpclient.Client
	planner *agent.Planner
	direct  bool
}

func newSession(ctx context.Context, opts *rootOptions, copts *clientOptions) (*session, error) {
	log := logger.New(opts.verbose)

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	model := anthropic.Model(cfg.AnthropicModel)
	if copts.model != "" {
		model = anthropic.Model(copts.model)
	}

	anthropicClient := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
	anthropicAgent, err := agent.NewAnthropicAgent(agent.AnthropicAgentConfig{
		Logger:    log,
		Messages:  &anthropicClient.Messages,
		Model:     model,
		MaxTokens: copts.maxTokens,
		MaxRounds: copts.maxRounds,
		System:    agent.SystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	mcpClient, err := connectMCP(ctx, log, opts, copts.server)
	if err != nil {
		return nil, err
	}

	planner, err := agent.NewPlanner(agent.PlannerConfig{
		Logger:    log,
		Agent:     anthropicAgent,
		Tools:     mcpClient,
		Resources: mcpClient,
		LogDir:    copts.logDir,
	})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}

	return &session{log: log, mcp: mcpClient, planner: planner, direct: copts.direct}, nil
}

func (s *session) answer(ctx context.Context, question string, output io.Writer) (string, error) {
	if s.direct {
		return s.planner.Direct(ctx, question, output)
	}
	return s.planner.Process(ctx, question, output)
}

func (s *session) Close() error {
	return s.mcp.Close()
}
