package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	SchemaResourceURI = "postgres://schema"

	DefaultLogDir = "data"

	planningLogFile  = "planning_log.txt"
	executionLogFile = "execution_log.txt"

	defaultPlanningMaxTokens = 1500
)

type PlannerConfig struct {
	Logger    *slog.Logger
	Agent     *AnthropicAgent
	Tools     ToolClient
	Resources ResourceReader

	// LogDir receives the plan and the final answer of the latest request. Empty disables it.
	LogDir            string
	PlanningMaxTokens int64
}

func (cfg *PlannerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Agent == nil {
		return errors.New("agent is required")
	}
	if cfg.Tools == nil {
		return errors.New("tool client is required")
	}
	if cfg.Resources == nil {
		return errors.New("resource reader is required")
	}
	if cfg.PlanningMaxTokens == 0 {
		cfg.PlanningMaxTokens = defaultPlanningMaxTokens
	}
	return nil
}

// Planner answers natural-language questions about the database in two phases: a
// planning call that writes a CONTEXT / OBJECTIVE / INSTRUCTIONS / EXAMPLE plan, then
// the agent's tool loop executing that plan.
type Planner struct {
	log *slog.Logger
	cfg *PlannerConfig
}

func NewPlanner(cfg PlannerConfig) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Planner{log: cfg.Logger, cfg: &cfg}, nil
}

// Process plans and executes request, returning the final answer.
func (p *Planner) Process(ctx context.Context, request string, output io.Writer) (string, error) {
	start := time.Now()
	schema := p.schemaContext(ctx)

	plan, err := p.cfg.Agent.Complete(ctx, planningPrompt(request, schema), p.cfg.PlanningMaxTokens)
	if err != nil {
		return "", fmt.Errorf("planning phase failed: %w", err)
	}
	p.log.Info("agent/planner: plan ready", "chars", len(plan), "duration", time.Since(start))
	p.writeLog(planningLogFile, plan)

	result, err := p.cfg.Agent.Run(ctx, p.cfg.Tools, []Message{NewUserMessage(executionPrompt(request, plan))}, output)
	if err != nil {
		return "", fmt.Errorf("execution phase failed: %w", err)
	}
	p.log.Info("agent/planner: execution complete", "rounds", result.Rounds, "duration", time.Since(start))
	p.writeLog(executionLogFile, result.FinalText)

	return result.FinalText, nil
}

// Direct skips planning: the question and the schema go straight into the tool loop.
func (p *Planner) Direct(ctx context.Context, question string, output io.Writer) (string, error) {
	schema := p.schemaContext(ctx)
	result, err := p.cfg.Agent.Run(ctx, p.cfg.Tools, []Message{NewUserMessage(directPrompt(question, schema))}, output)
	if err != nil {
		return "", err
	}
	return result.FinalText, nil
}

// schemaContext reads the whole-database schema resource. A failure is not fatal: the
// model can still discover tables through the tools.
func (p *Planner) schemaContext(ctx context.Context) string {
	schema, err := p.cfg.Resources.ReadResourceText(ctx, SchemaResourceURI)
	if err != nil {
		p.log.Warn("agent/planner: could not read schema resource", "uri", SchemaResourceURI, "error", err)
		return ""
	}
	return schema
}

func (p *Planner) writeLog(name, content string) {
	if p.cfg.LogDir == "" {
		return
	}
	if err := os.MkdirAll(p.cfg.LogDir, 0o755); err != nil {
		p.log.Warn("agent/planner: failed to create log dir", "dir", p.cfg.LogDir, "error", err)
		return
	}
	path := filepath.Join(p.cfg.LogDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		p.log.Warn("agent/planner: failed to write log", "path", path, "error", err)
	}
}
