package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultMaxRetryElapsed = 30 * time.Second
)

var (
	mcpClientImplementation = &mcp.Implementation{
		Name:    "pgmcp-client",
		Version: "1.0.0",
	}

	ErrNotConnected = errors.New("mcp session not connected")
)

type Config struct {
	Logger *slog.Logger

	// NewTransport returns a fresh transport for every (re)connect. Command
	// transports can only be started once, so a single value is not enough.
	NewTransport    func() mcp.Transport
	MaxRetryElapsed time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.NewTransport == nil {
		return fmt.Errorf("transport factory is required")
	}
	if c.MaxRetryElapsed == 0 {
		c.MaxRetryElapsed = defaultMaxRetryElapsed
	}
	return nil
}

type Client struct {
	log       *slog.Logger
	cfg       *Config
	session   *mcp.ClientSession
	sessionMu sync.RWMutex // protects session
	mcpClient *mcp.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		log:       cfg.Logger,
		cfg:       &cfg,
		mcpClient: mcp.NewClient(mcpClientImplementation, nil),
	}

	if err := client.connect(ctx); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) connect(ctx context.Context) error {
	session, err := c.mcpClient.Connect(ctx, c.cfg.NewTransport(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server: %w", err)
	}

	c.sessionMu.Lock()
	if c.session != nil {
		c.session.Close()
	}
	c.session = session
	c.sessionMu.Unlock()

	c.log.Info("mcp/client: connected to server")
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.log.Warn("mcp/client: attempting to reconnect")
	c.sessionMu.Lock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.sessionMu.Unlock()

	return c.connect(ctx)
}

func (c *Client) currentSession() *mcp.ClientSession {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.session
}

// isConnectionError checks if an error is a connection error that warrants reconnection
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConnected) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection closed") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "client is closing") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset")
}

// withSession runs fn against the live session, reconnecting and retrying with
// exponential backoff on connection errors. Any other error is returned as is.
func withSession[T any](ctx context.Context, c *Client, op string, fn func(*mcp.ClientSession) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		var zero T
		attempt++
		if attempt > 1 {
			if err := c.reconnect(ctx); err != nil {
				c.log.Warn("mcp/client: reconnect failed", "op", op, "attempt", attempt, "error", err)
				return zero, err
			}
		}

		session := c.currentSession()
		if session == nil {
			return zero, ErrNotConnected
		}
		res, err := fn(session)
		if err != nil {
			if isConnectionError(err) {
				c.log.Warn("mcp/client: connection error", "op", op, "attempt", attempt, "error", err)
				return zero, err
			}
			return zero, backoff.Permanent(err)
		}
		return res, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(c.cfg.MaxRetryElapsed))
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	c.log.Debug("mcp/client: listing available tools")

	result, err := withSession(ctx, c, "list_tools", func(s *mcp.ClientSession) (*mcp.ListToolsResult, error) {
		return s.ListTools(ctx, &mcp.ListToolsParams{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}

	c.log.Debug("mcp/client: found tools", "count", len(tools))
	return tools, nil
}

// CallToolText calls a tool and joins its text content. The bool reports whether the
// server flagged the result as a tool error.
func (c *Client) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	c.log.Debug("mcp/client: calling tool", "name", name)

	result, err := withSession(ctx, c, name, func(s *mcp.ClientSession) (*mcp.CallToolResult, error) {
		return s.CallTool(ctx, &mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		})
	})
	if err != nil {
		return "", true, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	var textParts []string
	for _, content := range result.Content {
		if textContent, ok := content.(*mcp.TextContent); ok {
			textParts = append(textParts, textContent.Text)
		}
	}
	str := strings.Join(textParts, "\n")

	if result.IsError {
		c.log.Warn("mcp/client: tool returned error result", "name", name, "error", str)
	} else {
		c.log.Debug("mcp/client: called tool", "name", name, "chars", len(str))
	}
	return str, result.IsError, nil
}

// ReadResourceText reads uri and joins the text of all returned contents.
func (c *Client) ReadResourceText(ctx context.Context, uri string) (string, error) {
	c.log.Debug("mcp/client: reading resource", "uri", uri)

	result, err := withSession(ctx, c, "read_resource", func(s *mcp.ClientSession) (*mcp.ReadResourceResult, error) {
		return s.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	})
	if err != nil {
		return "", fmt.Errorf("failed to read resource %s: %w", uri, err)
	}

	var parts []string
	for _, content := range result.Contents {
		if content != nil && content.Text != "" {
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// schemaToMap normalizes a tool input schema to a plain map. Schemas decoded off the
// wire are already maps; anything else is round-tripped through JSON.
func schemaToMap(schema any) map[string]any {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]any:
		return s
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func (c *Client) Close() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		err := c.session.Close()
		c.session = nil
		return err
	}
	return nil
}
