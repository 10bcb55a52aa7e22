package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lczm/pgmcp/internal/mcp/client"
)

// Message represents a message in the conversation.
type Message interface {
	// ToParam converts the message to a provider-specific parameter type.
	ToParam() any
}

// Response represents a response from the LLM.
type Response interface {
	// Content returns the content blocks from the response.
	Content() []ContentBlock
	// ToMessage converts the response to a Message for the conversation history.
	ToMessage() Message
}

// ContentBlock represents a content block in a response.
type ContentBlock interface {
	// AsText returns text content if this is a text block.
	AsText() (text string, ok bool)
	// AsToolUse returns tool use information if this is a tool use block.
	AsToolUse() (id, name string, input []byte, ok bool)
}

// ToolUse represents a tool use request from the LLM.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolClient is the MCP surface the agent needs. *client.Client implements it.
type ToolClient interface {
	ListTools(ctx context.Context) ([]client.Tool, error)
	CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error)
}

// ResourceReader reads MCP resources as text. *client.Client implements it.
type ResourceReader interface {
	ReadResourceText(ctx context.Context, uri string) (string, error)
}

// RunResult contains the result of running an agent.
type RunResult struct {
	// FinalText is the final text response from the agent.
	FinalText string
	// FullConversation is the complete conversation history including tool calls and results.
	FullConversation []Message
	// Rounds is the number of model calls made in the tool loop.
	Rounds int
}

// extractToolUses extracts tool use requests from response content blocks.
func extractToolUses(content []ContentBlock) []ToolUse {
	var toolUses []ToolUse
	for _, blk := range content {
		id, name, inputBytes, ok := blk.AsToolUse()
		if !ok || id == "" || name == "" {
			continue
		}
		var input map[string]any
		if len(inputBytes) > 0 {
			if err := json.Unmarshal(inputBytes, &input); err != nil {
				continue
			}
		}
		if input == nil {
			input = map[string]any{}
		}
		toolUses = append(toolUses, ToolUse{
			ID:    id,
			Name:  name,
			Input: input,
		})
	}
	return toolUses
}

// responseText joins every text block of a response.
func responseText(content []ContentBlock) string {
	var sb strings.Builder
	for _, blk := range content {
		if text, ok := blk.AsText(); ok && text != "" {
			sb.WriteString(text)
		}
	}
	return sb.String()
}
