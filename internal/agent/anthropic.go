package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/lczm/pgmcp/internal/mcp/client"
)

const (
	DefaultModel = anthropic.ModelClaudeSonnet4_5_20250929

	defaultMaxTokens        = 2000
	defaultMaxRounds        = 10
	defaultMaxToolResultLen = 20000
)

// MessagesAPI is the part of the Anthropic SDK the agent calls. *anthropic.MessageService
// satisfies it, so callers pass &client.Messages.
type MessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicAgentConfig struct {
	Logger             *slog.Logger
	Messages           MessagesAPI
	Model              anthropic.Model
	MaxTokens          int64
	MaxRounds          int
	MaxToolResultLen   int
	System             string
	FinalizationPrompt string
	// KeepToolResultsRounds controls how many rounds of tool results to keep in conversation history.
	// If 0, all tool results are kept.
	KeepToolResultsRounds int
}

func (cfg *AnthropicAgentConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Messages == nil {
		return errors.New("messages API is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaultMaxRounds
	}
	if cfg.MaxRounds < 0 {
		return errors.New("max rounds must be greater than 0")
	}
	if cfg.MaxToolResultLen == 0 {
		cfg.MaxToolResultLen = defaultMaxToolResultLen
	}
	if cfg.FinalizationPrompt == "" {
		cfg.FinalizationPrompt = FinalizationPrompt
	}
	return nil
}

// AnthropicAgent runs a Claude tool-calling loop against MCP tools.
type AnthropicAgent struct {
	log *slog.Logger
	cfg *AnthropicAgentConfig
}

func NewAnthropicAgent(cfg AnthropicAgentConfig) (*AnthropicAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AnthropicAgent{log: cfg.Logger, cfg: &cfg}, nil
}

// anthropicMessage wraps Anthropic's MessageParam to implement agent.Message.
type anthropicMessage struct {
	msg anthropic.MessageParam
}

func (m anthropicMessage) ToParam() any {
	return m.msg
}

// NewUserMessage creates a user text message.
func NewUserMessage(text string) Message {
	return anthropicMessage{msg: anthropic.NewUserMessage(anthropic.NewTextBlock(text))}
}

// anthropicResponse wraps Anthropic's response to implement agent.Response.
type anthropicResponse struct {
	resp *anthropic.Message
}

func (r anthropicResponse) Content() []ContentBlock {
	blocks := make([]ContentBlock, len(r.resp.Content))
	for i, blk := range r.resp.Content {
		blocks[i] = anthropicContentBlock{blk}
	}
	return blocks
}

func (r anthropicResponse) ToMessage() Message {
	return anthropicMessage{msg: r.resp.ToParam()}
}

// anthropicContentBlock wraps Anthropic's ContentBlockUnion to implement agent.ContentBlock.
type anthropicContentBlock struct {
	blk anthropic.ContentBlockUnion
}

func (b anthropicContentBlock) AsText() (string, bool) {
	if b.blk.Type != "text" {
		return "", false
	}
	text := b.blk.AsText()
	if text.Text == "" {
		return "", false
	}
	return text.Text, true
}

func (b anthropicContentBlock) AsToolUse() (string, string, []byte, bool) {
	if b.blk.Type != "tool_use" {
		return "", "", nil, false
	}
	tu := b.blk.AsToolUse()
	if tu.ID == "" || tu.Name == "" {
		return "", "", nil, false
	}
	return tu.ID, tu.Name, tu.Input, true
}

// Complete sends a single prompt without tools and returns the text of the reply.
func (a *AnthropicAgent) Complete(ctx context.Context, prompt string, maxTokens int64) (string, error) {
	if maxTokens == 0 {
		maxTokens = a.cfg.MaxTokens
	}
	resp, err := a.cfg.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	a.log.Debug("agent: completion received", "stop_reason", resp.StopReason, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return strings.TrimSpace(responseText(anthropicResponse{resp: resp}.Content())), nil
}

func (a *AnthropicAgent) newParams(msgs []anthropic.MessageParam, tools []anthropic.ToolUnionParam) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		Messages:  msgs,
		Tools:     tools,
	}
	if a.cfg.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.cfg.System}}
	}
	return params
}

// Run executes the tool calling loop. Every round sends the conversation to Claude and
// executes the requested tools in parallel; the loop ends when a response asks for no
// tools. The last round is preceded by the finalization prompt.
func (a *AnthropicAgent) Run(ctx context.Context, toolClient ToolClient, initialMessages []Message, output io.Writer) (*RunResult, error) {
	msgs := make([]anthropic.MessageParam, len(initialMessages))
	for i, msg := range initialMessages {
		param, ok := msg.ToParam().(anthropic.MessageParam)
		if !ok {
			return nil, fmt.Errorf("expected anthropic.MessageParam, got %T", msg.ToParam())
		}
		msgs[i] = param
	}

	fullConversation := make([]Message, len(initialMessages))
	copy(fullConversation, initialMessages)

	mcpTools, err := toolClient.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tools: %w", err)
	}
	tools := toAnthropicTools(mcpTools)

	// Track tool result message indices for trimming
	toolResultIndices := make([]int, 0)

	for round := 0; round < a.cfg.MaxRounds; round++ {
		roundNum := round + 1
		isLastRound := round == a.cfg.MaxRounds-1
		a.log.Info("agent: starting round", "round", roundNum, "max_rounds", a.cfg.MaxRounds)

		if isLastRound && round > 0 {
			a.log.Info("agent: injecting finalization prompt on last round", "round", roundNum)
			finalMsg := anthropic.NewUserMessage(anthropic.NewTextBlock(a.cfg.FinalizationPrompt))
			msgs = appendUserText(msgs, finalMsg)
			fullConversation = append(fullConversation, anthropicMessage{msg: finalMsg})
		}

		resp, err := a.cfg.Messages.New(ctx, a.newParams(msgs, tools))
		if err != nil {
			return nil, fmt.Errorf("failed to get response: %w", err)
		}
		a.log.Debug("agent: received response", "round", roundNum, "content_blocks", len(resp.Content), "stop_reason", resp.StopReason)

		response := anthropicResponse{resp: resp}
		assistantMsg := response.ToMessage()
		msgs = append(msgs, resp.ToParam())
		fullConversation = append(fullConversation, assistantMsg)

		content := response.Content()
		if text := responseText(content); text != "" {
			a.log.Debug("agent: model text", "round", roundNum, "text", text)
		}

		toolUses := extractToolUses(content)
		if len(toolUses) == 0 {
			a.log.Info("agent: no tool calls, returning final response", "round", roundNum)
			if resp.StopReason == anthropic.StopReasonMaxTokens {
				return a.summarizeTruncated(ctx, msgs, tools, fullConversation, roundNum, output)
			}
			return finish(content, fullConversation, roundNum, output), nil
		}

		if isLastRound {
			a.log.Warn("agent: last round reached, returning response despite tool calls", "round", roundNum, "tool_calls", len(toolUses))
			return finish(content, fullConversation, roundNum, output), nil
		}

		if len(toolUses) > 1 {
			a.log.Info("agent: found multiple tool calls, executing in parallel", "round", roundNum, "count", len(toolUses))
		} else {
			a.log.Info("agent: found tool call to execute", "round", roundNum, "name", toolUses[0].Name)
		}

		toolResults := a.executeTools(ctx, toolClient, toolUses)
		toolResultMsg := anthropic.NewUserMessage(toolResults...)
		msgs = append(msgs, toolResultMsg)
		fullConversation = append(fullConversation, anthropicMessage{msg: toolResultMsg})
		toolResultIndices = append(toolResultIndices, len(msgs)-1)

		if a.cfg.KeepToolResultsRounds > 0 && len(toolResultIndices) > a.cfg.KeepToolResultsRounds {
			msgs, toolResultIndices = trimOldToolResults(msgs, toolResultIndices, a.cfg.KeepToolResultsRounds)
		}
	}

	return nil, fmt.Errorf("exceeded maximum rounds (%d)", a.cfg.MaxRounds)
}

// summarizeTruncated asks for a complete answer after a response was cut off at max_tokens.
func (a *AnthropicAgent) summarizeTruncated(ctx context.Context, msgs []anthropic.MessageParam, tools []anthropic.ToolUnionParam, fullConversation []Message, rounds int, output io.Writer) (*RunResult, error) {
	a.log.Warn("agent: response truncated due to max_tokens limit, requesting complete summary", "max_tokens", a.cfg.MaxTokens)

	summaryPrompt := fmt.Sprintf("Your previous response was cut off due to length limits. Please provide a complete, concise summary of what you were explaining, staying within %d tokens. Focus on the key points and main conclusions.", a.cfg.MaxTokens)
	summaryMsg := anthropic.NewUserMessage(anthropic.NewTextBlock(summaryPrompt))
	summaryMsgs := append(msgs[:len(msgs):len(msgs)], summaryMsg)

	summaryResp, err := a.cfg.Messages.New(ctx, a.newParams(summaryMsgs, tools))
	if err != nil {
		return nil, fmt.Errorf("response was truncated and summary request failed: %w", err)
	}

	summary := anthropicResponse{resp: summaryResp}
	fullConversation = append(fullConversation, anthropicMessage{msg: summaryMsg}, summary.ToMessage())
	return finish(summary.Content(), fullConversation, rounds+1, output), nil
}

func finish(content []ContentBlock, fullConversation []Message, rounds int, output io.Writer) *RunResult {
	finalText := strings.TrimSpace(responseText(content))
	if output != nil {
		fmt.Fprintln(output, finalText)
	}
	return &RunResult{
		FinalText:        finalText,
		FullConversation: fullConversation,
		Rounds:           rounds,
	}
}

// appendUserText adds a user message, merging it into a trailing user message so the
// conversation keeps alternating roles.
func appendUserText(msgs []anthropic.MessageParam, msg anthropic.MessageParam) []anthropic.MessageParam {
	if n := len(msgs); n > 0 && msgs[n-1].Role == anthropic.MessageParamRoleUser {
		merged := msgs[n-1]
		merged.Content = append(merged.Content[:len(merged.Content):len(merged.Content)], msg.Content...)
		out := append(msgs[:n-1:n-1], merged)
		return out
	}
	return append(msgs, msg)
}

// toAnthropicTools converts MCP tools to Anthropic tool parameters.
func toAnthropicTools(tools []client.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.Opt(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   requiredFields(t.InputSchema["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

// requiredFields accepts both []string and the []any produced by decoding JSON.
func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// executeTools executes MCP tools in parallel and returns Anthropic tool result blocks in
// request order. Call failures become is_error results.
func (a *AnthropicAgent) executeTools(ctx context.Context, toolClient ToolClient, toolUses []ToolUse) []anthropic.ContentBlockParamUnion {
	type toolResult struct {
		out     string
		isErr   bool
		callErr error
	}

	results := make([]toolResult, len(toolUses))
	var wg sync.WaitGroup

	for i, tu := range toolUses {
		wg.Add(1)
		go func(idx int, toolUse ToolUse) {
			defer wg.Done()
			a.log.Debug("agent: executing tool", "index", idx+1, "total", len(toolUses), "name", toolUse.Name)
			out, isErr, callErr := toolClient.CallToolText(ctx, toolUse.Name, toolUse.Input)
			results[idx] = toolResult{out: out, isErr: isErr, callErr: callErr}
		}(i, tu)
	}

	wg.Wait()

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(toolUses))
	for i, result := range results {
		toolUse := toolUses[i]
		out := result.out
		isErr := result.isErr

		if result.callErr != nil {
			a.log.Error("agent: tool execution error", "name", toolUse.Name, "error", result.callErr)
			out = fmt.Sprintf("Error: %v", result.callErr)
			isErr = true
		}

		maxLen := a.cfg.MaxToolResultLen
		if isSchemaTool(toolUse.Name) {
			maxLen *= 2
		}
		if originalLen := len(out); maxLen > 0 && originalLen > maxLen {
			out = truncateToolResult(out, toolUse.Name, maxLen)
			a.log.Warn("agent: truncated large tool result", "name", toolUse.Name, "original_len", originalLen, "truncated_len", len(out))
		}

		blocks = append(blocks, anthropic.NewToolResultBlock(toolUse.ID, out, isErr))
	}
	return blocks
}

// trimOldToolResults trims old tool result rounds from the message history.
// It keeps the initial messages and the last keepRounds of tool results.
func trimOldToolResults(msgs []anthropic.MessageParam, toolResultIndices []int, keepRounds int) ([]anthropic.MessageParam, []int) {
	if len(toolResultIndices) <= keepRounds {
		return msgs, toolResultIndices
	}

	// The assistant tool_use message sits right before its tool_result message.
	cutoffIndex := toolResultIndices[len(toolResultIndices)-keepRounds] - 1
	if cutoffIndex < 0 {
		cutoffIndex = 0
	}
	firstAssistantIndex := toolResultIndices[0] - 1
	if firstAssistantIndex < 0 {
		firstAssistantIndex = 0
	}

	trimmed := make([]anthropic.MessageParam, 0, firstAssistantIndex+len(msgs)-cutoffIndex)
	trimmed = append(trimmed, msgs[:firstAssistantIndex]...)
	trimmed = append(trimmed, msgs[cutoffIndex:]...)

	removedCount := cutoffIndex - firstAssistantIndex
	kept := make([]int, 0, keepRounds)
	for _, idx := range toolResultIndices[len(toolResultIndices)-keepRounds:] {
		kept = append(kept, idx-removedCount)
	}
	return trimmed, kept
}
