package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/lczm/pgmcp/internal/mcp/client"
	"github.com/stretchr/testify/require"
)

// fakeMessages replays canned Anthropic responses and records every request.
type fakeMessages struct {
	mu        sync.Mutex
	responses []string
	calls     []anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, body)
	if len(f.responses) == 0 {
		return nil, errors.New("no more canned responses")
	}
	raw := f.responses[0]
	f.responses = f.responses[1:]

	var msg anthropic.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (f *fakeMessages) callJSON(t *testing.T, i int) string {
	t.Helper()
	require.Greater(t, len(f.calls), i)
	data, err := json.Marshal(f.calls[i].Messages)
	require.NoError(t, err)
	return string(data)
}

func messageJSON(stopReason string, blocks ...map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         string(DefaultModel),
		"content":       blocks,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
	})
	return string(data)
}

func textBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func toolUseBlock(id, name string, input map[string]any) map[string]any {
	return map[string]any{"type": "tool_use", "id": id, "name": name, "input": input}
}

type toolCall struct {
	name string
	args map[string]any
}

// fakeTools is a ToolClient and ResourceReader backed by a function.
type fakeTools struct {
	mu       sync.Mutex
	calls    []toolCall
	listErr  error
	call     func(name string, args map[string]any) (string, bool, error)
	schema   string
	schemaOK bool
}

func (f *fakeTools) ListTools(context.Context) ([]client.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []client.Tool{{
		Name:        "query",
		Description: "Execute SQL",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []any{"query"},
		},
	}}, nil
}

func (f *fakeTools) CallToolText(_ context.Context, name string, args map[string]any) (string, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, toolCall{name: name, args: args})
	f.mu.Unlock()
	if f.call == nil {
		return `{"columns":["count"],"rows":[{"count":100}],"count":1}`, false, nil
	}
	return f.call(name, args)
}

func (f *fakeTools) ReadResourceText(context.Context, string) (string, error) {
	if !f.schemaOK {
		return "", errors.New("resource unavailable")
	}
	return f.schema, nil
}

func newTestAgent(t *testing.T, msgs *fakeMessages, mutate func(*AnthropicAgentConfig)) *AnthropicAgent {
	t.Helper()
	cfg := AnthropicAgentConfig{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Messages: msgs,
		System:   SystemPrompt,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAnthropicAgent(cfg)
	require.NoError(t, err)
	return a
}

func TestAnthropicAgentConfig_Validate(t *testing.T) {
	cfg := AnthropicAgentConfig{}
	require.Error(t, cfg.Validate())

	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	require.Error(t, cfg.Validate())

	cfg.Messages = &fakeMessages{}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultModel, cfg.Model)
	require.Equal(t, defaultMaxRounds, cfg.MaxRounds)
	require.Equal(t, int64(defaultMaxTokens), cfg.MaxTokens)
	require.Equal(t, FinalizationPrompt, cfg.FinalizationPrompt)

	cfg.MaxRounds = -1
	require.Error(t, cfg.Validate())
}

func TestAnthropicAgent_Run_NoToolCalls(t *testing.T) {
	msgs := &fakeMessages{responses: []string{messageJSON("end_turn", textBlock("There are 50 users."))}}
	a := newTestAgent(t, msgs, nil)
	tools := &fakeTools{}

	var out bytes.Buffer
	res, err := a.Run(context.Background(), tools, []Message{NewUserMessage("How many users?")}, &out)
	require.NoError(t, err)
	require.Equal(t, "There are 50 users.", res.FinalText)
	require.Equal(t, 1, res.Rounds)
	require.Equal(t, "There are 50 users.\n", out.String())
	require.Empty(t, tools.calls)
	require.Len(t, res.FullConversation, 2)

	require.Len(t, msgs.calls, 1)
	require.Len(t, msgs.calls[0].Tools, 1)
	require.Equal(t, []string{"query"}, msgs.calls[0].Tools[0].OfTool.InputSchema.Required)
	require.Len(t, msgs.calls[0].System, 1)
}

func TestAnthropicAgent_Run_ExecutesTools(t *testing.T) {
	msgs := &fakeMessages{responses: []string{
		messageJSON("tool_use",
			textBlock("Let me count."),
			toolUseBlock("tu_1", "query", map[string]any{"query": "SELECT count(*) FROM users"}),
		),
		messageJSON("end_turn", textBlock("There are 100 users.")),
	}}
	a := newTestAgent(t, msgs, nil)
	tools := &fakeTools{}

	res, err := a.Run(context.Background(), tools, []Message{NewUserMessage("How many users?")}, nil)
	require.NoError(t, err)
	require.Equal(t, "There are 100 users.", res.FinalText)
	require.Equal(t, 2, res.Rounds)

	require.Len(t, tools.calls, 1)
	require.Equal(t, "query", tools.calls[0].name)
	require.Equal(t, "SELECT count(*) FROM users", tools.calls[0].args["query"])

	second := msgs.callJSON(t, 1)
	require.Contains(t, second, `"tool_use_id":"tu_1"`)
	require.Contains(t, second, `\"count\":100`)
	require.NotContains(t, second, `"is_error":true`)
}

func TestAnthropicAgent_Run_ToolErrorsAreReported(t *testing.T) {
	msgs := &fakeMessages{responses: []string{
		messageJSON("tool_use",
			toolUseBlock("tu_1", "query", map[string]any{"query": "SELECT * FROM nope"}),
			toolUseBlock("tu_2", "query", map[string]any{"query": "SELECT 1"}),
		),
		messageJSON("end_turn", textBlock("The nope table does not exist.")),
	}}
	a := newTestAgent(t, msgs, nil)
	tools := &fakeTools{call: func(_ string, args map[string]any) (string, bool, error) {
		switch args["query"] {
		case "SELECT * FROM nope":
			return `query failed: ERROR: relation "nope" does not exist`, true, nil
		default:
			return "", false, errors.New("connection reset")
		}
	}}

	res, err := a.Run(context.Background(), tools, []Message{NewUserMessage("Show nope")}, nil)
	require.NoError(t, err)
	require.Contains(t, res.FinalText, "does not exist")
	require.Len(t, tools.calls, 2)

	second := msgs.callJSON(t, 1)
	require.Equal(t, 2, strings.Count(second, `"is_error":true`))
	require.Less(t, strings.Index(second, "tu_1"), strings.Index(second, "tu_2"), "tool results must keep request order")
	require.Contains(t, second, "Error: connection reset")
}

func TestAnthropicAgent_Run_FinalizesOnLastRound(t *testing.T) {
	loop := messageJSON("tool_use", toolUseBlock("tu", "query", map[string]any{"query": "SELECT 1"}))
	msgs := &fakeMessages{responses: []string{
		loop,
		loop,
		messageJSON("tool_use", textBlock("Best answer so far."), toolUseBlock("tu", "query", map[string]any{"query": "SELECT 1"})),
	}}
	a := newTestAgent(t, msgs, func(cfg *AnthropicAgentConfig) { cfg.MaxRounds = 3 })
	tools := &fakeTools{}

	res, err := a.Run(context.Background(), tools, []Message{NewUserMessage("Loop forever")}, nil)
	require.NoError(t, err)
	require.Equal(t, "Best answer so far.", res.FinalText)
	require.Equal(t, 3, res.Rounds)
	require.Len(t, msgs.calls, 3)
	require.Len(t, tools.calls, 2)

	require.NotContains(t, msgs.callJSON(t, 1), "final response in this turn")
	last := msgs.callJSON(t, 2)
	require.Contains(t, last, "final response in this turn")

	// The finalization text joins the trailing tool result message.
	var params []map[string]any
	require.NoError(t, json.Unmarshal([]byte(last), &params))
	require.Equal(t, "user", params[len(params)-1]["role"])
	require.Equal(t, "assistant", params[len(params)-2]["role"])
}

func TestAnthropicAgent_Run_SummarizesOnMaxTokens(t *testing.T) {
	msgs := &fakeMessages{responses: []string{
		messageJSON("max_tokens", textBlock("The answer is long and")),
		messageJSON("end_turn", textBlock("Short summary.")),
	}}
	a := newTestAgent(t, msgs, nil)

	res, err := a.Run(context.Background(), &fakeTools{}, []Message{NewUserMessage("Explain")}, nil)
	require.NoError(t, err)
	require.Equal(t, "Short summary.", res.FinalText)
	require.Len(t, msgs.calls, 2)
	require.Contains(t, msgs.callJSON(t, 1), "cut off due to length limits")
}

func TestAnthropicAgent_Run_ListToolsError(t *testing.T) {
	a := newTestAgent(t, &fakeMessages{}, nil)
	_, err := a.Run(context.Background(), &fakeTools{listErr: errors.New("broken pipe")}, []Message{NewUserMessage("hi")}, nil)
	require.ErrorContains(t, err, "failed to get tools")
}

func TestAnthropicAgent_Run_APIError(t *testing.T) {
	a := newTestAgent(t, &fakeMessages{}, nil)
	_, err := a.Run(context.Background(), &fakeTools{}, []Message{NewUserMessage("hi")}, nil)
	require.ErrorContains(t, err, "failed to get response")
}

func TestAnthropicAgent_Run_TruncatesLargeResults(t *testing.T) {
	msgs := &fakeMessages{responses: []string{
		messageJSON("tool_use", toolUseBlock("tu_1", "query", map[string]any{"query": "SELECT * FROM posts"})),
		messageJSON("end_turn", textBlock("Done.")),
	}}
	a := newTestAgent(t, msgs, func(cfg *AnthropicAgentConfig) { cfg.MaxToolResultLen = 1000 })

	rows := make([]map[string]any, 200)
	for i := range rows {
		rows[i] = map[string]any{"id": i, "title": "a reasonably long post title"}
	}
	big, err := json.Marshal(map[string]any{"columns": []string{"id", "title"}, "rows": rows, "count": len(rows)})
	require.NoError(t, err)
	tools := &fakeTools{call: func(string, map[string]any) (string, bool, error) { return string(big), false, nil }}

	_, err = a.Run(context.Background(), tools, []Message{NewUserMessage("all posts")}, nil)
	require.NoError(t, err)
	require.Contains(t, msgs.callJSON(t, 1), "of 200 rows to avoid token limits")
}

func TestAnthropicAgent_Complete(t *testing.T) {
	msgs := &fakeMessages{responses: []string{messageJSON("end_turn", textBlock("  # CONTEXT:\nplan  "))}}
	a := newTestAgent(t, msgs, nil)

	text, err := a.Complete(context.Background(), "plan this", 1500)
	require.NoError(t, err)
	require.Equal(t, "# CONTEXT:\nplan", text)
	require.Len(t, msgs.calls, 1)
	require.Empty(t, msgs.calls[0].Tools)
	require.Equal(t, int64(1500), msgs.calls[0].MaxTokens)
}

func TestExtractToolUses(t *testing.T) {
	var msg anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(messageJSON("tool_use",
		textBlock("thinking"),
		toolUseBlock("tu_1", "list_tables", map[string]any{}),
		toolUseBlock("tu_2", "query", map[string]any{"query": "SELECT 1"}),
	)), &msg))

	uses := extractToolUses(anthropicResponse{resp: &msg}.Content())
	require.Len(t, uses, 2)
	require.Equal(t, "list_tables", uses[0].Name)
	require.NotNil(t, uses[0].Input)
	require.Equal(t, "SELECT 1", uses[1].Input["query"])
}

func TestRequiredFields(t *testing.T) {
	require.Equal(t, []string{"a"}, requiredFields([]string{"a"}))
	require.Equal(t, []string{"a", "b"}, requiredFields([]any{"a", 1, "b"}))
	require.Nil(t, requiredFields(nil))
}

func TestTrimOldToolResults(t *testing.T) {
	user := anthropic.NewUserMessage(anthropic.NewTextBlock("question"))
	assistant := func(s string) anthropic.MessageParam {
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(s))
	}
	result := func(id string) anthropic.MessageParam {
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(id, "ok", false))
	}

	msgs := []anthropic.MessageParam{
		user,
		assistant("a1"), result("r1"),
		assistant("a2"), result("r2"),
		assistant("a3"), result("r3"),
	}
	trimmed, indices := trimOldToolResults(msgs, []int{2, 4, 6}, 2)
	require.Len(t, trimmed, 5)
	require.Equal(t, []int{2, 4}, indices)

	data, err := json.Marshal(trimmed)
	require.NoError(t, err)
	require.NotContains(t, string(data), "r1")
	require.Contains(t, string(data), "r2")
	require.Contains(t, string(data), "r3")

	same, sameIdx := trimOldToolResults(msgs, []int{2}, 2)
	require.Equal(t, msgs, same)
	require.Equal(t, []int{2}, sameIdx)
}
