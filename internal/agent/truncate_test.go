package agent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAgent_IsSchemaTool(t *testing.T) {
	tests := []struct {
		toolName string
		expected bool
	}{
		{"list_tables", true},
		{"get_table_schema", true},
		{"get_table_constraints", true},
		{"get_table_indexes", true},
		{"query", false},
		{"explain_analyze", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.toolName, func(t *testing.T) {
			require.Equal(t, tt.expected, isSchemaTool(tt.toolName))
		})
	}
}

func TestAgent_FormatTruncationNotice(t *testing.T) {
	require.Equal(t, "\n\n[Result truncated: showing 5 of 10 tables to avoid token limits]", formatTruncationNotice("tables", 5, 10))
	require.Equal(t, "\n\n[Result truncated: showing 100 of 500 rows to avoid token limits]", formatTruncationNotice("rows", 100, 500))
}

func TestAgent_TruncateAtBoundary(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		require.Equal(t, "short", truncateAtBoundary("short", 100))
	})

	t.Run("cuts at newline", func(t *testing.T) {
		text := strings.Repeat("line of text\n", 100)
		out := truncateAtBoundary(text, 500)
		require.LessOrEqual(t, len(out), 500)
		require.Contains(t, out, "[Result truncated from 1300 to")
		head, _, _ := strings.Cut(out, "\n\n[Result truncated")
		require.True(t, strings.HasSuffix(head, "\n"))
	})

	t.Run("no boundary", func(t *testing.T) {
		text := strings.Repeat("x", 2000)
		out := truncateAtBoundary(text, 400)
		require.LessOrEqual(t, len(out), 400)
		require.Contains(t, out, "[Result truncated from 2000")
	})
}

func TestAgent_TruncateToolResult_QueryRows(t *testing.T) {
	rows := make([]map[string]any, 500)
	for i := range rows {
		rows[i] = map[string]any{"id": i, "email": "user@example.com"}
	}
	data, err := json.Marshal(map[string]any{
		"columns": []string{"id", "email"},
		"rows":    rows,
		"count":   1000000,
	})
	require.NoError(t, err)

	out := truncateToolResult(string(data), "query", 2000)
	require.LessOrEqual(t, len(out), 2000)
	require.Contains(t, out, "of 500 rows to avoid token limits")

	body, _, found := strings.Cut(out, "\n\n[Result truncated")
	require.True(t, found)

	var parsed struct {
		Columns []string         `json:"columns"`
		Rows    []map[string]any `json:"rows"`
		Count   json.Number      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &parsed))
	require.Equal(t, []string{"id", "email"}, parsed.Columns)
	require.NotEmpty(t, parsed.Rows)
	require.Less(t, len(parsed.Rows), 500)
	require.Equal(t, "1000000", parsed.Count.String())
}

func TestAgent_TruncateToolResult_Tables(t *testing.T) {
	tables := make([]map[string]any, 300)
	for i := range tables {
		tables[i] = map[string]any{"table_name": "table_with_a_long_name", "table_type": "BASE TABLE"}
	}
	data, err := json.Marshal(map[string]any{"schema": "public", "tables": tables})
	require.NoError(t, err)

	out := truncateToolResult(string(data), "list_tables", 3000)
	require.LessOrEqual(t, len(out), 3000)
	require.Contains(t, out, "of 300 tables")
	require.Contains(t, out, `"schema":"public"`)
}

func TestAgent_TruncateToolResult_NotJSON(t *testing.T) {
	text := strings.Repeat("Seq Scan on users  (cost=0.00..1.50 rows=50 width=8)\n", 100)
	out := truncateToolResult(text, "explain_analyze", 1000)
	require.LessOrEqual(t, len(out), 1000)
	require.True(t, strings.HasPrefix(out, "Seq Scan on users"))
	require.Contains(t, out, "[Result truncated from")
}
