package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lczm/pgmcp/internal/config"
	"github.com/lczm/pgmcp/internal/database"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "chat", "ask", "sql"})

	require.NotNil(t, root.PersistentFlags().Lookup("verbose"))
	require.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestServe_MissingEnvironment(t *testing.T) {
	for _, key := range []string{config.EnvPGUser, config.EnvPGDatabase, config.EnvPGHost, config.EnvPGPassword} {
		t.Setenv(key, "")
	}

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, config.ErrMissingEnv)
	require.Contains(t, err.Error(), config.EnvPGPassword)
}

func TestAsk_RequiresAPIKey(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "")

	root := newRootCmd()
	root.SetArgs([]string{"ask", "--env-file", filepath.Join(t.TempDir(), "missing.env"), "how many users?"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	require.ErrorIs(t, err, config.ErrMissingEnv)
	require.Contains(t, err.Error(), config.EnvAnthropicAPIKey)
}

func TestServerCommand(t *testing.T) {
	opts := &rootOptions{envFile: "prod.env", verbose: true}

	argv, err := serverCommand(opts, "")
	require.NoError(t, err)
	require.Equal(t, []string{"serve", "--env-file", "prod.env", "--verbose"}, argv[1:])

	argv, err = serverCommand(opts, "  ./other-server   --flag ")
	require.NoError(t, err)
	require.Equal(t, []string{"./other-server", "--flag"}, argv)

	_, err = serverCommand(opts, "   ")
	require.Error(t, err)
}

func TestRenderResult(t *testing.T) {
	var buf bytes.Buffer
	renderResult(&buf, &database.QueryResult{
		Columns: []string{"id", "email", "balance", "tags"},
		Rows: []database.Row{
			{"id": float64(1), "email": "a@example.com", "balance": 12.5, "tags": []any{"x", "y"}},
			{"id": float64(2), "email": nil, "balance": float64(0), "tags": nil},
		},
		Count:     2,
		Truncated: true,
	})

	out := buf.String()
	require.Contains(t, out, "email")
	require.Contains(t, out, "a@example.com")
	require.Contains(t, out, "12.5")
	require.Contains(t, out, `["x","y"]`)
	require.Contains(t, out, "NULL")
	require.Contains(t, out, "(2 rows)")
	require.Contains(t, out, "result truncated")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 4)
}

func TestRenderResult_CommandOnly(t *testing.T) {
	var buf bytes.Buffer
	renderResult(&buf, &database.QueryResult{Command: "INSERT 0 1"})
	require.Equal(t, "INSERT 0 1\n", buf.String())
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{"text", "text"},
		{float64(42), "42"},
		{0.25, "0.25"},
		{true, "true"},
		{map[string]any{"a": float64(1)}, `{"a":1}`},
		{int64(7), "7"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatCell(tt.in))
	}
}
