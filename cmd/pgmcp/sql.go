package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lczm/pgmcp/internal/database"
	"github.com/lczm/pgmcp/internal/logger"
	"github.com/lczm/pgmcp/internal/mcp/server"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newSQLCmd(opts *rootOptions) *cobra.Command {
	var serverCmd string

	cmd := &cobra.Command{
		Use:   "sql <statement>",
		Short: "Run a statement through the MCP query tool and print the rows as a table.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.New(opts.verbose)

			c, err := connectMCP(ctx, log, opts, serverCmd)
			if err != nil {
				return err
			}
			defer c.Close()

			text, isErr, err := c.CallToolText(ctx, server.ToolQuery, map[string]any{"query": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			if isErr {
				return errors.New(text)
			}

			var res database.QueryResult
			if err := json.Unmarshal([]byte(text), &res); err != nil {
				return fmt.Errorf("failed to decode query result: %w", err)
			}
			renderResult(cmd.OutOrStdout(), &res)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverCmd, "server", "", "command that starts the MCP server (default: this binary's serve command)")
	return cmd
}

func renderResult(w io.Writer, res *database.QueryResult) {
	if len(res.Columns) == 0 {
		fmt.Fprintln(w, res.Command)
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(res.Columns)

	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = formatCell(row[col])
		}
		table.Append(cells)
	}
	table.Render()

	noun := "rows"
	if res.Count == 1 {
		noun = "row"
	}
	fmt.Fprintf(w, "(%d %s)\n", res.Count, noun)
	if res.Truncated {
		fmt.Fprintln(w, "result truncated; raise PGMCP_MAX_ROWS or add a LIMIT")
	}
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
