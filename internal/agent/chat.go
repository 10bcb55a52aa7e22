package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// HandlerFunc answers one chat query.
type HandlerFunc func(ctx context.Context, query string) (string, error)

// ChatLoop reads queries line by line from in and writes each answer to out until
// "quit", end of input or ctx is done. A failed query is reported and the loop continues.
func ChatLoop(ctx context.Context, in io.Reader, out io.Writer, handle HandlerFunc) error {
	fmt.Fprintln(out, "\nMCP Client Started!")
	fmt.Fprintln(out, "Type your queries or 'quit' to exit.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "\nQuery: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(query, "quit") {
			return nil
		}
		if query == "" {
			continue
		}

		answer, err := handle(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n", answer)
	}
}
