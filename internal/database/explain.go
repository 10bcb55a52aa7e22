package database

import (
	"context"
	"fmt"
	"strings"
)

type ExplainOptions struct {
	Analyze bool
	Verbose bool
	Costs   bool
	Buffers bool
	Timing  bool
	Summary bool
	Format  string
}

// DefaultExplainOptions mirrors what EXPLAIN ANALYZE prints when no options are given,
// with JSON output.
func DefaultExplainOptions() ExplainOptions {
	return ExplainOptions{
		Analyze: true,
		Costs:   true,
		Timing:  true,
		Summary: true,
		Format:  "json",
	}
}

var validFormats = map[string]bool{"text": true, "json": true, "xml": true, "yaml": true}

type ExplainResult struct {
	Format string `json:"format"`
	Plan   any    `json:"plan"`
}

func (o ExplainOptions) clause() (string, error) {
	format := strings.ToLower(o.Format)
	if format == "" {
		format = "json"
	}
	if !validFormats[format] {
		return "", fmt.Errorf("%w: %q (want text, json, xml or yaml)", ErrInvalidFormat, o.Format)
	}

	options := []string{
		fmt.Sprintf("ANALYZE %t", o.Analyze),
		fmt.Sprintf("COSTS %t", o.Costs),
		fmt.Sprintf("SUMMARY %t", o.Summary),
		fmt.Sprintf("FORMAT %s", strings.ToUpper(format)),
	}
	if o.Verbose {
		options = append(options, "VERBOSE true")
	}
	if o.Buffers {
		options = append(options, "BUFFERS true")
	}
	// TIMING is only accepted together with ANALYZE.
	if o.Analyze {
		options = append(options, fmt.Sprintf("TIMING %t", o.Timing))
	}
	return strings.Join(options, ", "), nil
}

// Explain runs EXPLAIN on query inside a transaction that is always rolled back, so an
// analyzed INSERT or UPDATE leaves no trace.
func (db *DB) Explain(ctx context.Context, query string, opts ExplainOptions) (*ExplainResult, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	clause, err := opts.clause()
	if err != nil {
		return nil, err
	}
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "json"
	}

	ctx, cancel := context.WithTimeout(ctx, db.cfg.QueryTimeout)
	defer cancel()

	tx, err := db.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf("EXPLAIN (%s) %s", clause, query))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, db.scrub(err))
	}
	defer rows.Close()

	if format == "json" {
		var plan any
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
			}
			if len(values) > 0 {
				plan = normalizeValue(values[0])
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrQueryFailed, db.scrub(err))
		}
		return &ExplainResult{Format: format, Plan: plan}, nil
	}

	// the rest of the formats, concatenate the rows
	var output strings.Builder
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
		}
		output.WriteString(line)
		output.WriteString("\n")
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, db.scrub(err))
	}
	return &ExplainResult{Format: format, Plan: output.String()}, nil
}
