package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type Row map[string]any

type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      []Row    `json:"rows"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated,omitempty"`
	Command   string   `json:"command,omitempty"`
}

// Query runs a single statement and returns at most MaxRows rows. In read-only mode the
// transaction is READ ONLY and never committed.
func (db *DB) Query(ctx context.Context, query string) (*QueryResult, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, db.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	tx, err := db.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, db.scrub(err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	columns := uniqueColumns(names)

	result := &QueryResult{
		Columns: columns,
		Rows:    make([]Row, 0),
	}
	for rows.Next() {
		if len(result.Rows) >= db.cfg.MaxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, db.scrub(err))
	}
	result.Count = len(result.Rows)
	result.Command = rows.CommandTag().String()

	if !db.cfg.ReadOnly {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("%w: commit: %s", ErrQueryFailed, db.scrub(err))
		}
	}

	db.log.Debug("database: query complete", "rows", result.Count, "truncated", result.Truncated, "duration", time.Since(start))
	return result, nil
}

// uniqueColumns suffixes repeated column names (id, id_2, id_3) so every value of a row
// survives as a distinct key. A suffix never collides with a name already in the result.
func uniqueColumns(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, name := range names {
		taken[name] = true
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		if !seen[name] {
			seen[name] = true
			out[i] = name
			continue
		}
		for n := 2; ; n++ {
			candidate := name + "_" + strconv.Itoa(n)
			if !taken[candidate] {
				taken[candidate] = true
				out[i] = candidate
				break
			}
		}
	}
	return out
}

// normalizeValue converts driver values into something encoding/json renders faithfully.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case float64:
		return finiteOrString(val)
	case float32:
		return finiteOrString(float64(val))
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier != pgtype.Finite {
			if val.InfinityModifier == pgtype.Infinity {
				return "Infinity"
			}
			return "-Infinity"
		}
		return numericValue(val)
	case time.Time:
		return val
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return val
	case driver.Valuer:
		return valuerString(val)
	default:
		return val
	}
}

func finiteOrString(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

// numericValue returns a float64 only when it prints back to the same decimal; wider
// values keep their exact text form.
func numericValue(n pgtype.Numeric) any {
	text := numericText(n)
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return text
	}
	exact, ok := new(big.Rat).SetString(text)
	if !ok {
		return text
	}
	shortest, ok := new(big.Rat).SetString(strconv.FormatFloat(f.Float64, 'f', -1, 64))
	if !ok || exact.Cmp(shortest) != 0 {
		return text
	}
	return f.Float64
}

// numericText renders a finite numeric as plain decimal text, keeping its scale.
func numericText(n pgtype.Numeric) string {
	if n.Int == nil {
		return "0"
	}
	digits := new(big.Int).Abs(n.Int).String()
	sign := ""
	if n.Int.Sign() < 0 {
		sign = "-"
	}
	if n.Exp >= 0 {
		return sign + digits + strings.Repeat("0", int(n.Exp))
	}
	scale := int(-n.Exp)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	return sign + digits[:point] + "." + digits[point:]
}

func valuerString(v driver.Valuer) any {
	dv, err := v.Value()
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if b, ok := dv.([]byte); ok {
		return string(b)
	}
	return dv
}
