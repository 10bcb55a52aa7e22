package database

import (
	"context"
	"fmt"
)

const defaultSchema = "public"

type Table struct {
	Name string `json:"table_name"`
	Type string `json:"table_type"`
}

type Column struct {
	Name      string  `json:"column_name"`
	DataType  string  `json:"data_type"`
	Nullable  string  `json:"is_nullable"`
	MaxLength *string `json:"max_length,omitempty"`
	Default   *string `json:"default,omitempty"`
}

type Constraint struct {
	Name              string  `json:"constraint_name"`
	Type              string  `json:"constraint_type"`
	ColumnName        *string `json:"column_name,omitempty"`
	ForeignTableName  *string `json:"foreign_table_name,omitempty"`
	ForeignColumnName *string `json:"foreign_column_name,omitempty"`
	UpdateRule        *string `json:"update_rule,omitempty"`
	DeleteRule        *string `json:"delete_rule,omitempty"`
	CheckClause       *string `json:"check_clause,omitempty"`
}

type Index struct {
	Name           string `json:"index_name"`
	Type           string `json:"index_type"`
	IsUnique       bool   `json:"is_unique"`
	IsPrimary      bool   `json:"is_primary"`
	ColumnName     string `json:"column_name"`
	ColumnPosition int    `json:"column_position"`
	Definition     string `json:"index_definition"`
}

// TableSchema is one entry of the whole-database schema summary.
type TableSchema struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Columns []ColumnBrief `json:"columns"`
}

type ColumnBrief struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

func schemaOrDefault(schema string) string {
	if schema == "" {
		return defaultSchema
	}
	return schema
}

func (db *DB) ListTables(ctx context.Context, schema string) ([]Table, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}

	query := `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name
	`

	rows, err := db.pool.Query(ctx, query, schemaOrDefault(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %s", db.scrub(err))
	}
	defer rows.Close()

	tables := make([]Table, 0)
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.Type); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
	}
	return tables, nil
}

// TableColumns returns ErrTableNotFound when the table has no visible columns.
func (db *DB) TableColumns(ctx context.Context, schema, table string) ([]Column, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}
	if table == "" {
		return nil, ErrTableRequired
	}

	query := `
		SELECT
			column_name,
			data_type,
			character_maximum_length::text,
			is_nullable,
			column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := db.pool.Query(ctx, query, schemaOrDefault(schema), table)
	if err != nil {
		return nil, fmt.Errorf("failed to get table schema: %s", db.scrub(err))
	}
	defer rows.Close()

	columns := make([]Column, 0)
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Nullable, &c.Default); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, schemaOrDefault(schema), table)
	}
	return columns, nil
}

func (db *DB) TableConstraints(ctx context.Context, schema, table string) ([]Constraint, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}
	if table == "" {
		return nil, ErrTableRequired
	}

	query := `
		SELECT
			tc.constraint_name,
			tc.constraint_type,
			kcu.column_name,
			ccu.table_name AS foreign_table_name,
			ccu.column_name AS foreign_column_name,
			rc.update_rule,
			rc.delete_rule,
			cc.check_clause
		FROM information_schema.table_constraints tc
		LEFT JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		LEFT JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		LEFT JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		LEFT JOIN information_schema.check_constraints cc
			ON tc.constraint_name = cc.constraint_name
			AND tc.table_schema = cc.constraint_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY tc.constraint_type, tc.constraint_name, kcu.ordinal_position
	`

	rows, err := db.pool.Query(ctx, query, schemaOrDefault(schema), table)
	if err != nil {
		return nil, fmt.Errorf("failed to get table constraints: %s", db.scrub(err))
	}
	defer rows.Close()

	constraints := make([]Constraint, 0)
	for rows.Next() {
		var c Constraint
		if err := rows.Scan(&c.Name, &c.Type, &c.ColumnName, &c.ForeignTableName, &c.ForeignColumnName, &c.UpdateRule, &c.DeleteRule, &c.CheckClause); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
		}
		constraints = append(constraints, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
	}
	return constraints, nil
}

func (db *DB) TableIndexes(ctx context.Context, schema, table string) ([]Index, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}
	if table == "" {
		return nil, ErrTableRequired
	}

	query := `
		SELECT
			i.indexname,
			i.indexdef,
			a.amname AS index_type,
			idx.indisunique AS is_unique,
			idx.indisprimary AS is_primary,
			pg_get_indexdef(idx.indexrelid, k + 1, true) AS column_name,
			k AS column_position
		FROM pg_indexes i
		JOIN pg_namespace n ON n.nspname = i.schemaname
		JOIN pg_class c ON c.relname = i.indexname AND c.relnamespace = n.oid
		JOIN pg_index idx ON idx.indexrelid = c.oid
		JOIN pg_am a ON a.oid = c.relam
		CROSS JOIN LATERAL generate_series(0, idx.indnatts - 1) AS k
		WHERE i.schemaname = $1 AND i.tablename = $2
		ORDER BY i.indexname, k
	`

	rows, err := db.pool.Query(ctx, query, schemaOrDefault(schema), table)
	if err != nil {
		return nil, fmt.Errorf("failed to get table indexes: %s", db.scrub(err))
	}
	defer rows.Close()

	indexes := make([]Index, 0)
	for rows.Next() {
		var idx Index
		if err := rows.Scan(&idx.Name, &idx.Definition, &idx.Type, &idx.IsUnique, &idx.IsPrimary, &idx.ColumnName, &idx.ColumnPosition); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
		}
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
	}
	return indexes, nil
}

// DatabaseSchema summarizes every table and view in schema with its columns, in one round trip.
func (db *DB) DatabaseSchema(ctx context.Context, schema string) ([]TableSchema, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}

	query := `
		SELECT t.table_name, t.table_type, c.column_name, c.data_type, c.is_nullable = 'YES'
		FROM information_schema.tables t
		JOIN information_schema.columns c
			ON c.table_schema = t.table_schema AND c.table_name = t.table_name
		WHERE t.table_schema = $1
		ORDER BY t.table_name, c.ordinal_position
	`

	rows, err := db.pool.Query(ctx, query, schemaOrDefault(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to read database schema: %s", db.scrub(err))
	}
	defer rows.Close()

	tables := make([]TableSchema, 0)
	for rows.Next() {
		var tableName, tableType string
		var col ColumnBrief
		if err := rows.Scan(&tableName, &tableType, &col.Name, &col.DataType, &col.Nullable); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
		}
		if n := len(tables); n == 0 || tables[n-1].Name != tableName {
			tables = append(tables, TableSchema{Name: tableName, Type: tableType})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadingRows, db.scrub(err))
	}
	return tables, nil
}
