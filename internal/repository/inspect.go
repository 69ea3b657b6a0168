package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type ColumnInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	Default    string `json:"default,omitempty" yaml:"default,omitempty"`
	PrimaryKey bool   `json:"primaryKey" yaml:"primaryKey"`
}

const (
	sqliteTablesSQL = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	mysqlTablesSQL  = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	pgTablesSQL     = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`
)

const mysqlColumnsSQL = `
SELECT column_name, column_type, is_nullable = 'YES', COALESCE(column_default, ''), column_key = 'PRI'
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position
`

const pgColumnsSQL = `
SELECT c.column_name, c.data_type, c.is_nullable = 'YES', COALESCE(c.column_default, ''),
	EXISTS (
		SELECT 1
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage k
			ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = c.table_schema
			AND tc.table_name = c.table_name
			AND k.column_name = c.column_name
	)
FROM information_schema.columns c
WHERE c.table_schema = current_schema() AND c.table_name = ?
ORDER BY c.ordinal_position
`

// ListTables returns the application-visible tables of the connected database.
func ListTables(ctx context.Context, db *bun.DB) ([]string, error) {
	var query string
	switch db.Dialect().Name() {
	case dialect.SQLite:
		query = sqliteTablesSQL
	case dialect.MySQL:
		query = mysqlTablesSQL
	case dialect.PG:
		query = pgTablesSQL
	default:
		return nil, fmt.Errorf("unsupported dialect %s", db.Dialect().Name())
	}

	tables := make([]string, 0)
	if err := db.NewRaw(query).Scan(ctx, &tables); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

func DescribeTable(ctx context.Context, db *bun.DB, table string) ([]ColumnInfo, error) {
	switch db.Dialect().Name() {
	case dialect.SQLite:
		return describeSQLiteTable(ctx, db, table)
	case dialect.MySQL:
		return describeInformationSchema(ctx, db, mysqlColumnsSQL, table)
	case dialect.PG:
		return describeInformationSchema(ctx, db, pgColumnsSQL, table)
	default:
		return nil, fmt.Errorf("unsupported dialect %s", db.Dialect().Name())
	}
}

func describeSQLiteTable(ctx context.Context, db *bun.DB, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info(?)", bun.Ident(table))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	columns := make([]ColumnInfo, 0)
	for rows.Next() {
		var (
			cid     int
			col     ColumnInfo
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col.Nullable = notNull == 0
		col.Default = dflt.String
		col.PrimaryKey = pk > 0
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func describeInformationSchema(ctx context.Context, db *bun.DB, query, table string) ([]ColumnInfo, error) {
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	columns := make([]ColumnInfo, 0)
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.PrimaryKey); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}
