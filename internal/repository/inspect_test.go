package repository

import (
	"context"
	"testing"
)

func TestListTablesAndDescribeSQLite(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tables, err := ListTables(ctx, db)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "users" {
		t.Fatalf("tables = %v, want [users]", tables)
	}

	columns, err := DescribeTable(ctx, db, "users")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}

	byName := make(map[string]ColumnInfo, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}
	for _, name := range []string{"id", "name", "email", "password_hash", "role", "phone", "city", "country", "created_at", "updated_at"} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("missing column %s in %+v", name, columns)
		}
	}
	if !byName["id"].PrimaryKey {
		t.Fatal("id should be the primary key")
	}
	if byName["email"].Nullable {
		t.Fatal("email should be NOT NULL")
	}
	if !byName["phone"].Nullable {
		t.Fatal("phone should be nullable")
	}
}

func TestCreateDatabaseSQLiteIsNoop(t *testing.T) {
	created, err := CreateDatabase(context.Background(), DBConfig{Type: DBTypeSQLite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	if created {
		t.Fatal("sqlite should not report a created database")
	}
}
