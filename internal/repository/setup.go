package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// CreateDatabase creates the configured MySQL or Postgres database when it
// does not exist yet. SQLite files are created on first open, so it is a
// no-op there. It reports whether a database was created.
func CreateDatabase(ctx context.Context, cfg DBConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	if cfg.Type == DBTypeSQLite {
		return false, nil
	}

	server, err := OpenDSN(ctx, cfg.Type, cfg.ServerConnString())
	if err != nil {
		return false, err
	}
	defer server.Close()

	switch cfg.Type {
	case DBTypeMySQL:
		res, err := server.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS ?", bun.Ident(cfg.Name))
		if err != nil {
			return false, fmt.Errorf("create database %s: %w", cfg.Name, err)
		}
		affected, _ := res.RowsAffected()
		return affected > 0, nil
	case DBTypePostgres:
		var exists bool
		if err := server.NewRaw("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = ?)", cfg.Name).Scan(ctx, &exists); err != nil {
			return false, fmt.Errorf("check database %s: %w", cfg.Name, err)
		}
		if exists {
			return false, nil
		}
		if _, err := server.ExecContext(ctx, "CREATE DATABASE ?", bun.Ident(cfg.Name)); err != nil {
			return false, fmt.Errorf("create database %s: %w", cfg.Name, err)
		}
		return true, nil
	default:
		return false, nil
	}
}
