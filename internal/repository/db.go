package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

const (
	DBTypeSQLite   = "sqlite"
	DBTypeMySQL    = "mysql"
	DBTypePostgres = "postgres"
)

// DBConfig describes where the users table lives. DSN, when set, wins over
// the individual fields.
type DBConfig struct {
	Type     string `env:"TYPE" envDefault:"sqlite"`
	Path     string `env:"PATH" envDefault:"./database.sqlite"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT"`
	Name     string `env:"NAME" envDefault:"user_management"`
	User     string `env:"USER" envDefault:"root"`
	Password string `env:"PASS"`
	DSN      string `env:"DSN"`
}

func (c DBConfig) Validate() error {
	switch c.Type {
	case DBTypeSQLite, DBTypeMySQL, DBTypePostgres:
		return nil
	default:
		return fmt.Errorf("unsupported database type %q", c.Type)
	}
}

func (c DBConfig) port() string {
	if c.Port != "" {
		return c.Port
	}
	if c.Type == DBTypePostgres {
		return "5432"
	}
	return "3306"
}

// ConnString returns the driver DSN for the configured database.
func (c DBConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return c.connString(c.Name)
}

// ServerConnString returns a DSN that connects to the server without
// selecting the application database. SQLite has no such notion.
func (c DBConfig) ServerConnString() string {
	switch c.Type {
	case DBTypeMySQL:
		return c.connString("")
	case DBTypePostgres:
		return c.connString("postgres")
	default:
		return c.ConnString()
	}
}

func (c DBConfig) connString(dbName string) string {
	switch c.Type {
	case DBTypeMySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, c.port())
		mc.DBName = dbName
		mc.ParseTime = true
		mc.Loc = time.UTC
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN()
	case DBTypePostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, c.port()),
			Path:     "/" + dbName,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	default:
		return sqliteDSN(c.Path)
	}
}

func isMemorySQLite(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func sqliteDSN(path string) string {
	if isMemorySQLite(path) || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func driverName(dbType string) string {
	// pgx registers itself as "pgx".
	if dbType == DBTypePostgres {
		return "pgx"
	}
	return dbType
}

// Open connects to the configured database and wraps it in bun.
func Open(ctx context.Context, cfg DBConfig) (*bun.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return OpenDSN(ctx, cfg.Type, cfg.ConnString())
}

func OpenDSN(ctx context.Context, dbType, dsn string) (*bun.DB, error) {
	sqlDB, err := sql.Open(driverName(dbType), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" gets its own empty database, so the
	// pool must never grow or recycle it.
	if dbType == DBTypeSQLite && isMemorySQLite(dsn) {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetConnMaxLifetime(3 * time.Minute)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newBunDB(sqlDB, dbType), nil
}

func newBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case DBTypePostgres:
		return bun.NewDB(sqlDB, pgdialect.New())
	case DBTypeMySQL:
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// EnsureSchema creates the users table when it is missing. There are no
// versioned migrations; the table definition is the userRow model.
func EnsureSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*userRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}
