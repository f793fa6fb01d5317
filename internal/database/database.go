// Package database opens the target database connection pool and describes
// the SQL dialects the validator and introspector understand.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/hyperjump/text2sql/internal/config"
)

// Dialect is the backend-specific SQL variant.
type Dialect string

const (
	MySQL    Dialect = config.DatabaseMySQL
	Postgres Dialect = config.DatabasePostgres
)

// ParseDialect maps a configured database type to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case config.DatabaseMySQL:
		return MySQL, nil
	case config.DatabasePostgres, "postgres":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database type: %q", s)
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "mysql"
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// DSN builds the driver connection string for cfg.
func DSN(cfg config.DatabaseConfig) (string, error) {
	dialect, err := ParseDialect(cfg.Type)
	if err != nil {
		return "", err
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	switch dialect {
	case Postgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     addr,
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	default:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN(), nil
	}
}

// Open connects to the target database, applies pool limits and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Type)
	if err != nil {
		return nil, "", err
	}
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	ConfigurePool(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("failed to connect to %s at %s:%d: %w", dialect, cfg.Host, cfg.Port, err)
	}
	return db, dialect, nil
}

// ConfigurePool applies the pool settings of cfg to db.
func ConfigurePool(db *sql.DB, cfg config.DatabaseConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}
