package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/text2sql/internal/config"
)

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("mysql")
	require.NoError(t, err)
	assert.Equal(t, MySQL, d)

	d, err = ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	_, err = ParseDialect("oracle")
	assert.Error(t, err)
}

func TestDialect_Placeholder(t *testing.T) {
	assert.Equal(t, "?", MySQL.Placeholder(2))
	assert.Equal(t, "$2", Postgres.Placeholder(2))
	assert.Equal(t, "mysql", MySQL.DriverName())
	assert.Equal(t, "postgres", Postgres.DriverName())
}

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{Type: "mysql", Host: "db", Port: 3306, User: "root", Password: "pw", Name: "shop"}
	dsn, err := DSN(cfg)
	require.NoError(t, err)
	assert.Contains(t, dsn, "root:pw@tcp(db:3306)/shop")
	assert.Contains(t, dsn, "parseTime=true")

	cfg.Type = "postgresql"
	cfg.Port = 5432
	dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "postgres://root:pw@db:5432/shop?sslmode=disable", dsn)
}
