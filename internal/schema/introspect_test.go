package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/text2sql/internal/database"
	"github.com/hyperjump/text2sql/internal/models"
)

func TestIntrospector_MySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"name", "comment", "rows"}).
			AddRow("orders", "订单表", int64(1200)))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "default", "comment"}).
			AddRow("id", "bigint", "NO", nil, "").
			AddRow("user_id", "bigint", "NO", nil, "用户ID").
			AddRow("status", "tinyint", "YES", "1", "状态: 1=成功, 2=失败"))
	mock.ExpectQuery(`CONSTRAINT_NAME = 'PRIMARY'`).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column"}).AddRow("id"))
	mock.ExpectQuery(`REFERENCED_TABLE_NAME IS NOT NULL`).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column", "ref_table", "ref_column", "name"}).
			AddRow("user_id", "users", "id", "fk_orders_user"))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.STATISTICS`).
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"name", "column", "unique"}).
			AddRow("PRIMARY", "id", true).
			AddRow("idx_user_status", "user_id", false).
			AddRow("idx_user_status", "status", false))

	in := NewIntrospector(db, database.MySQL, "shop", nil)
	md, err := in.Extract(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "mysql", md.DatabaseType)
	require.Contains(t, md.Tables, "orders")
	orders := md.Tables["orders"]
	assert.Equal(t, "订单表", orders.Comment)
	assert.Equal(t, int64(1200), orders.RowCount)
	assert.Equal(t, []string{"id", "user_id", "status"}, orders.ColumnNames())
	assert.Equal(t, []string{"id"}, orders.PrimaryKeys())
	assert.Equal(t, []models.ForeignKey{{Column: "user_id", References: models.ColumnRef{Table: "users", Column: "id"}}}, orders.ForeignKeys())
	assert.False(t, orders.Columns[0].Nullable)
	require.NotNil(t, orders.Columns[2].Default)
	assert.Equal(t, "1", *orders.Columns[2].Default)

	require.Len(t, orders.Indexes, 2)
	assert.Equal(t, []string{"user_id", "status"}, orders.Indexes[1].Columns)
	assert.True(t, orders.Indexes[0].Unique)

	require.Len(t, md.Relationships, 1)
	assert.Equal(t, Relationship{
		Name: "fk_orders_user", FromTable: "orders", FromColumns: []string{"user_id"},
		ToTable: "users", ToColumns: []string{"id"},
	}, md.Relationships[0])
}

func TestIntrospector_PostgresCompositeForeignKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM pg_class c`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"name", "comment", "rows"}).
			AddRow("order_items", "", int64(0)))
	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("public", "order_items").
		WillReturnRows(sqlmock.NewRows([]string{"name", "type", "nullable", "default", "comment"}).
			AddRow("order_id", "integer", "NO", nil, "").
			AddRow("line_no", "integer", "NO", nil, ""))
	mock.ExpectQuery(`PRIMARY KEY`).
		WithArgs("public", "order_items").
		WillReturnRows(sqlmock.NewRows([]string{"column"}).AddRow("order_id").AddRow("line_no"))
	mock.ExpectQuery(`FOREIGN KEY`).
		WithArgs("public", "order_items").
		WillReturnRows(sqlmock.NewRows([]string{"column", "ref_table", "ref_column", "name"}).
			AddRow("order_id", "order_lines", "order_id", "fk_lines").
			AddRow("line_no", "order_lines", "line_no", "fk_lines"))
	mock.ExpectQuery(`FROM pg_index`).
		WithArgs("public", "order_items").
		WillReturnError(errors.New("permission denied"))

	in := NewIntrospector(db, database.Postgres, "", nil)
	md, err := in.Extract(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	items := md.Tables["order_items"]
	assert.Equal(t, []string{"order_id", "line_no"}, items.PrimaryKeys())
	assert.Empty(t, items.ForeignKeys(), "composite constraints do not mark single columns")
	assert.Empty(t, items.Indexes)
	require.Len(t, md.Relationships, 1)
	assert.Equal(t, []string{"order_id", "line_no"}, md.Relationships[0].FromColumns)
}

func TestIntrospector_ListError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WillReturnError(errors.New("access denied"))

	_, err = NewIntrospector(db, database.MySQL, "shop", nil).Extract(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
