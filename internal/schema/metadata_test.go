package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/text2sql/internal/models"
)

func sampleTable() *Table {
	return &Table{
		Name:    "orders",
		Comment: "订单表",
		Columns: []Column{
			{Name: "id", Type: "bigint", IsPrimary: true},
			{Name: "user_id", Type: "bigint", IsForeign: true, References: &models.ColumnRef{Table: "users", Column: "id"}},
			{Name: "remark", Type: "varchar(255)", Nullable: true},
		},
		RowCount: 10,
	}
}

func TestTable_DDL(t *testing.T) {
	want := "CREATE TABLE orders (\n" +
		"    id bigint NOT NULL,\n" +
		"    user_id bigint NOT NULL,\n" +
		"    remark varchar(255),\n" +
		"    PRIMARY KEY (id)\n" +
		")"
	assert.Equal(t, want, sampleTable().DDL())
}

func TestSaveLoadMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta", "metadata.json")
	md := &Metadata{DatabaseType: "mysql", Tables: map[string]*Table{"orders": sampleTable()}}
	require.NoError(t, SaveMetadata(path, md))

	got, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, got.TableNames())
	assert.Equal(t, md.Tables["orders"].ForeignKeys(), got.Tables["orders"].ForeignKeys())
}

func TestLoadMetadata_FillsNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	data := `{"tables": {"users": {"comment": "用户表", "columns": [{"name": "id", "type": "int", "is_primary": true}], "row_count": 3}}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	md, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "users", md.Tables["users"].Name)
	assert.Equal(t, []string{"id"}, md.Tables["users"].PrimaryKeys())
}

func TestLoadMetadata_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadMetadata(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"tables": {}}`), 0644))
	_, err = LoadMetadata(empty)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0644))
	_, err = LoadMetadata(bad)
	assert.Error(t, err)
}
