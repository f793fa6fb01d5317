package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/database"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// queries holds the dialect-specific catalog queries. Every query of a kind
// returns the same column shape so scanning is shared.
type queries struct {
	// name, comment, row_count
	tables string
	// name, type, is_nullable ('YES'/'NO'), default, comment
	columns string
	// column_name
	primaryKeys string
	// column, referenced table, referenced column, constraint name
	foreignKeys string
	// index name, column name, unique
	indexes string
}

var mysqlQueries = queries{
	tables: `SELECT TABLE_NAME, COALESCE(TABLE_COMMENT, ''), COALESCE(TABLE_ROWS, 0)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`,
	columns: `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COALESCE(COLUMN_COMMENT, '')
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`,
	primaryKeys: `SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION`,
	foreignKeys: `SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, CONSTRAINT_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION`,
	indexes: `SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE = 0
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`,
}

var postgresQueries = queries{
	tables: `SELECT c.relname, COALESCE(obj_description(c.oid, 'pg_class'), ''), GREATEST(c.reltuples, 0)::bigint
		FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind = 'r'
		ORDER BY c.relname`,
	columns: `SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
			COALESCE(col_description((quote_ident(c.table_schema) || '.' || quote_ident(c.table_name))::regclass, c.ordinal_position), '')
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`,
	primaryKeys: `SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`,
	foreignKeys: `SELECT kcu.column_name, ccu.table_name, ccu.column_name, tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position`,
	indexes: `SELECT i.relname, a.attname, ix.indisunique
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY i.relname, a.attnum`,
}

// Introspector reads table metadata from a live database.
type Introspector struct {
	db      *sql.DB
	dialect database.Dialect
	schema  string
	q       queries
	logger  *zap.Logger
}

// NewIntrospector creates an introspector. For MySQL schemaName is the
// database name; for PostgreSQL it is the namespace and defaults to "public".
func NewIntrospector(db *sql.DB, dialect database.Dialect, schemaName string, logger *zap.Logger) *Introspector {
	q := mysqlQueries
	if dialect == database.Postgres {
		q = postgresQueries
		if schemaName == "" {
			schemaName = "public"
		}
	}
	return &Introspector{db: db, dialect: dialect, schema: schemaName, q: q, logger: utils.OrNop(logger)}
}

// Extract reads every base table with its columns, keys, indexes and row-count estimate.
func (in *Introspector) Extract(ctx context.Context) (*Metadata, error) {
	tables, err := in.listTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	md := &Metadata{
		DatabaseType: string(in.dialect),
		Tables:       make(map[string]*Table, len(tables)),
		ExtractedAt:  time.Now(),
	}
	for _, t := range tables {
		rels, err := in.describe(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("failed to extract table %s: %w", t.Name, err)
		}
		md.Tables[t.Name] = t
		md.Relationships = append(md.Relationships, rels...)
	}
	in.logger.Info("Extracted database metadata",
		zap.String("dialect", string(in.dialect)),
		zap.Int("tables", len(md.Tables)),
		zap.Int("relationships", len(md.Relationships)))
	return md, nil
}

func (in *Introspector) listTables(ctx context.Context) ([]*Table, error) {
	rows, err := in.db.QueryContext(ctx, in.q.tables, in.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.Comment, &t.RowCount); err != nil {
			return nil, err
		}
		tables = append(tables, &t)
	}
	return tables, rows.Err()
}

// describe fills columns, keys and indexes of t and returns its foreign-key relationships.
func (in *Introspector) describe(ctx context.Context, t *Table) ([]Relationship, error) {
	if err := in.readColumns(ctx, t); err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	if err := in.readPrimaryKeys(ctx, t); err != nil {
		return nil, fmt.Errorf("primary keys: %w", err)
	}
	rels, err := in.readForeignKeys(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	if err := in.readIndexes(ctx, t); err != nil {
		// Index listing needs extra catalog privileges on some servers.
		in.logger.Warn("Could not read indexes", zap.String("table", t.Name), zap.Error(err))
	}
	return rels, nil
}

func (in *Introspector) readColumns(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, in.q.columns, in.schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c Column
		var nullable string
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.Type, &nullable, &def, &c.Comment); err != nil {
			return err
		}
		c.Nullable = nullable == "YES"
		if def.Valid {
			v := def.String
			c.Default = &v
		}
		t.Columns = append(t.Columns, c)
	}
	return rows.Err()
}

func (in *Introspector) readPrimaryKeys(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, in.q.primaryKeys, in.schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if c := t.column(name); c != nil {
			c.IsPrimary = true
		}
	}
	return rows.Err()
}

func (in *Introspector) readForeignKeys(ctx context.Context, t *Table) ([]Relationship, error) {
	rows, err := in.db.QueryContext(ctx, in.q.foreignKeys, in.schema, t.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relationship
	byName := make(map[string]int)
	for rows.Next() {
		var col, refTable, refCol, name string
		if err := rows.Scan(&col, &refTable, &refCol, &name); err != nil {
			return nil, err
		}
		i, ok := byName[name]
		if !ok {
			i = len(rels)
			byName[name] = i
			rels = append(rels, Relationship{Name: name, FromTable: t.Name, ToTable: refTable})
		}
		rels[i].FromColumns = append(rels[i].FromColumns, col)
		rels[i].ToColumns = append(rels[i].ToColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Only single-column constraints mark a column as a foreign key.
	for _, rel := range rels {
		if len(rel.FromColumns) != 1 {
			continue
		}
		if c := t.column(rel.FromColumns[0]); c != nil && !c.IsForeign {
			c.IsForeign = true
			c.References = &models.ColumnRef{Table: rel.ToTable, Column: rel.ToColumns[0]}
		}
	}
	return rels, nil
}

func (in *Introspector) readIndexes(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, in.q.indexes, in.schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[string]int)
	for rows.Next() {
		var name, col string
		var unique bool
		if err := rows.Scan(&name, &col, &unique); err != nil {
			return err
		}
		i, ok := byName[name]
		if !ok {
			i = len(t.Indexes)
			byName[name] = i
			t.Indexes = append(t.Indexes, Index{Name: name, Unique: unique})
		}
		t.Indexes[i].Columns = append(t.Indexes[i].Columns, col)
	}
	return rows.Err()
}

func (t *Table) column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}
