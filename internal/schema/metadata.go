// Package schema extracts table metadata from a live database and persists it as JSON.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/text2sql/internal/models"
)

// Column describes one table column.
type Column struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Nullable   bool              `json:"nullable"`
	Default    *string           `json:"default"`
	Comment    string            `json:"comment"`
	IsPrimary  bool              `json:"is_primary"`
	IsForeign  bool              `json:"is_foreign"`
	References *models.ColumnRef `json:"references,omitempty"`
}

// Index describes one table index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"column_names"`
	Unique  bool     `json:"unique"`
}

// Table is the extracted metadata of one table.
type Table struct {
	Name     string   `json:"name"`
	Comment  string   `json:"comment"`
	Columns  []Column `json:"columns"`
	Indexes  []Index  `json:"indexes"`
	RowCount int64    `json:"row_count"`
}

// Relationship is one foreign-key constraint, possibly spanning several columns.
type Relationship struct {
	Name        string   `json:"name"`
	FromTable   string   `json:"from_table"`
	FromColumns []string `json:"from_columns"`
	ToTable     string   `json:"to_table"`
	ToColumns   []string `json:"to_columns"`
}

// Metadata is everything extracted from one database.
type Metadata struct {
	DatabaseType  string            `json:"database_type"`
	Tables        map[string]*Table `json:"tables"`
	Relationships []Relationship    `json:"relationships"`
	ExtractedAt   time.Time         `json:"extracted_at"`
}

// TableNames returns the table names in sorted order.
func (m *Metadata) TableNames() []string {
	names := make([]string, 0, len(m.Tables))
	for name := range m.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// PrimaryKeys returns the primary-key column names.
func (t *Table) PrimaryKeys() []string {
	var out []string
	for _, c := range t.Columns {
		if c.IsPrimary {
			out = append(out, c.Name)
		}
	}
	return out
}

// ForeignKeys returns the single-column foreign keys of the table.
func (t *Table) ForeignKeys() []models.ForeignKey {
	var out []models.ForeignKey
	for _, c := range t.Columns {
		if c.IsForeign && c.References != nil {
			out = append(out, models.ForeignKey{Column: c.Name, References: *c.References})
		}
	}
	return out
}

// DDL renders a CREATE TABLE statement with NOT NULL and primary-key clauses.
func (t *Table) DDL() string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		def := fmt.Sprintf("    %s %s", c.Name, c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if pks := t.PrimaryKeys(); len(pks) > 0 {
		defs = append(defs, fmt.Sprintf("    PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n)", t.Name, strings.Join(defs, ",\n"))
}

// SaveMetadata writes md as indented JSON, creating parent directories.
func SaveMetadata(path string, md *Metadata) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create metadata directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// LoadMetadata reads a metadata file written by SaveMetadata or produced by
// another extractor with the same layout. Missing table names are filled from map keys.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to parse metadata %s: %w", path, err)
	}
	if len(md.Tables) == 0 {
		return nil, fmt.Errorf("metadata %s contains no tables", path)
	}
	for name, t := range md.Tables {
		if t == nil {
			return nil, fmt.Errorf("metadata %s: table %q is empty", path, name)
		}
		if t.Name == "" {
			t.Name = name
		}
	}
	return &md, nil
}
