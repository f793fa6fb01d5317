package models

import (
	"fmt"
	"strings"
)

// ColumnRef points at a column of another table.
type ColumnRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ForeignKey maps a local column to the column it references.
type ForeignKey struct {
	Column     string    `json:"column"`
	References ColumnRef `json:"references"`
}

// TableEntry is a read-only snapshot of one table document returned by retrieval.
type TableEntry struct {
	Name        string       `json:"table_name"`
	Document    string       `json:"schema"`
	Columns     []string     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    int64        `json:"row_count"`
	Distance    float64      `json:"relevance_score"`
	// Focus, when set, is the subset of Columns the prompt shows in place of
	// the full document.
	Focus []string `json:"focus_columns,omitempty"`
}

// HasColumn reports whether the table declares the column, ignoring case.
func (t *TableEntry) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// NewTableEntry builds a table entry from a knowledge-store match.
func NewTableEntry(m Match) TableEntry {
	name := m.Metadata.TableName
	if name == "" {
		name = strings.TrimPrefix(m.ID, TableDocumentPrefix)
	}
	return TableEntry{
		Name:        name,
		Document:    m.Content,
		Columns:     m.Metadata.Columns,
		PrimaryKeys: m.Metadata.PrimaryKeys,
		ForeignKeys: m.Metadata.ForeignKeys,
		RowCount:    m.Metadata.RowCount,
		Distance:    m.Distance,
	}
}

// Relationship is a foreign-key edge between two tables of a context.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// SchemaContext is the subset of the knowledge store relevant to one query.
// Table names are unique and every relationship joins two tables of the context.
type SchemaContext struct {
	Tables        []TableEntry   `json:"tables"`
	Relationships []Relationship `json:"relationships"`
	BusinessRules string         `json:"business_rules,omitempty"`
	FullSchema    string         `json:"full_schema"`
}

// TableNames returns the context's table names in order.
func (c *SchemaContext) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for _, t := range c.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Table looks a table up by name, ignoring case.
func (c *SchemaContext) Table(name string) (*TableEntry, bool) {
	for i := range c.Tables {
		if strings.EqualFold(c.Tables[i].Name, name) {
			return &c.Tables[i], true
		}
	}
	return nil, false
}
