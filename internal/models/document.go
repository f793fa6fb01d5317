// Package models defines core data structures for queries, schema context, knowledge documents and results.
package models

import "time"

// Document types stored in the knowledge store.
const (
	DocTypeTable    = "table"
	DocTypeBusiness = "business"
)

// BusinessRulesID is the fixed id of the business-rules document.
const BusinessRulesID = "business_rules"

// TableDocumentPrefix prefixes the id of every table document.
const TableDocumentPrefix = "table_"

// TableDocumentID returns the knowledge-store id for a table.
func TableDocumentID(table string) string {
	return TableDocumentPrefix + table
}

// DocumentMetadata is the structured part of a knowledge document.
type DocumentMetadata struct {
	Type        string       `json:"type"`
	TableName   string       `json:"table_name,omitempty"`
	Columns     []string     `json:"columns,omitempty"`
	PrimaryKeys []string     `json:"primary_keys,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	RowCount    int64        `json:"row_count,omitempty"`
	CreatedAt   string       `json:"created_at,omitempty"`
}

// Document is one entry of the knowledge store.
type Document struct {
	ID        string           `json:"id"`
	Content   string           `json:"content"`
	Metadata  DocumentMetadata `json:"metadata"`
	Embedding []float32        `json:"-"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Match is a scored search hit. Distance is in [0, 2]; 0 means identical.
type Match struct {
	ID       string           `json:"id"`
	Content  string           `json:"document"`
	Metadata DocumentMetadata `json:"metadata"`
	Distance float64          `json:"distance"`
}

// Where restricts a search by document metadata. Zero fields match anything.
type Where struct {
	Type      string
	TableName string
}

// Matches reports whether meta satisfies every set field.
func (w Where) Matches(meta DocumentMetadata) bool {
	if w.Type != "" && meta.Type != w.Type {
		return false
	}
	if w.TableName != "" && meta.TableName != w.TableName {
		return false
	}
	return true
}
