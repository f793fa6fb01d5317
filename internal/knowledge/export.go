package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hyperjump/text2sql/internal/models"
)

// ExportVersion is the version written into export payloads.
const ExportVersion = "1"

// Export is the portable form of a knowledge store.
type Export struct {
	Version    string             `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Documents  []*models.Document `json:"documents"`
}

const exportSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["version", "documents"],
	"properties": {
		"version": {"type": "string", "enum": ["1"]},
		"exported_at": {"type": "string"},
		"documents": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "content", "metadata"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"content": {"type": "string"},
					"metadata": {
						"type": "object",
						"required": ["type"],
						"properties": {
							"type": {"type": "string", "enum": ["table", "business"]},
							"table_name": {"type": "string"},
							"columns": {"type": "array", "items": {"type": "string"}},
							"primary_keys": {"type": "array", "items": {"type": "string"}},
							"foreign_keys": {
								"type": "array",
								"items": {
									"type": "object",
									"required": ["column", "references"],
									"properties": {
										"column": {"type": "string"},
										"references": {
											"type": "object",
											"required": ["table", "column"],
											"properties": {
												"table": {"type": "string"},
												"column": {"type": "string"}
											}
										}
									}
								}
							},
							"row_count": {"type": "integer"}
						}
					}
				}
			}
		}
	}
}`

var exportSchemaLoader = gojsonschema.NewStringLoader(exportSchema)

// Export writes every document of the active generation as JSON.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	docs, err := s.ListDocuments(ctx, 0)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(Export{Version: ExportVersion, ExportedAt: time.Now().UTC(), Documents: docs})
}

// ParseExport validates data against the export schema and decodes it.
func ParseExport(data []byte) (*Export, error) {
	result, err := gojsonschema.Validate(exportSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid export payload: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid export payload: %s", strings.Join(msgs, "; "))
	}
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("invalid export payload: %w", err)
	}
	return &exp, nil
}

// Import validates an export payload and rebuilds the store from it.
// It returns the number of imported documents.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read import: %w", err)
	}
	exp, err := ParseExport(data)
	if err != nil {
		return 0, err
	}
	if err := s.Rebuild(ctx, exp.Documents); err != nil {
		return 0, err
	}
	return len(exp.Documents), nil
}
