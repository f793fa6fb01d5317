// Package cli renders pipeline results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/pipeline"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// maxTextRows caps the rows printed in text mode.
const maxTextRows = 20

// WriteQueryResult writes a query result in the given format.
func WriteQueryResult(w io.Writer, r *models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, r)
	}
	fmt.Fprintf(w, "\nQuestion: %s\n", r.Query)
	if r.SQL != "" {
		fmt.Fprintf(w, "\nSQL:\n%s\n", r.SQL)
	}
	status := "valid"
	if !r.IsValid {
		status = "invalid"
	}
	fmt.Fprintf(w, "\nStatus: %s (corrections: %d)\n", status, r.CorrectionAttempts)
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	if r.Intermediate != nil {
		writeTrace(w, r.Intermediate)
	}
	if r.IsValid && r.Error == "" {
		writeRows(w, r.Rows)
	}
	return nil
}

func writeTrace(w io.Writer, tr *models.IntermediateTrace) {
	fmt.Fprintln(w, "\n--- Intermediate steps ---")
	if tr.ParsedQuery != nil {
		fmt.Fprintf(w, "Intent: %s\n", tr.ParsedQuery.Intent)
	}
	fmt.Fprintf(w, "Tables: %s\n", strings.Join(tr.RetrievedContext.Tables, ", "))
	for _, rel := range tr.RetrievedContext.Relationships {
		fmt.Fprintf(w, "  %s\n", rel.String())
	}
	for _, a := range tr.Attempts {
		fmt.Fprintf(w, "Attempt %d [%s] %s\n", a.Attempt, a.Stage, utils.Truncate(a.SQL, 120))
		if a.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", a.Error)
		}
	}
}

// Columns returns the sorted union of column names across rows.
func Columns(rows []models.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func writeRows(w io.Writer, rows []models.Row) {
	fmt.Fprintf(w, "\nRows: %d\n", len(rows))
	if len(rows) == 0 {
		return
	}
	cols := Columns(rows)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for i, row := range rows {
		if i == maxTextRows {
			fmt.Fprintf(w, "... %d more rows\n", len(rows)-maxTextRows)
			break
		}
		cells := make([]string, len(cols))
		for j, c := range cols {
			cells[j] = formatCell(row[c])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
}

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}

// WriteValidation writes a validation outcome.
func WriteValidation(w io.Writer, o *models.ValidationOutcome, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, o)
	}
	if o.Valid {
		fmt.Fprintf(w, "SQL is valid (checked through %s)\n", o.Stage)
	} else {
		fmt.Fprintf(w, "SQL is invalid at %s: %s\n", o.Stage, o.Error)
	}
	if o.FixedSQL != "" {
		fmt.Fprintf(w, "Fixed SQL:\n%s\n", o.FixedSQL)
	}
	return nil
}

// WriteExplain writes a query plan.
func WriteExplain(w io.Writer, e *models.ExplainResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, e)
	}
	fmt.Fprintf(w, "Query type: %s\nEstimated cost: %.2f\n\nPlan:\n", e.QueryType, e.EstimatedCost)
	var plan any
	if err := json.Unmarshal(e.Plan, &plan); err != nil {
		fmt.Fprintln(w, string(e.Plan))
		return nil
	}
	return WriteJSON(w, plan)
}

// WriteSchemaInfo writes the table overview or one table's document.
func WriteSchemaInfo(w io.Writer, info *pipeline.SchemaInfo, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, info)
	}
	if info.Table != nil {
		fmt.Fprintln(w, info.Table.Document)
		return nil
	}
	if len(info.Tables) == 0 {
		fmt.Fprintln(w, "Knowledge base is empty. Run `text2sql build` first.")
		return nil
	}
	fmt.Fprintf(w, "%-32s %8s %12s\n", "TABLE", "COLUMNS", "ROWS")
	for _, t := range info.Tables {
		fmt.Fprintf(w, "%-32s %8d %12d\n", t.Name, t.Columns, t.RowCount)
	}
	return nil
}

// WriteStats writes knowledge-base statistics.
func WriteStats(w io.Writer, s *pipeline.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, s)
	}
	fmt.Fprintf(w, "Documents:       %d\n", s.DocumentCount)
	fmt.Fprintf(w, "Tables:          %d\n", s.TableCount)
	if s.Generation != "" {
		fmt.Fprintf(w, "Generation:      %s\n", s.Generation)
	}
	if s.LastUpdated != nil {
		fmt.Fprintf(w, "Last updated:    %s\n", s.LastUpdated.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(w, "Disk usage:      %d bytes (database %d, keyword %d, vector %d)\n",
		s.DiskBytes, s.Disk.Database, s.Disk.Keyword, s.Disk.Vector)
	fmt.Fprintf(w, "Database type:   %s\n", s.DatabaseType)
	fmt.Fprintf(w, "LLM model:       %s\n", s.LLMModel)
	fmt.Fprintf(w, "Embedding model: %s\n", s.EmbeddingModel)
	return nil
}
