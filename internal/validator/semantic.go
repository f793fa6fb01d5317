package validator

import (
	"strings"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// checkSemantics verifies that every referenced table is in the schema
// context and every column reference exists.
//
// A qualified column is checked against its owning table. An unqualified
// column only has to exist in one of the referenced tables; the check cannot
// detect a column that is ambiguous between them. Select-field aliases and CTE
// column names are accepted anywhere, and columns qualified by a CTE or
// derived-table alias are not checked.
func checkSemantics(refs *references, sc *models.SchemaContext) error {
	known := make(map[string]*models.TableEntry)
	if sc != nil {
		for i := range sc.Tables {
			known[strings.ToLower(sc.Tables[i].Name)] = &sc.Tables[i]
		}
	}

	var missing []string
	for _, t := range refs.tables {
		if known[t] == nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return &apperrors.SemanticError{MissingTables: missing}
	}
	if len(refs.tables) == 0 {
		return nil
	}

	columnsOf := make(map[string]map[string]bool, len(refs.tables))
	for _, t := range refs.tables {
		set := make(map[string]bool, len(known[t].Columns))
		for _, c := range known[t].Columns {
			set[strings.ToLower(c)] = true
		}
		columnsOf[t] = set
	}

	var (
		perTable   = make(map[string][]string)
		unresolved []string
	)
	for _, col := range refs.columns {
		if col.qualifier != "" {
			if refs.derived[col.qualifier] {
				continue
			}
			table, ok := refs.aliases[col.qualifier]
			if !ok || columnsOf[table] == nil {
				// Unknown qualifiers surface in the dry run.
				continue
			}
			if !columnsOf[table][col.name] {
				perTable[table] = utils.AppendUnique(perTable[table], col.name)
			}
			continue
		}
		if refs.outputs[col.name] || inAny(columnsOf, col.name) {
			continue
		}
		unresolved = utils.AppendUnique(unresolved, col.name)
	}

	// With a single table in scope an unknown bare column belongs to it.
	if len(unresolved) > 0 && len(refs.tables) == 1 {
		t := refs.tables[0]
		perTable[t] = utils.AppendUnique(perTable[t], unresolved...)
		unresolved = nil
	}
	if len(perTable) == 0 && len(unresolved) == 0 {
		return nil
	}
	err := &apperrors.SemanticError{MissingColumns: perTable}
	if len(unresolved) > 0 {
		err.Unresolved = unresolved
		err.Searched = refs.tables
	}
	return err
}

func inAny(columnsOf map[string]map[string]bool, name string) bool {
	for _, set := range columnsOf {
		if set[name] {
			return true
		}
	}
	return false
}
