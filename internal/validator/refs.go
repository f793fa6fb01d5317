package validator

import (
	"github.com/pingcap/tidb/pkg/parser/ast"

	"github.com/hyperjump/text2sql/pkg/utils"
)

// column is a column reference; qualifier is empty when unqualified.
type column struct {
	qualifier string
	name      string
}

// references holds the table and column references of a statement, all
// lower-cased. Subqueries are flattened into a single scope.
type references struct {
	tables  []string
	columns []column
	// aliases maps a table alias (and each table's own name) to its table.
	aliases map[string]string
	// derived holds CTE names and derived-table aliases.
	derived map[string]bool
	// outputs holds select-field aliases and CTE column names.
	outputs map[string]bool
}

func newReferences() *references {
	return &references{
		aliases: make(map[string]string),
		derived: make(map[string]bool),
		outputs: make(map[string]bool),
	}
}

// dropDerived removes CTE names from the table list. They are only known
// once the whole statement has been walked.
func (r *references) dropDerived() {
	tables := r.tables[:0]
	for _, t := range r.tables {
		if r.derived[t] {
			delete(r.aliases, t)
			continue
		}
		tables = append(tables, t)
	}
	r.tables = tables
}

// collectReferences walks a statement parsed with the MySQL grammar.
func collectReferences(stmt ast.StmtNode) *references {
	c := &refCollector{refs: newReferences()}
	stmt.Accept(c)
	c.refs.dropDerived()
	return c.refs
}

type refCollector struct {
	refs *references
}

func (c *refCollector) Enter(n ast.Node) (ast.Node, bool) {
	r := c.refs
	switch node := n.(type) {
	case *ast.WithClause:
		for _, cte := range node.CTEs {
			r.derived[cte.Name.L] = true
			for _, col := range cte.ColNameList {
				r.outputs[col.L] = true
			}
		}
	case *ast.TableSource:
		if node.AsName.L == "" {
			break
		}
		if tn, ok := node.Source.(*ast.TableName); ok {
			r.aliases[node.AsName.L] = tn.Name.L
		} else {
			r.derived[node.AsName.L] = true
		}
	case *ast.TableName:
		r.tables = utils.AppendUnique(r.tables, node.Name.L)
		if _, ok := r.aliases[node.Name.L]; !ok {
			r.aliases[node.Name.L] = node.Name.L
		}
	case *ast.ColumnNameExpr:
		r.columns = append(r.columns, column{qualifier: node.Name.Table.L, name: node.Name.Name.L})
	case *ast.SelectField:
		if node.AsName.L != "" {
			r.outputs[node.AsName.L] = true
		}
	}
	return n, false
}

func (c *refCollector) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}
