//go:build cgo

package validator

import (
	"sort"
	"strings"

	pg "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// parsePostgres parses sql with the PostgreSQL server grammar.
func parsePostgres(sql string) (*references, error) {
	tree, err := pg.Parse(sql)
	if err != nil {
		return nil, &apperrors.ParseError{Err: err}
	}
	if err := oneStatement(len(tree.GetStmts())); err != nil {
		return nil, err
	}

	c := &pgCollector{refs: newReferences(), targets: make(map[*pg.ResTarget]bool)}
	c.walk(tree.GetStmts()[0].GetStmt().ProtoReflect())
	return c.finish(), nil
}

type located[T any] struct {
	loc int32
	v   T
}

// pgCollector gathers references from a pg_query tree. Nodes carry their
// byte offset, so tables and columns are re-ordered by position at the end.
type pgCollector struct {
	refs    *references
	tables  []located[string]
	columns []located[column]
	// targets holds INSERT and UPDATE set targets, which name columns of the
	// target relation rather than output aliases.
	targets map[*pg.ResTarget]bool
}

func (c *pgCollector) walk(m protoreflect.Message) {
	c.enter(m.Interface())

	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() || !m.Has(fd) {
			continue
		}
		if fd.IsList() {
			list := m.Get(fd).List()
			for j := 0; j < list.Len(); j++ {
				c.walk(list.Get(j).Message())
			}
			continue
		}
		c.walk(m.Get(fd).Message())
	}
}

func (c *pgCollector) enter(msg protoreflect.ProtoMessage) {
	r := c.refs
	switch node := msg.(type) {
	case *pg.RangeVar:
		name := strings.ToLower(node.GetRelname())
		c.tables = append(c.tables, located[string]{node.GetLocation(), name})
		if alias := node.GetAlias().GetAliasname(); alias != "" {
			r.aliases[strings.ToLower(alias)] = name
		}
		if _, ok := r.aliases[name]; !ok {
			r.aliases[name] = name
		}
	case *pg.RangeSubselect:
		c.derivedAlias(node.GetAlias())
	case *pg.RangeFunction:
		c.derivedAlias(node.GetAlias())
	case *pg.CommonTableExpr:
		r.derived[strings.ToLower(node.GetCtename())] = true
		for _, n := range node.GetAliascolnames() {
			r.outputs[strings.ToLower(n.GetString_().GetSval())] = true
		}
	case *pg.ColumnRef:
		c.columnRef(node)
	case *pg.InsertStmt:
		c.setTargets(node.GetRelation(), node.GetCols())
	case *pg.UpdateStmt:
		c.setTargets(node.GetRelation(), node.GetTargetList())
	case *pg.ResTarget:
		if !c.targets[node] && node.GetName() != "" {
			r.outputs[strings.ToLower(node.GetName())] = true
		}
	}
}

func (c *pgCollector) derivedAlias(alias *pg.Alias) {
	if name := alias.GetAliasname(); name != "" {
		c.refs.derived[strings.ToLower(name)] = true
	}
	for _, n := range alias.GetColnames() {
		c.refs.outputs[strings.ToLower(n.GetString_().GetSval())] = true
	}
}

func (c *pgCollector) columnRef(ref *pg.ColumnRef) {
	var names []string
	for _, f := range ref.GetFields() {
		if f.GetAStar() != nil {
			return
		}
		names = append(names, strings.ToLower(f.GetString_().GetSval()))
	}
	if len(names) == 0 {
		return
	}
	col := column{name: names[len(names)-1]}
	if len(names) > 1 {
		col.qualifier = names[len(names)-2]
	}
	c.columns = append(c.columns, located[column]{ref.GetLocation(), col})
}

func (c *pgCollector) setTargets(rel *pg.RangeVar, targets []*pg.Node) {
	table := strings.ToLower(rel.GetRelname())
	for _, n := range targets {
		t := n.GetResTarget()
		if t == nil {
			continue
		}
		c.targets[t] = true
		c.columns = append(c.columns, located[column]{t.GetLocation(), column{qualifier: table, name: strings.ToLower(t.GetName())}})
	}
}

func (c *pgCollector) finish() *references {
	sort.SliceStable(c.tables, func(i, j int) bool { return c.tables[i].loc < c.tables[j].loc })
	sort.SliceStable(c.columns, func(i, j int) bool { return c.columns[i].loc < c.columns[j].loc })

	r := c.refs
	for _, t := range c.tables {
		r.tables = utils.AppendUnique(r.tables, t.v)
	}
	for _, col := range c.columns {
		r.columns = append(r.columns, col.v)
	}
	r.dropDerived()
	return r
}
