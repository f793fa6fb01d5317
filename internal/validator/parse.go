package validator

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/hyperjump/text2sql/internal/database"
	apperrors "github.com/hyperjump/text2sql/internal/errors"
)

// A parser.Parser is not safe for concurrent use.
var parserPool = sync.Pool{New: func() any { return parser.New() }}

var errEmptyQuery = errors.New("empty SQL query")

// parseStatement parses exactly one statement under the dialect's grammar
// and returns its references. Failures are *apperrors.ParseError.
func parseStatement(sql string, dialect database.Dialect) (*references, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &apperrors.ParseError{Err: errEmptyQuery}
	}
	if dialect == database.Postgres {
		return parsePostgres(sql)
	}
	return parseMySQL(sql)
}

func parseMySQL(sql string) (*references, error) {
	p := parserPool.Get().(*parser.Parser)
	defer parserPool.Put(p)
	p.SetSQLMode(mysql.ModeNone)

	stmts, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, &apperrors.ParseError{Err: err}
	}
	if err := oneStatement(len(stmts)); err != nil {
		return nil, err
	}
	return collectReferences(stmts[0]), nil
}

func oneStatement(n int) error {
	switch n {
	case 0:
		return &apperrors.ParseError{Err: errEmptyQuery}
	case 1:
		return nil
	default:
		return &apperrors.ParseError{Err: fmt.Errorf("expected one statement, found %d", n)}
	}
}
