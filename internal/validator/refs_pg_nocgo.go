//go:build !cgo

package validator

import (
	"errors"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
)

func parsePostgres(string) (*references, error) {
	return nil, &apperrors.ParseError{Err: errors.New("the PostgreSQL grammar requires a cgo build")}
}
