// Package errors defines the error taxonomy of the query-to-SQL pipeline.
//
// Parse, semantic and dry-run failures feed the correction loop. Generation
// failures abort the current attempt. Execution failures are reported to the
// caller without re-entering the loop.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoDatabase is returned by backend operations when no database is
// configured.
var ErrNoDatabase = stderrors.New("no database connection")

// ErrorCode is a stable machine-readable error code.
type ErrorCode string

const (
	ErrCodeParse        ErrorCode = "PARSE_ERROR"
	ErrCodeSemantic     ErrorCode = "SEMANTIC_ERROR"
	ErrCodeDryRun       ErrorCode = "DRY_RUN_ERROR"
	ErrCodeExecution    ErrorCode = "EXECUTION_ERROR"
	ErrCodeGeneration   ErrorCode = "GENERATION_ERROR"
	ErrCodeRetrieval    ErrorCode = "RETRIEVAL_ERROR"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeConfig       ErrorCode = "CONFIG_ERROR"
	ErrCodeExhausted    ErrorCode = "EXHAUSTED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

type coded interface {
	Code() ErrorCode
}

// CodeOf returns the code of the first coded error in err's chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var c coded
	if stderrors.As(err, &c) {
		return c.Code()
	}
	return ErrCodeInternal
}

// Retryable reports whether a new generation attempt may fix err.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeParse, ErrCodeSemantic, ErrCodeDryRun:
		return true
	}
	return false
}

// Error is a general coded error.
type Error struct {
	code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error   { return e.Err }
func (e *Error) Code() ErrorCode { return e.code }

// New returns a coded error with a formatted message.
func New(code ErrorCode, format string, args ...any) *Error {
	return &Error{code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a coded error wrapping err.
func Wrap(code ErrorCode, err error, message string) *Error {
	return &Error{code: code, Message: message, Err: err}
}

// NotFound returns an ErrCodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(ErrCodeNotFound, format, args...)
}

// InvalidInput returns an ErrCodeInvalidInput error.
func InvalidInput(format string, args ...any) *Error {
	return New(ErrCodeInvalidInput, format, args...)
}

// ParseError is a syntax failure. Only a new generation attempt can fix it.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string   { return "SQL syntax error: " + e.Err.Error() }
func (e *ParseError) Unwrap() error   { return e.Err }
func (e *ParseError) Code() ErrorCode { return ErrCodeParse }

// SemanticError reports references to tables or columns outside the schema context.
// When MissingTables is set the column check was not reached.
type SemanticError struct {
	MissingTables []string
	// MissingColumns maps an owning table to its unknown columns.
	MissingColumns map[string][]string
	// Unresolved holds unqualified columns found in none of Searched.
	Unresolved []string
	Searched   []string
}

func (e *SemanticError) Error() string {
	if len(e.MissingTables) > 0 {
		return "Invalid table(s): " + strings.Join(e.MissingTables, ", ")
	}
	tables := make([]string, 0, len(e.MissingColumns))
	for t := range e.MissingColumns {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	parts := make([]string, 0, len(tables)+1)
	for _, t := range tables {
		parts = append(parts, fmt.Sprintf("Invalid column(s) in table %s: %s", t, strings.Join(e.MissingColumns[t], ", ")))
	}
	if len(e.Unresolved) > 0 {
		parts = append(parts, fmt.Sprintf("Invalid column(s) not found in tables %s: %s",
			strings.Join(e.Searched, ", "), strings.Join(e.Unresolved, ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *SemanticError) Code() ErrorCode { return ErrCodeSemantic }

// HasMissingTables reports whether the failure is a missing-table failure.
func (e *SemanticError) HasMissingTables() bool { return len(e.MissingTables) > 0 }

// DryRunError is a backend plan/prepare failure.
type DryRunError struct {
	Err error
}

func (e *DryRunError) Error() string   { return "Dry run failed: " + e.Err.Error() }
func (e *DryRunError) Unwrap() error   { return e.Err }
func (e *DryRunError) Code() ErrorCode { return ErrCodeDryRun }

// ExecutionError is a backend failure while running validated SQL.
type ExecutionError struct {
	Err     error
	Timeout bool
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return "Execution failed: query timed out: " + e.Err.Error()
	}
	return "Execution failed: " + e.Err.Error()
}
func (e *ExecutionError) Unwrap() error   { return e.Err }
func (e *ExecutionError) Code() ErrorCode { return ErrCodeExecution }

// GenerationError means the language model was unavailable or failed.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string   { return "SQL generation failed: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error   { return e.Err }
func (e *GenerationError) Code() ErrorCode { return ErrCodeGeneration }

// ExhaustedError is returned when the correction budget ran out.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("Failed after %d correction attempts. Last error: %s", e.Attempts, e.Last)
}
func (e *ExhaustedError) Unwrap() error   { return e.Last }
func (e *ExhaustedError) Code() ErrorCode { return ErrCodeExhausted }
