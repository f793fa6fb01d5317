package validator

import (
	"errors"
	"regexp"
	"strings"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
)

var (
	unknownColumnSignature = regexp.MustCompile(`(?i)invalid column\(s\)|unknown column`)
	bareEquality           = regexp.MustCompile(`=\s*([\p{L}\p{N}_]+)(\s|$|,|\))`)
	allDigits              = regexp.MustCompile(`^\p{N}+$`)
)

// autoFix quotes bare identifiers compared with "=" that the semantic check
// could not resolve, turning `status = active` into `status = 'active'`. It
// returns the input unchanged when cause is not an unknown-column failure or
// nothing was rewritten.
func autoFix(sql string, cause error) string {
	if cause == nil || !unknownColumnSignature.MatchString(cause.Error()) {
		return sql
	}
	unknown := unknownColumns(cause)

	var b strings.Builder
	last := 0
	for _, m := range bareEquality.FindAllStringSubmatchIndex(sql, -1) {
		word := sql[m[2]:m[3]]
		if allDigits.MatchString(word) {
			continue
		}
		if unknown != nil && !unknown[strings.ToLower(word)] {
			continue
		}
		b.WriteString(sql[last:m[2]])
		b.WriteString("'" + word + "'")
		last = m[3]
	}
	if last == 0 {
		return sql
	}
	b.WriteString(sql[last:])
	return b.String()
}

// unknownColumns returns the lower-cased unknown column names of a semantic
// error, or nil when cause carries none (a backend "Unknown column" message).
func unknownColumns(cause error) map[string]bool {
	var se *apperrors.SemanticError
	if !errors.As(cause, &se) {
		return nil
	}
	set := make(map[string]bool)
	for _, cols := range se.MissingColumns {
		for _, c := range cols {
			set[c] = true
		}
	}
	for _, c := range se.Unresolved {
		set[c] = true
	}
	return set
}
