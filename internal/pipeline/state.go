package pipeline

import (
	"errors"

	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/models"
)

type phase int

const (
	phaseGenerate phase = iota
	phaseValidate
	phaseExecute
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseGenerate:
		return "generate"
	case phaseValidate:
		return "validate"
	case phaseExecute:
		return "execute"
	}
	return "done"
}

// state is one step of the generate-validate-correct loop.
type state struct {
	phase phase
	// attempt is the number of correction attempts used; 0 is the first generation.
	attempt int
	// sql is the candidate being validated, or the accepted SQL once validated.
	sql string
	// failedSQL and failure are the last rejected candidate and its validation error.
	failedSQL string
	failure   error
	valid     bool
	rows      []models.Row
	// err is the terminal error, if any.
	err error
}

// event is the result of the side effect performed for a phase.
type event interface{ isEvent() }

type generated struct {
	sql string
	err error
}

type validated struct {
	outcome models.ValidationOutcome
	err     error
}

type executed struct {
	rows []models.Row
	err  error
}

func (generated) isEvent() {}
func (validated) isEvent() {}
func (executed) isEvent()  {}

// transition computes the next state. It performs no I/O. attempt never
// exceeds maxAttempts: a validation failure at maxAttempts ends the loop.
func transition(s state, ev event, maxAttempts int) state {
	switch e := ev.(type) {
	case generated:
		if e.err != nil {
			var ge *apperrors.GenerationError
			if !errors.As(e.err, &ge) {
				e.err = &apperrors.GenerationError{Err: e.err}
			}
			s.phase, s.err = phaseDone, e.err
			return s
		}
		s.phase, s.sql = phaseValidate, e.sql
	case validated:
		if e.err == nil {
			if e.outcome.FixedSQL != "" {
				s.sql = e.outcome.FixedSQL
			}
			s.phase, s.valid = phaseExecute, true
			return s
		}
		s.failedSQL, s.failure = s.sql, e.err
		if s.attempt >= maxAttempts {
			s.phase = phaseDone
			s.err = &apperrors.ExhaustedError{Attempts: s.attempt, Last: e.err}
			return s
		}
		s.phase = phaseGenerate
		s.attempt++
	case executed:
		s.phase = phaseDone
		s.rows, s.err = e.rows, e.err
		// Offline: the SQL stands without rows.
		if errors.Is(e.err, apperrors.ErrNoDatabase) {
			s.err = nil
		}
	}
	return s
}
