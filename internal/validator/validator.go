// Package validator checks generated SQL in stages (syntax, semantics against
// the schema context, backend dry run) and executes or explains it.
package validator

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/database"
	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/metrics"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/pkg/utils"
)

const defaultTimeout = 30 * time.Second

// Validator validates SQL for one database. It is safe for concurrent use.
// A nil db disables the dry run, execution and explain.
type Validator struct {
	db      *sql.DB
	dialect database.Dialect
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a validator. timeout bounds each backend call; zero means 30s.
func New(db *sql.DB, dialect database.Dialect, timeout time.Duration, logger *zap.Logger) *Validator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if dialect == "" {
		dialect = database.MySQL
	}
	return &Validator{db: db, dialect: dialect, timeout: timeout, logger: utils.OrNop(logger)}
}

// Dialect returns the SQL dialect the validator parses.
func (v *Validator) Dialect() database.Dialect { return v.dialect }

// ValidateSyntax parses sql. The error is an *apperrors.ParseError.
func (v *Validator) ValidateSyntax(sql string) error {
	_, err := parseStatement(sql, v.dialect)
	return err
}

// ValidateSemantics parses sql and checks its references against sc.
func (v *Validator) ValidateSemantics(sql string, sc *models.SchemaContext) error {
	refs, err := parseStatement(sql, v.dialect)
	if err != nil {
		return err
	}
	return checkSemantics(refs, sc)
}

// ValidateAndFix runs the syntax, semantic and dry-run stages in order; the
// first failure ends the call. An unknown-column semantic failure gets one
// auto-fix attempt, accepted only when the fixed SQL passes syntax and
// semantics; otherwise the original failure is returned.
//
// The returned error is the failure of the stage recorded in the outcome.
func (v *Validator) ValidateAndFix(ctx context.Context, sql string, sc *models.SchemaContext) (models.ValidationOutcome, error) {
	refs, err := parseStatement(sql, v.dialect)
	if err != nil {
		return v.fail(models.StageSyntax, err)
	}

	var fixed string
	if err := checkSemantics(refs, sc); err != nil {
		candidate := autoFix(sql, err)
		if candidate == sql || v.ValidateSemantics(candidate, sc) != nil {
			return v.fail(models.StageSemantic, err)
		}
		v.logger.Debug("Auto-fixed SQL", zap.String("original", sql), zap.String("fixed", candidate))
		fixed = candidate
		sql = candidate
	}

	if v.db == nil {
		return models.ValidationOutcome{Stage: models.StageSemantic, Valid: true, FixedSQL: fixed}, nil
	}
	if err := v.DryRun(ctx, sql); err != nil {
		outcome, err := v.fail(models.StageDryRun, err)
		outcome.FixedSQL = fixed
		return outcome, err
	}
	return models.ValidationOutcome{Stage: models.StageDryRun, Valid: true, FixedSQL: fixed}, nil
}

func (v *Validator) fail(stage models.ValidationStage, err error) (models.ValidationOutcome, error) {
	metrics.StageFailures.WithLabelValues(string(stage)).Inc()
	v.logger.Debug("SQL validation failed", zap.String("stage", string(stage)), zap.Error(err))
	return models.ValidationOutcome{Stage: stage, Error: err.Error()}, err
}

// DryRun asks the backend to plan sql without running it: EXPLAIN on MySQL,
// PREPARE/DEALLOCATE on PostgreSQL. Failures are *apperrors.DryRunError.
func (v *Validator) DryRun(ctx context.Context, sql string) error {
	if v.db == nil {
		return &apperrors.DryRunError{Err: apperrors.ErrNoDatabase}
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var err error
	if v.dialect == database.Postgres {
		err = v.prepare(ctx, sql)
	} else {
		err = v.drain(ctx, "EXPLAIN "+sql)
	}
	if err != nil {
		return &apperrors.DryRunError{Err: err}
	}
	return nil
}

// prepare runs PREPARE and DEALLOCATE on one connection, since prepared
// statements are per session.
func (v *Validator) prepare(ctx context.Context, sql string) error {
	conn, err := v.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PREPARE text2sql_dry_run AS "+sql); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "DEALLOCATE text2sql_dry_run"); err != nil {
		v.logger.Warn("Failed to deallocate dry-run statement", zap.Error(err))
	}
	return nil
}

func (v *Validator) drain(ctx context.Context, query string) error {
	rows, err := v.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}
