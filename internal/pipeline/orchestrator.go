// Package pipeline turns questions into validated, executed SQL and exposes
// the knowledge-base operations around it.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/analyzer"
	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/llm"
	"github.com/hyperjump/text2sql/internal/metrics"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/prompt"
	"github.com/hyperjump/text2sql/internal/retriever"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// Checker validates and executes SQL. *validator.Validator implements it.
type Checker interface {
	ValidateAndFix(ctx context.Context, sql string, sc *models.SchemaContext) (models.ValidationOutcome, error)
	Execute(ctx context.Context, sql string, timeout time.Duration) ([]models.Row, error)
}

// Orchestrator runs the bounded generate-validate-correct loop. It keeps no
// per-query state and is safe for concurrent use.
type Orchestrator struct {
	analyzer    *analyzer.Analyzer
	retriever   *retriever.Retriever
	prompts     *prompt.Assembler
	generator   llm.Generator
	checker     Checker
	maxAttempts int
	sqlTimeout  time.Duration
	logger      *zap.Logger
}

// NewOrchestrator wires the loop. maxAttempts is the default correction
// budget for requests that set none.
func NewOrchestrator(
	a *analyzer.Analyzer,
	r *retriever.Retriever,
	p *prompt.Assembler,
	g llm.Generator,
	c Checker,
	maxAttempts int,
	sqlTimeout time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	if a == nil {
		a = analyzer.New()
	}
	if p == nil {
		p = prompt.New(nil, logger)
	}
	return &Orchestrator{
		analyzer:    a,
		retriever:   r,
		prompts:     p,
		generator:   g,
		checker:     c,
		maxAttempts: maxAttempts,
		sqlTimeout:  sqlTimeout,
		logger:      utils.OrNop(logger),
	}
}

// QueryToSQL answers one question. Failures inside the loop (generation,
// exhausted corrections, execution) are reported in the result; the returned
// error is reserved for invalid input and retrieval failures.
func (o *Orchestrator) QueryToSQL(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	if err := req.Validate(o.maxAttempts); err != nil {
		return nil, apperrors.InvalidInput("%s", err.Error())
	}
	id := uuid.NewString()
	logger := o.logger.With(zap.String("request_id", id))
	result := &models.QueryResult{RequestID: id, Query: req.Query}

	parsed := o.analyzer.Parse(req.Query)
	sc, err := o.retriever.RetrieveParsed(ctx, parsed)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, apperrors.Wrap(apperrors.ErrCodeRetrieval, err, "failed to retrieve schema context")
	}

	var trace *models.IntermediateTrace
	if req.ShowIntermediate {
		trace = &models.IntermediateTrace{
			ParsedQuery: parsed,
			RetrievedContext: models.ContextSummary{
				Tables:        sc.TableNames(),
				Relationships: sc.Relationships,
			},
			Attempts: []models.AttemptRecord{},
		}
		result.Intermediate = trace
	}
	logger.Debug("Retrieved context", zap.Strings("tables", sc.TableNames()))

	s := state{phase: phaseGenerate}
	for s.phase != phaseDone {
		var ev event
		switch s.phase {
		case phaseGenerate:
			ev = o.generate(ctx, req.Query, sc, s)
		case phaseValidate:
			outcome, err := o.checker.ValidateAndFix(ctx, s.sql, sc)
			if trace != nil {
				trace.Attempts = append(trace.Attempts, models.AttemptRecord{
					Attempt: s.attempt,
					SQL:     s.sql,
					Stage:   outcome.Stage,
					Error:   outcome.Error,
				})
			}
			if err != nil {
				sc = o.recoverTables(ctx, req.Query, sc, err, logger)
			}
			ev = validated{outcome: outcome, err: err}
		case phaseExecute:
			rows, err := o.checker.Execute(ctx, s.sql, o.sqlTimeout)
			ev = executed{rows: rows, err: err}
		}
		next := transition(s, ev, req.Attempts())
		logger.Debug("Pipeline transition",
			zap.Stringer("from", s.phase),
			zap.Stringer("to", next.phase),
			zap.Int("attempt", next.attempt))
		s = next
	}

	return o.finish(result, s, logger), nil
}

func (o *Orchestrator) generate(ctx context.Context, query string, sc *models.SchemaContext, s state) event {
	var text string
	if s.attempt == 0 {
		text = o.prompts.BuildGeneration(query, sc, prompt.GenerationOptions{})
	} else {
		text = o.prompts.BuildCorrection(query, s.failedSQL, s.failure.Error(), sc, s.attempt)
	}

	start := time.Now()
	response, err := o.generator.Generate(ctx, text)
	metrics.ObserveSince(metrics.GenerationDuration, start)
	if err != nil {
		return generated{err: err}
	}
	return generated{sql: llm.ExtractSQL(response)}
}

// recoverTables widens the context with related tables after a missing-table
// failure so the correction prompt can offer them.
func (o *Orchestrator) recoverTables(ctx context.Context, query string, sc *models.SchemaContext, cause error, logger *zap.Logger) *models.SchemaContext {
	var se *apperrors.SemanticError
	if !errors.As(cause, &se) || !se.HasMissingTables() {
		return sc
	}
	related := o.retriever.FindRelatedTables(ctx, query, sc.TableNames())
	if len(related) == 0 {
		return sc
	}
	expanded, err := o.retriever.Expand(ctx, sc, related)
	if err != nil {
		logger.Warn("Failed to expand schema context", zap.Error(err))
		return sc
	}
	logger.Info("Added related tables", zap.Strings("tables", related))
	return expanded
}

func (o *Orchestrator) finish(result *models.QueryResult, s state, logger *zap.Logger) *models.QueryResult {
	result.CorrectionAttempts = s.attempt
	result.IsValid = s.valid
	if s.valid {
		result.SQL = s.sql
	} else {
		result.SQL = s.failedSQL
	}

	outcome := metrics.OutcomeSuccess
	var exhausted *apperrors.ExhaustedError
	switch {
	case s.err == nil:
		result.Rows = s.rows
	case errors.As(s.err, &exhausted):
		outcome = metrics.OutcomeExhausted
		result.Error = exhausted.Last.Error()
		result.Summary = exhausted.Error()
	case s.valid:
		outcome = metrics.OutcomeExecutionError
		result.Error = s.err.Error()
	default:
		outcome = metrics.OutcomeError
		result.Error = s.err.Error()
	}

	metrics.QueriesTotal.WithLabelValues(outcome).Inc()
	metrics.CorrectionAttempts.Observe(float64(s.attempt))
	logger.Info("Query finished",
		zap.String("outcome", outcome),
		zap.Bool("valid", result.IsValid),
		zap.Int("correction_attempts", result.CorrectionAttempts))
	return result
}
