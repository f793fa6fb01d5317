package validator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/database"
	apperrors "github.com/hyperjump/text2sql/internal/errors"
	"github.com/hyperjump/text2sql/internal/models"
)

// Execute runs validated SQL and returns its rows. timeout bounds the call;
// zero uses the validator default. Failures are *apperrors.ExecutionError
// with Timeout set when the deadline expired.
func (v *Validator) Execute(ctx context.Context, query string, timeout time.Duration) ([]models.Row, error) {
	if v.db == nil {
		return nil, &apperrors.ExecutionError{Err: apperrors.ErrNoDatabase}
	}
	if timeout <= 0 {
		timeout = v.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := v.query(ctx, query)
	if err != nil {
		return nil, &apperrors.ExecutionError{
			Err:     err,
			Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
		}
	}
	v.logger.Info("SQL executed",
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)))
	return rows, nil
}

func (v *Validator) query(ctx context.Context, query string) ([]models.Row, error) {
	rows, err := v.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// scanRows reads every row into a column-keyed map. Byte slices become strings.
func scanRows(rows *sql.Rows) ([]models.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []models.Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(models.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Explain returns the backend plan of sql with its estimated cost. On
// PostgreSQL the plan is produced with ANALYZE inside a transaction that is
// always rolled back, so writes never persist.
func (v *Validator) Explain(ctx context.Context, query string) (*models.ExplainResult, error) {
	if v.db == nil {
		return nil, &apperrors.ExecutionError{Err: apperrors.ErrNoDatabase}
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	raw, err := v.plan(ctx, query)
	if err != nil {
		return nil, &apperrors.ExecutionError{
			Err:     fmt.Errorf("explain: %w", err),
			Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
		}
	}
	if !json.Valid(raw) {
		return nil, &apperrors.ExecutionError{Err: errors.New("explain returned a non-JSON plan")}
	}

	cost, err := planCost(raw, v.dialect)
	if err != nil {
		v.logger.Warn("Could not extract cost from plan", zap.Error(err))
	}
	return &models.ExplainResult{
		SQL:           query,
		Plan:          json.RawMessage(raw),
		EstimatedCost: cost,
		QueryType:     ClassifyQuery(query),
	}, nil
}

func (v *Validator) plan(ctx context.Context, query string) ([]byte, error) {
	var raw []byte
	if v.dialect != database.Postgres {
		err := v.db.QueryRowContext(ctx, "EXPLAIN FORMAT=JSON "+query).Scan(&raw)
		return raw, err
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			v.logger.Warn("Failed to roll back explain transaction", zap.Error(err))
		}
	}()
	err = tx.QueryRowContext(ctx, "EXPLAIN (ANALYZE, FORMAT JSON) "+query).Scan(&raw)
	return raw, err
}

// planCost reads the estimated total cost from a JSON plan:
// query_block.cost_info.query_cost on MySQL, [0].Plan."Total Cost" on PostgreSQL.
func planCost(raw []byte, dialect database.Dialect) (float64, error) {
	if dialect == database.Postgres {
		var plans []struct {
			Plan struct {
				TotalCost float64 `json:"Total Cost"`
			} `json:"Plan"`
		}
		if err := json.Unmarshal(raw, &plans); err != nil {
			return 0, err
		}
		if len(plans) == 0 {
			return 0, errors.New("empty plan")
		}
		return plans[0].Plan.TotalCost, nil
	}

	var plan struct {
		QueryBlock struct {
			CostInfo struct {
				QueryCost json.RawMessage `json:"query_cost"`
			} `json:"cost_info"`
		} `json:"query_block"`
	}
	if err := json.Unmarshal(raw, &plan); err != nil {
		return 0, err
	}
	// MySQL reports the cost as a quoted decimal.
	s := strings.Trim(string(plan.QueryBlock.CostInfo.QueryCost), `"`)
	if s == "" {
		return 0, errors.New("plan has no query_cost")
	}
	return strconv.ParseFloat(s, 64)
}

// ClassifyQuery derives the query type from the leading keyword and the
// presence of GROUP BY or JOIN.
func ClassifyQuery(query string) string {
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "SELECT"):
		switch {
		case strings.Contains(upper, "GROUP BY"):
			return "aggregation"
		case strings.Contains(upper, "JOIN"):
			return "join"
		}
		return "simple_select"
	case strings.HasPrefix(upper, "INSERT"):
		return "insert"
	case strings.HasPrefix(upper, "UPDATE"):
		return "update"
	case strings.HasPrefix(upper, "DELETE"):
		return "delete"
	}
	return "other"
}
