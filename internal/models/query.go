package models

import (
	"fmt"
	"strings"
)

// Intent classifies what kind of analytic question a query asks.
type Intent string

const (
	IntentAggregation Intent = "aggregation"
	IntentExtreme     Intent = "extreme"
	IntentAverage     Intent = "average"
	IntentRanking     Intent = "ranking"
	IntentTrend       Intent = "trend"
	IntentProportion  Intent = "proportion"
	IntentSimple      Intent = "simple"
)

// AggregationType is the aggregate function a query most likely needs.
type AggregationType string

const (
	AggregationSum   AggregationType = "sum"
	AggregationAvg   AggregationType = "avg"
	AggregationMax   AggregationType = "max"
	AggregationMin   AggregationType = "min"
	AggregationCount AggregationType = "count"
	AggregationNone  AggregationType = "none"
)

// FilterOperator is a comparison extracted from query text.
type FilterOperator string

const (
	OpGreaterThan FilterOperator = "gt"
	OpLessThan    FilterOperator = "lt"
	OpEqual       FilterOperator = "eq"
	OpNotEqual    FilterOperator = "ne"
	OpIn          FilterOperator = "in"
	OpNotIn       FilterOperator = "not_in"
)

// Filter is a single `field operator value` condition.
type Filter struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    string         `json:"value"`
}

// TimeRange holds the temporal signals of a query. A relative keyword and
// explicit literal dates may both be present.
type TimeRange struct {
	RelativeTime string   `json:"relative_time,omitempty"`
	ExplicitTime []string `json:"explicit_time,omitempty"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
}

// IsZero reports whether no temporal signal was found.
func (t TimeRange) IsZero() bool {
	return t.RelativeTime == "" && len(t.ExplicitTime) == 0 && t.StartDate == "" && t.EndDate == ""
}

// ParsedQuery is the structured reading of one natural-language question.
// It is produced once per query and not modified afterwards.
type ParsedQuery struct {
	Original        string          `json:"original_query"`
	Entities        []string        `json:"entities"`
	TimeRange       TimeRange       `json:"time_range"`
	Metrics         []string        `json:"metrics"`
	Dimensions      []string        `json:"dimensions"`
	Filters         []Filter        `json:"filters"`
	Intent          Intent          `json:"intent"`
	AggregationType AggregationType `json:"aggregation_type"`
}

// MaxCorrectionsLimit bounds the correction budget a caller may request.
const MaxCorrectionsLimit = 10

// QueryRequest is the input for a query-to-SQL call. A nil MaxCorrections
// means the configured default; zero disables correction.
type QueryRequest struct {
	Query            string `json:"query"`
	MaxCorrections   *int   `json:"max_corrections,omitempty"`
	ShowIntermediate bool   `json:"show_intermediate,omitempty"`
}

// Validate trims the query, rejects empty input and fills a missing
// MaxCorrections with defaultAttempts. A budget outside
// [0, MaxCorrectionsLimit] is rejected.
func (q *QueryRequest) Validate(defaultAttempts int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.MaxCorrections == nil {
		q.MaxCorrections = &defaultAttempts
	}
	if n := *q.MaxCorrections; n < 0 || n > MaxCorrectionsLimit {
		return fmt.Errorf("max_corrections must be between 0 and %d, got %d", MaxCorrectionsLimit, n)
	}
	return nil
}

// Attempts returns the correction budget, zero when unset.
func (q QueryRequest) Attempts() int {
	if q.MaxCorrections == nil {
		return 0
	}
	return *q.MaxCorrections
}
