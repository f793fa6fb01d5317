package models

import "encoding/json"

// ValidationStage is the furthest stage a SQL string reached.
type ValidationStage string

const (
	StageSyntax   ValidationStage = "syntax"
	StageSemantic ValidationStage = "semantic"
	StageDryRun   ValidationStage = "dry_run"
	StageExecuted ValidationStage = "executed"
)

// ValidationOutcome reports the result of one validate-and-fix pass.
// FixedSQL is set only when auto-fix produced the accepted SQL.
type ValidationOutcome struct {
	Stage    ValidationStage `json:"stage"`
	Valid    bool            `json:"is_valid"`
	Error    string          `json:"error,omitempty"`
	FixedSQL string          `json:"fixed_sql,omitempty"`
}

// Row is one result row keyed by column name.
type Row map[string]any

// AttemptRecord traces one generate-validate step.
type AttemptRecord struct {
	Attempt int             `json:"attempt"`
	SQL     string          `json:"sql"`
	Stage   ValidationStage `json:"stage"`
	Error   string          `json:"error,omitempty"`
}

// ContextSummary is the retrieval part of an intermediate trace.
type ContextSummary struct {
	Tables        []string       `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// IntermediateTrace is returned when the caller asks for intermediate results.
type IntermediateTrace struct {
	ParsedQuery      *ParsedQuery    `json:"parsed_query"`
	RetrievedContext ContextSummary  `json:"retrieved_context"`
	Attempts         []AttemptRecord `json:"attempts"`
}

// QueryResult is the outcome of one query-to-SQL call.
type QueryResult struct {
	RequestID          string             `json:"request_id,omitempty"`
	Query              string             `json:"query"`
	SQL                string             `json:"sql,omitempty"`
	IsValid            bool               `json:"is_valid"`
	Rows               []Row              `json:"results,omitempty"`
	CorrectionAttempts int                `json:"correction_attempts"`
	Error              string             `json:"error,omitempty"`
	Summary            string             `json:"summary,omitempty"`
	Intermediate       *IntermediateTrace `json:"intermediate_steps,omitempty"`
}

// ExplainResult is a backend query plan with its estimated cost.
type ExplainResult struct {
	SQL           string          `json:"sql"`
	Plan          json.RawMessage `json:"plan"`
	EstimatedCost float64         `json:"estimated_cost"`
	QueryType     string          `json:"query_type"`
}
