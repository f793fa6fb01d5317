// Package llm provides the SQL generation backends and extraction of SQL from
// model responses.
package llm

import (
	"context"
	"regexp"
	"strings"
)

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	sqlFence   = regexp.MustCompile("(?s)```sql\\s*(.*?)\\s*```")
)

var sqlLeaders = []string{"SELECT", "WITH", "INSERT", "UPDATE", "DELETE"}

// ExtractSQL pulls the SQL statement out of a model response. Reasoning
// blocks are dropped first. A ```sql fence wins; otherwise every line from the
// first one that starts with a statement keyword is kept; otherwise the
// trimmed response is returned.
func ExtractSQL(response string) string {
	response = thinkBlock.ReplaceAllString(response, "")

	if m := sqlFence.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}

	var lines []string
	inSQL := false
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if !inSQL && hasSQLLeader(line) {
			inSQL = true
		}
		if inSQL {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return strings.TrimSpace(response)
}

func hasSQLLeader(line string) bool {
	upper := strings.ToUpper(line)
	for _, kw := range sqlLeaders {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}
