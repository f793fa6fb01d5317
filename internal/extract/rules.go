package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Rule is one named business definition found in a document.
type Rule struct {
	Name       string
	Definition string
}

// ruleSeparators split "name: definition" lines. The full-width colon is common in Chinese documents.
var ruleSeparators = []string{"：", ":", "\t", "="}

// headerNames are first-row cells that mark a spreadsheet header.
var headerNames = map[string]bool{"name": true, "rule": true, "rule_name": true, "名称": true, "规则": true, "指标": true}

// ExtractRules reads named rules from the document at path.
// Spreadsheets map the first two non-empty cells of each row to name and
// definition, skipping a header row. Other formats yield one rule per
// "name: definition" line; lines without a separator are ignored.
func (e *Extractor) ExtractRules(path string) ([]Rule, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		rows, err := excelRows(content)
		if err != nil {
			return nil, err
		}
		return rulesFromRows(rows), nil
	}
	text, err := e.Extract(path)
	if err != nil {
		return nil, err
	}
	return ParseRules(text), nil
}

// ParseRules splits text into "name: definition" rules. Markdown bullets and
// bold markers around the name are stripped.
func ParseRules(text string) []Rule {
	var rules []Rule
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		for _, sep := range ruleSeparators {
			i := strings.Index(line, sep)
			if i <= 0 {
				continue
			}
			name := strings.TrimSpace(strings.Trim(strings.TrimSpace(line[:i]), "*"))
			def := strings.TrimSpace(line[i+len(sep):])
			if name != "" && def != "" {
				rules = append(rules, Rule{Name: name, Definition: def})
			}
			break
		}
	}
	return rules
}

func rulesFromRows(rows [][]string) []Rule {
	var rules []Rule
	for i, row := range rows {
		var cells []string
		for _, c := range row {
			if c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) < 2 {
			continue
		}
		if i == 0 && headerNames[strings.ToLower(cells[0])] {
			continue
		}
		rules = append(rules, Rule{Name: cells[0], Definition: cells[1]})
	}
	return rules
}
