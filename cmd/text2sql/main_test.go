package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/text2sql/internal/config"
	"github.com/hyperjump/text2sql/internal/extract"
	"github.com/hyperjump/text2sql/internal/models"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after question are moved first",
			args:     []string{"上周的总销售额", "-output", "json"},
			expected: []string{"-output", "json", "上周的总销售额"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-output", "json", "上周的总销售额"},
			expected: []string{"-output", "json", "上周的总销售额"},
		},
		{
			name:     "question only returns unchanged",
			args:     []string{"上周的总销售额"},
			expected: []string{"上周的总销售额"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"SELECT", "1", "-output", "json"},
			expected: []string{"-output", "json", "SELECT", "1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"用户总数"}, "用户总数"},
		{"sql words", []string{"SELECT", "*", "FROM", "users"}, "SELECT * FROM users"},
		{"quoted phrase", []string{"SELECT * FROM users"}, "SELECT * FROM users"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "database:\n  type: postgresql\n  name: shop\npipeline:\n  max_attempts: 5\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Database.Type != config.DatabasePostgres || cfg.Pipeline.MaxAttempts != 5 {
		t.Errorf("config not applied: %+v %+v", cfg.Database, cfg.Pipeline)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  type: oracle\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadConfig(path); err == nil {
		t.Fatal("expected validation error for unsupported database type")
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestRulesFromFlags(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "rules.txt")
	if err := os.WriteFile(doc, []byte("GMV: 成交总额\n复购率：30天内再次下单的用户占比\n"), 0600); err != nil {
		t.Fatal(err)
	}

	got, err := rulesFromFlags("GMV", "成交总额", "")
	if err != nil || len(got) != 1 || got[0].Definition != "成交总额" {
		t.Errorf("inline: %+v, %v", got, err)
	}

	got, err = rulesFromFlags("", "", doc)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	want := []extract.Rule{
		{Name: "GMV", Definition: "成交总额"},
		{Name: "复购率", Definition: "30天内再次下单的用户占比"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("from file: got %+v, want %+v", got, want)
	}

	got, err = rulesFromFlags("指标定义", "", doc)
	if err != nil || len(got) != 1 || !strings.Contains(got[0].Definition, "复购率") {
		t.Errorf("named file: %+v, %v", got, err)
	}

	if _, err := rulesFromFlags("GMV", "", ""); err == nil {
		t.Error("expected error without definition")
	}
}

type stubQuerier struct {
	questions []string
	steps     []bool
}

func (s *stubQuerier) QueryToSQL(_ context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	s.questions = append(s.questions, req.Query)
	s.steps = append(s.steps, req.ShowIntermediate)
	if req.Query == "boom" {
		return nil, errors.New("retrieval failed")
	}
	return &models.QueryResult{Query: req.Query, SQL: "SELECT 1", IsValid: true}, nil
}

func TestInteractiveLoop(t *testing.T) {
	in := strings.NewReader("用户总数\n\n:steps\n:json\nboom\nexit\nnever asked\n")
	var out strings.Builder
	q := &stubQuerier{}
	if err := interactiveLoop(context.Background(), q, in, &out); err != nil {
		t.Fatalf("interactiveLoop: %v", err)
	}
	if !reflect.DeepEqual(q.questions, []string{"用户总数", "boom"}) {
		t.Errorf("questions: %v", q.questions)
	}
	if !reflect.DeepEqual(q.steps, []bool{false, true}) {
		t.Errorf("steps: %v", q.steps)
	}
	s := out.String()
	if !strings.Contains(s, "SQL:\nSELECT 1") {
		t.Errorf("text result missing:\n%s", s)
	}
	if !strings.Contains(s, "Error: retrieval failed") {
		t.Errorf("error not reported:\n%s", s)
	}
}
