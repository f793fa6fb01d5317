// Package knowledge builds knowledge documents from schema metadata and
// serves them from a generation-tagged store with vector and keyword search.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/schema"
)

// BusinessRules are the curated business definitions attached to a build.
type BusinessRules struct {
	GeneralTerms map[string]string            `json:"general_terms,omitempty" yaml:"general_terms,omitempty"`
	Metrics      map[string]string            `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Calculations map[string]string            `json:"calculations,omitempty" yaml:"calculations,omitempty"`
	TableTerms   map[string]map[string]string `json:"table_terms,omitempty" yaml:"table_terms,omitempty"`
}

// LoadBusinessRules reads rules from a YAML or JSON file.
func LoadBusinessRules(path string) (*BusinessRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read business rules: %w", err)
	}
	var rules BusinessRules
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &rules)
	} else {
		err = yaml.Unmarshal(data, &rules)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse business rules %s: %w", path, err)
	}
	return &rules, nil
}

const (
	businessTitle   = "# Business Rules and Definitions\n\n"
	metricsHeading  = "## Business Metrics"
	businessRuleFmt = "- **%s**: %s"
)

var enumPattern = regexp.MustCompile(`(\d+)\s*=\s*([^,，\s]+)`)

// BuildDocuments renders one document per table, in table-name order, plus the
// business-rules document when rules are given.
func BuildDocuments(md *schema.Metadata, rules *BusinessRules, now time.Time) []*models.Document {
	docs := make([]*models.Document, 0, len(md.Tables)+1)
	for _, name := range md.TableNames() {
		doc := RenderTableDocument(md.Tables[name], rules)
		doc.Metadata.CreatedAt = now.Format(time.RFC3339)
		docs = append(docs, doc)
	}
	if rules != nil {
		doc := RenderBusinessDocument(rules)
		doc.Metadata.CreatedAt = now.Format(time.RFC3339)
		docs = append(docs, doc)
	}
	return docs
}

// RenderTableDocument renders the knowledge document of one table: description,
// DDL, column list, business terms, enum values and synonyms.
func RenderTableDocument(t *schema.Table, rules *BusinessRules) *models.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "# Table: %s\n\n", t.Name)
	b.WriteString("## Description\n")
	if t.Comment != "" {
		b.WriteString(t.Comment)
	} else {
		fmt.Fprintf(&b, "表 %s", t.Name)
	}
	b.WriteString("\n\n## Schema\n```sql\n")
	b.WriteString(t.DDL())
	b.WriteString("\n```\n\n## Columns\n")

	for _, c := range t.Columns {
		fmt.Fprintf(&b, "- **%s**: %s", c.Name, c.Type)
		if c.Comment != "" {
			fmt.Fprintf(&b, " - %s", c.Comment)
		}
		if c.IsPrimary {
			b.WriteString(" (主键)")
		}
		if c.IsForeign && c.References != nil {
			fmt.Fprintf(&b, " (外键 -> %s.%s)", c.References.Table, c.References.Column)
		}
		b.WriteString("\n")
	}

	if rules != nil {
		if terms := rules.TableTerms[t.Name]; len(terms) > 0 {
			b.WriteString("\n## Business Terms\n")
			writeDefinitions(&b, terms)
		}
	}

	if enums := enumValues(t); len(enums) > 0 {
		b.WriteString("\n## Enum Values\n")
		for _, e := range enums {
			fmt.Fprintf(&b, "- **%s**: %s\n", e[0], e[1])
		}
	}

	tableSyns, columnSyns := synonyms(t)
	if len(tableSyns) > 0 || len(columnSyns) > 0 {
		b.WriteString("\n## Synonyms\n")
		if len(tableSyns) > 0 {
			fmt.Fprintf(&b, "- Table: %s\n", strings.Join(tableSyns, ", "))
		}
		if len(columnSyns) > 0 {
			b.WriteString("- Columns:\n")
			for _, cs := range columnSyns {
				fmt.Fprintf(&b, "  - %s: %s\n", cs.column, strings.Join(cs.synonyms, ", "))
			}
		}
	}

	return &models.Document{
		ID:      models.TableDocumentID(t.Name),
		Content: b.String(),
		Metadata: models.DocumentMetadata{
			Type:        models.DocTypeTable,
			TableName:   t.Name,
			Columns:     t.ColumnNames(),
			PrimaryKeys: t.PrimaryKeys(),
			ForeignKeys: t.ForeignKeys(),
			RowCount:    t.RowCount,
		},
	}
}

// RenderBusinessDocument renders the business-rules document.
func RenderBusinessDocument(rules *BusinessRules) *models.Document {
	var b strings.Builder
	b.WriteString(businessTitle)
	if len(rules.GeneralTerms) > 0 {
		b.WriteString("## General Terms\n")
		writeDefinitions(&b, rules.GeneralTerms)
		b.WriteString("\n")
	}
	if len(rules.Metrics) > 0 {
		b.WriteString(metricsHeading + "\n")
		writeDefinitions(&b, rules.Metrics)
		b.WriteString("\n")
	}
	if len(rules.Calculations) > 0 {
		b.WriteString("## Calculation Rules\n")
		writeDefinitions(&b, rules.Calculations)
	}
	return &models.Document{
		ID:       models.BusinessRulesID,
		Content:  b.String(),
		Metadata: models.DocumentMetadata{Type: models.DocTypeBusiness},
	}
}

// AddBusinessRule returns the business-rules document with the rule inserted
// at the top of its metrics section. The section, or the whole document when
// existing is nil, is created if missing. existing is not modified.
func AddBusinessRule(existing *models.Document, name, definition string, now time.Time) *models.Document {
	line := fmt.Sprintf(businessRuleFmt, name, definition)
	if existing == nil {
		return &models.Document{
			ID:      models.BusinessRulesID,
			Content: businessTitle + metricsHeading + "\n" + line,
			Metadata: models.DocumentMetadata{
				Type:      models.DocTypeBusiness,
				CreatedAt: now.Format(time.RFC3339),
			},
		}
	}

	doc := *existing
	if strings.Contains(doc.Content, metricsHeading) {
		doc.Content = strings.Replace(doc.Content, metricsHeading, metricsHeading+"\n"+line, 1)
	} else {
		doc.Content += "\n\n" + metricsHeading + "\n" + line
	}
	return &doc
}

func writeDefinitions(b *strings.Builder, defs map[string]string) {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, businessRuleFmt+"\n", k, defs[k])
	}
}

// enumValues parses comments such as "状态: 1=成功, 2=失败" into
// [column, "1 means '成功', 2 means '失败'"] pairs.
func enumValues(t *schema.Table) [][2]string {
	var out [][2]string
	for _, c := range t.Columns {
		if c.Comment == "" {
			continue
		}
		matches := enumPattern.FindAllStringSubmatch(c.Comment, -1)
		if len(matches) == 0 {
			continue
		}
		parts := make([]string, len(matches))
		for i, m := range matches {
			parts[i] = fmt.Sprintf("%s means '%s'", m[1], m[2])
		}
		out = append(out, [2]string{c.Name, strings.Join(parts, ", ")})
	}
	return out
}

type columnSynonyms struct {
	column   string
	synonyms []string
}

var tableSynonymRules = []struct {
	marker   string
	synonyms []string
}{
	{"order", []string{"订单", "交易记录"}},
	{"user", []string{"用户", "客户"}},
	{"product", []string{"产品", "商品"}},
}

func synonyms(t *schema.Table) ([]string, []columnSynonyms) {
	lower := strings.ToLower(t.Name)
	var tableSyns []string
	for _, r := range tableSynonymRules {
		if strings.Contains(lower, r.marker) {
			tableSyns = append(tableSyns, r.synonyms...)
		}
	}

	var cols []columnSynonyms
	for _, c := range t.Columns {
		name := strings.ToLower(c.Name)
		var syns []string
		if strings.Contains(name, "amount") || strings.Contains(name, "price") {
			syns = append(syns, "金额", "价格", "销售额")
		}
		if strings.Contains(name, "time") || strings.Contains(name, "date") || strings.HasSuffix(name, "_at") {
			syns = append(syns, "时间", "日期")
		}
		if strings.Contains(name, "status") {
			syns = append(syns, "状态", "情况")
		}
		if strings.Contains(name, "id") && name != "id" {
			syns = append(syns, "ID", "编号")
		}
		if len(syns) > 0 {
			cols = append(cols, columnSynonyms{column: c.Name, synonyms: syns})
		}
	}
	return tableSyns, cols
}
