// Package prompt renders the generation and correction prompts sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/pkg/utils"
)

const roleInstruction = `你是一个世界级的数据库专家和SQL工程师。你的任务是根据用户的问题和提供的数据表结构，生成准确、高效的SQL查询。

请严格遵循以下规则：
1. 只使用提供的表和字段，不要编造任何不存在的字段
2. 注意表之间的关联关系，正确使用JOIN
3. 对于复杂的计算逻辑，使用CTE（WITH语句）提高可读性
4. 确保生成的SQL语法正确且可执行
5. 根据查询需求选择合适的聚合函数`

const constraints = "\nSQL约束：\n" +
	"1. 使用标准SQL语法\n" +
	"2. 确保所有表名和字段名都存在\n" +
	"3. 正确处理NULL值\n" +
	"4. 使用适当的索引提示（如果需要）\n" +
	"5. 避免使用SELECT *，明确指定需要的字段\n\n" +
	"请将最终的SQL代码包裹在```sql ... ```中。"

const correctionTemplate = "你之前生成的SQL执行时出错了。请根据错误信息修正SQL。\n\n" +
	"原始问题: %s\n\n" +
	"错误的SQL:\n```sql\n%s\n```\n\n" +
	"数据库错误信息: %s\n\n" +
	"可用的表结构：\n%s\n\n" +
	"请根据上面的错误信息，生成正确的SQL查询。注意：\n" +
	"1. 仔细检查表名和字段名是否正确\n" +
	"2. 确保SQL语法正确\n" +
	"3. 注意表之间的关联关系\n" +
	"4. 只使用提供的表结构信息\n\n" +
	"这是第%d次修正尝试，请确保生成的SQL是正确的。\n\n" +
	"请将SQL代码包裹在```sql ... ```中。"

// Assembler builds prompts. It is stateless apart from its example pool and
// safe for concurrent use.
type Assembler struct {
	examples []Example
	logger   *zap.Logger
}

// New creates an assembler over the given few-shot pool. A nil pool selects
// DefaultExamples.
func New(examples []Example, logger *zap.Logger) *Assembler {
	if examples == nil {
		examples = DefaultExamples
	}
	return &Assembler{examples: examples, logger: utils.OrNop(logger)}
}

// GenerationOptions adjusts one generation prompt.
type GenerationOptions struct {
	// BusinessRules overrides the rules attached to the schema context.
	BusinessRules string
	// Examples replaces rule-based example selection when non-empty.
	Examples []Example
	// OmitConstraints drops the SQL constraints footer.
	OmitConstraints bool
}

// BuildGeneration renders the prompt for a first generation attempt. Sections
// are the role block, schema, business rules, few-shot examples, query hints,
// constraints and the restated question, joined by blank lines.
func (a *Assembler) BuildGeneration(query string, sc *models.SchemaContext, opts GenerationOptions) string {
	if sc == nil {
		sc = &models.SchemaContext{}
	}
	parts := []string{roleInstruction, RenderSchema(sc)}

	rules := opts.BusinessRules
	if rules == "" {
		rules = sc.BusinessRules
	}
	if rules != "" {
		parts = append(parts, "\n业务规则和定义：\n"+rules)
	}

	t := detectTraits(query, len(sc.Tables))
	examples := opts.Examples
	if len(examples) == 0 {
		examples = selectExamples(a.examples, t)
	}
	if len(examples) > 0 {
		parts = append(parts, renderExamples(examples))
	}
	if h := renderHints(t); h != "" {
		parts = append(parts, h)
	}
	if !opts.OmitConstraints {
		parts = append(parts, constraints)
	}
	parts = append(parts, fmt.Sprintf("\n现在，请为以下问题生成SQL查询：\n\"%s\"", query))

	out := strings.Join(parts, "\n\n")
	a.logger.Debug("Built generation prompt",
		zap.Int("chars", len(out)),
		zap.Int("examples", len(examples)))
	return out
}

// BuildCorrection renders the prompt that asks the model to repair failedSQL.
// attempt is the 1-based correction attempt number.
func (a *Assembler) BuildCorrection(query, failedSQL, errMsg string, sc *models.SchemaContext, attempt int) string {
	if sc == nil {
		sc = &models.SchemaContext{}
	}
	return fmt.Sprintf(correctionTemplate, query, failedSQL, errMsg, RenderSchema(sc), attempt)
}

// RenderSchema lists each table's DDL and the context's relationships.
func RenderSchema(sc *models.SchemaContext) string {
	lines := []string{"数据表结构信息："}
	for _, t := range sc.Tables {
		lines = append(lines, fmt.Sprintf("\n--- 表: %s ---", t.Name))
		if len(t.Focus) > 0 {
			lines = append(lines, fmt.Sprintf("相关列: %s（共 %d 列，其余已省略）", strings.Join(t.Focus, ", "), len(t.Columns)))
			continue
		}
		lines = append(lines, ExtractDDL(t.Document))
	}
	if len(sc.Relationships) > 0 {
		lines = append(lines, "\n表关系：")
		for _, rel := range sc.Relationships {
			lines = append(lines, "- "+rel.String())
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractDDL returns the first ```sql fenced block of a table document, or the
// whole document when it has none.
func ExtractDDL(doc string) string {
	const fence = "```sql"
	i := strings.Index(doc, fence)
	if i < 0 {
		return doc
	}
	body := doc[i+len(fence):]
	end := strings.Index(body, "```")
	if end < 0 {
		return doc
	}
	return strings.TrimSpace(body[:end])
}

func renderExamples(examples []Example) string {
	lines := []string{"示例："}
	for i, ex := range examples {
		lines = append(lines,
			fmt.Sprintf("\n示例 %d:", i+1),
			"问题: "+ex.Question,
			"SQL: ```sql\n"+ex.SQL+"\n```")
		if ex.Note != "" {
			lines = append(lines, "说明: "+ex.Note)
		}
	}
	return strings.Join(lines, "\n")
}

func renderHints(t traits) string {
	var hints []string
	if t.timeRange {
		hints = append(hints, "这是一个时间范围查询，请使用适当的日期函数。")
	}
	if t.aggregation {
		hints = append(hints, "这是一个聚合查询，请使用GROUP BY和聚合函数。")
	}
	if t.ranking {
		hints = append(hints, "这是一个排名查询，请使用ORDER BY和LIMIT。")
	}
	if t.multiTable {
		hints = append(hints, "查询涉及多个表，请正确使用JOIN。")
	}
	if len(hints) == 0 {
		return ""
	}
	return "\n查询提示：\n- " + strings.Join(hints, "\n- ")
}
