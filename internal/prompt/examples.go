package prompt

import (
	"strings"

	"github.com/hyperjump/text2sql/pkg/utils"
)

// Example is a curated question/SQL pair shown to the model.
type Example struct {
	Question string `json:"question" yaml:"question"`
	SQL      string `json:"sql" yaml:"sql"`
	Note     string `json:"note,omitempty" yaml:"note,omitempty"`
}

// DefaultExamples is the built-in few-shot pool.
var DefaultExamples = []Example{
	{
		Question: "查询上周的总销售额",
		SQL:      "SELECT SUM(payment_amount) FROM orders WHERE created_at >= DATE_SUB(CURRENT_DATE(), INTERVAL 7 DAY);",
		Note:     "orders表包含payment_amount和created_at字段",
	},
	{
		Question: "统计每个城市的用户数量",
		SQL:      "SELECT city, COUNT(*) as user_count FROM users GROUP BY city;",
		Note:     "users表包含city字段",
	},
	{
		Question: "找出订单金额最高的前10个用户",
		SQL:      "SELECT u.user_id, u.username, SUM(o.payment_amount) as total_amount FROM users u JOIN orders o ON u.user_id = o.user_id GROUP BY u.user_id, u.username ORDER BY total_amount DESC LIMIT 10;",
		Note:     "users和orders表通过user_id关联",
	},
}

const maxExamples = 2

// traits are the query characteristics that drive example selection and hints.
type traits struct {
	timeRange   bool
	aggregation bool
	ranking     bool
	multiTable  bool
}

var (
	timeWords        = []string{"上周", "昨天", "本月", "今年"}
	aggregationWords = []string{"统计", "总数", "平均", "总计"}
	rankingWords     = []string{"最高", "最低", "前", "排名"}
)

func detectTraits(query string, tables int) traits {
	q := strings.ToLower(query)
	return traits{
		timeRange:   utils.ContainsAny(q, timeWords...),
		aggregation: utils.ContainsAny(q, aggregationWords...),
		ranking:     utils.ContainsAny(q, rankingWords...),
		multiTable:  tables > 1,
	}
}

// relevant reports whether the example's SQL carries a marker for one of the
// query's traits.
func (t traits) relevant(ex Example) bool {
	sql := ex.SQL
	switch {
	case t.aggregation && strings.Contains(sql, "SUM("):
		return true
	case t.multiTable && strings.Contains(sql, "JOIN"):
		return true
	case t.timeRange && strings.Contains(sql, "WHERE"):
		return true
	case t.ranking && strings.Contains(sql, "ORDER BY") && strings.Contains(sql, "LIMIT"):
		return true
	}
	return false
}

// selectExamples returns up to two pool entries relevant to t, in pool order.
func selectExamples(pool []Example, t traits) []Example {
	var out []Example
	for _, ex := range pool {
		if !t.relevant(ex) {
			continue
		}
		out = append(out, ex)
		if len(out) == maxExamples {
			break
		}
	}
	return out
}
