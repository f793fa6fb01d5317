package analyzer

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hyperjump/text2sql/internal/models"
)

// fixedNow is a Wednesday.
var fixedNow = time.Date(2024, 3, 13, 15, 4, 5, 0, time.UTC)

func newTestAnalyzer() *Analyzer {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestAnalyzer_ParseScenario(t *testing.T) {
	p := newTestAnalyzer().Parse("统计每个城市的用户数量")

	if p.Intent != models.IntentAggregation {
		t.Errorf("intent = %s, want aggregation", p.Intent)
	}
	if p.AggregationType != models.AggregationCount {
		t.Errorf("aggregation = %s, want count", p.AggregationType)
	}
	if diff := cmp.Diff([]string{"城市"}, p.Dimensions); diff != "" {
		t.Errorf("dimensions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"数量"}, p.Metrics); diff != "" {
		t.Errorf("metrics mismatch (-want +got):\n%s", diff)
	}
	if !p.TimeRange.IsZero() {
		t.Errorf("unexpected time range: %+v", p.TimeRange)
	}
	if p.Original != "统计每个城市的用户数量" {
		t.Errorf("original = %q", p.Original)
	}
}

func TestAnalyzer_TimeRange(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		name  string
		query string
		want  models.TimeRange
	}{
		{"none", "列出所有用户", models.TimeRange{}},
		{"iso literal only", `查询 "2024-03-01" 的订单`, models.TimeRange{ExplicitTime: []string{"2024-03-01"}}},
		{"today", "今天的订单", models.TimeRange{RelativeTime: "今天", ExplicitTime: []string{"2024-03-13"}}},
		{"yesterday", "昨天的订单", models.TimeRange{RelativeTime: "昨天", ExplicitTime: []string{"2024-03-12"}}},
		{"this week", "本周销售额", models.TimeRange{RelativeTime: "本周", StartDate: "2024-03-11", EndDate: "2024-03-17"}},
		{"last week", "上周的总销售额", models.TimeRange{RelativeTime: "上周", StartDate: "2024-03-04", EndDate: "2024-03-10"}},
		{"this month", "本月订单", models.TimeRange{RelativeTime: "本月", StartDate: "2024-03-01", EndDate: "2024-03-13"}},
		{"last month", "上月订单", models.TimeRange{RelativeTime: "上月", StartDate: "2024-02-01", EndDate: "2024-02-29"}},
		{"this year", "今年收入", models.TimeRange{RelativeTime: "今年", StartDate: "2024-01-01", EndDate: "2024-03-13"}},
		{"last year", "去年收入", models.TimeRange{RelativeTime: "去年", StartDate: "2023-01-01", EndDate: "2023-12-31"}},
		{"english", "revenue last month", models.TimeRange{RelativeTime: "last month", StartDate: "2024-02-01", EndDate: "2024-02-29"}},
		{"first rule wins", "今天和昨天的订单", models.TimeRange{RelativeTime: "今天", ExplicitTime: []string{"2024-03-13"}}},
		{
			"relative and literal together",
			"上周和2024-03-01的订单",
			models.TimeRange{RelativeTime: "上周", ExplicitTime: []string{"2024-03-01"}, StartDate: "2024-03-04", EndDate: "2024-03-10"},
		},
		{"literal replaces single date", "昨天和2024-03-01", models.TimeRange{RelativeTime: "昨天", ExplicitTime: []string{"2024-03-01"}}},
		{
			"slash and localized",
			"2024年3月1日到2024/03/05",
			models.TimeRange{ExplicitTime: []string{"2024/03/05", "2024年3月1日"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Parse(tt.query).TimeRange
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("time range mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyzer_LastMonthAcrossYear(t *testing.T) {
	a := New(WithClock(func() time.Time { return time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC) }))
	got := a.Parse("上月").TimeRange
	if got.StartDate != "2023-12-01" || got.EndDate != "2023-12-31" {
		t.Errorf("last month across year: got %+v", got)
	}
}

func TestAnalyzer_IntentAndAggregation(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		name     string
		query    string
		wantInt  models.Intent
		wantAggr models.AggregationType
	}{
		{"aggregation wins over extreme", "统计最高的订单金额", models.IntentAggregation, models.AggregationMax},
		{"extreme", "销售额最高的产品", models.IntentExtreme, models.AggregationSum},
		{"average", "平均订单金额", models.IntentAverage, models.AggregationAvg},
		{"ranking", "销售排名前10的门店", models.IntentRanking, models.AggregationNone},
		{"trend", "用户增长趋势", models.IntentTrend, models.AggregationNone},
		{"proportion", "各渠道订单占比", models.IntentProportion, models.AggregationNone},
		{"simple", "列出所有用户", models.IntentSimple, models.AggregationNone},
		{"sum precedes count", "订单总额和数量", models.IntentSimple, models.AggregationSum},
		{"english count", "how many users per city", models.IntentAggregation, models.AggregationCount},
		{"english ranking", "top 5 products by revenue", models.IntentRanking, models.AggregationSum},
		{"country is not count", "users in each country", models.IntentSimple, models.AggregationNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := a.Parse(tt.query)
			if p.Intent != tt.wantInt {
				t.Errorf("intent = %s, want %s", p.Intent, tt.wantInt)
			}
			if p.AggregationType != tt.wantAggr {
				t.Errorf("aggregation = %s, want %s", p.AggregationType, tt.wantAggr)
			}
		})
	}
}

func TestAnalyzer_Metrics(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		query string
		want  []string
	}{
		{"上周销售额和利润", []string{"销售额", "利润"}},
		{"订单总金额与平均值", []string{"总金额", "平均值"}},
		{"销售额和销售额", []string{"销售额"}},
		{"total revenue and cost", []string{"total", "revenue", "cost"}},
		{"列出所有用户", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, a.Parse(tt.query).Metrics); diff != "" {
				t.Errorf("metrics mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyzer_Dimensions(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		query string
		want  []string
	}{
		{"按城市统计订单数量", []string{"城市"}},
		{"按照月份汇总销售额", []string{"月份"}},
		{"各个部门的平均工资", []string{"部门"}},
		{"查询用户的订单", []string{"用户"}},
		{"how many users per city", []string{"city"}},
		{"列出所有用户", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, a.Parse(tt.query).Dimensions); diff != "" {
				t.Errorf("dimensions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyzer_Filters(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		query string
		want  []models.Filter
	}{
		{"查询金额大于100的订单", []models.Filter{{Field: "金额", Operator: models.OpGreaterThan, Value: "100"}}},
		{"年龄小于30", []models.Filter{{Field: "年龄", Operator: models.OpLessThan, Value: "30"}}},
		{"状态等于完成的订单", []models.Filter{{Field: "状态", Operator: models.OpEqual, Value: "完成"}}},
		{"状态不等于完成", []models.Filter{{Field: "状态", Operator: models.OpNotEqual, Value: "完成"}}},
		{"状态不是取消", []models.Filter{{Field: "状态", Operator: models.OpNotEqual, Value: "取消"}}},
		{"城市在北京,上海", []models.Filter{{Field: "城市", Operator: models.OpIn, Value: "北京,上海"}}},
		{"城市不在北京", []models.Filter{{Field: "城市", Operator: models.OpNotIn, Value: "北京"}}},
		{"amount > 100", []models.Filter{{Field: "amount", Operator: models.OpGreaterThan, Value: "100"}}},
		{"status != paid", []models.Filter{{Field: "status", Operator: models.OpNotEqual, Value: "paid"}}},
		{"列出所有用户", []models.Filter{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, a.Parse(tt.query).Filters); diff != "" {
				t.Errorf("filters mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyzer_Entities(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		query string
		want  []string
	}{
		{"查询 orders 表", []string{"orders"}},
		{"show users with the highest revenue", []string{"users", "highest", "revenue"}},
		{"orders orders", []string{"orders"}},
		{"统计", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, a.Parse(tt.query).Entities); diff != "" {
				t.Errorf("entities mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnhanceSearchQuery(t *testing.T) {
	p := &models.ParsedQuery{
		Original:   "统计每个城市的用户数量",
		Entities:   []string{"统计每个城市的用户数量"},
		Metrics:    []string{"数量"},
		Dimensions: []string{"城市"},
	}
	want := "统计每个城市的用户数量 统计每个城市的用户数量 数量 城市"
	if got := EnhanceSearchQuery(p); got != want {
		t.Errorf("EnhanceSearchQuery = %q, want %q", got, want)
	}

	bare := &models.ParsedQuery{Original: "x"}
	if got := EnhanceSearchQuery(bare); got != "x" {
		t.Errorf("EnhanceSearchQuery without signals = %q", got)
	}
}
