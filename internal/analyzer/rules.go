package analyzer

import (
	"regexp"
	"strings"

	"github.com/hyperjump/text2sql/internal/models"
)

// word matches a run of letters, digits and underscores in any script.
const word = `[\p{L}\p{N}_]+`

// keywordSet matches a fixed list of keywords. CJK keywords are plain
// substrings; ASCII keywords must sit on word boundaries and ignore case.
type keywordSet struct {
	keywords []string
	ascii    []*regexp.Regexp
}

func newKeywordSet(keywords ...string) keywordSet {
	ks := keywordSet{keywords: keywords, ascii: make([]*regexp.Regexp, len(keywords))}
	for i, k := range keywords {
		if isASCII(k) {
			ks.ascii[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(k) + `\b`)
		}
	}
	return ks
}

// first returns the first keyword, in list order, found in text.
func (ks keywordSet) first(text string) (string, bool) {
	for i, k := range ks.keywords {
		if ks.ascii[i] != nil {
			if ks.ascii[i].MatchString(text) {
				return k, true
			}
			continue
		}
		if strings.Contains(text, k) {
			return k, true
		}
	}
	return "", false
}

func (ks keywordSet) matches(text string) bool {
	_, ok := ks.first(text)
	return ok
}

// pattern returns an alternation regex over the keywords in list order.
func (ks keywordSet) pattern() string {
	var cjk, ascii []string
	for _, k := range ks.keywords {
		if isASCII(k) {
			ascii = append(ascii, `\b`+regexp.QuoteMeta(k)+`\b`)
		} else {
			cjk = append(cjk, regexp.QuoteMeta(k))
		}
	}
	parts := append(cjk, ascii...)
	if len(ascii) > 0 {
		return `(?i:` + strings.Join(parts, "|") + `)`
	}
	return strings.Join(parts, "|")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// stopwords are generic verbs that never name an entity.
var stopwords = map[string]bool{
	"查询": true, "显示": true, "获取": true, "计算": true, "统计": true,
	"query": true, "show": true, "get": true, "calculate": true, "count": true,
	"list": true, "find": true, "the": true, "and": true, "for": true, "with": true,
	"from": true, "all": true, "each": true, "what": true, "which": true,
	"how": true, "many": true, "per": true, "are": true, "was": true, "were": true,
}

var stopVerbs = newKeywordSet("查询", "显示", "获取", "计算", "统计", "找出", "列出")

// metricRules are evaluated in order; matched substrings are collected.
var metricRules = []keywordSet{
	newKeywordSet("总金额", "总额", "总计", "合计", "total", "sum"),
	newKeywordSet("平均值", "均值", "平均", "average", "avg", "mean"),
	newKeywordSet("最大值", "最高", "最大", "maximum", "highest", "max"),
	newKeywordSet("最小值", "最低", "最小", "minimum", "lowest", "min"),
	newKeywordSet("数量", "个数", "总数", "count", "number of", "how many"),
	newKeywordSet("客单价", "人均消费"),
	newKeywordSet("销售额", "营收", "收入", "revenue", "sales"),
	newKeywordSet("利润", "盈利", "profit"),
	newKeywordSet("成本", "花费", "cost"),
}

var metricPatterns = compileAll(metricRules)

func compileAll(sets []keywordSet) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(sets))
	for i, ks := range sets {
		out[i] = regexp.MustCompile(ks.pattern())
	}
	return out
}

// intentRule maps a keyword group to an intent. First hit wins.
type intentRule struct {
	intent   models.Intent
	keywords keywordSet
}

var intentRules = []intentRule{
	{models.IntentAggregation, newKeywordSet("统计", "计算", "多少", "几个", "how many", "calculate")},
	{models.IntentExtreme, newKeywordSet("最高", "最大", "最低", "最小", "highest", "lowest", "maximum", "minimum")},
	{models.IntentAverage, newKeywordSet("平均", "均值", "average", "avg", "mean")},
	{models.IntentRanking, newKeywordSet("排名", "排行", "top", "rank", "ranking")},
	{models.IntentTrend, newKeywordSet("趋势", "变化", "增长", "trend", "growth")},
	{models.IntentProportion, newKeywordSet("占比", "比例", "百分比", "ratio", "percentage", "proportion")},
}

// aggregationRule maps a synonym group to an aggregate function. First hit wins.
type aggregationRule struct {
	aggregation models.AggregationType
	keywords    keywordSet
}

var aggregationRules = []aggregationRule{
	{models.AggregationSum, newKeywordSet("总额", "总金额", "总计", "合计", "销售额", "营收", "收入", "total", "sum", "revenue")},
	{models.AggregationAvg, newKeywordSet("平均值", "均值", "平均", "客单价", "人均消费", "average", "avg", "mean")},
	{models.AggregationMax, newKeywordSet("最大值", "最高", "最大", "maximum", "highest", "max")},
	{models.AggregationMin, newKeywordSet("最小值", "最低", "最小", "minimum", "lowest", "min")},
	{models.AggregationCount, newKeywordSet("数量", "个数", "总数", "count", "how many", "number of")},
}

// dimensionRule captures a grouping field. When prefix is set, the capture
// precedes the marker and may contain an earlier grouping marker.
type dimensionRule struct {
	re     *regexp.Regexp
	prefix bool
}

var dimensionRules = []dimensionRule{
	{re: regexp.MustCompile(`按(?:照)?(` + word + `)`)},
	{re: regexp.MustCompile(`(` + word + `)的`), prefix: true},
	{re: regexp.MustCompile(`每个(` + word + `)`)},
	{re: regexp.MustCompile(`各个(` + word + `)`)},
	{re: regexp.MustCompile(`(?i)\b(?:by|per|each)\s+([a-z_][a-z0-9_]*)`)},
}

var groupMarkers = []string{"每个", "各个", "按照", "按"}

// dimensionTerminators end a dimension capture.
var dimensionTerminators = func() []string {
	t := []string{"的", "分组", "汇总", "排序", "排名",
		"大于", "小于", "等于", "超过", "高于", "低于", "少于", "不是", "不在", "包含"}
	t = append(t, stopVerbs.keywords...)
	for _, ks := range metricRules {
		for _, k := range ks.keywords {
			if !isASCII(k) {
				t = append(t, k)
			}
		}
	}
	return t
}()

// filterRule captures `field operator value`. Positive rules drop a match
// whose field ends in a negation, so 不等于 is not also read as 等于.
type filterRule struct {
	op       models.FilterOperator
	re       *regexp.Regexp
	positive bool
}

var filterRules = []filterRule{
	{models.OpGreaterThan, regexp.MustCompile(`(?i)(` + word + `)\s*(大于|超过|高于|>|greater than|more than)\s*(\d+(?:\.\d+)?)`), false},
	{models.OpLessThan, regexp.MustCompile(`(?i)(` + word + `)\s*(小于|低于|少于|<|less than|fewer than)\s*(\d+(?:\.\d+)?)`), false},
	{models.OpEqual, regexp.MustCompile(`(` + word + `)\s*(等于|=|是)\s*(` + word + `)`), true},
	{models.OpNotEqual, regexp.MustCompile(`(` + word + `)\s*(不等于|!=|<>|不是)\s*(` + word + `)`), false},
	{models.OpIn, regexp.MustCompile(`(` + word + `)\s*(在|包含)\s*([\p{L}\p{N}_,，、]+)`), true},
	{models.OpNotIn, regexp.MustCompile(`(` + word + `)\s*(不在|不包含)\s*([\p{L}\p{N}_,，、]+)`), false},
}

var negations = []string{"不"}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`),
	regexp.MustCompile(`\d{4}/\d{1,2}/\d{1,2}`),
	regexp.MustCompile(`\d{4}年\d{1,2}月\d{1,2}日`),
}

var tokenPattern = regexp.MustCompile(word)
