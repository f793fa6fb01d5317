package analyzer

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// timeRule maps a relative-time keyword to a date or a date range.
// A rule with single set yields one date; otherwise start and end.
type timeRule struct {
	keywords []string
	single   bool
	resolve  func(now time.Time) (start, end time.Time)
}

// timeRules are scanned in order; the first keyword found wins.
var timeRules = []timeRule{
	{keywords: []string{"今天", "today"}, single: true, resolve: func(now time.Time) (time.Time, time.Time) {
		return now, now
	}},
	{keywords: []string{"昨天", "yesterday"}, single: true, resolve: func(now time.Time) (time.Time, time.Time) {
		d := now.AddDate(0, 0, -1)
		return d, d
	}},
	{keywords: []string{"本周", "this week"}, resolve: weekRange(0)},
	{keywords: []string{"上周", "last week"}, resolve: weekRange(-1)},
	{keywords: []string{"本月", "this month"}, resolve: func(now time.Time) (time.Time, time.Time) {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), now
	}},
	{keywords: []string{"上月", "last month"}, resolve: func(now time.Time) (time.Time, time.Time) {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first.AddDate(0, -1, 0), first.AddDate(0, 0, -1)
	}},
	{keywords: []string{"今年", "this year"}, resolve: func(now time.Time) (time.Time, time.Time) {
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), now
	}},
	{keywords: []string{"去年", "last year"}, resolve: func(now time.Time) (time.Time, time.Time) {
		y := now.Year() - 1
		return time.Date(y, 1, 1, 0, 0, 0, 0, now.Location()), time.Date(y, 12, 31, 0, 0, 0, 0, now.Location())
	}},
}

// weekRange returns a resolver for the Monday-to-Sunday week offset weeks from now.
func weekRange(offset int) func(time.Time) (time.Time, time.Time) {
	return func(now time.Time) (time.Time, time.Time) {
		sinceMonday := (int(now.Weekday()) + 6) % 7
		start := now.AddDate(0, 0, -sinceMonday+7*offset)
		return start, start.AddDate(0, 0, 6)
	}
}

// match returns the keyword of the rule found in text, checking lowercase for English.
func (r timeRule) match(text, lower string) (string, bool) {
	for _, k := range r.keywords {
		if isASCII(k) {
			if strings.Contains(lower, k) {
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
