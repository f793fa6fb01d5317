// Package analyzer extracts structured signals from a natural-language analytics question.
package analyzer

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/pkg/utils"
)

// minEntityRunes is the length a token must exceed to count as an entity.
const minEntityRunes = 2

// Analyzer parses queries into ParsedQuery values. It holds no per-query state
// and is safe for concurrent use.
type Analyzer struct {
	now func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock sets the clock used to resolve relative time keywords.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

// New creates a new Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Parse extracts entities, time range, metrics, dimensions, filters, intent
// and aggregation type from text.
func (a *Analyzer) Parse(text string) *models.ParsedQuery {
	lower := strings.ToLower(text)
	return &models.ParsedQuery{
		Original:        text,
		Entities:        a.extractEntities(text),
		TimeRange:       a.extractTimeRange(text, lower),
		Metrics:         a.extractMetrics(text),
		Dimensions:      a.extractDimensions(text),
		Filters:         a.extractFilters(text),
		Intent:          a.classifyIntent(lower),
		AggregationType: a.detectAggregation(lower),
	}
}

func (a *Analyzer) extractEntities(text string) []string {
	entities := []string{}
	for _, tok := range tokenPattern.FindAllString(text, -1) {
		if utf8.RuneCountInString(tok) <= minEntityRunes {
			continue
		}
		if stopwords[strings.ToLower(tok)] {
			continue
		}
		entities = utils.AppendUnique(entities, tok)
	}
	return entities
}

func (a *Analyzer) extractTimeRange(text, lower string) models.TimeRange {
	var tr models.TimeRange
	for _, rule := range timeRules {
		keyword, ok := rule.match(text, lower)
		if !ok {
			continue
		}
		tr.RelativeTime = keyword
		start, end := rule.resolve(a.now())
		if rule.single {
			tr.ExplicitTime = []string{start.Format(dateLayout)}
		} else {
			tr.StartDate = start.Format(dateLayout)
			tr.EndDate = end.Format(dateLayout)
		}
		break
	}

	var dates []string
	for _, re := range datePatterns {
		dates = append(dates, re.FindAllString(text, -1)...)
	}
	if len(dates) > 0 {
		tr.ExplicitTime = dates
	}
	return tr
}

func (a *Analyzer) extractMetrics(text string) []string {
	metrics := []string{}
	for _, re := range metricPatterns {
		metrics = utils.AppendUnique(metrics, re.FindAllString(text, -1)...)
	}
	return metrics
}

func (a *Analyzer) extractDimensions(text string) []string {
	dims := []string{}
	for _, rule := range dimensionRules {
		for _, m := range rule.re.FindAllStringSubmatch(text, -1) {
			if !rule.prefix {
				dims = utils.AppendUnique(dims, cleanDimension(m[1]))
				continue
			}
			// Every segment of the capture was followed by the marker.
			for _, seg := range strings.Split(m[1], "的") {
				dims = utils.AppendUnique(dims, cleanDimension(afterLastMarker(seg)))
			}
		}
	}
	return dims
}

// afterLastMarker drops everything up to the last grouping marker in s.
func afterLastMarker(s string) string {
	cut := 0
	for _, marker := range groupMarkers {
		if i := strings.LastIndex(s, marker); i >= 0 && i+len(marker) > cut {
			cut = i + len(marker)
		}
	}
	return s[cut:]
}

// cleanDimension strips leading verbs and cuts at the first terminator.
func cleanDimension(s string) string {
	s = stripLeadingVerbs(s)
	end := len(s)
	for _, t := range dimensionTerminators {
		if i := strings.Index(s, t); i >= 0 && i < end {
			end = i
		}
	}
	return strings.TrimSpace(s[:end])
}

func stripLeadingVerbs(s string) string {
	for {
		trimmed := s
		for _, v := range stopVerbs.keywords {
			trimmed = strings.TrimPrefix(trimmed, v)
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

func (a *Analyzer) extractFilters(text string) []models.Filter {
	filters := []models.Filter{}
	for _, rule := range filterRules {
		for _, m := range rule.re.FindAllStringSubmatch(text, -1) {
			if len(m) != 4 {
				continue
			}
			field := m[1]
			if rule.positive && endsWithAny(field, negations) {
				continue
			}
			field = stripLeadingVerbs(field)
			value := m[3]
			if i := strings.Index(value, "的"); i > 0 {
				value = value[:i]
			}
			if field == "" || value == "" {
				continue
			}
			filters = append(filters, models.Filter{Field: field, Operator: rule.op, Value: value})
		}
	}
	return filters
}

func endsWithAny(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func (a *Analyzer) classifyIntent(lower string) models.Intent {
	for _, rule := range intentRules {
		if rule.keywords.matches(lower) {
			return rule.intent
		}
	}
	return models.IntentSimple
}

func (a *Analyzer) detectAggregation(lower string) models.AggregationType {
	for _, rule := range aggregationRules {
		if rule.keywords.matches(lower) {
			return rule.aggregation
		}
	}
	return models.AggregationNone
}

// EnhanceSearchQuery appends entities, metrics and dimensions to the original text
// to widen a similarity search.
func EnhanceSearchQuery(p *models.ParsedQuery) string {
	parts := []string{p.Original}
	for _, group := range [][]string{p.Entities, p.Metrics, p.Dimensions} {
		if len(group) > 0 {
			parts = append(parts, strings.Join(group, " "))
		}
	}
	return strings.Join(parts, " ")
}
