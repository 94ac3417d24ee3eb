package filter

import (
	"strconv"
	"strings"
)

// Fields bare text tokens are matched against, as case-insensitive
// substrings.
var searchableFields = []string{"agent_id", "type", "name"}

// TextQuery is a parsed free-text filter. The grammar is whitespace-separated
// tokens, `field:value` tokens for equality, AND/OR keywords with AND binding
// tighter than OR, and implicit AND between adjacent terms. Unrecognized
// tokens are treated as bare substring terms, never as errors.
type TextQuery struct {
	raw    string
	groups [][]textTerm // OR over groups, AND within a group
}

type textTerm struct {
	field string // empty for bare substring terms
	value string
}

// ParseTextQuery tokenizes a raw query string. An empty or all-whitespace
// query yields nil, which matches everything.
func ParseTextQuery(raw string) *TextQuery {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return nil
	}
	q := &TextQuery{raw: raw}
	current := make([]textTerm, 0, len(tokens))
	for _, tok := range tokens {
		switch tok {
		case "AND":
			// implicit between terms already
			continue
		case "OR":
			if len(current) > 0 {
				q.groups = append(q.groups, current)
				current = nil
			}
			continue
		}
		if field, value, ok := strings.Cut(tok, ":"); ok && field != "" && value != "" {
			current = append(current, textTerm{field: field, value: value})
		} else {
			current = append(current, textTerm{value: tok})
		}
	}
	if len(current) > 0 {
		q.groups = append(q.groups, current)
	}
	if len(q.groups) == 0 {
		return nil
	}
	return q
}

// String returns the original query text.
func (q *TextQuery) String() string {
	if q == nil {
		return ""
	}
	return q.raw
}

func (q *TextQuery) matches(s Snapshot) bool {
	for _, group := range q.groups {
		if matchAll(group, s) {
			return true
		}
	}
	return false
}

func matchAll(terms []textTerm, s Snapshot) bool {
	for _, t := range terms {
		if !t.matches(s) {
			return false
		}
	}
	return true
}

func (t textTerm) matches(s Snapshot) bool {
	if t.field == "" {
		needle := strings.ToLower(t.value)
		for _, f := range searchableFields {
			if v, ok := s.TagValue(f); ok && strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	}
	// field:value equality: numeric fields compare numerically when the
	// snapshot carries the field, everything else compares as tag strings.
	if num, err := strconv.ParseFloat(t.value, 64); err == nil {
		if v, ok := s.MetricValue(t.field); ok {
			return v == num
		}
	}
	v, ok := s.TagValue(t.field)
	return ok && v == t.value
}
