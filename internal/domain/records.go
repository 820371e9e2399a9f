package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Collection names in the record store
const (
	CollectionInteractions  = "interactions"
	CollectionComments      = "comments"
	CollectionWatchProgress = "watch_progress"
	CollectionEpisodes      = "episodes"
)

// InteractionLike is the interaction_type value of a like record
const InteractionLike = "like"

// Record is a single row as exchanged with the record store.
// Values arrive as whatever the transport decoded (string, float64, int64, json.Number).
type Record map[string]any

// String returns the value at key formatted as a string ("" if absent)
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the value at key as a float64 (0 if absent or not numeric)
func (r Record) Float(key string) float64 {
	switch t := r[key].(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// Int returns the value at key as an int
func (r Record) Int(key string) int {
	return int(r.Float(key))
}

// Time returns the value at key parsed as a timestamp (zero if absent)
func (r Record) Time(key string) time.Time {
	switch t := r[key].(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{TimeFormat, time.RFC3339Nano} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}

// Op is a comparison operator for filters
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
)

// Filter restricts a query or subscription to rows where Column Op Value
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality filter
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Gt builds a greater-than filter
func Gt(column string, value any) Filter { return Filter{Column: column, Op: OpGt, Value: value} }

// Gte builds a greater-or-equal filter
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }

// String renders the filter in the "column=op.value" expression form
func (f Filter) String() string {
	return fmt.Sprintf("%s=%s.%s", f.Column, f.Op, FormatValue(f.Value))
}

// Matches evaluates the filter against a record.
// Numeric comparison is used when both sides parse as numbers.
func (f Filter) Matches(r Record) bool {
	got := r.String(f.Column)
	want := FormatValue(f.Value)

	gf, gerr := strconv.ParseFloat(got, 64)
	wf, werr := strconv.ParseFloat(want, 64)
	numeric := gerr == nil && werr == nil

	cmp := 0
	switch {
	case numeric && gf < wf, !numeric && got < want:
		cmp = -1
	case numeric && gf > wf, !numeric && got > want:
		cmp = 1
	}

	switch f.Op {
	case OpEq:
		return cmp == 0
	case OpNeq:
		return cmp != 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}

// FormatValue renders a filter value for the wire
func FormatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(TimeFormat)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case TargetType:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Query describes a select/count/delete against one collection
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int // 0 = no limit
}

// Where returns a query with the given filters appended
func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

// Matches reports whether a record satisfies every filter of the query
func (q Query) Matches(r Record) bool {
	for _, f := range q.Filters {
		if !f.Matches(r) {
			return false
		}
	}
	return true
}
