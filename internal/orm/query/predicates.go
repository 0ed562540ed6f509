// Package query provides adapter-agnostic criteria construction for the ORM
package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpContains
	OpStartsWith
	OpEndsWith
	OpIsNull
	OpIsNotNull
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpContains:
		return "CONTAINS"
	case OpStartsWith:
		return "STARTS WITH"
	case OpEndsWith:
		return "ENDS WITH"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return "UNKNOWN"
	}
}

// Condition is one filter on an attribute. Conditions in a Criteria are ANDed.
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// String returns a readable form of the condition, used in logs
func (c *Condition) String() string {
	switch c.Operator {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", c.Field, c.Operator)
	default:
		return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
	}
}

// Match evaluates the condition against a record's values. This is the comparison
// semantics of the in-process adapters; SQL adapters compile conditions instead.
func (c *Condition) Match(values map[string]interface{}) bool {
	actual := values[c.Field]

	switch c.Operator {
	case OpEqual:
		return equalValues(actual, c.Value)
	case OpNotEqual:
		return !equalValues(actual, c.Value)
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		cmp, ok := compareValues(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGreaterThan:
			return cmp > 0
		case OpGreaterThanOrEqual:
			return cmp >= 0
		case OpLessThan:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		return containsValue(c.Value, actual)
	case OpNotIn:
		return !containsValue(c.Value, actual)
	case OpLike:
		s, ok := actual.(string)
		pattern, pok := c.Value.(string)
		return ok && pok && likeMatch(strings.ToLower(s), strings.ToLower(pattern))
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := actual.(string)
		sub, sok := c.Value.(string)
		if !ok || !sok {
			return false
		}
		s, sub = strings.ToLower(s), strings.ToLower(sub)
		switch c.Operator {
		case OpContains:
			return strings.Contains(s, sub)
		case OpStartsWith:
			return strings.HasPrefix(s, sub)
		default:
			return strings.HasSuffix(s, sub)
		}
	case OpIsNull:
		return actual == nil
	case OpIsNotNull:
		return actual != nil
	default:
		return false
	}
}

// ToSlice converts any slice value to []interface{}. Non-slices yield nil, false.
func ToSlice(v interface{}) ([]interface{}, bool) {
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func containsValue(list, v interface{}) bool {
	items, ok := ToSlice(list)
	if !ok {
		return false
	}
	for _, item := range items {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

// toFloat normalizes numeric kinds so 3, int64(3) and 3.0 compare equal
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	if as, ok := a.(fmt.Stringer); ok {
		// uuid.UUID and friends compare by their canonical form
		if bs, ok := b.(string); ok {
			return as.String() == bs
		}
	}
	if bs, ok := b.(fmt.Stringer); ok {
		if as, ok := a.(string); ok {
			return bs.String() == as
		}
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same family (numbers, strings, times)
func compareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ab == bb:
			return 0, true
		case !ab:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// likeMatch implements SQL LIKE with % and _ wildcards
func likeMatch(s, pattern string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatch(s[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		return s != "" && likeMatch(s[1:], pattern[1:])
	default:
		return s != "" && s[0] == pattern[0] && likeMatch(s[1:], pattern[1:])
	}
}
