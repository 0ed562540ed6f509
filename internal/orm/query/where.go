package query

import (
	"fmt"
	"sort"
)

var modifiers = map[string]Operator{
	"<":           OpLessThan,
	"lessThan":    OpLessThan,
	"<=":          OpLessThanOrEqual,
	">":           OpGreaterThan,
	"greaterThan": OpGreaterThan,
	">=":          OpGreaterThanOrEqual,
	"!=":          OpNotEqual,
	"!":           OpNotEqual,
	"not":         OpNotEqual,
	"in":          OpIn,
	"nin":         OpNotIn,
	"like":        OpLike,
	"contains":    OpContains,
	"startsWith":  OpStartsWith,
	"endsWith":    OpEndsWith,
}

// ParseWhere converts a Waterline-style criteria object into conditions:
//
//	{"name": "Neil"}                  name = 'Neil'
//	{"id": ["a", "b"]}                id IN ('a', 'b')
//	{"age": {">": 3, "<=": 9}}        age > 3 AND age <= 9
//	{"name": {"contains": "ei"}}      name CONTAINS 'ei'
//	{"owner": null}                   owner IS NULL
//
// Keys are processed in sorted order so the result is deterministic.
func ParseWhere(where map[string]interface{}) ([]*Condition, error) {
	fields := make([]string, 0, len(where))
	for field := range where {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var conds []*Condition
	for _, field := range fields {
		value := where[field]

		switch v := value.(type) {
		case nil:
			conds = append(conds, &Condition{Field: field, Operator: OpIsNull})
		case []interface{}:
			conds = append(conds, &Condition{Field: field, Operator: OpIn, Value: v})
		case map[string]interface{}:
			mods := make([]string, 0, len(v))
			for mod := range v {
				mods = append(mods, mod)
			}
			sort.Strings(mods)

			for _, mod := range mods {
				op, ok := modifiers[mod]
				if !ok {
					return nil, fmt.Errorf("%w: unknown modifier %q on %s", ErrInvalidCriteria, mod, field)
				}
				arg := v[mod]
				if op == OpIn || op == OpNotIn {
					if _, isSlice := ToSlice(arg); !isSlice {
						return nil, fmt.Errorf("%w: %s on %s requires a list", ErrInvalidCriteria, mod, field)
					}
				}
				if op == OpNotEqual && arg == nil {
					conds = append(conds, &Condition{Field: field, Operator: OpIsNotNull})
					continue
				}
				conds = append(conds, &Condition{Field: field, Operator: op, Value: arg})
			}
		default:
			conds = append(conds, &Condition{Field: field, Operator: OpEqual, Value: v})
		}
	}

	return conds, nil
}
