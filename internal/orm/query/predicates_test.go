package query

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestConditionMatch(t *testing.T) {
	id := uuid.New()
	launch := time.Date(1969, 7, 16, 13, 32, 0, 0, time.UTC)
	record := map[string]interface{}{
		"name":       "Astro",
		"age":        3,
		"weight":     12.5,
		"owner":      id,
		"vaccinated": true,
		"born":       launch,
		"nickname":   nil,
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equal string", Condition{"name", OpEqual, "Astro"}, true},
		{"equal is case sensitive", Condition{"name", OpEqual, "astro"}, false},
		{"equal across numeric kinds", Condition{"age", OpEqual, float64(3)}, true},
		{"uuid equals its string", Condition{"owner", OpEqual, id.String()}, true},
		{"not equal", Condition{"name", OpNotEqual, "Rex"}, true},
		{"greater than", Condition{"age", OpGreaterThan, 2}, true},
		{"greater or equal", Condition{"age", OpGreaterThanOrEqual, 3}, true},
		{"less than float", Condition{"weight", OpLessThan, 12}, false},
		{"less or equal", Condition{"weight", OpLessThanOrEqual, 12.5}, true},
		{"time ordering", Condition{"born", OpLessThan, launch.Add(time.Hour)}, true},
		{"mixed families never order", Condition{"name", OpGreaterThan, 1}, false},
		{"in", Condition{"name", OpIn, []interface{}{"Rex", "Astro"}}, true},
		{"in typed slice", Condition{"age", OpIn, []int{1, 3}}, true},
		{"not in", Condition{"name", OpNotIn, []string{"Rex"}}, true},
		{"like", Condition{"name", OpLike, "a%o"}, true},
		{"like single", Condition{"name", OpLike, "ast_o"}, true},
		{"like no match", Condition{"name", OpLike, "%x%"}, false},
		{"contains", Condition{"name", OpContains, "STR"}, true},
		{"starts with", Condition{"name", OpStartsWith, "as"}, true},
		{"ends with", Condition{"name", OpEndsWith, "ro"}, true},
		{"is null", Condition{"nickname", OpIsNull, nil}, true},
		{"missing is null", Condition{"color", OpIsNull, nil}, true},
		{"is not null", Condition{"vaccinated", OpIsNotNull, nil}, true},
		{"nil equal", Condition{"nickname", OpEqual, nil}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Match(record))
		})
	}
}

func TestOperatorString(t *testing.T) {
	assert.Equal(t, "IN", OpIn.String())
	assert.Equal(t, "UNKNOWN", Operator(99).String())
	assert.Equal(t, "owner IS NULL", (&Condition{Field: "owner", Operator: OpIsNull}).String())
}
