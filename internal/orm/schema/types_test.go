package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseType(t *testing.T) {
	for _, typ := range []Type{TypeString, TypeText, TypeEmail, TypeInteger, TypeFloat, TypeBoolean, TypeDate, TypeDateTime, TypeJSON, TypeArray} {
		parsed, err := ParseType(typ.String())
		assert.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseType("blob")
	assert.Error(t, err)
}

func TestTypeCheck(t *testing.T) {
	tests := []struct {
		typ   Type
		value interface{}
		ok    bool
	}{
		{TypeString, "Neil", true},
		{TypeString, 42, false},
		{TypeEmail, "neil@nasa.gov", true},
		{TypeEmail, "neil", false},
		{TypeInteger, 3, true},
		{TypeInteger, float64(3), true},
		{TypeInteger, 3.5, false},
		{TypeInteger, "3", false},
		{TypeFloat, 3, true},
		{TypeFloat, 3.5, true},
		{TypeBoolean, true, true},
		{TypeBoolean, "true", false},
		{TypeDate, "1969-07-20", true},
		{TypeDate, "July 20", false},
		{TypeDateTime, time.Now(), true},
		{TypeDateTime, "1969-07-20T20:17:40Z", true},
		{TypeArray, []string{"a"}, true},
		{TypeArray, "a", false},
		{TypeJSON, map[string]interface{}{"a": 1}, true},
		{TypeString, nil, true},
	}

	for _, tt := range tests {
		err := tt.typ.Check(tt.value)
		if tt.ok {
			assert.NoError(t, err, "%s %v", tt.typ, tt.value)
		} else {
			assert.Error(t, err, "%s %v", tt.typ, tt.value)
		}
	}
}

func TestOmit(t *testing.T) {
	obj := map[string]interface{}{"username": "neil", "password": "secret"}
	out := Omit("password")(obj)

	assert.Equal(t, map[string]interface{}{"username": "neil"}, out)
}
