package adapter

import (
	"fmt"
	"time"

	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// IndexKey normalizes a value for uniqueness comparison, so 3 and 3.0 collide and a
// uuid.UUID collides with its string form.
func IndexKey(v interface{}) string {
	switch tv := v.(type) {
	case float32:
		return fmt.Sprint(float64(tv))
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return tv.String()
	}
	return fmt.Sprint(v)
}

// CheckUnique verifies that candidate does not share a unique attribute value with
// any of existing. Nil values are never considered duplicates. skip reports rows
// that must be ignored, such as the rows an update is rewriting.
func CheckUnique(model *schema.Model, existing []map[string]interface{}, candidate map[string]interface{}, skip func(row map[string]interface{}) bool) error {
	for _, name := range model.UniqueAttributes() {
		v, ok := candidate[name]
		if !ok || v == nil {
			continue
		}
		key := IndexKey(v)
		for _, row := range existing {
			if skip != nil && skip(row) {
				continue
			}
			if other, ok := row[name]; ok && other != nil && IndexKey(other) == key {
				return &UniqueViolationError{Identity: model.Identity, Attribute: name, Value: v}
			}
		}
	}
	return nil
}

// StoredValues drops keys that are not stored attributes of the model
func StoredValues(model *schema.Model, values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if attr, ok := model.Attribute(k); ok && attr.Stored() {
			out[k] = v
		}
	}
	return out
}
