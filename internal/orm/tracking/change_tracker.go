// Package tracking computes the difference between a record's last persisted state and
// its in-memory state, so save() can issue an update of only the changed attributes.
package tracking

import (
	"reflect"
	"sort"
)

// FieldChange represents a change to a single attribute
type FieldChange struct {
	Field    string
	OldValue interface{}
	NewValue interface{}
}

// ChangeTracker is a snapshot diff between a persisted and a current value set. It is
// computed once and not updated afterward; records are owned by a single caller.
type ChangeTracker struct {
	original map[string]interface{}
	current  map[string]interface{}
	changes  map[string]*FieldChange
}

// NewChangeTracker diffs current against original. When fields is non-empty only
// those attributes are compared; others are ignored in both maps.
func NewChangeTracker(original, current map[string]interface{}, fields ...string) *ChangeTracker {
	ct := &ChangeTracker{
		original: CopyMap(original),
		current:  CopyMap(current),
		changes:  make(map[string]*FieldChange),
	}

	keys := fields
	if len(keys) == 0 {
		seen := make(map[string]bool, len(ct.current)+len(ct.original))
		for k := range ct.current {
			seen[k] = true
		}
		for k := range ct.original {
			seen[k] = true
		}
		for k := range seen {
			keys = append(keys, k)
		}
	}

	for _, field := range keys {
		oldValue, hadOld := ct.original[field]
		newValue, hasNew := ct.current[field]
		if !hadOld && !hasNew {
			continue
		}
		if hadOld != hasNew || !deepEqual(oldValue, newValue) {
			ct.changes[field] = &FieldChange{Field: field, OldValue: oldValue, NewValue: newValue}
		}
	}

	return ct
}

// CopyMap returns a deep copy of a value map
func CopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = CopyValue(v)
	}
	return result
}

// CopyValue deep-copies slices and maps; other values are returned as-is
func CopyValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return CopyMap(tv)
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, item := range tv {
			out[i] = CopyValue(item)
		}
		return out
	}

	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Slice && !val.IsNil() {
		out := reflect.MakeSlice(val.Type(), val.Len(), val.Len())
		reflect.Copy(out, val)
		return out.Interface()
	}
	return v
}

func deepEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// Changed returns true if the specified field has changed
func (ct *ChangeTracker) Changed(field string) bool {
	_, ok := ct.changes[field]
	return ok
}

// ChangedFields returns the changed field names in sorted order
func (ct *ChangeTracker) ChangedFields() []string {
	fields := make([]string, 0, len(ct.changes))
	for field := range ct.changes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// GetChange returns the FieldChange for a field, or nil if unchanged
func (ct *ChangeTracker) GetChange(field string) *FieldChange {
	return ct.changes[field]
}

// PreviousValue returns the persisted value of a field
func (ct *ChangeTracker) PreviousValue(field string) interface{} {
	return ct.original[field]
}

// HasChanges returns true if any fields have changed
func (ct *ChangeTracker) HasChanges() bool {
	return len(ct.changes) > 0
}

// ChangedData returns the changed fields with their new values. A field removed from
// the current state maps to nil, which the update clears.
func (ct *ChangeTracker) ChangedData() map[string]interface{} {
	result := make(map[string]interface{}, len(ct.changes))
	for field, change := range ct.changes {
		result[field] = change.NewValue
	}
	return result
}
