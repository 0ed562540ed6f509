// Package record defines the in-memory representation of a persisted row.
//
// A Record holds the values the adapter returned, a snapshot of the last persisted
// state used by save() to compute a diff, and any associations attached by the
// resolver. Association attributes always hold primary keys; populated records live
// beside them and only replace the key in the presentation form.
//
// A Record is owned by the caller that received it and is not safe for concurrent
// mutation.
package record

import (
	"encoding/json"
	"fmt"

	"github.com/conduit-lang/waterline/internal/orm/schema"
	"github.com/conduit-lang/waterline/internal/orm/tracking"
)

// Record is one row of a collection
type Record struct {
	model     *schema.Model
	values    map[string]interface{}
	snapshot  map[string]interface{}
	persisted bool

	populated   map[string]interface{}
	collections map[string][]interface{}
}

// New creates a record that has not been persisted yet
func New(model *schema.Model, values map[string]interface{}) *Record {
	return &Record{
		model:     model,
		values:    tracking.CopyMap(values),
		snapshot:  make(map[string]interface{}),
		populated: make(map[string]interface{}),
	}
}

// Persisted creates a record from values an adapter returned
func Persisted(model *schema.Model, values map[string]interface{}) *Record {
	r := New(model, values)
	r.MarkPersisted(values)
	return r
}

// Model returns the record's schema
func (r *Record) Model() *schema.Model {
	return r.model
}

// Identity returns the identity of the record's model
func (r *Record) Identity() string {
	return r.model.Identity
}

// ID returns the primary key value
func (r *Record) ID() interface{} {
	return r.values[r.model.PrimaryKey]
}

// Get returns an attribute value. For a many-to-one association this is the
// referenced primary key, populated or not.
func (r *Record) Get(name string) interface{} {
	return r.values[name]
}

// Lookup returns an attribute value and whether it is set
func (r *Record) Lookup(name string) (interface{}, bool) {
	v, ok := r.values[name]
	return v, ok
}

// String returns a string attribute, or "" when unset or not a string
func (r *Record) String(name string) string {
	s, _ := r.values[name].(string)
	return s
}

// Set changes an in-memory value. Nothing is written until the record is saved.
func (r *Record) Set(name string, value interface{}) error {
	attr, ok := r.model.Attribute(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownAttribute, r.model.Identity, name)
	}
	if !attr.Stored() {
		return fmt.Errorf("%w: %s.%s (use SetCollection)", ErrNotStored, r.model.Identity, name)
	}
	if attr.PrimaryKey && r.persisted && fmt.Sprint(value) != fmt.Sprint(r.snapshot[name]) {
		return fmt.Errorf("%w: %s.%s", ErrImmutableKey, r.model.Identity, name)
	}
	if v, ok := value.(*Record); ok {
		if v == nil {
			value = nil
		} else {
			value = v.ID()
		}
	}
	r.values[name] = value
	return nil
}

// Unset removes an in-memory value; saving clears the stored value
func (r *Record) Unset(name string) {
	delete(r.values, name)
}

// Values returns a copy of the current attribute values
func (r *Record) Values() map[string]interface{} {
	return tracking.CopyMap(r.values)
}

// Snapshot returns a copy of the last persisted state
func (r *Record) Snapshot() map[string]interface{} {
	return tracking.CopyMap(r.snapshot)
}

// IsPersisted reports whether the record came from, or was written to, storage
func (r *Record) IsPersisted() bool {
	return r.persisted
}

// MarkPersisted replaces values and snapshot with what storage holds now. Populated
// associations are kept; pending collection changes are dropped.
func (r *Record) MarkPersisted(values map[string]interface{}) {
	r.values = tracking.CopyMap(values)
	r.snapshot = tracking.CopyMap(values)
	r.persisted = true
	r.collections = nil
}

// Changes diffs the stored attributes against the last persisted snapshot
func (r *Record) Changes() *tracking.ChangeTracker {
	return tracking.NewChangeTracker(r.snapshot, r.values, r.model.StoredAttributes()...)
}

// IsDirty reports whether save would issue a write
func (r *Record) IsDirty() bool {
	return r.Changes().HasChanges() || len(r.collections) > 0
}

// Attach stores a populated association: []*Record for a collection, *Record or nil
// for a model reference.
func (r *Record) Attach(name string, value interface{}) {
	r.populated[name] = value
}

// Populated returns an attached association and whether it was populated
func (r *Record) Populated(name string) (interface{}, bool) {
	v, ok := r.populated[name]
	return v, ok
}

// Related returns the populated records of a collection association. The result is
// nil when the association was not populated.
func (r *Record) Related(name string) []*Record {
	records, _ := r.populated[name].([]*Record)
	return records
}

// RelatedOne returns the populated record of a model association, or nil
func (r *Record) RelatedOne(name string) *Record {
	rec, _ := r.populated[name].(*Record)
	return rec
}

// SetCollection declares the complete membership of a collection association. The
// next save points every listed target at this record and detaches any other target
// that pointed here. Members may be primary keys or records; nil members are rejected.
func (r *Record) SetCollection(name string, members ...interface{}) error {
	attr, ok := r.model.Attribute(name)
	if !ok || attr.Kind != schema.KindCollection {
		return fmt.Errorf("%w: %s.%s is not a collection association", ErrUnknownAttribute, r.model.Identity, name)
	}
	ids := make([]interface{}, 0, len(members))
	for i, m := range members {
		if rec, ok := m.(*Record); ok {
			if rec == nil {
				return fmt.Errorf("%w: %s.%s member %d", ErrNilMember, r.model.Identity, name, i)
			}
			m = rec.ID()
		}
		if m == nil {
			return fmt.Errorf("%w: %s.%s member %d", ErrNilMember, r.model.Identity, name, i)
		}
		ids = append(ids, m)
	}
	if r.collections == nil {
		r.collections = make(map[string][]interface{})
	}
	r.collections[name] = ids
	return nil
}

// PendingCollections returns membership changes not yet saved
func (r *Record) PendingCollections() map[string][]interface{} {
	out := make(map[string][]interface{}, len(r.collections))
	for name, ids := range r.collections {
		out[name] = append([]interface{}(nil), ids...)
	}
	return out
}

// ToObject returns the plain mapping of the record: stored values with populated
// associations substituted in, each rendered through its own ToJSON.
func (r *Record) ToObject() map[string]interface{} {
	obj := tracking.CopyMap(r.values)
	for name, v := range r.populated {
		switch tv := v.(type) {
		case []*Record:
			items := make([]interface{}, len(tv))
			for i, rec := range tv {
				items[i] = rec.ToJSON()
			}
			obj[name] = items
		case *Record:
			if tv == nil {
				obj[name] = nil
				continue
			}
			obj[name] = tv.ToJSON()
		default:
			obj[name] = nil
		}
	}
	return obj
}

// ToJSON returns the presentation form. The model's transform receives a private
// copy, so calling ToJSON never changes the record.
func (r *Record) ToJSON() map[string]interface{} {
	obj := r.ToObject()
	if r.model.ToJSON == nil {
		return obj
	}
	return r.model.ToJSON(obj)
}

// MarshalJSON implements json.Marshaler through ToJSON
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToJSON())
}
