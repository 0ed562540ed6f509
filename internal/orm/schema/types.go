// Package schema provides type definitions and the registry for the ORM's model schemas.
// Model definitions arrive as plain data and are resolved once, at registry build time,
// into a closed set of attribute variants.
package schema

import (
	"context"
	"fmt"
	"net/mail"
	"reflect"
	"sort"
	"time"
)

// Type represents the scalar attribute types a model may declare
type Type int

const (
	// Text types
	TypeString Type = iota
	TypeText
	TypeEmail

	// Numeric types
	TypeInteger
	TypeFloat

	// Boolean
	TypeBoolean

	// Time types
	TypeDate
	TypeDateTime

	// Structured types
	TypeJSON
	TypeArray
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeEmail:
		return "email"
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeDateTime:
		return "datetime"
	case TypeJSON:
		return "json"
	case TypeArray:
		return "array"
	default:
		return "unknown"
	}
}

// ParseType converts a type name to a Type
func ParseType(s string) (Type, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "email":
		return TypeEmail, nil
	case "integer", "int":
		return TypeInteger, nil
	case "float", "number":
		return TypeFloat, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "date":
		return TypeDate, nil
	case "datetime":
		return TypeDateTime, nil
	case "json":
		return TypeJSON, nil
	case "array":
		return TypeArray, nil
	default:
		return 0, fmt.Errorf("unknown attribute type: %s", s)
	}
}

// IsNumeric returns true if the type is a numeric type
func (t Type) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// IsText returns true if the type is a text type
func (t Type) IsText() bool {
	return t == TypeString || t == TypeText || t == TypeEmail
}

// Check reports whether v has the shape this type stores. A nil value is always
// accepted; requiredness is checked separately.
func (t Type) Check(v interface{}) error {
	if v == nil {
		return nil
	}

	switch t {
	case TypeString, TypeText:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected %s, got %T", t, v)
		}
	case TypeEmail:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected email, got %T", v)
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Errorf("must be a valid email address")
		}
	case TypeInteger:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		case float64:
			// JSON decoding yields float64 for every number
			if n != float64(int64(n)) {
				return fmt.Errorf("expected integer, got %v", n)
			}
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
	case TypeFloat:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		default:
			return fmt.Errorf("expected float, got %T", v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case TypeDate, TypeDateTime:
		switch tv := v.(type) {
		case time.Time:
		case string:
			layout := time.RFC3339
			if t == TypeDate {
				layout = "2006-01-02"
			}
			if _, err := time.Parse(layout, tv); err != nil {
				return fmt.Errorf("expected %s, got %q", t, tv)
			}
		default:
			return fmt.Errorf("expected %s, got %T", t, v)
		}
	case TypeArray:
		if reflect.ValueOf(v).Kind() != reflect.Slice {
			return fmt.Errorf("expected array, got %T", v)
		}
	case TypeJSON:
		// any value
	}

	return nil
}

// AttributeKind is the closed set of attribute variants
type AttributeKind int

const (
	// KindScalar is a plain typed value, optionally unique
	KindScalar AttributeKind = iota
	// KindModel is a many-to-one association holding the target's primary key
	KindModel
	// KindCollection is a one-to-many association owned through the target's via attribute
	KindCollection
)

// String returns the string representation of the attribute kind
func (k AttributeKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindModel:
		return "model"
	case KindCollection:
		return "collection"
	default:
		return "unknown"
	}
}

// Attribute is a normalized attribute of a model
type Attribute struct {
	Name       string
	Kind       AttributeKind
	Type       Type // for KindModel, the type of the referenced primary key
	Unique     bool
	Required   bool
	PrimaryKey bool
	Default    interface{}

	// Associations
	Target string // identity of the associated model
	Via    string // back-reference attribute on Target (KindCollection only)
}

// IsAssociation returns true for model and collection attributes
func (a *Attribute) IsAssociation() bool {
	return a.Kind == KindModel || a.Kind == KindCollection
}

// Stored returns true if the attribute is persisted as a column of its own model.
// Collection attributes live on the target's via attribute instead.
func (a *Attribute) Stored() bool {
	return a.Kind != KindCollection
}

// HookType represents the type of lifecycle callback
type HookType int

const (
	BeforeCreate HookType = iota
	AfterCreate
	BeforeUpdate
	AfterUpdate
	BeforeDestroy
	AfterDestroy
)

// String returns the string representation of the hook type
func (h HookType) String() string {
	switch h {
	case BeforeCreate:
		return "beforeCreate"
	case AfterCreate:
		return "afterCreate"
	case BeforeUpdate:
		return "beforeUpdate"
	case AfterUpdate:
		return "afterUpdate"
	case BeforeDestroy:
		return "beforeDestroy"
	case AfterDestroy:
		return "afterDestroy"
	default:
		return "unknown"
	}
}

// Callback is a lifecycle callback. Before* callbacks may mutate values.
type Callback func(ctx context.Context, values map[string]interface{}) error

// TransformFunc is a presentation hook that turns a record object into the mapping
// that gets serialized. It receives a private copy and is never called during persistence.
type TransformFunc func(obj map[string]interface{}) map[string]interface{}

// Omit returns a TransformFunc that strips the named attributes
func Omit(attributes ...string) TransformFunc {
	return func(obj map[string]interface{}) map[string]interface{} {
		for _, name := range attributes {
			delete(obj, name)
		}
		return obj
	}
}

// Model is the normalized, immutable schema of one collection
type Model struct {
	Identity   string
	Connection string
	TableName  string
	PrimaryKey string
	Attributes map[string]*Attribute

	ToJSON TransformFunc
	Hooks  map[HookType][]Callback
}

// Attribute returns the named attribute
func (m *Model) Attribute(name string) (*Attribute, bool) {
	attr, ok := m.Attributes[name]
	return attr, ok
}

// HasAttribute returns true if the model declares the attribute
func (m *Model) HasAttribute(name string) bool {
	_, ok := m.Attributes[name]
	return ok
}

// AttributeNames returns all attribute names in sorted order
func (m *Model) AttributeNames() []string {
	names := make([]string, 0, len(m.Attributes))
	for name := range m.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StoredAttributes returns the sorted names of attributes persisted on this model
func (m *Model) StoredAttributes() []string {
	names := make([]string, 0, len(m.Attributes))
	for name, attr := range m.Attributes {
		if attr.Stored() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// UniqueAttributes returns the sorted names of unique attributes, primary key included
func (m *Model) UniqueAttributes() []string {
	var names []string
	for name, attr := range m.Attributes {
		if attr.Unique || attr.PrimaryKey {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Associations returns the association attributes sorted by name
func (m *Model) Associations() []*Attribute {
	var assocs []*Attribute
	for _, name := range m.AttributeNames() {
		if attr := m.Attributes[name]; attr.IsAssociation() {
			assocs = append(assocs, attr)
		}
	}
	return assocs
}

// HooksFor returns the callbacks registered for the hook type
func (m *Model) HooksFor(hookType HookType) []Callback {
	return m.Hooks[hookType]
}
