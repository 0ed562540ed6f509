package schema

import (
	"fmt"
	"strings"
)

// DefaultPrimaryKey is the attribute added when a definition declares no primary key
const DefaultPrimaryKey = "id"

// Definition is the declarative input describing one model. Attribute values are
// either a type name ("string") or a mapping with the keys type, unique, required,
// primaryKey, defaultsTo, collection, via and model.
type Definition struct {
	Identity   string                 `yaml:"identity" json:"identity"`
	Connection string                 `yaml:"connection" json:"connection"`
	Adapter    string                 `yaml:"adapter" json:"adapter"` // accepted alias of Connection
	TableName  string                 `yaml:"tableName" json:"tableName"`
	Attributes map[string]interface{} `yaml:"attributes" json:"attributes"`

	ToJSON TransformFunc           `yaml:"-" json:"-"`
	Hooks  map[HookType][]Callback `yaml:"-" json:"-"`
}

// On registers a lifecycle callback and returns the definition for chaining
func (d *Definition) On(hookType HookType, cb Callback) *Definition {
	if d.Hooks == nil {
		d.Hooks = make(map[HookType][]Callback)
	}
	d.Hooks[hookType] = append(d.Hooks[hookType], cb)
	return d
}

// ParseDefinition resolves a definition into a Model. Cross-model references are
// not checked here; Build does that once the whole batch is known.
func ParseDefinition(def *Definition) (*Model, error) {
	identity := strings.ToLower(strings.TrimSpace(def.Identity))
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidDefinition)
	}

	connection := def.Connection
	if connection == "" {
		connection = def.Adapter
	}
	if connection == "" {
		connection = "default"
	}

	model := &Model{
		Identity:   identity,
		Connection: connection,
		TableName:  def.TableName,
		Attributes: make(map[string]*Attribute, len(def.Attributes)+1),
		ToJSON:     def.ToJSON,
		Hooks:      make(map[HookType][]Callback, len(def.Hooks)),
	}
	for hookType, cbs := range def.Hooks {
		model.Hooks[hookType] = append([]Callback(nil), cbs...)
	}

	for name, raw := range def.Attributes {
		attr, err := parseAttribute(identity, name, raw)
		if err != nil {
			return nil, err
		}
		if attr.PrimaryKey {
			if model.PrimaryKey != "" {
				return nil, &AttributeError{Identity: identity, Attribute: name, Reason: "second primary key (already " + model.PrimaryKey + ")"}
			}
			model.PrimaryKey = name
		}
		model.Attributes[name] = attr
	}

	if model.PrimaryKey == "" {
		if _, taken := model.Attributes[DefaultPrimaryKey]; taken {
			return nil, &AttributeError{Identity: identity, Attribute: DefaultPrimaryKey, Reason: "declared without primaryKey: true"}
		}
		model.PrimaryKey = DefaultPrimaryKey
		model.Attributes[DefaultPrimaryKey] = &Attribute{
			Name:       DefaultPrimaryKey,
			Kind:       KindScalar,
			Type:       TypeString,
			PrimaryKey: true,
			Unique:     true,
		}
	}

	return model, nil
}

func parseAttribute(identity, name string, raw interface{}) (*Attribute, error) {
	attr := &Attribute{Name: name, Kind: KindScalar, Type: TypeString}
	fail := func(format string, args ...interface{}) (*Attribute, error) {
		return nil, &AttributeError{Identity: identity, Attribute: name, Reason: fmt.Sprintf(format, args...)}
	}

	switch spec := raw.(type) {
	case string:
		t, err := ParseType(spec)
		if err != nil {
			return fail("%v", err)
		}
		attr.Type = t
		return attr, nil

	case map[string]interface{}:
		for key, value := range spec {
			switch key {
			case "type":
				s, ok := value.(string)
				if !ok {
					return fail("type must be a string")
				}
				t, err := ParseType(s)
				if err != nil {
					return fail("%v", err)
				}
				attr.Type = t
			case "unique", "required", "primaryKey":
				b, ok := value.(bool)
				if !ok {
					return fail("%s must be a boolean", key)
				}
				switch key {
				case "unique":
					attr.Unique = b
				case "required":
					attr.Required = b
				default:
					attr.PrimaryKey = b
				}
			case "defaultsTo":
				attr.Default = value
			case "collection", "model", "via":
				s, ok := value.(string)
				if !ok || s == "" {
					return fail("%s must be a model identity", key)
				}
				switch key {
				case "collection":
					attr.Kind = KindCollection
					attr.Target = strings.ToLower(s)
				case "model":
					attr.Kind = KindModel
					attr.Target = strings.ToLower(s)
				default:
					attr.Via = s
				}
			default:
				return fail("unsupported key %q", key)
			}
		}

		if _, hasCollection := spec["collection"]; hasCollection {
			if _, hasModel := spec["model"]; hasModel {
				return fail("collection and model are mutually exclusive")
			}
			if attr.Via == "" {
				return fail("collection requires via")
			}
		}
		if attr.Via != "" && attr.Kind != KindCollection {
			return fail("via is only valid on collection attributes")
		}
		if attr.IsAssociation() && (attr.Unique || attr.PrimaryKey) {
			return fail("associations cannot be unique or primary keys")
		}
		if attr.PrimaryKey {
			attr.Unique = true
			attr.Required = true
		}
		if err := attr.Type.Check(attr.Default); err != nil && attr.Kind == KindScalar {
			return fail("defaultsTo: %v", err)
		}
		return attr, nil

	default:
		return fail("spec must be a type name or a mapping, got %T", raw)
	}
}
