// Package adapter defines the storage capability interface collections delegate to
// and binds every model to exactly one adapter instance.
//
// Bindings are built once during initialization and never mutated afterward, so
// collections read them without synchronization.
package adapter

import (
	"context"
	"sort"

	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// DefaultConnection is the connection a model uses when it names none
const DefaultConnection = "default"

// Adapter is the persistence capability a storage backend provides. Records cross
// this boundary as plain value maps keyed by attribute name; collection attributes
// are never part of them.
type Adapter interface {
	// Register announces the models bound to this adapter. It is called once per
	// adapter during initialization, before any other method.
	Register(ctx context.Context, models []*schema.Model) error

	// Create stores a record and returns what was stored
	Create(ctx context.Context, identity string, values map[string]interface{}) (map[string]interface{}, error)

	// Find returns the records matching the criteria's conditions, sorted and paged.
	// Populations on the criteria are ignored.
	Find(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error)

	// Update applies changes to every matching record and returns the updated records
	Update(ctx context.Context, identity string, criteria *query.Criteria, changes map[string]interface{}) ([]map[string]interface{}, error)

	// Destroy removes every matching record and returns how many were removed
	Destroy(ctx context.Context, identity string, criteria *query.Criteria) (int, error)

	// Teardown releases connections held by the adapter
	Teardown(ctx context.Context) error
}

// Connection names the adapter a group of models is stored with
type Connection struct {
	Adapter string `mapstructure:"adapter" yaml:"adapter" json:"adapter"`
}

// Bindings maps each model identity to its adapter
type Bindings struct {
	byIdentity map[string]Adapter
	names      map[string]string
	models     map[string][]*schema.Model
	adapters   map[string]Adapter
}

// Bind resolves every model's connection to a registered adapter. It fails with
// UnboundConnectionError when a model names a connection that is not configured and
// with UnregisteredAdapterError when a connection names an adapter that is not
// registered.
func Bind(adapters map[string]Adapter, connections map[string]Connection, models []*schema.Model) (*Bindings, error) {
	b := &Bindings{
		byIdentity: make(map[string]Adapter, len(models)),
		names:      make(map[string]string, len(models)),
		models:     make(map[string][]*schema.Model),
		adapters:   make(map[string]Adapter),
	}

	sorted := append([]*schema.Model(nil), models...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identity < sorted[j].Identity })

	for _, model := range sorted {
		connName := model.Connection
		if connName == "" {
			connName = DefaultConnection
		}
		conn, ok := connections[connName]
		if !ok {
			return nil, &UnboundConnectionError{Identity: model.Identity, Connection: connName}
		}
		impl, ok := adapters[conn.Adapter]
		if !ok || impl == nil {
			return nil, &UnregisteredAdapterError{Connection: connName, Adapter: conn.Adapter}
		}

		b.byIdentity[model.Identity] = impl
		b.names[model.Identity] = conn.Adapter
		b.models[conn.Adapter] = append(b.models[conn.Adapter], model)
		b.adapters[conn.Adapter] = impl
	}

	return b, nil
}

// For returns the adapter bound to a model
func (b *Bindings) For(identity string) (Adapter, bool) {
	a, ok := b.byIdentity[identity]
	return a, ok
}

// AdapterName returns the registered name of the adapter bound to a model
func (b *Bindings) AdapterName(identity string) string {
	return b.names[identity]
}

// AdapterNames returns the names of adapters with at least one model, sorted
func (b *Bindings) AdapterNames() []string {
	names := make([]string, 0, len(b.adapters))
	for name := range b.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Adapter returns a bound adapter by name
func (b *Bindings) Adapter(name string) Adapter {
	return b.adapters[name]
}

// ModelsFor returns the models bound to the named adapter, sorted by identity
func (b *Bindings) ModelsFor(name string) []*schema.Model {
	return append([]*schema.Model(nil), b.models[name]...)
}

// Register calls Register on every bound adapter with its models, in name order
func (b *Bindings) Register(ctx context.Context) error {
	for _, name := range b.AdapterNames() {
		if err := b.adapters[name].Register(ctx, b.models[name]); err != nil {
			return &RegistrationError{Adapter: name, Err: err}
		}
	}
	return nil
}

// Teardown tears every bound adapter down and returns the joined errors
func (b *Bindings) Teardown(ctx context.Context) error {
	var errs []error
	for _, name := range b.AdapterNames() {
		if err := b.adapters[name].Teardown(ctx); err != nil {
			errs = append(errs, &RegistrationError{Adapter: name, Err: err})
		}
	}
	return joinErrors(errs)
}
