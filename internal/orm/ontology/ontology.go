// Package ontology initializes the ORM: it builds the schema registry, binds every
// model to its adapter, registers the models with their adapters and constructs one
// collection runtime per model. The returned Ontology is the handle every consumer
// goes through; there is no process-wide instance.
package ontology

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/collection"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/relationships"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// Config holds what Initialize needs besides the model definitions
type Config struct {
	// Adapters maps adapter names to live instances
	Adapters map[string]adapter.Adapter

	// Connections maps connection names to the adapter each one uses
	Connections map[string]adapter.Connection

	// Logger receives initialization and adapter call logs. Nil disables logging.
	Logger *zap.Logger

	// MaxDepth bounds nested population; zero uses the resolver default
	MaxDepth int
}

// Ontology is the fully initialized set of collections
type Ontology struct {
	registry    *schema.Registry
	bindings    *adapter.Bindings
	resolver    *relationships.Resolver
	collections map[string]*collection.Collection
	logger      *zap.Logger

	mu       sync.RWMutex
	tornDown bool
}

// Initialize builds the ontology. It runs once: any schema, binding or registration
// error is returned and nothing is retried. Adapters registered before a failure are
// torn down again.
func Initialize(ctx context.Context, cfg Config, defs ...*schema.Definition) (*Ontology, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := schema.Build(defs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}

	adapters := make(map[string]adapter.Adapter, len(cfg.Adapters))
	for name, impl := range cfg.Adapters {
		adapters[name] = adapter.WithLogging(impl, name, cfg.Logger)
	}

	models := make([]*schema.Model, 0, registry.Count())
	for _, identity := range registry.Identities() {
		model, _ := registry.Get(identity)
		models = append(models, model)
	}

	bindings, err := adapter.Bind(adapters, cfg.Connections, models)
	if err != nil {
		return nil, err
	}

	if err := bindings.Register(ctx); err != nil {
		if terr := bindings.Teardown(ctx); terr != nil {
			logger.Warn("teardown after failed registration", zap.Error(terr))
		}
		return nil, err
	}

	o := &Ontology{
		registry:    registry,
		bindings:    bindings,
		collections: make(map[string]*collection.Collection, len(models)),
		logger:      logger,
	}

	o.resolver = relationships.NewResolver(registry, relationships.FetcherFunc(o.fetch))
	if cfg.MaxDepth > 0 {
		o.resolver = o.resolver.WithMaxDepth(cfg.MaxDepth)
	}

	for _, model := range models {
		impl, _ := bindings.For(model.Identity)
		o.collections[model.Identity] = collection.New(model, registry, impl, o.resolver,
			collection.WithLogger(logger),
			collection.WithPeers(o),
		)
		logger.Debug("collection ready",
			zap.String("identity", model.Identity),
			zap.String("adapter", bindings.AdapterName(model.Identity)),
		)
	}

	logger.Info("ontology initialized",
		zap.Int("collections", len(o.collections)),
		zap.Strings("adapters", bindings.AdapterNames()),
	)

	return o, nil
}

// fetch routes resolver reads to the adapter bound to identity
func (o *Ontology) fetch(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	impl, ok := o.bindings.For(identity)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, identity)
	}
	return impl.Find(ctx, identity, criteria)
}

// Collection returns the runtime for a model
func (o *Ontology) Collection(identity string) (*collection.Collection, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.tornDown {
		return nil, ErrTornDown
	}
	c, ok := o.collections[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, identity)
	}
	return c, nil
}

// MustCollection is like Collection but panics on an unknown identity
func (o *Ontology) MustCollection(identity string) *collection.Collection {
	c, err := o.Collection(identity)
	if err != nil {
		panic(err)
	}
	return c
}

// Collections returns every collection sorted by identity
func (o *Ontology) Collections() []*collection.Collection {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*collection.Collection, 0, len(o.collections))
	for _, c := range o.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() < out[j].Identity() })
	return out
}

// Registry returns the schema registry
func (o *Ontology) Registry() *schema.Registry {
	return o.registry
}

// AdapterName returns the name of the adapter a model is bound to
func (o *Ontology) AdapterName(identity string) string {
	return o.bindings.AdapterName(identity)
}

// Teardown releases every adapter. Later calls are no-ops.
func (o *Ontology) Teardown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.tornDown {
		return nil
	}
	o.tornDown = true
	o.logger.Info("ontology teardown")
	return o.bindings.Teardown(ctx)
}
