// Package collection is the runtime behind each model: create, find, update,
// destroy and save, composed from the query builder, the bound adapter and the
// association resolver.
//
// Every call is an independent unit of work. The collection holds no mutable state
// after construction, so one Collection serves concurrent callers; records it
// returns belong to the caller.
package collection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/record"
	"github.com/conduit-lang/waterline/internal/orm/relationships"
	"github.com/conduit-lang/waterline/internal/orm/schema"
	"github.com/conduit-lang/waterline/internal/orm/tracking"
)

// Peers looks up the other collections of the same ontology. Save uses it to
// rewrite back-references on associated collections.
type Peers interface {
	Collection(identity string) (*Collection, error)
}

// Collection provides data access for one model
type Collection struct {
	model    *schema.Model
	models   query.ModelLookup
	adapter  adapter.Adapter
	resolver *relationships.Resolver
	peers    Peers
	logger   *zap.Logger
	newID    func() string
}

// Option configures a Collection
type Option func(*Collection)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Collection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPeers sets the lookup for associated collections
func WithPeers(peers Peers) Option {
	return func(c *Collection) {
		c.peers = peers
	}
}

// WithIDGenerator overrides primary key generation
func WithIDGenerator(fn func() string) Option {
	return func(c *Collection) {
		c.newID = fn
	}
}

// New creates a collection runtime
func New(model *schema.Model, models query.ModelLookup, a adapter.Adapter, resolver *relationships.Resolver, opts ...Option) *Collection {
	c := &Collection{
		model:    model,
		models:   models,
		adapter:  a,
		resolver: resolver,
		logger:   zap.NewNop(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("collection", model.Identity))
	return c
}

// Identity returns the model identity
func (c *Collection) Identity() string {
	return c.model.Identity
}

// Model returns the model schema
func (c *Collection) Model() *schema.Model {
	return c.model
}

// Query returns a criteria builder for this model
func (c *Collection) Query() *query.Builder {
	return query.NewBuilder(c.model, c.models)
}

// Create validates values, assigns a primary key when none is given, runs the
// create callbacks and stores the record.
func (c *Collection) Create(ctx context.Context, values map[string]interface{}) (*record.Record, error) {
	// copy to avoid mutating input
	data := normalize(tracking.CopyMap(values))

	ve := &ValidationError{Identity: c.model.Identity}
	c.checkAttributes(ve, data)
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	c.applyDefaults(data)
	if err := c.assignPrimaryKey(data); err != nil {
		return nil, err
	}

	if err := c.runHooks(ctx, schema.BeforeCreate, data); err != nil {
		return nil, err
	}

	ve = &ValidationError{Identity: c.model.Identity}
	c.checkAttributes(ve, data)
	c.checkRequired(ve, data)
	if err := ve.orNil(); err != nil {
		return nil, err
	}

	stored, err := c.adapter.Create(ctx, c.model.Identity, data)
	if err != nil {
		return nil, err
	}

	if err := c.runHooks(ctx, schema.AfterCreate, tracking.CopyMap(stored)); err != nil {
		return nil, err
	}

	return record.Persisted(c.model, stored), nil
}

// CreateEach creates records in order and stops at the first failure, returning the
// records created so far
func (c *Collection) CreateEach(ctx context.Context, values []map[string]interface{}) ([]*record.Record, error) {
	out := make([]*record.Record, 0, len(values))
	for i, v := range values {
		rec, err := c.Create(ctx, v)
		if err != nil {
			return out, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Find starts a deferred find. Nothing runs until Exec.
func (c *Collection) Find() *FindOp {
	return &FindOp{collection: c, builder: c.Query()}
}

// FindOne returns the first record matching where, or ErrNotFound
func (c *Collection) FindOne(ctx context.Context, where map[string]interface{}, populate ...string) (*record.Record, error) {
	op := c.Find().WhereMap(where).Limit(1)
	for _, p := range populate {
		op.Populate(p)
	}
	records, err := op.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, c.model.Identity, formatWhere(where))
	}
	return records[0], nil
}

// Count returns the number of records matching where
func (c *Collection) Count(ctx context.Context, where map[string]interface{}) (int, error) {
	crit, err := c.criteria(where)
	if err != nil {
		return 0, err
	}
	rows, err := c.adapter.Find(ctx, c.model.Identity, crit)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Update applies changes to every record matching where and returns the updated
// records
func (c *Collection) Update(ctx context.Context, where map[string]interface{}, changes map[string]interface{}) ([]*record.Record, error) {
	crit, err := c.criteria(where)
	if err != nil {
		return nil, err
	}

	rows, err := c.updateWhere(ctx, crit, normalize(tracking.CopyMap(changes)))
	if err != nil {
		return nil, err
	}

	out := make([]*record.Record, len(rows))
	for i, row := range rows {
		out[i] = record.Persisted(c.model, row)
	}
	return out, nil
}

// updateWhere validates data, runs the update callbacks around the adapter call and
// returns the updated rows
func (c *Collection) updateWhere(ctx context.Context, crit *query.Criteria, data map[string]interface{}) ([]map[string]interface{}, error) {
	if err := c.checkChanges(data); err != nil {
		return nil, err
	}
	if err := c.runHooks(ctx, schema.BeforeUpdate, data); err != nil {
		return nil, err
	}
	if err := c.checkChanges(data); err != nil {
		return nil, err
	}

	rows, err := c.adapter.Update(ctx, c.model.Identity, crit, data)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		if err := c.runHooks(ctx, schema.AfterUpdate, tracking.CopyMap(row)); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// Destroy removes every record matching where and returns how many were removed.
// BeforeDestroy callbacks receive the where mapping; AfterDestroy callbacks run once
// per removed record.
func (c *Collection) Destroy(ctx context.Context, where map[string]interface{}) (int, error) {
	crit, err := c.criteria(where)
	if err != nil {
		return 0, err
	}

	if err := c.runHooks(ctx, schema.BeforeDestroy, tracking.CopyMap(where)); err != nil {
		return 0, err
	}

	var doomed []map[string]interface{}
	if len(c.model.HooksFor(schema.AfterDestroy)) > 0 {
		if doomed, err = c.adapter.Find(ctx, c.model.Identity, crit); err != nil {
			return 0, err
		}
	}

	n, err := c.adapter.Destroy(ctx, c.model.Identity, crit)
	if err != nil {
		return 0, err
	}

	for _, row := range doomed {
		if err := c.runHooks(ctx, schema.AfterDestroy, row); err != nil {
			return n, err
		}
	}
	return n, nil
}

// criteria validates a where mapping against the model
func (c *Collection) criteria(where map[string]interface{}) (*query.Criteria, error) {
	crit, err := c.Query().WhereMap(where).Build()
	if err != nil {
		return nil, err
	}
	return crit.WithoutPaging(), nil
}

func (c *Collection) runHooks(ctx context.Context, hookType schema.HookType, values map[string]interface{}) error {
	for _, cb := range c.model.HooksFor(hookType) {
		if err := cb(ctx, values); err != nil {
			return fmt.Errorf("%s %s callback failed: %w", c.model.Identity, hookType, err)
		}
	}
	return nil
}

func (c *Collection) applyDefaults(data map[string]interface{}) {
	for name, attr := range c.model.Attributes {
		if attr.Default == nil {
			continue
		}
		if _, ok := data[name]; !ok {
			data[name] = tracking.CopyValue(attr.Default)
		}
	}
}

func (c *Collection) assignPrimaryKey(data map[string]interface{}) error {
	pk := c.model.PrimaryKey
	if v, ok := data[pk]; ok && v != nil {
		return nil
	}
	attr := c.model.Attributes[pk]
	if attr.Type != schema.TypeString {
		return &ValidationError{Identity: c.model.Identity, Errors: []FieldError{{Field: pk, Message: "is required"}}}
	}
	data[pk] = c.newID()
	return nil
}

// checkAttributes reports unknown attributes, collection attributes and type mismatches
func (c *Collection) checkAttributes(ve *ValidationError, data map[string]interface{}) {
	for _, name := range sortedKeys(data) {
		attr, ok := c.model.Attribute(name)
		if !ok {
			ve.add(name, "unknown attribute")
			continue
		}
		if !attr.Stored() {
			ve.add(name, fmt.Sprintf("is a collection of %s; set %s.%s instead", attr.Target, attr.Target, attr.Via))
			continue
		}
		if err := attr.Type.Check(data[name]); err != nil {
			ve.add(name, err.Error())
		}
	}
}

func (c *Collection) checkRequired(ve *ValidationError, data map[string]interface{}) {
	for _, name := range c.model.StoredAttributes() {
		if !c.model.Attributes[name].Required {
			continue
		}
		if v, ok := data[name]; !ok || v == nil {
			ve.add(name, "is required")
		}
	}
}

// checkChanges validates a partial update
func (c *Collection) checkChanges(data map[string]interface{}) error {
	ve := &ValidationError{Identity: c.model.Identity}
	c.checkAttributes(ve, data)
	for _, name := range sortedKeys(data) {
		attr, ok := c.model.Attribute(name)
		if !ok {
			continue
		}
		if attr.PrimaryKey {
			ve.add(name, "primary key cannot change")
		}
		if attr.Required && data[name] == nil {
			ve.add(name, "is required")
		}
	}
	return ve.orNil()
}
