package relationships

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/record"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// DefaultMaxDepth bounds nested populations such as "pets.owner.pets"
const DefaultMaxDepth = 10

// ModelLookup resolves model identities; *schema.Registry implements it
type ModelLookup interface {
	Get(identity string) (*schema.Model, bool)
}

// Resolver fetches primary records and resolves their populations
type Resolver struct {
	models   ModelLookup
	fetcher  Fetcher
	maxDepth int
}

// NewResolver creates a resolver
func NewResolver(models ModelLookup, fetcher Fetcher) *Resolver {
	return &Resolver{models: models, fetcher: fetcher, maxDepth: DefaultMaxDepth}
}

// WithMaxDepth returns a copy of the resolver with a different nesting limit
func (r *Resolver) WithMaxDepth(depth int) *Resolver {
	clone := *r
	clone.maxDepth = depth
	return &clone
}

// attachment is the result of resolving one association over a record set: the
// value to attach to each record, by index. It is applied only after every fetch
// of the operation succeeded.
type attachment struct {
	name   string
	values []interface{}
}

// Find fetches the records matching criteria and resolves the populations the
// criteria requests. Either every requested association is attached or an error
// is returned; records are never returned half populated.
func (r *Resolver) Find(ctx context.Context, model *schema.Model, criteria *query.Criteria, op *Operation) ([]*record.Record, error) {
	if op == nil {
		op = NewOperation()
	}
	if criteria == nil {
		criteria = query.NewCriteria()
	}

	// reject unknown associations before touching storage
	if err := r.validate(model, criteria.Populate, 1); err != nil {
		op.transition(Failed)
		return nil, err
	}

	op.transition(FetchingPrimary)
	rows, err := r.fetcher.Fetch(ctx, model.Identity, criteria)
	if err != nil {
		op.transition(Failed)
		return nil, err
	}
	op.recordFetch(FetchRecord{Identity: model.Identity, Criteria: criteria.String(), Rows: len(rows)})

	records := make([]*record.Record, len(rows))
	for i, row := range rows {
		records[i] = record.Persisted(model, row)
	}

	if len(criteria.Populate) > 0 {
		op.transition(FetchingAssociations)
		if err := r.populate(ctx, model, records, criteria.Populate, op, 1); err != nil {
			op.transition(Failed)
			return nil, err
		}
	}

	op.transition(Attached)
	return records, nil
}

// Populate resolves populations over records that were already fetched
func (r *Resolver) Populate(ctx context.Context, model *schema.Model, records []*record.Record, populations []*query.Population, op *Operation) error {
	if op == nil {
		op = NewOperation()
	}
	if err := r.validate(model, populations, 1); err != nil {
		op.transition(Failed)
		return err
	}
	op.transition(FetchingAssociations)
	if err := r.populate(ctx, model, records, populations, op, 1); err != nil {
		op.transition(Failed)
		return err
	}
	op.transition(Attached)
	return nil
}

// validate walks the population tree and checks every name is an association
func (r *Resolver) validate(model *schema.Model, populations []*query.Population, depth int) error {
	if len(populations) == 0 {
		return nil
	}
	if depth > r.maxDepth {
		return fmt.Errorf("%w (%d)", ErrMaxDepthExceeded, r.maxDepth)
	}
	for _, pop := range populations {
		attr, ok := model.Attribute(pop.Name)
		if !ok {
			return &UnresolvedAssociationError{Identity: model.Identity, Association: pop.Name, Reason: "no such attribute"}
		}
		if !attr.IsAssociation() {
			return &UnresolvedAssociationError{Identity: model.Identity, Association: pop.Name, Reason: "not an association"}
		}
		target, ok := r.models.Get(attr.Target)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModel, attr.Target)
		}
		if pop.Criteria != nil {
			if err := r.validate(target, pop.Criteria.Populate, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// populate resolves every population concurrently, then attaches all of them
func (r *Resolver) populate(ctx context.Context, model *schema.Model, records []*record.Record, populations []*query.Population, op *Operation, depth int) error {
	if len(records) == 0 || len(populations) == 0 {
		return nil
	}

	results := make([]attachment, len(populations))
	g, gctx := errgroup.WithContext(ctx)
	for i, pop := range populations {
		i, pop := i, pop
		attr, _ := model.Attribute(pop.Name)
		g.Go(func() error {
			var err error
			if attr.Kind == schema.KindCollection {
				results[i], err = r.resolveCollection(gctx, attr, records, pop, op, depth)
			} else {
				results[i], err = r.resolveModel(gctx, attr, records, pop, op, depth)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, result := range results {
		for i, rec := range records {
			rec.Attach(result.name, result.values[i])
		}
	}
	return nil
}

// resolveCollection fetches the targets of a via association in one query filtered
// by the set of owning keys, then groups them by back-reference.
func (r *Resolver) resolveCollection(ctx context.Context, attr *schema.Attribute, records []*record.Record, pop *query.Population, op *Operation, depth int) (attachment, error) {
	target, _ := r.models.Get(attr.Target)
	result := attachment{name: attr.Name, values: make([]interface{}, len(records))}

	keys := distinctKeys(records, func(rec *record.Record) interface{} { return rec.ID() })
	grouped := make(map[string][]*record.Record)

	if len(keys) > 0 {
		sub := pop.Criteria
		fetch := &query.Criteria{Where: []*query.Condition{{Field: attr.Via, Operator: query.OpIn, Value: keys}}}
		if sub != nil {
			fetch.Where = append(fetch.Where, sub.Where...)
			fetch.Sort = sub.Sort
		}

		children, err := r.fetch(ctx, target, attr.Name, fetch, op)
		if err != nil {
			return result, err
		}
		if sub != nil {
			if err := r.populate(ctx, target, children, sub.Populate, op, depth+1); err != nil {
				return result, err
			}
		}
		for _, child := range children {
			key := adapter.IndexKey(child.Get(attr.Via))
			grouped[key] = append(grouped[key], child)
		}
	}

	for i, rec := range records {
		group := grouped[adapter.IndexKey(rec.ID())]
		if pop.Criteria != nil {
			group = page(group, pop.Criteria.Skip, pop.Criteria.Limit)
		}
		if group == nil {
			group = []*record.Record{}
		}
		result.values[i] = group
	}
	return result, nil
}

// resolveModel fetches the records referenced by a model association in one query
// on the target primary key. Records whose reference is missing get nil.
func (r *Resolver) resolveModel(ctx context.Context, attr *schema.Attribute, records []*record.Record, pop *query.Population, op *Operation, depth int) (attachment, error) {
	target, _ := r.models.Get(attr.Target)
	result := attachment{name: attr.Name, values: make([]interface{}, len(records))}

	keys := distinctKeys(records, func(rec *record.Record) interface{} { return rec.Get(attr.Name) })
	byKey := make(map[string]*record.Record, len(keys))

	if len(keys) > 0 {
		fetch := &query.Criteria{Where: []*query.Condition{{Field: target.PrimaryKey, Operator: query.OpIn, Value: keys}}}
		if pop.Criteria != nil {
			fetch.Where = append(fetch.Where, pop.Criteria.Where...)
		}

		parents, err := r.fetch(ctx, target, attr.Name, fetch, op)
		if err != nil {
			return result, err
		}
		if pop.Criteria != nil {
			if err := r.populate(ctx, target, parents, pop.Criteria.Populate, op, depth+1); err != nil {
				return result, err
			}
		}
		for _, p := range parents {
			byKey[adapter.IndexKey(p.ID())] = p
		}
	}

	for i, rec := range records {
		ref := rec.Get(attr.Name)
		if ref == nil {
			result.values[i] = (*record.Record)(nil)
			continue
		}
		result.values[i] = byKey[adapter.IndexKey(ref)]
	}
	return result, nil
}

func (r *Resolver) fetch(ctx context.Context, model *schema.Model, association string, criteria *query.Criteria, op *Operation) ([]*record.Record, error) {
	rows, err := r.fetcher.Fetch(ctx, model.Identity, criteria)
	if err != nil {
		return nil, err
	}
	op.recordFetch(FetchRecord{Identity: model.Identity, Association: association, Criteria: criteria.String(), Rows: len(rows)})

	records := make([]*record.Record, len(rows))
	for i, row := range rows {
		records[i] = record.Persisted(model, row)
	}
	return records, nil
}

// distinctKeys collects the non-nil keys of records in first-seen order
func distinctKeys(records []*record.Record, key func(*record.Record) interface{}) []interface{} {
	seen := make(map[string]bool, len(records))
	var keys []interface{}
	for _, rec := range records {
		k := key(rec)
		if k == nil {
			continue
		}
		norm := adapter.IndexKey(k)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		keys = append(keys, k)
	}
	return keys
}

// page applies skip and limit to one parent's group
func page(group []*record.Record, skip, limit int) []*record.Record {
	if skip > 0 {
		if skip >= len(group) {
			return []*record.Record{}
		}
		group = group[skip:]
	}
	if limit > 0 && limit < len(group) {
		group = group[:limit]
	}
	return group
}
