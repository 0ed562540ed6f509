// Package memory is an in-process adapter that keeps every collection in a slice,
// in insertion order. It is the default adapter for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
	"github.com/conduit-lang/waterline/internal/orm/tracking"
)

// Adapter stores records in memory
type Adapter struct {
	mu     sync.RWMutex
	models map[string]*schema.Model
	tables map[string][]map[string]interface{}
	closed bool
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates an empty memory adapter
func New() *Adapter {
	return &Adapter{
		models: make(map[string]*schema.Model),
		tables: make(map[string][]map[string]interface{}),
	}
}

// Register creates an empty table for every model not seen before
func (a *Adapter) Register(ctx context.Context, models []*schema.Model) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, model := range models {
		a.models[model.Identity] = model
		if _, ok := a.tables[model.Identity]; !ok {
			a.tables[model.Identity] = nil
		}
	}
	a.closed = false
	return nil
}

func (a *Adapter) model(identity string) (*schema.Model, error) {
	if a.closed {
		return nil, adapter.ErrClosed
	}
	model, ok := a.models[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownCollection, identity)
	}
	return model, nil
}

// Create appends a record after checking unique attributes
func (a *Adapter) Create(ctx context.Context, identity string, values map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	model, err := a.model(identity)
	if err != nil {
		return nil, err
	}

	row := adapter.StoredValues(model, tracking.CopyMap(values))
	if err := adapter.CheckUnique(model, a.tables[identity], row, nil); err != nil {
		return nil, err
	}

	a.tables[identity] = append(a.tables[identity], row)
	return tracking.CopyMap(row), nil
}

// Find returns copies of the matching records
func (a *Adapter) Find(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if _, err := a.model(identity); err != nil {
		return nil, err
	}

	matched := criteria.Filter(a.tables[identity])
	out := make([]map[string]interface{}, len(matched))
	for i, row := range matched {
		out[i] = tracking.CopyMap(row)
	}
	return out, nil
}

// Update rewrites every matching record. The whole update fails if any resulting
// record would violate uniqueness.
func (a *Adapter) Update(ctx context.Context, identity string, criteria *query.Criteria, changes map[string]interface{}) ([]map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	model, err := a.model(identity)
	if err != nil {
		return nil, err
	}

	changes = adapter.StoredValues(model, changes)
	rows := a.tables[identity]
	filter := criteria.WithoutPaging()

	var indexes []int
	for i, row := range rows {
		if filter.Match(row) {
			indexes = append(indexes, i)
		}
	}
	if len(indexes) == 0 {
		return []map[string]interface{}{}, nil
	}

	updated := make([]map[string]interface{}, len(indexes))
	rewriting := make(map[int]bool, len(indexes))
	for n, i := range indexes {
		row := tracking.CopyMap(rows[i])
		for k, v := range changes {
			if v == nil {
				delete(row, k)
				continue
			}
			row[k] = tracking.CopyValue(v)
		}
		updated[n] = row
		rewriting[i] = true
	}

	others := make([]map[string]interface{}, 0, len(rows)-len(indexes))
	for i, row := range rows {
		if !rewriting[i] {
			others = append(others, row)
		}
	}
	for n, row := range updated {
		// compare against untouched rows and against the other rewritten rows
		if err := adapter.CheckUnique(model, append(others, updated[:n]...), row, nil); err != nil {
			return nil, err
		}
	}

	out := make([]map[string]interface{}, len(updated))
	for n, i := range indexes {
		rows[i] = updated[n]
		out[n] = tracking.CopyMap(updated[n])
	}
	return out, nil
}

// Destroy removes every matching record
func (a *Adapter) Destroy(ctx context.Context, identity string, criteria *query.Criteria) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.model(identity); err != nil {
		return 0, err
	}

	filter := criteria.WithoutPaging()
	rows := a.tables[identity]
	kept := rows[:0]
	removed := 0
	for _, row := range rows {
		if filter.Match(row) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	a.tables[identity] = kept
	return removed, nil
}

// Teardown discards all data
func (a *Adapter) Teardown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tables = make(map[string][]map[string]interface{})
	a.models = make(map[string]*schema.Model)
	a.closed = true
	return nil
}

// Len returns the number of records stored for a collection
func (a *Adapter) Len(identity string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tables[identity])
}
