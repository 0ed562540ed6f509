package collection

import (
	"context"

	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/record"
	"github.com/conduit-lang/waterline/internal/orm/relationships"
)

// FindOp is a deferred find. Criteria and populations are recorded as the chain is
// built; validation errors surface from Exec.
type FindOp struct {
	collection *Collection
	builder    *query.Builder
	op         *relationships.Operation
}

// Where adds a condition
func (f *FindOp) Where(field string, op query.Operator, value interface{}) *FindOp {
	f.builder.Where(field, op, value)
	return f
}

// WhereEq adds an equality condition
func (f *FindOp) WhereEq(field string, value interface{}) *FindOp {
	f.builder.WhereEq(field, value)
	return f
}

// WhereIn adds an IN condition
func (f *FindOp) WhereIn(field string, values ...interface{}) *FindOp {
	f.builder.WhereIn(field, values...)
	return f
}

// WhereMap adds conditions from a criteria object such as {"age": {">": 3}}
func (f *FindOp) WhereMap(where map[string]interface{}) *FindOp {
	if len(where) > 0 {
		f.builder.WhereMap(where)
	}
	return f
}

// Populate requests an association; see query.Builder.Populate
func (f *FindOp) Populate(path string, sub ...*query.Criteria) *FindOp {
	f.builder.Populate(path, sub...)
	return f
}

// Sort adds a sort field
func (f *FindOp) Sort(field string, direction query.SortDirection) *FindOp {
	f.builder.Sort(field, direction)
	return f
}

// SortString parses "name ASC, age DESC"
func (f *FindOp) SortString(spec string) *FindOp {
	f.builder.SortString(spec)
	return f
}

// Limit caps the number of primary records
func (f *FindOp) Limit(n int) *FindOp {
	f.builder.Limit(n)
	return f
}

// Skip skips the first n primary records
func (f *FindOp) Skip(n int) *FindOp {
	f.builder.Skip(n)
	return f
}

// Operation returns the trace of the last Exec, or nil before Exec
func (f *FindOp) Operation() *relationships.Operation {
	return f.op
}

// Exec validates the criteria, fetches the primary records and resolves every
// requested population before returning. Population failures fail the whole find.
func (f *FindOp) Exec(ctx context.Context) (*Cursor, error) {
	f.op = relationships.NewOperation()

	crit, err := f.builder.Build()
	if err != nil {
		return nil, err
	}

	records, err := f.collection.resolver.Find(ctx, f.collection.model, crit, f.op)
	if err != nil {
		return nil, err
	}
	return newCursor(records), nil
}

// All runs Exec and drains the cursor
func (f *FindOp) All(ctx context.Context) ([]*record.Record, error) {
	cursor, err := f.Exec(ctx)
	if err != nil {
		return nil, err
	}
	return cursor.All()
}
