package query

import (
	"errors"
	"strings"

	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// ModelLookup resolves model identities; *schema.Registry implements it
type ModelLookup interface {
	Get(identity string) (*schema.Model, bool)
}

// Builder provides a fluent API for building criteria. Nothing is validated eagerly
// enough to stop the chain: problems are recorded and returned by Build.
type Builder struct {
	model   *schema.Model
	models  ModelLookup
	crit    *Criteria
	pending []pendingPopulation
	errs    []error
}

type pendingPopulation struct {
	path string
	sub  *Criteria
}

// NewBuilder creates a builder for the given model
func NewBuilder(model *schema.Model, models ModelLookup) *Builder {
	return &Builder{
		model:  model,
		models: models,
		crit:   NewCriteria(),
	}
}

// Where adds a condition. The field must be an attribute stored on the model.
func (b *Builder) Where(field string, op Operator, value interface{}) *Builder {
	if err := checkFilterField(b.model, field, "where"); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.crit.Where = append(b.crit.Where, &Condition{Field: field, Operator: op, Value: value})
	return b
}

// WhereEq adds an equality condition
func (b *Builder) WhereEq(field string, value interface{}) *Builder {
	return b.Where(field, OpEqual, value)
}

// WhereIn adds an IN condition
func (b *Builder) WhereIn(field string, values ...interface{}) *Builder {
	return b.Where(field, OpIn, values)
}

// WhereNotIn adds a NOT IN condition
func (b *Builder) WhereNotIn(field string, values ...interface{}) *Builder {
	return b.Where(field, OpNotIn, values)
}

// WhereNull adds an IS NULL condition
func (b *Builder) WhereNull(field string) *Builder {
	return b.Where(field, OpIsNull, nil)
}

// WhereNotNull adds an IS NOT NULL condition
func (b *Builder) WhereNotNull(field string) *Builder {
	return b.Where(field, OpIsNotNull, nil)
}

// WhereLike adds a LIKE condition
func (b *Builder) WhereLike(field, pattern string) *Builder {
	return b.Where(field, OpLike, pattern)
}

// WhereContains adds a case-insensitive substring condition
func (b *Builder) WhereContains(field, substring string) *Builder {
	return b.Where(field, OpContains, substring)
}

// WhereMap adds conditions from a Waterline-style criteria object
func (b *Builder) WhereMap(where map[string]interface{}) *Builder {
	conds, err := ParseWhere(where)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	for _, cond := range conds {
		b.Where(cond.Field, cond.Operator, cond.Value)
	}
	return b
}

// Sort adds a sort field
func (b *Builder) Sort(field string, direction SortDirection) *Builder {
	if err := checkFilterField(b.model, field, "sort"); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.crit.Sort = append(b.crit.Sort, SortField{Field: field, Direction: direction})
	return b
}

// SortAsc adds an ascending sort field
func (b *Builder) SortAsc(field string) *Builder {
	return b.Sort(field, Asc)
}

// SortDesc adds a descending sort field
func (b *Builder) SortDesc(field string) *Builder {
	return b.Sort(field, Desc)
}

// SortString parses "name ASC, age DESC"
func (b *Builder) SortString(spec string) *Builder {
	for _, part := range strings.Split(spec, ",") {
		tokens := strings.Fields(part)
		if len(tokens) == 0 {
			continue
		}
		dir := Asc
		if len(tokens) > 1 && strings.EqualFold(tokens[1], "desc") {
			dir = Desc
		}
		b.Sort(tokens[0], dir)
	}
	return b
}

// Limit caps the number of results
func (b *Builder) Limit(n int) *Builder {
	b.crit.Limit = n
	return b
}

// Skip skips the first n results
func (b *Builder) Skip(n int) *Builder {
	b.crit.Skip = n
	return b
}

// Populate requests an association, optionally dotted ("pets.owner") and optionally
// with criteria for the associated records. Populations are recorded, not executed.
func (b *Builder) Populate(path string, sub ...*Criteria) *Builder {
	var subCrit *Criteria
	if len(sub) > 0 {
		subCrit = sub[0]
	}
	b.pending = append(b.pending, pendingPopulation{path: path, sub: subCrit})
	return b
}

// Build validates the chain and returns the criteria
func (b *Builder) Build() (*Criteria, error) {
	crit := b.crit.Clone()
	errs := append([]error(nil), b.errs...)

	for _, p := range b.pending {
		if err := b.addPopulation(crit, p.path, p.sub); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return crit, nil
}

// addPopulation validates every segment of a dotted path and merges it into the tree.
// Every segment must name an association.
func (b *Builder) addPopulation(crit *Criteria, path string, sub *Criteria) error {
	segments := strings.Split(path, ".")
	model := b.model
	current := crit

	for i, name := range segments {
		attr, ok := model.Attribute(name)
		if !ok {
			return &UnknownAttributeError{Identity: model.Identity, Attribute: name, Usage: "populate"}
		}
		if !attr.IsAssociation() {
			return &UnknownAttributeError{Identity: model.Identity, Attribute: name, Usage: "populate",
				Reason: name + " is not an association"}
		}

		pop := findPopulation(current, name)
		if pop == nil {
			pop = &Population{Name: name}
			current.Populate = append(current.Populate, pop)
		}

		var target *schema.Model
		if b.models != nil {
			target, _ = b.models.Get(attr.Target)
		}

		if i == len(segments)-1 {
			if sub != nil {
				if target != nil {
					if err := validateSub(target, sub); err != nil {
						return err
					}
				}
				merged := sub.Clone()
				if pop.Criteria != nil {
					merged.Populate = append(merged.Populate, pop.Criteria.Populate...)
				}
				pop.Criteria = merged
			}
			return nil
		}

		if target == nil {
			// no lookup to descend with; the resolver checks the rest of the path
			return nil
		}
		if pop.Criteria == nil {
			pop.Criteria = NewCriteria()
		}
		model = target
		current = pop.Criteria
	}
	return nil
}

func findPopulation(crit *Criteria, name string) *Population {
	for _, pop := range crit.Populate {
		if pop.Name == name {
			return pop
		}
	}
	return nil
}

func validateSub(model *schema.Model, sub *Criteria) error {
	for _, cond := range sub.Where {
		if err := checkFilterField(model, cond.Field, "where"); err != nil {
			return err
		}
	}
	for _, s := range sub.Sort {
		if err := checkFilterField(model, s.Field, "sort"); err != nil {
			return err
		}
	}
	return nil
}

// checkFilterField allows scalar and model attributes; collections have no column
func checkFilterField(model *schema.Model, field, usage string) error {
	attr, ok := model.Attribute(field)
	if !ok {
		return &UnknownAttributeError{Identity: model.Identity, Attribute: field, Usage: usage}
	}
	if !attr.Stored() {
		return &UnknownAttributeError{Identity: model.Identity, Attribute: field, Usage: usage,
			Reason: "collection attributes are not stored on " + model.Identity}
	}
	return nil
}
