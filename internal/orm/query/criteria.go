package query

import (
	"sort"
	"strings"
)

// SortDirection is the direction of a sort field
type SortDirection int

const (
	Asc SortDirection = iota
	Desc
)

// String returns the string representation of the direction
func (d SortDirection) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// SortField orders results by one attribute
type SortField struct {
	Field     string
	Direction SortDirection
}

// Population requests that an association be attached to every result. Criteria, when
// set, filters and sorts the associated records; nested populations live in
// Criteria.Populate.
type Population struct {
	Name     string
	Criteria *Criteria
}

// Criteria is an ephemeral query descriptor. It is built per operation and discarded
// after the operation executes.
type Criteria struct {
	Where    []*Condition
	Sort     []SortField
	Limit    int // 0 means unlimited
	Skip     int
	Populate []*Population
}

// NewCriteria returns an empty criteria matching every record
func NewCriteria() *Criteria {
	return &Criteria{}
}

// Eq returns a criteria with a single equality condition
func Eq(field string, value interface{}) *Criteria {
	return &Criteria{Where: []*Condition{{Field: field, Operator: OpEqual, Value: value}}}
}

// In returns a criteria with a single IN condition
func In(field string, values []interface{}) *Criteria {
	return &Criteria{Where: []*Condition{{Field: field, Operator: OpIn, Value: values}}}
}

// Clone returns a copy that can be modified without touching c
func (c *Criteria) Clone() *Criteria {
	if c == nil {
		return NewCriteria()
	}
	clone := &Criteria{
		Where:    append([]*Condition(nil), c.Where...),
		Sort:     append([]SortField(nil), c.Sort...),
		Limit:    c.Limit,
		Skip:     c.Skip,
		Populate: make([]*Population, 0, len(c.Populate)),
	}
	for _, pop := range c.Populate {
		p := &Population{Name: pop.Name}
		if pop.Criteria != nil {
			p.Criteria = pop.Criteria.Clone()
		}
		clone.Populate = append(clone.Populate, p)
	}
	return clone
}

// WithoutPaging returns the filter part only: no sort, skip, limit or populations.
// Update and destroy use it.
func (c *Criteria) WithoutPaging() *Criteria {
	if c == nil {
		return NewCriteria()
	}
	return &Criteria{Where: append([]*Condition(nil), c.Where...)}
}

// And returns a copy of c with an extra condition
func (c *Criteria) And(field string, op Operator, value interface{}) *Criteria {
	clone := c.Clone()
	clone.Where = append(clone.Where, &Condition{Field: field, Operator: op, Value: value})
	return clone
}

// Match reports whether values satisfy every condition
func (c *Criteria) Match(values map[string]interface{}) bool {
	if c == nil {
		return true
	}
	for _, cond := range c.Where {
		if !cond.Match(values) {
			return false
		}
	}
	return true
}

// Apply sorts, skips and limits an already filtered result set in place and returns it
func (c *Criteria) Apply(records []map[string]interface{}) []map[string]interface{} {
	if c == nil {
		return records
	}
	if len(c.Sort) > 0 {
		SortRecords(records, c.Sort)
	}
	if c.Skip > 0 {
		if c.Skip >= len(records) {
			return records[:0]
		}
		records = records[c.Skip:]
	}
	if c.Limit > 0 && c.Limit < len(records) {
		records = records[:c.Limit]
	}
	return records
}

// Filter returns the records matching c, sorted and paged
func (c *Criteria) Filter(records []map[string]interface{}) []map[string]interface{} {
	matched := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		if c.Match(record) {
			matched = append(matched, record)
		}
	}
	return c.Apply(matched)
}

// SortRecords stable-sorts records by the given fields. Nil sorts first.
func SortRecords(records []map[string]interface{}, fields []SortField) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, f := range fields {
			a, b := records[i][f.Field], records[j][f.Field]
			var cmp int
			switch {
			case a == nil && b == nil:
				cmp = 0
			case a == nil:
				cmp = -1
			case b == nil:
				cmp = 1
			default:
				cmp, _ = compareValues(a, b)
			}
			if f.Direction == Desc {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

// PopulationNames returns the top-level association names requested
func (c *Criteria) PopulationNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Populate))
	for _, pop := range c.Populate {
		names = append(names, pop.Name)
	}
	return names
}

// String returns a readable form, used in logs
func (c *Criteria) String() string {
	if c == nil || len(c.Where) == 0 {
		return "*"
	}
	parts := make([]string, len(c.Where))
	for i, cond := range c.Where {
		parts[i] = cond.String()
	}
	return strings.Join(parts, " AND ")
}
