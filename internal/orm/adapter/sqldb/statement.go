package sqldb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

type statement struct {
	dialect Dialect
	args    []interface{}
}

func (a *Adapter) newStatement() *statement {
	return &statement{dialect: a.dialect}
}

func (s *statement) arg(v interface{}) string {
	s.args = append(s.args, v)
	return s.dialect.Placeholder(len(s.args))
}

// where compiles the criteria's conditions, joined with AND. It returns "" when
// there are none.
func (s *statement) where(t *table, criteria *query.Criteria) (string, error) {
	if criteria == nil || len(criteria.Where) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(criteria.Where))
	for _, cond := range criteria.Where {
		clause, err := s.condition(t, cond)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

func (s *statement) condition(t *table, cond *query.Condition) (string, error) {
	attr, ok := t.model.Attribute(cond.Field)
	if !ok || !attr.Stored() {
		return "", &query.UnknownAttributeError{Identity: t.model.Identity, Attribute: cond.Field, Usage: "where"}
	}
	col := s.dialect.Quote(cond.Field)

	value := func(v interface{}) (string, error) {
		encoded, err := encodeValue(attr, v)
		if err != nil {
			return "", err
		}
		return s.arg(encoded), nil
	}

	switch cond.Operator {
	case query.OpIsNull:
		return col + " IS NULL", nil
	case query.OpIsNotNull:
		return col + " IS NOT NULL", nil
	case query.OpEqual, query.OpNotEqual:
		if cond.Value == nil {
			if cond.Operator == query.OpEqual {
				return col + " IS NULL", nil
			}
			return col + " IS NOT NULL", nil
		}
		p, err := value(cond.Value)
		if err != nil {
			return "", err
		}
		if cond.Operator == query.OpEqual {
			return col + " = " + p, nil
		}
		return col + " <> " + p, nil
	case query.OpGreaterThan, query.OpGreaterThanOrEqual, query.OpLessThan, query.OpLessThanOrEqual:
		p, err := value(cond.Value)
		if err != nil {
			return "", err
		}
		return col + " " + cond.Operator.String() + " " + p, nil
	case query.OpIn, query.OpNotIn:
		list, ok := query.ToSlice(cond.Value)
		if !ok {
			return "", fmt.Errorf("%w: %s on %s requires a list", query.ErrInvalidCriteria, cond.Operator, cond.Field)
		}
		encoded := make([]interface{}, len(list))
		for i, v := range list {
			e, err := encodeValue(attr, v)
			if err != nil {
				return "", err
			}
			encoded[i] = e
		}
		return s.dialect.In(col, encoded, cond.Operator == query.OpNotIn, s.arg), nil
	case query.OpLike:
		return s.dialect.Like(col, s.arg(fmt.Sprint(cond.Value))), nil
	case query.OpContains:
		return s.dialect.Like(col, s.arg("%"+escapeLike(fmt.Sprint(cond.Value))+"%")), nil
	case query.OpStartsWith:
		return s.dialect.Like(col, s.arg(escapeLike(fmt.Sprint(cond.Value))+"%")), nil
	case query.OpEndsWith:
		return s.dialect.Like(col, s.arg("%"+escapeLike(fmt.Sprint(cond.Value)))), nil
	}
	return "", fmt.Errorf("%w: unsupported operator %s", query.ErrInvalidCriteria, cond.Operator)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// encodeValue converts a value to what the driver stores for the attribute type
func encodeValue(attr *schema.Attribute, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch attr.Type {
	case schema.TypeJSON, schema.TypeArray:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", attr.Name, err)
		}
		return string(data), nil
	case schema.TypeString, schema.TypeText, schema.TypeEmail:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String(), nil
		}
	}
	return v, nil
}

// decodeValue converts a scanned column back to the attribute's Go representation
func decodeValue(attr *schema.Attribute, v interface{}) (interface{}, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch attr.Type {
	case schema.TypeJSON, schema.TypeArray:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out interface{}
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", attr.Name, err)
		}
		return out, nil
	case schema.TypeBoolean:
		switch tv := v.(type) {
		case int64:
			return tv != 0, nil
		case string:
			return tv == "1" || strings.EqualFold(tv, "true") || tv == "t", nil
		}
	case schema.TypeFloat:
		if n, ok := v.(int64); ok {
			return float64(n), nil
		}
	case schema.TypeDate, schema.TypeDateTime:
		if s, ok := v.(string); ok {
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts, nil
				}
			}
		}
	}
	return v, nil
}

func scanRows(t *table, rows *sql.Rows) ([]map[string]interface{}, error) {
	out := []map[string]interface{}{}
	for rows.Next() {
		raw := make([]interface{}, len(t.columns))
		ptrs := make([]interface{}, len(t.columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(map[string]interface{}, len(t.columns))
		for i, col := range t.columns {
			if raw[i] == nil {
				continue
			}
			v, err := decodeValue(t.model.Attributes[col], raw[i])
			if err != nil {
				return nil, err
			}
			record[col] = v
		}
		out = append(out, record)
	}
	return out, rows.Err()
}
