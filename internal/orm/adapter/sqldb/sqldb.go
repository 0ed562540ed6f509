// Package sqldb is a database/sql adapter for PostgreSQL (pgx or lib/pq drivers) and
// SQLite (go-sqlite3). Each model maps to one table named after the plural of its
// identity, with one column per stored attribute.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/jinzhu/inflection"

	// PostgreSQL driver registered as "pgx"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// Adapter stores collections in SQL tables
type Adapter struct {
	db      *sql.DB
	dialect Dialect

	mu     sync.RWMutex
	tables map[string]*table
}

var _ adapter.Adapter = (*Adapter)(nil)

type table struct {
	model   *schema.Model
	name    string
	columns []string
}

// Open connects to a database with the dialect's driver
func Open(dialect Dialect, dsn string) (*Adapter, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name(), err)
	}
	return New(db, dialect), nil
}

// New wraps an open database handle
func New(db *sql.DB, dialect Dialect) *Adapter {
	return &Adapter{
		db:      db,
		dialect: dialect,
		tables:  make(map[string]*table),
	}
}

// TableName returns the table a model is stored in
func TableName(model *schema.Model) string {
	if model.TableName != "" {
		return model.TableName
	}
	return inflection.Plural(model.Identity)
}

// Register creates a table for every model that does not have one
func (a *Adapter) Register(ctx context.Context, models []*schema.Model) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, model := range models {
		t := &table{model: model, name: TableName(model), columns: model.StoredAttributes()}
		if _, err := a.db.ExecContext(ctx, a.createTableSQL(t)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.name, err)
		}

		a.mu.Lock()
		a.tables[model.Identity] = t
		a.mu.Unlock()
	}
	return nil
}

func (a *Adapter) createTableSQL(t *table) string {
	defs := make([]string, 0, len(t.columns))
	for _, col := range t.columns {
		attr := t.model.Attributes[col]
		def := a.dialect.Quote(col) + " " + a.dialect.ColumnType(attr.Type)
		switch {
		case attr.PrimaryKey:
			def += " PRIMARY KEY"
		case attr.Unique:
			def += " UNIQUE"
		}
		if attr.Required && !attr.PrimaryKey {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", a.dialect.Quote(t.name), strings.Join(defs, ", "))
}

func (a *Adapter) table(identity string) (*table, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	t, ok := a.tables[identity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownCollection, identity)
	}
	return t, nil
}

func (a *Adapter) columnList(t *table) string {
	quoted := make([]string, len(t.columns))
	for i, col := range t.columns {
		quoted[i] = a.dialect.Quote(col)
	}
	return strings.Join(quoted, ", ")
}

// Create inserts one row
func (a *Adapter) Create(ctx context.Context, identity string, values map[string]interface{}) (map[string]interface{}, error) {
	t, err := a.table(identity)
	if err != nil {
		return nil, err
	}

	row := adapter.StoredValues(t.model, values)
	st := a.newStatement()
	var cols, placeholders []string
	for _, col := range t.columns {
		v, ok := row[col]
		if !ok {
			continue
		}
		encoded, err := encodeValue(t.model.Attributes[col], v)
		if err != nil {
			return nil, err
		}
		cols = append(cols, a.dialect.Quote(col))
		placeholders = append(placeholders, st.arg(encoded))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		a.dialect.Quote(t.name), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := a.db.ExecContext(ctx, stmt, st.args...); err != nil {
		return nil, a.translate(t, row, err)
	}
	return row, nil
}

// Find selects matching rows
func (a *Adapter) Find(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	t, err := a.table(identity)
	if err != nil {
		return nil, err
	}

	st := a.newStatement()
	where, err := st.where(t, criteria)
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s%s", a.columnList(t), a.dialect.Quote(t.name), where)
	if criteria != nil {
		if len(criteria.Sort) > 0 {
			order := make([]string, len(criteria.Sort))
			for i, s := range criteria.Sort {
				order[i] = a.dialect.OrderBy(a.dialect.Quote(s.Field), s.Direction)
			}
			stmt += " ORDER BY " + strings.Join(order, ", ")
		}
		stmt += a.dialect.Paging(criteria.Limit, criteria.Skip)
	}

	rows, err := a.db.QueryContext(ctx, stmt, st.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(t, rows)
}

// Update rewrites matching rows and returns them
func (a *Adapter) Update(ctx context.Context, identity string, criteria *query.Criteria, changes map[string]interface{}) ([]map[string]interface{}, error) {
	t, err := a.table(identity)
	if err != nil {
		return nil, err
	}

	changes = adapter.StoredValues(t.model, changes)
	if len(changes) == 0 {
		return a.Find(ctx, identity, criteria.WithoutPaging())
	}

	st := a.newStatement()
	var sets []string
	for _, col := range t.columns {
		v, ok := changes[col]
		if !ok {
			continue
		}
		encoded, err := encodeValue(t.model.Attributes[col], v)
		if err != nil {
			return nil, err
		}
		sets = append(sets, a.dialect.Quote(col)+" = "+st.arg(encoded))
	}

	where, err := st.where(t, criteria.WithoutPaging())
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s%s RETURNING %s",
		a.dialect.Quote(t.name), strings.Join(sets, ", "), where, a.columnList(t))
	rows, err := a.db.QueryContext(ctx, stmt, st.args...)
	if err != nil {
		return nil, a.translate(t, changes, err)
	}
	defer rows.Close()

	out, err := scanRows(t, rows)
	if err != nil {
		return nil, a.translate(t, changes, err)
	}
	return out, nil
}

// Destroy deletes matching rows
func (a *Adapter) Destroy(ctx context.Context, identity string, criteria *query.Criteria) (int, error) {
	t, err := a.table(identity)
	if err != nil {
		return 0, err
	}

	st := a.newStatement()
	where, err := st.where(t, criteria.WithoutPaging())
	if err != nil {
		return 0, err
	}

	res, err := a.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", a.dialect.Quote(t.name), where), st.args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Teardown closes the database handle
func (a *Adapter) Teardown(ctx context.Context) error {
	return a.db.Close()
}

// translate turns driver unique-constraint errors into adapter.UniqueViolationError.
// Everything else passes through unchanged.
func (a *Adapter) translate(t *table, values map[string]interface{}, err error) error {
	column, ok := a.dialect.UniqueViolation(err)
	if !ok {
		return err
	}
	return &adapter.UniqueViolationError{Identity: t.model.Identity, Attribute: column, Value: values[column]}
}
