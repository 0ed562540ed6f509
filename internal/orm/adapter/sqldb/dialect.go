package sqldb

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

// Dialect captures the statement differences between the supported databases
type Dialect interface {
	Name() string
	// DriverName is the database/sql driver used by Open
	DriverName() string
	Placeholder(n int) string
	Quote(identifier string) string
	ColumnType(t schema.Type) string
	// In renders a membership test. arg appends a bind value and returns its placeholder.
	In(column string, values []interface{}, negate bool, arg func(interface{}) string) string
	// Like renders a case-insensitive pattern match
	Like(column, placeholder string) string
	OrderBy(column string, dir query.SortDirection) string
	Paging(limit, skip int) string
	// UniqueViolation extracts the column of a unique constraint failure
	UniqueViolation(err error) (column string, ok bool)
}

// DialectByName returns the dialect registered under name
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported sql dialect %q", name)
}

var pgDetailKey = regexp.MustCompile(`Key \(([^)]+)\)=`)

// Postgres uses numbered placeholders and array binding through lib/pq
type Postgres struct {
	// Driver overrides the database/sql driver; "pgx" when empty, "postgres" for lib/pq
	Driver string
}

func (Postgres) Name() string { return "postgres" }

func (p Postgres) DriverName() string {
	if p.Driver != "" {
		return p.Driver
	}
	return "pgx"
}

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) Quote(identifier string) string { return pq.QuoteIdentifier(identifier) }

func (Postgres) ColumnType(t schema.Type) string {
	switch t {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDateTime:
		return "TIMESTAMPTZ"
	case schema.TypeJSON, schema.TypeArray:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (Postgres) In(column string, values []interface{}, negate bool, arg func(interface{}) string) string {
	if len(values) == 0 {
		return emptyIn(negate)
	}
	expr := fmt.Sprintf("%s = ANY(%s)", column, arg(pq.Array(values)))
	if negate {
		return "NOT (" + expr + ")"
	}
	return expr
}

func (Postgres) Like(column, placeholder string) string {
	return column + " ILIKE " + placeholder
}

func (Postgres) OrderBy(column string, dir query.SortDirection) string {
	if dir == query.Desc {
		return column + " DESC NULLS LAST"
	}
	return column + " ASC NULLS FIRST"
}

func (Postgres) Paging(limit, skip int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if skip > 0 {
		fmt.Fprintf(&b, " OFFSET %d", skip)
	}
	return b.String()
}

func (Postgres) UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return detailColumn(pgErr.Detail, pgErr.ColumnName), true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return detailColumn(pqErr.Detail, pqErr.Column), true
	}
	return "", false
}

func detailColumn(detail, column string) string {
	if m := pgDetailKey.FindStringSubmatch(detail); m != nil {
		return strings.Trim(m[1], `"`)
	}
	return column
}

// SQLite uses ? placeholders and expands IN lists
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) DriverName() string { return "sqlite3" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func (SQLite) ColumnType(t schema.Type) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeDateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func (SQLite) In(column string, values []interface{}, negate bool, arg func(interface{}) string) string {
	if len(values) == 0 {
		return emptyIn(negate)
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = arg(v)
	}
	op := " IN "
	if negate {
		op = " NOT IN "
	}
	return column + op + "(" + strings.Join(placeholders, ", ") + ")"
}

func (SQLite) Like(column, placeholder string) string {
	return column + " LIKE " + placeholder + ` ESCAPE '\'`
}

func (SQLite) OrderBy(column string, dir query.SortDirection) string {
	return column + " " + dir.String()
}

func (SQLite) Paging(limit, skip int) string {
	switch {
	case limit > 0 && skip > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, skip)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case skip > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", skip)
	}
	return ""
}

func (SQLite) UniqueViolation(err error) (string, bool) {
	var liteErr sqlite3.Error
	if !errors.As(err, &liteErr) {
		return "", false
	}
	msg := liteErr.Error()
	unique := liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		(liteErr.Code == sqlite3.ErrConstraint && strings.Contains(msg, "UNIQUE"))
	if !unique {
		return "", false
	}
	// UNIQUE constraint failed: users.username
	if i := strings.LastIndex(msg, "."); i >= 0 {
		return strings.TrimSpace(msg[i+1:]), true
	}
	return "", true
}

func emptyIn(negate bool) string {
	if negate {
		return "1=1"
	}
	return "1=0"
}
