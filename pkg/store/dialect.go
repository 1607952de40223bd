package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver names accepted in configuration.
const (
	DriverDuckDB   = "duckdb"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name string

	// sqlDriver is the database/sql driver name registered by the import.
	sqlDriver string

	returning  bool
	savepoints bool
	foreignKey bool
	dollarArgs bool
	maxParams  int

	unique func(error) bool
}

var dialects = map[string]*Dialect{
	DriverDuckDB: {
		Name:       DriverDuckDB,
		sqlDriver:  "duckdb",
		returning:  true,
		savepoints: false,
		foreignKey: false,
		maxParams:  30000,
		unique:     duckdbUnique,
	},
	DriverSQLite: {
		Name:       DriverSQLite,
		sqlDriver:  "sqlite",
		returning:  false,
		savepoints: true,
		foreignKey: true,
		maxParams:  30000,
		unique:     sqliteUnique,
	},
	DriverPostgres: {
		Name:       DriverPostgres,
		sqlDriver:  "pgx",
		returning:  true,
		savepoints: true,
		foreignKey: true,
		dollarArgs: true,
		maxParams:  60000,
		unique:     postgresUnique,
	},
}

// LookupDialect returns the dialect for a configured driver name.
func LookupDialect(driver string) (*Dialect, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	return d, nil
}

// ReturnsIDs reports whether INSERT ... RETURNING yields generated ids.
// SQLite builds differ on RETURNING support, so the sqlite dialect re-queries.
func (d *Dialect) ReturnsIDs() bool { return d.returning }

// SupportsSavepoints reports whether nested SAVEPOINTs work inside a transaction.
func (d *Dialect) SupportsSavepoints() bool { return d.savepoints }

// Rebind rewrites ? placeholders for dialects using $n.
func (d *Dialect) Rebind(query string) string {
	if !d.dollarArgs || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsUniqueViolation reports whether err is a unique or primary key
// constraint failure for this dialect.
func (d *Dialect) IsUniqueViolation(err error) bool {
	return err != nil && d.unique(err)
}

func postgresUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sqliteUnique(err error) bool {
	var sErr *sqlite.Error
	if errors.As(err, &sErr) {
		switch sErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// go-duckdb reports constraint failures as plain errors.
func duckdbUnique(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Constraint Error") &&
		(strings.Contains(msg, "Duplicate key") || strings.Contains(msg, "unique"))
}

// Column types.
func (d *Dialect) idColumn(table string) string {
	switch d.Name {
	case DriverDuckDB:
		return "id BIGINT PRIMARY KEY DEFAULT nextval('seq_" + table + "')"
	case DriverSQLite:
		return "id INTEGER PRIMARY KEY"
	default:
		return "id BIGSERIAL PRIMARY KEY"
	}
}

func (d *Dialect) float() string {
	switch d.Name {
	case DriverPostgres:
		return "DOUBLE PRECISION"
	case DriverSQLite:
		return "REAL"
	default:
		return "DOUBLE"
	}
}

func (d *Dialect) timestamp() string {
	if d.Name == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// ref renders a foreign key clause where the engine enforces cascades.
func (d *Dialect) ref(table string, cascade bool) string {
	if !d.foreignKey {
		return ""
	}
	s := " REFERENCES " + table + "(id)"
	if cascade {
		s += " ON DELETE CASCADE"
	}
	return s
}
