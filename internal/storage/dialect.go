package storage

import (
	"fmt"
	"regexp"

	// database/sql drivers for the supported dialects.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect validates a configured driver name.
func ParseDialect(name string) (Dialect, error) {
	switch Dialect(name) {
	case DialectPostgres, DialectSQLite:
		return Dialect(name), nil
	}
	return "", fmt.Errorf("unsupported cache driver %q", name)
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "pgx"
}

var numberedPlaceholder = regexp.MustCompile(`\$\d+`)

// rebind rewrites $N placeholders for dialects that only take positional ?.
func (d Dialect) rebind(query string) string {
	if d == DialectSQLite {
		return numberedPlaceholder.ReplaceAllString(query, "?")
	}
	return query
}
