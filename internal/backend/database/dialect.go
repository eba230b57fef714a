package database

import (
	"fmt"
	"strings"
)

// dialect captures the SQL differences between the supported drivers.
type dialect interface {
	driverName() string
	placeholder(n int) string
	columnType(logical string) string
	primaryKey() string
	// returningID is true when inserts use "RETURNING id" instead of LastInsertId.
	returningID() bool
}

type sqliteDialect struct{}

func (sqliteDialect) driverName() string { return "sqlite" }
func (sqliteDialect) placeholder(int) string { return "?" }
func (sqliteDialect) primaryKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (sqliteDialect) returningID() bool { return false }
func (sqliteDialect) columnType(t string) string {
	switch t {
	case TypeInteger, TypeBoolean:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

type postgresDialect struct{}

func (postgresDialect) driverName() string { return "postgres" }
func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) primaryKey() string { return "BIGSERIAL PRIMARY KEY" }
func (postgresDialect) returningID() bool { return true }
func (postgresDialect) columnType(t string) string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeReal:
		return "DOUBLE PRECISION"
	case TypeTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
