// Package dialect provides database dialect abstraction for strata.
//
// It defines the capability interface that the SQL Emitter, Row Reducer, and
// Schema Emitter use to stay portable across PostgreSQL, MySQL, and SQLite:
// identifier quoting, abstract-type-to-SQL-type mapping, auto-increment
// syntax, and LIMIT/OFFSET expression.
//
// # Dialect Constants
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
package dialect

import "fmt"

// Dialect name constants, matching the database/sql driver names registered
// by the three mandatory dialect adapters.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// ColumnType is an abstract column type, independent of any one SQL dialect.
type ColumnType int

const (
	Boolean ColumnType = iota
	SmallInt
	Int
	BigInt
	Float
	Double
	Decimal
	VarChar
	Text
	Bytes
	Date
	Time
	Timestamp
	Enum
)

func (t ColumnType) String() string {
	switch t {
	case Boolean:
		return "boolean"
	case SmallInt:
		return "smallint"
	case Int:
		return "int"
	case BigInt:
		return "long"
	case Float:
		return "float"
	case Double:
		return "double"
	case Decimal:
		return "decimal"
	case VarChar:
		return "string"
	case Text:
		return "text"
	case Bytes:
		return "bytes"
	case Date:
		return "date"
	case Time:
		return "time"
	case Timestamp:
		return "timestamp"
	case Enum:
		return "enum"
	default:
		return "unknown"
	}
}

// Constraints carries the per-column refinements a ColumnType may need:
// string/bytes length, decimal precision/scale, and the enum's member names.
type Constraints struct {
	Length       int
	Precision    int
	Scale        int
	EnumName     string
	EnumValues   []string
	Nullable     bool
	AutoIncrement bool
}

// Dialect is the capability interface every SQL-emitting or DDL-emitting
// component depends on. Implementations must be safe for concurrent use —
// QueryPlans built against a Dialect are cached and shared between threads
// per spec.md §5.
type Dialect interface {
	// Name returns the dialect's database/sql driver name.
	Name() string

	// QuoteIdentifier quotes each segment of parts and joins them with ".".
	QuoteIdentifier(parts ...string) string

	// SQLType maps an abstract column type and its constraints to the SQL
	// text used in DDL. Returns a *DialectError if the dialect cannot
	// express the type.
	SQLType(t ColumnType, c Constraints) (string, error)

	// AutoIncrementClause returns the column-level suffix (or prefix, per
	// dialect convention) used to declare an auto-generated id column, e.g.
	// "AUTO_INCREMENT", "GENERATED ALWAYS AS IDENTITY", empty if the dialect
	// expresses auto-increment entirely through the type itself (e.g.
	// Postgres's SERIAL/BIGSERIAL, folded into SQLType instead).
	AutoIncrementClause() string

	// LimitClause returns the SQL fragment implementing LIMIT/OFFSET. count
	// or offset may be negative to mean "omit this part".
	LimitClause(offset, count int) string

	// TableSuffix returns a dialect-specific suffix appended to CREATE TABLE
	// statements (e.g. MySQL's storage-engine declaration). Empty for
	// dialects with no such concept.
	TableSuffix() string

	// InsertReturningClause returns the clause an INSERT statement appends
	// to retrieve idColumns without a second round-trip (e.g. Postgres's
	// "RETURNING ..."). Empty for dialects with no such clause, in which
	// case the Mutator falls back to sql.Result.LastInsertId.
	InsertReturningClause(idColumns ...string) string
}

// dialectError is a small local alias to keep this package free of an import
// cycle on the root strata package (which itself depends on dialect). The
// root package's DialectError wraps the same information; this constructor
// is used by the concrete dialects below.
type dialectError struct {
	dialect string
	message string
}

func (e *dialectError) Error() string {
	return fmt.Sprintf("dialect: %s: %s", e.dialect, e.message)
}

func newDialectError(name, format string, args ...any) error {
	return &dialectError{dialect: name, message: fmt.Sprintf(format, args...)}
}

var registry = map[string]Dialect{}

// Register adds a Dialect to the process-wide registry under name, so it can
// be looked up later with Lookup. Intended to be called from an init()
// function by dialect implementations, mirroring how database/sql drivers
// register themselves.
func Register(name string, d Dialect) {
	registry[name] = d
}

// Lookup returns the Dialect registered under name, and whether it was found.
func Lookup(name string) (Dialect, bool) {
	d, ok := registry[name]
	return d, ok
}
