package dialect

import (
	"fmt"
	"strings"
)

// postgresDialect implements Dialect for PostgreSQL, quoting identifiers with
// doubled double-quotes and using BIGSERIAL/SERIAL for auto-increment ids.
type postgresDialect struct{}

// PostgresDialect is the PostgreSQL Dialect implementation. Register it with
// a *sql.DB opened via the lib/pq driver.
var PostgresDialect Dialect = postgresDialect{}

func init() { Register(Postgres, PostgresDialect) }

func (postgresDialect) Name() string { return Postgres }

func (postgresDialect) QuoteIdentifier(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ".")
}

func (postgresDialect) SQLType(t ColumnType, c Constraints) (string, error) {
	switch t {
	case Boolean:
		return "boolean", nil
	case SmallInt:
		if c.AutoIncrement {
			return "smallserial", nil
		}
		return "smallint", nil
	case Int:
		if c.AutoIncrement {
			return "serial", nil
		}
		return "integer", nil
	case BigInt:
		if c.AutoIncrement {
			return "bigserial", nil
		}
		return "bigint", nil
	case Float:
		return "real", nil
	case Double:
		return "double precision", nil
	case Decimal:
		if c.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", c.Precision, c.Scale), nil
		}
		return "numeric", nil
	case VarChar:
		if c.Length > 0 {
			return fmt.Sprintf("varchar(%d)", c.Length), nil
		}
		return "varchar", nil
	case Text:
		return "text", nil
	case Bytes:
		return "bytea", nil
	case Date:
		return "date", nil
	case Time:
		return "time", nil
	case Timestamp:
		return "timestamp", nil
	case Enum:
		// Postgres enums require a CREATE TYPE statement the schema emitter
		// issues separately; the column itself just names the type.
		if c.EnumName == "" {
			return "", newDialectError(Postgres, "enum column requires an EnumName")
		}
		return c.EnumName, nil
	default:
		return "", newDialectError(Postgres, "unsupported column type %v", t)
	}
}

func (postgresDialect) AutoIncrementClause() string { return "" }

func (postgresDialect) LimitClause(offset, count int) string {
	var b strings.Builder
	if count >= 0 {
		fmt.Fprintf(&b, " limit %d", count)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " offset %d", offset)
	}
	return b.String()
}

func (postgresDialect) TableSuffix() string { return "" }

func (d postgresDialect) InsertReturningClause(idColumns ...string) string {
	if len(idColumns) == 0 {
		return ""
	}
	quoted := make([]string, len(idColumns))
	for i, c := range idColumns {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return " returning " + strings.Join(quoted, ", ")
}
