package dialect

import (
	"fmt"
	"strings"
)

// sqliteDialect implements Dialect for SQLite, which has no identifier
// quoting style of its own preference but accepts ANSI double quotes, and
// has no native boolean or fixed-precision decimal type.
type sqliteDialect struct{}

// SQLiteDialect is the SQLite Dialect implementation. Register it with a
// *sql.DB opened via the modernc.org/sqlite driver.
var SQLiteDialect Dialect = sqliteDialect{}

func init() { Register(SQLite, SQLiteDialect) }

func (sqliteDialect) Name() string { return SQLite }

func (sqliteDialect) QuoteIdentifier(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ".")
}

func (sqliteDialect) SQLType(t ColumnType, c Constraints) (string, error) {
	switch t {
	case Boolean:
		return "boolean", nil
	case SmallInt, Int, BigInt:
		if c.AutoIncrement {
			return "integer", nil // SQLite's rowid alias requires exactly "integer"
		}
		return "integer", nil
	case Float, Double:
		return "real", nil
	case Decimal:
		return "numeric", nil
	case VarChar:
		if c.Length > 0 {
			return fmt.Sprintf("varchar(%d)", c.Length), nil
		}
		return "varchar", nil
	case Text:
		return "text", nil
	case Bytes:
		return "blob", nil
	case Date, Time, Timestamp:
		return "timestamp", nil
	case Enum:
		return "text", nil
	default:
		return "", newDialectError(SQLite, "unsupported column type %v", t)
	}
}

func (sqliteDialect) AutoIncrementClause() string { return "autoincrement" }

func (sqliteDialect) LimitClause(offset, count int) string {
	var b strings.Builder
	if count >= 0 {
		fmt.Fprintf(&b, " limit %d", count)
		if offset > 0 {
			fmt.Fprintf(&b, " offset %d", offset)
		}
	} else if offset > 0 {
		fmt.Fprintf(&b, " limit -1 offset %d", offset)
	}
	return b.String()
}

func (sqliteDialect) TableSuffix() string { return "" }

// InsertReturningClause is empty: the Mutator uses sql.Result.LastInsertId,
// which modernc.org/sqlite populates from the rowid of the inserted row.
func (sqliteDialect) InsertReturningClause(idColumns ...string) string { return "" }
