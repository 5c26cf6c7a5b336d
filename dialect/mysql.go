package dialect

import (
	"fmt"
	"strings"
)

// mysqlDialect implements Dialect for MySQL/MariaDB, quoting identifiers
// with backticks and booleans as TINYINT(1).
type mysqlDialect struct{}

// MySQLDialect is the MySQL Dialect implementation. Register it with a
// *sql.DB opened via the go-sql-driver/mysql driver.
var MySQLDialect Dialect = mysqlDialect{}

func init() { Register(MySQL, MySQLDialect) }

func (mysqlDialect) Name() string { return MySQL }

func (mysqlDialect) QuoteIdentifier(parts ...string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "`" + strings.ReplaceAll(p, "`", "``") + "`"
	}
	return strings.Join(quoted, ".")
}

func (mysqlDialect) SQLType(t ColumnType, c Constraints) (string, error) {
	switch t {
	case Boolean:
		return "tinyint(1)", nil
	case SmallInt:
		return "smallint", nil
	case Int:
		return "int", nil
	case BigInt:
		return "bigint", nil
	case Float:
		return "float", nil
	case Double:
		return "double", nil
	case Decimal:
		if c.Precision > 0 {
			return fmt.Sprintf("decimal(%d,%d)", c.Precision, c.Scale), nil
		}
		return "decimal", nil
	case VarChar:
		if c.Length > 0 {
			return fmt.Sprintf("varchar(%d)", c.Length), nil
		}
		return "varchar(255)", nil
	case Text:
		return "longtext", nil
	case Bytes:
		return "longblob", nil
	case Date:
		return "date", nil
	case Time:
		return "time", nil
	case Timestamp:
		return "datetime", nil
	case Enum:
		if len(c.EnumValues) == 0 {
			return "", newDialectError(MySQL, "enum column requires EnumValues")
		}
		quoted := make([]string, len(c.EnumValues))
		for i, v := range c.EnumValues {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return fmt.Sprintf("enum(%s)", strings.Join(quoted, ",")), nil
	default:
		return "", newDialectError(MySQL, "unsupported column type %v", t)
	}
}

func (mysqlDialect) AutoIncrementClause() string { return "AUTO_INCREMENT" }

func (mysqlDialect) LimitClause(offset, count int) string {
	var b strings.Builder
	switch {
	case count >= 0 && offset > 0:
		fmt.Fprintf(&b, " limit %d, %d", offset, count)
	case count >= 0:
		fmt.Fprintf(&b, " limit %d", count)
	case offset > 0:
		// MySQL has no OFFSET-only syntax; a very large count is its
		// documented idiom for "all rows after offset".
		fmt.Fprintf(&b, " limit %d, 18446744073709551615", offset)
	}
	return b.String()
}

func (mysqlDialect) TableSuffix() string { return " engine=innodb" }

// InsertReturningClause is empty: MySQL has no RETURNING clause, so the
// Mutator retrieves a generated id via sql.Result.LastInsertId instead.
func (mysqlDialect) InsertReturningClause(idColumns ...string) string { return "" }
