package dialect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/dialect"
)

func TestQuoteIdentifier(t *testing.T) {
	cases := []struct {
		name string
		d    dialect.Dialect
		want string
	}{
		{"postgres", dialect.PostgresDialect, `"article"."title"`},
		{"mysql", dialect.MySQLDialect, "`article`.`title`"},
		{"sqlite", dialect.SQLiteDialect, `"article"."title"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, c.d.QuoteIdentifier("article", "title"))
		})
	}
}

func TestQuoteIdentifierEscapesInnerQuote(t *testing.T) {
	require.Equal(t, `"a""b"`, dialect.PostgresDialect.QuoteIdentifier(`a"b`))
	require.Equal(t, "`a``b`", dialect.MySQLDialect.QuoteIdentifier("a`b"))
}

func TestSQLTypeBoolean(t *testing.T) {
	pg, err := dialect.PostgresDialect.SQLType(dialect.Boolean, dialect.Constraints{})
	require.NoError(t, err)
	require.Equal(t, "boolean", pg)

	my, err := dialect.MySQLDialect.SQLType(dialect.Boolean, dialect.Constraints{})
	require.NoError(t, err)
	require.Equal(t, "tinyint(1)", my)
}

func TestSQLTypeAutoIncrement(t *testing.T) {
	pg, err := dialect.PostgresDialect.SQLType(dialect.BigInt, dialect.Constraints{AutoIncrement: true})
	require.NoError(t, err)
	require.Equal(t, "bigserial", pg)

	my, err := dialect.MySQLDialect.SQLType(dialect.BigInt, dialect.Constraints{AutoIncrement: true})
	require.NoError(t, err)
	require.Equal(t, "bigint", my)
	require.Equal(t, "AUTO_INCREMENT", dialect.MySQLDialect.AutoIncrementClause())

	sq, err := dialect.SQLiteDialect.SQLType(dialect.BigInt, dialect.Constraints{AutoIncrement: true})
	require.NoError(t, err)
	require.Equal(t, "integer", sq)
}

func TestSQLTypeLOB(t *testing.T) {
	pg, _ := dialect.PostgresDialect.SQLType(dialect.Text, dialect.Constraints{})
	my, _ := dialect.MySQLDialect.SQLType(dialect.Text, dialect.Constraints{})
	sq, _ := dialect.SQLiteDialect.SQLType(dialect.Text, dialect.Constraints{})
	require.Equal(t, "text", pg)
	require.Equal(t, "longtext", my)
	require.Equal(t, "text", sq)
}

func TestSQLTypeUnsupportedEnum(t *testing.T) {
	_, err := dialect.PostgresDialect.SQLType(dialect.Enum, dialect.Constraints{})
	require.Error(t, err)
}

func TestLimitClause(t *testing.T) {
	require.Equal(t, " limit 10", dialect.PostgresDialect.LimitClause(0, 10))
	require.Equal(t, " limit 10 offset 5", dialect.PostgresDialect.LimitClause(5, 10))
	require.Equal(t, " limit 5, 10", dialect.MySQLDialect.LimitClause(5, 10))
	require.Equal(t, " limit 10 offset 5", dialect.SQLiteDialect.LimitClause(5, 10))
}

func TestRegistry(t *testing.T) {
	d, ok := dialect.Lookup(dialect.Postgres)
	require.True(t, ok)
	require.Equal(t, dialect.Postgres, d.Name())

	_, ok = dialect.Lookup("unknown")
	require.False(t, ok)
}
