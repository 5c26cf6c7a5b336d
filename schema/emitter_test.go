package schema_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/model"
	"github.com/strata-orm/strata/schema"
)

type schemaAuthor struct {
	model.Table `strata:"table=author"`
	ID          int64 `strata:"id"`
	Name        string
}

type schemaArticle struct {
	model.Table `strata:"table=article"`
	ID          int64  `strata:"id"`
	Title       string `strata:"len=255"`
	Author      *schemaAuthor `strata:"fk=author_id,ondelete=cascade"`
}

type schemaParty struct {
	model.Table `strata:"table=party"`
	ID          int64 `strata:"id"`
	Kind        string
}

type schemaCustomer struct {
	schemaParty
	model.Table `strata:"table=customer"`
	ID          int64 `strata:"id"`
	Email       string
}

func nodeOf(t *testing.T, v any) *model.Node {
	t.Helper()
	node, err := model.Analyze(reflect.TypeOf(v))
	require.NoError(t, err)
	return node
}

func TestCreateStatementsOrdersForeignKeysAfterTheirTargets(t *testing.T) {
	article := nodeOf(t, schemaArticle{})
	e := schema.New(dialect.PostgresDialect)

	stmts, err := e.CreateStatements(article)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	require.Contains(t, stmts[0], `create table "author"`)
	require.Contains(t, stmts[1], `create table "article"`)
	require.Contains(t, stmts[1], `foreign key ("author_id") references "author" ("id")`)
	require.Contains(t, stmts[1], "on delete cascade")
}

func TestCreateStatementsOrdersJoinedInheritanceChain(t *testing.T) {
	customer := nodeOf(t, schemaCustomer{})
	e := schema.New(dialect.MySQLDialect)

	stmts, err := e.CreateStatements(customer)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	require.Contains(t, stmts[0], "create table `party`")
	require.Contains(t, stmts[1], "create table `customer`")
	require.Contains(t, stmts[1], "foreign key (`id`) references `party` (`id`)")
}

func TestCreateStatementsMySQLAutoIncrementAndEngineSuffix(t *testing.T) {
	author := nodeOf(t, schemaAuthor{})
	e := schema.New(dialect.MySQLDialect)

	stmts, err := e.CreateStatements(author)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	require.Contains(t, stmts[0], "`id` bigint AUTO_INCREMENT not null")
	require.Contains(t, stmts[0], "primary key (`id`)")
	require.Contains(t, stmts[0], "engine=innodb")
}

func TestCreateStatementsPostgresSerialHasNoSeparateClause(t *testing.T) {
	author := nodeOf(t, schemaAuthor{})
	e := schema.New(dialect.PostgresDialect)

	stmts, err := e.CreateStatements(author)
	require.NoError(t, err)
	require.Contains(t, stmts[0], `"id" bigserial not null`)
}
