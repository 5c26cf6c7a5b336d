package sqlgen_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/alias"
	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/model"
	"github.com/strata-orm/strata/sqlgen"
)

type emitterUser struct {
	model.Table `strata:"table=user"`
	ID          int64 `strata:"id"`
	FirstName   string
	LastName    string
}

type emitterComment struct {
	model.Table `strata:"table=comment"`
	ID          int64 `strata:"id"`
	ArticleID   int64 `strata:"column=article_id"`
	Text        string
	Author      emitterUser
}

type emitterArticle struct {
	model.Table `strata:"table=article"`
	ID          int64 `strata:"id"`
	Title       string
	Content     string
	Author      emitterUser
	Comments    []emitterComment
}

// TestSelectBlogArticle reproduces spec.md §8's blog-article golden scenario.
// The prose in §8 elides identifier quoting and the "AS alias.field" output
// labels for readability; §4.D's algorithmic description mandates both, so
// this test checks join/column shape and ordering rather than a byte-exact
// match against the abbreviated golden text.
func TestSelectBlogArticle(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(emitterArticle{}))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)

	e := sqlgen.NewEmitter(dialect.PostgresDialect, plan)
	stmt, err := e.Select(sqlgen.BuildOptions{Limit: -1})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(stmt.SQL, `SELECT "article"."id" AS "article.id", "article"."title" AS "article.title", "article"."content" AS "article.content", `+
		`"author"."id" AS "author.id", "author"."firstName" AS "author.firstName", "author"."lastName" AS "author.lastName", `+
		`"comments"."id" AS "comments.id", "comments"."article_id" AS "comments.articleID", "comments"."text" AS "comments.text", `+
		`"comments.author"."id" AS "comments.author.id", "comments.author"."firstName" AS "comments.author.firstName", "comments.author"."lastName" AS "comments.author.lastName" `+
		`FROM "article" AS "article"`), stmt.SQL)

	require.Contains(t, stmt.SQL, `LEFT JOIN "user" AS "author" ON "article"."author_id"="author"."id"`)
	require.Contains(t, stmt.SQL, `LEFT JOIN "comment" AS "comments" ON "article"."id"="comments"."article_id"`)
	require.Contains(t, stmt.SQL, `LEFT JOIN "user" AS "comments.author" ON "comments"."author_id"="comments.author"."id"`)

	require.True(t, strings.Index(stmt.SQL, `AS "author"`) < strings.Index(stmt.SQL, `AS "comments"`))
	require.True(t, strings.Index(stmt.SQL, `AS "comments"`) < strings.Index(stmt.SQL, `AS "comments.author"`))
	require.Empty(t, stmt.Params)
}

func TestSelectWhereAndOrderAndLimit(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(emitterArticle{}))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)

	e := sqlgen.NewEmitter(dialect.PostgresDialect, plan)
	stmt, err := e.Select(sqlgen.BuildOptions{
		Where:   []sqlgen.Fragment{{Text: "{title} = ?", Params: []any{"hello"}}},
		OrderBy: []sqlgen.Fragment{{Text: "{id}"}},
		Limit:   10,
		Offset:  5,
	})
	require.NoError(t, err)
	require.Contains(t, stmt.SQL, `WHERE "article"."title" = ?`)
	require.Contains(t, stmt.SQL, `ORDER BY "article"."id"`)
	require.Contains(t, stmt.SQL, `limit 10 offset 5`)
	require.Equal(t, []any{"hello"}, stmt.Params)
}

func TestCountPlan(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(emitterArticle{}))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)

	e := sqlgen.NewEmitter(dialect.MySQLDialect, plan)
	stmt, err := e.Count(nil, nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stmt.SQL, "SELECT COUNT(DISTINCT `article`.`id`) FROM `article` AS `article`"))
	require.Contains(t, stmt.SQL, "LEFT JOIN `user` AS `author`")
}

func TestIDListPlan(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(emitterArticle{}))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)

	e := sqlgen.NewEmitter(dialect.SQLiteDialect, plan)
	stmt, err := e.IDList(sqlgen.BuildOptions{Limit: 20})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stmt.SQL, `SELECT DISTINCT "article"."id" FROM "article" AS "article"`))
	require.Contains(t, stmt.SQL, "limit 20")
}

func TestSubstituteUnknownAliasFails(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(emitterArticle{}))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)

	e := sqlgen.NewEmitter(dialect.PostgresDialect, plan)
	_, err = e.Select(sqlgen.BuildOptions{
		Where: []sqlgen.Fragment{{Text: "{nope.field} = ?", Params: []any{1}}},
		Limit: -1,
	})
	require.Error(t, err)
}
