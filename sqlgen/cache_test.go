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

type cacheArticle struct {
	model.Table `strata:"table=article"`
	ID          int64 `strata:"id"`
	Title       string
}

func TestSelectCachedMatchesSelectOnMiss(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(cacheArticle{}))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)
	e := sqlgen.NewEmitter(dialect.PostgresDialect, plan)

	want, err := e.Select(sqlgen.BuildOptions{Limit: -1})
	require.NoError(t, err)

	cache := sqlgen.NewPlanCache()
	got, err := e.SelectCached(cache, "cacheArticle", sqlgen.BuildOptions{Limit: -1})
	require.NoError(t, err)
	require.Equal(t, want.SQL, got.SQL)
}

func TestSelectCachedReusesEntryAcrossCalls(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(cacheArticle{}))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)
	e := sqlgen.NewEmitter(dialect.PostgresDialect, plan)
	cache := sqlgen.NewPlanCache()

	first, err := e.SelectCached(cache, "cacheArticle", sqlgen.BuildOptions{
		Where: []sqlgen.Fragment{{Text: "{this}.title = ?", Params: []any{"Ada"}}},
		Limit: -1,
	})
	require.NoError(t, err)

	second, err := e.SelectCached(cache, "cacheArticle", sqlgen.BuildOptions{
		Where: []sqlgen.Fragment{{Text: "{this}.title = ?", Params: []any{"Grace"}}},
		Limit: -1,
	})
	require.NoError(t, err)

	require.Contains(t, first.SQL, `.title = ?`)
	require.Equal(t, []any{"Ada"}, first.Params)
	require.Equal(t, []any{"Grace"}, second.Params)
	// Same base clause reused from cache: only the WHERE-bound params differ.
	firstBase := strings.SplitN(first.SQL, " WHERE ", 2)[0]
	secondBase := strings.SplitN(second.SQL, " WHERE ", 2)[0]
	require.Equal(t, firstBase, secondBase)
}

func TestMarshalCachedSQLRoundTrips(t *testing.T) {
	data, err := sqlgen.MarshalCachedSQL(`SELECT "article"."id" FROM "article" AS "article"`)
	require.NoError(t, err)

	sql, err := sqlgen.UnmarshalCachedSQL(data)
	require.NoError(t, err)
	require.Equal(t, `SELECT "article"."id" FROM "article" AS "article"`, sql)
}
