package alias_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/alias"
	"github.com/strata-orm/strata/model"
)

type blogUser struct {
	model.Table `strata:"table=user"`
	ID          int64 `strata:"id"`
	FirstName   string
	LastName    string
}

type blogComment struct {
	model.Table `strata:"table=comment"`
	ID          int64 `strata:"id"`
	ArticleID   int64 `strata:"column=article_id"`
	Text        string
	Author      blogUser
}

type blogArticle struct {
	model.Table `strata:"table=article"`
	ID          int64  `strata:"id"`
	Title       string
	Content     string
	Author      blogUser
	Comments    []blogComment
}

// TestPlanBlogArticle reproduces the spec's blog-article golden scenario
// (article -> author, article -> comments -> author) and checks the plan's
// alias/join shape and projection order against it.
func TestPlanBlogArticle(t *testing.T) {
	node, err := model.Analyze(reflect.TypeOf(blogArticle{}))
	require.NoError(t, err)

	plan, err := alias.Plan(node)
	require.NoError(t, err)

	require.Equal(t, "article", plan.Root.PhysicalAlias)
	require.Equal(t, "article", plan.Root.PhysicalTable)

	var paths []string
	for _, a := range plan.Aliases {
		paths = append(paths, a.Path)
	}
	require.Equal(t, []string{"article", "author", "comments", "comments.author"}, paths)

	author := plan.ByPath["author"]
	require.Equal(t, alias.JoinLeft, author.Join)
	require.Equal(t, "user", author.PhysicalTable)
	require.Equal(t, "article", author.JoinLeftAlias)
	require.Equal(t, "author_id", author.JoinLeftCol)
	require.Equal(t, "id", author.JoinRightCol)

	comments := plan.ByPath["comments"]
	require.Equal(t, alias.JoinLeft, comments.Join)
	require.Equal(t, "comment", comments.PhysicalTable)
	require.Equal(t, "article", comments.JoinLeftAlias)
	require.Equal(t, "id", comments.JoinLeftCol)
	require.Equal(t, "article_id", comments.JoinRightCol)

	commentsAuthor := plan.ByPath["comments.author"]
	require.Equal(t, "comments", commentsAuthor.JoinLeftAlias)
	require.Equal(t, "author_id", commentsAuthor.JoinLeftCol)

	var authorLabels []string
	for _, f := range author.Fields {
		authorLabels = append(authorLabels, f.Label)
	}
	require.Equal(t, []string{"author.id", "author.firstName", "author.lastName"}, authorLabels)

	var rootColumns []string
	for _, f := range plan.Root.Fields {
		rootColumns = append(rootColumns, f.Column)
	}
	require.Equal(t, []string{"id", "title", "content"}, rootColumns)
}
