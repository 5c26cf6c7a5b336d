package reduce_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/reduce"
	"github.com/strata-orm/strata/sqlgen"
)

// TestStreamerEmitsRootsInOrder feeds a root-ordered, two-article result set
// through the Streaming Driver and checks that each article is emitted
// exactly once, as soon as its row-group ends, with its comments fully
// populated at emit time.
func TestStreamerEmitsRootsInOrder(t *testing.T) {
	plan := planOf(t, reduceArticle{})
	labels := []string{
		"article.id", "article.title",
		"author.id", "author.firstName", "author.lastName",
		"comments.id", "comments.articleID", "comments.text",
		"comments.author.id", "comments.author.firstName", "comments.author.lastName",
	}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(labels).
		AddRow(int64(1), "First Post", int64(10), "Ada", "Lovelace", int64(100), int64(1), "Nice!", int64(10), "Ada", "Lovelace").
		AddRow(int64(1), "First Post", int64(10), "Ada", "Lovelace", int64(101), int64(1), "Agreed", int64(11), "Bob", "Builder").
		AddRow(int64(2), "Second Post", int64(11), "Bob", "Builder", int64(102), int64(2), "Great", int64(10), "Ada", "Lovelace")
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	sqlRows, err := db.Query("SELECT")
	require.NoError(t, err)

	var emitted []*reduceArticle
	err = reduce.NewStreamer(plan).Run(context.Background(), sqlRows, func(v any) error {
		emitted = append(emitted, v.(*reduceArticle))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, emitted, 2)

	require.Equal(t, int64(1), emitted[0].ID)
	require.Len(t, emitted[0].Comments, 2)
	require.Equal(t, "Bob", emitted[0].Comments[1].Author.LastName)

	require.Equal(t, int64(2), emitted[1].ID)
	require.Len(t, emitted[1].Comments, 1)
	require.Equal(t, "Great", emitted[1].Comments[0].Text)

	// The second article's comment reuses Ada's row (id 10), already seen as
	// the first article's author: the identity map must still resolve it to
	// the same underlying value, even though the first article has already
	// been flushed and emitted.
	require.Equal(t, emitted[0].Author.FirstName, emitted[1].Comments[0].Author.FirstName)
}

// TestStreamerDetectsOrderViolation asserts that a root id reappearing after
// its row-group has already been flushed is reported as a StreamError rather
// than silently reopening (and corrupting) an already-emitted entity.
func TestStreamerDetectsOrderViolation(t *testing.T) {
	plan := planOf(t, reduceArticle{})
	labels := []string{
		"article.id", "article.title",
		"author.id", "author.firstName", "author.lastName",
		"comments.id", "comments.articleID", "comments.text",
		"comments.author.id", "comments.author.firstName", "comments.author.lastName",
	}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows(labels).
		AddRow(int64(1), "First Post", int64(10), "Ada", "Lovelace", int64(100), int64(1), "Nice!", int64(10), "Ada", "Lovelace").
		AddRow(int64(2), "Second Post", int64(11), "Bob", "Builder", int64(102), int64(2), "Great", int64(10), "Ada", "Lovelace").
		AddRow(int64(1), "First Post", int64(10), "Ada", "Lovelace", int64(101), int64(1), "Agreed", int64(11), "Bob", "Builder")
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	sqlRows, err := db.Query("SELECT")
	require.NoError(t, err)

	err = reduce.NewStreamer(plan).Run(context.Background(), sqlRows, func(v any) error {
		return nil
	})
	require.Error(t, err)
	var streamErr *reduce.StreamError
	require.ErrorAs(t, err, &streamErr)
}

// TestPrepareStreamOrderDefaultsToRootIDColumns reproduces spec.md §8's
// "caller supplies no order-by" case: the root entity's id columns are used.
func TestPrepareStreamOrderDefaultsToRootIDColumns(t *testing.T) {
	plan := planOf(t, reduceArticle{})
	opts, err := reduce.NewStreamer(plan).PrepareStreamOrder(sqlgen.BuildOptions{})
	require.NoError(t, err)
	require.Len(t, opts.OrderBy, 1)
	require.Equal(t, "{this}.id", opts.OrderBy[0].Text)
}

// TestPrepareStreamOrderAcceptsRootOrderBy checks that an explicit order-by
// naming the root alias (by path, or by leaving OwnerPath empty) passes
// through unchanged.
func TestPrepareStreamOrderAcceptsRootOrderBy(t *testing.T) {
	plan := planOf(t, reduceArticle{})
	streamer := reduce.NewStreamer(plan)

	opts, err := streamer.PrepareStreamOrder(sqlgen.BuildOptions{
		OrderBy: []sqlgen.Fragment{{Text: "{this}.title"}},
	})
	require.NoError(t, err)
	require.Equal(t, "{this}.title", opts.OrderBy[0].Text)

	opts, err = streamer.PrepareStreamOrder(sqlgen.BuildOptions{
		OrderBy: []sqlgen.Fragment{{Text: "{this}.title", OwnerPath: plan.Root.Path}},
	})
	require.NoError(t, err)
	require.Equal(t, "{this}.title", opts.OrderBy[0].Text)
}

// TestPrepareStreamOrderRejectsNonRootOrderBy reproduces spec.md §8's
// streaming order contract seed: ordering by a joined alias ("comments",
// here standing in for "books.year") fails before execution with a
// descriptive error.
func TestPrepareStreamOrderRejectsNonRootOrderBy(t *testing.T) {
	plan := planOf(t, reduceArticle{})
	_, err := reduce.NewStreamer(plan).PrepareStreamOrder(sqlgen.BuildOptions{
		OrderBy: []sqlgen.Fragment{{Text: "{this}.text", OwnerPath: "comments"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "order by a root column")
}
