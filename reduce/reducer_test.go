package reduce_test

import (
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/alias"
	"github.com/strata-orm/strata/model"
	"github.com/strata-orm/strata/reduce"
)

type reduceUser struct {
	model.Table `strata:"table=user"`
	ID          int64 `strata:"id"`
	FirstName   string
	LastName    string
}

type reduceComment struct {
	model.Table `strata:"table=comment"`
	ID          int64 `strata:"id"`
	ArticleID   int64 `strata:"column=article_id"`
	Text        string
	Author      reduceUser
}

type reduceArticle struct {
	model.Table `strata:"table=article"`
	ID          int64 `strata:"id"`
	Title       string
	Author      reduceUser
	Comments    []reduceComment
}

func planOf(t *testing.T, v any) *alias.QueryPlan {
	t.Helper()
	node, err := model.Analyze(reflect.TypeOf(v))
	require.NoError(t, err)
	plan, err := alias.Plan(node)
	require.NoError(t, err)
	return plan
}

// TestReduceSharedAuthorAndComments reproduces spec.md §8's blog-article
// scenario: one article, a shared author reused by both the article and
// each comment would be (were it the same row) and two comments, rebuilt
// from a flat, fanned-out result set.
func TestReduceSharedAuthorAndComments(t *testing.T) {
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
		AddRow(int64(1), "Hello World", int64(10), "Ada", "Lovelace", int64(100), int64(1), "First!", int64(10), "Ada", "Lovelace").
		AddRow(int64(1), "Hello World", int64(10), "Ada", "Lovelace", int64(101), int64(1), "Second!", int64(11), "Bob", "Builder")
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	sqlRows, err := db.Query("SELECT")
	require.NoError(t, err)

	entities, err := reduce.New(plan).Reduce(sqlRows)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	article := entities[0].(*reduceArticle)
	require.Equal(t, int64(1), article.ID)
	require.Equal(t, "Hello World", article.Title)
	require.Equal(t, "Ada", article.Author.FirstName)
	require.Len(t, article.Comments, 2)
	require.Equal(t, "First!", article.Comments[0].Text)
	require.Equal(t, "Bob", article.Comments[1].Author.LastName)

	// The article's own author and the first comment's author share the same
	// underlying row (id 10): the reducer's identity map must hand back the
	// very same object, not two separately-populated copies.
	require.Same(t, &article.Author, &article.Comments[0].Author)
}

type reduceRoom struct {
	model.Table `strata:"table=room"`
	ID          int64 `strata:"id"`
	Area        float64
}

type reduceApartment struct {
	model.Table `strata:"table=apartment"`
	ID          int64 `strata:"id"`
	Floor       int
}

type reduceUnitBranches struct {
	Room      *reduceRoom
	Apartment *reduceApartment
}

type reduceBuilding struct {
	model.Table `strata:"table=building"`
	ID          int64 `strata:"id"`
	Name        string
	Units       []reduceUnitBranches `strata:"subclasses"`
}

// TestReduceTablePerSubclass exercises table-per-subclass resolution: each
// branch is its own LEFT JOIN, selected by which branch's id column is
// non-null on a given row. childPath drops the root alias's own name, so
// the Room/Apartment branches plan as bare "room"/"apartment" aliases.
func TestReduceTablePerSubclass(t *testing.T) {
	plan := planOf(t, reduceBuilding{})
	require.NotNil(t, plan.ByPath["room"])
	require.NotNil(t, plan.ByPath["apartment"])

	labels := []string{
		"building.id", "building.name",
		"room.id", "room.area",
		"apartment.id", "apartment.floor",
	}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The row matches the Room branch; the Apartment branch's id is NULL.
	rows := sqlmock.NewRows(labels).
		AddRow(int64(1), "Tower", int64(1), 42.5, nil, nil)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	sqlRows, err := db.Query("SELECT")
	require.NoError(t, err)

	entities, err := reduce.New(plan).Reduce(sqlRows)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	building := entities[0].(*reduceBuilding)
	require.Equal(t, "Tower", building.Name)
	require.Len(t, building.Units, 1)
	require.NotNil(t, building.Units[0].Room)
	require.Nil(t, building.Units[0].Apartment)
	require.Equal(t, int64(1), building.Units[0].Room.ID)
	require.Equal(t, 42.5, building.Units[0].Room.Area)
}
