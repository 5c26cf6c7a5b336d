package rowsource_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/rowsource"
)

func TestQueryMapsColumnsToRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("select").WillReturnRows(
		sqlmock.NewRows([]string{"article.id", "article.title"}).
			AddRow(int64(1), "First Post").
			AddRow(int64(2), "Second Post"),
	)

	source := rowsource.Open(db)
	cursor, err := source.Query(context.Background(), rowsource.Statement{Text: "select ..."})
	require.NoError(t, err)
	defer cursor.Close()

	var rows []rowsource.Row
	for cursor.Next(context.Background()) {
		row, err := cursor.Row()
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.NoError(t, cursor.Err())

	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0]["article.id"])
	require.Equal(t, "Second Post", rows[1]["article.title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteReportsAffectedRowsAndGeneratedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("insert into article").
		WithArgs("New Post").
		WillReturnResult(sqlmock.NewResult(7, 1))

	source := rowsource.Open(db)
	result, err := source.Execute(context.Background(), rowsource.Statement{
		Text: "insert into article (title) values (?)",
		Args: []any{"New Post"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.AffectedRows)
	require.Equal(t, []any{int64(7)}, result.GeneratedIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginTransactionCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update article").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	source := rowsource.Open(db)
	tx, err := source.BeginTransaction(context.Background())
	require.NoError(t, err)

	_, err = tx.Execute(context.Background(), rowsource.Statement{Text: "update article set title = ?", Args: []any{"x"}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionDoesNotNest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	source := rowsource.Open(db)
	tx, err := source.BeginTransaction(context.Background())
	require.NoError(t, err)

	_, err = tx.BeginTransaction(context.Background())
	require.Error(t, err)
}
