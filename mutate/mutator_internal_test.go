package mutate

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/model"
)

// TestFallbackUpsertAlignsCompositeIDArgsWithWhereClause reproduces the bug
// this package's fallbackUpsert used to have: cols/vals can list a
// composite id's columns in a different order than ids, and the bound
// values for the WHERE clause's "col=?" placeholders (built in ids order)
// must still line up with them regardless.
func TestFallbackUpsertAlignsCompositeIDArgsWithWhereClause(t *testing.T) {
	tm := &model.TableMapping{TableName: "membership"}
	orgField := &model.Field{Column: "org_id", Kind: model.KindScalar, IsID: true}
	userField := &model.Field{Column: "user_id", Kind: model.KindScalar, IsID: true}
	ids := []*model.Field{orgField, userField} // WHERE clause order: org_id, then user_id

	// cols/vals list the composite id's columns in the opposite order from ids.
	cols := []string{"user_id", "org_id", "role"}
	vals := []any{int64(20), int64(10), "admin"}

	m := New(dialect.PostgresDialect, nil)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`update "membership" set "role"=\? where "org_id"=\? and "user_id"=\?`).
		WithArgs("admin", int64(10), int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.fallbackUpsert(context.Background(), db, tm, ids, cols, vals))
	require.NoError(t, mock.ExpectationsWereMet())
}
