package sqlgen_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strata-orm/strata/sqlgen"
)

func TestScanSplitsTextAndPlaceholders(t *testing.T) {
	tokens, err := sqlgen.Scan(`select * from t where a = ? and b = :name`)
	require.NoError(t, err)
	require.Equal(t, []sqlgen.Token{
		{Kind: sqlgen.TokenText, Text: "select * from t where a = "},
		{Kind: sqlgen.TokenPositional},
		{Kind: sqlgen.TokenText, Text: " and b = "},
		{Kind: sqlgen.TokenNamed, Text: "name"},
	}, tokens)
}

func TestScanTreatsMarkersInsideStringLiteralsAsInert(t *testing.T) {
	tokens, err := sqlgen.Scan(`a = ? and b = 'literal :not_a_param ? either' and c = ?`)
	require.NoError(t, err)

	var kinds []sqlgen.TokenKind
	for _, tok := range tokens {
		kinds = append(kinds, tok.Kind)
	}
	require.Equal(t, []sqlgen.TokenKind{
		sqlgen.TokenText, sqlgen.TokenPositional, sqlgen.TokenText, sqlgen.TokenPositional,
	}, kinds)
}

func TestScanTreatsMarkersInsideCommentsAsInert(t *testing.T) {
	tokens, err := sqlgen.Scan("a = ? -- :skip this ? too\nand b = ?")
	require.NoError(t, err)

	var positional int
	for _, tok := range tokens {
		if tok.Kind == sqlgen.TokenPositional {
			positional++
		}
	}
	require.Equal(t, 2, positional)
}

func TestScanRejectsUnterminatedStringLiteral(t *testing.T) {
	_, err := sqlgen.Scan(`a = 'unterminated`)
	require.Error(t, err)
}

func TestScanRejectsUnterminatedBlockComment(t *testing.T) {
	_, err := sqlgen.Scan(`a = ? /* unterminated`)
	require.Error(t, err)
}

func TestExpandNamedRewritesNamedPlaceholderToPositional(t *testing.T) {
	stmt := sqlgen.Statement{
		SQL:    "select * from t where a = ? and b = :minYear",
		Params: []any{"x"},
	}
	got, err := sqlgen.ExpandNamed(stmt, map[string]any{"minYear": 1900})
	require.NoError(t, err)
	require.Equal(t, "select * from t where a = ? and b = ?", got.SQL)
	require.Equal(t, []any{"x", 1900}, got.Params)
}

func TestExpandNamedLeavesStatementWithNoNamedPlaceholdersUnchanged(t *testing.T) {
	stmt := sqlgen.Statement{SQL: "select * from t where a = ?", Params: []any{"x"}}
	got, err := sqlgen.ExpandNamed(stmt, nil)
	require.NoError(t, err)
	require.Equal(t, stmt.SQL, got.SQL)
	require.Equal(t, stmt.Params, got.Params)
}

func TestExpandNamedFailsOnUnknownName(t *testing.T) {
	stmt := sqlgen.Statement{SQL: "select * from t where a = :missing"}
	_, err := sqlgen.ExpandNamed(stmt, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing")
}

func TestExpandNamedFailsWhenParamsDontCoverEveryPositionalMarker(t *testing.T) {
	stmt := sqlgen.Statement{SQL: "select * from t where a = ? and b = ?", Params: []any{"x"}}
	_, err := sqlgen.ExpandNamed(stmt, nil)
	require.Error(t, err)
}
