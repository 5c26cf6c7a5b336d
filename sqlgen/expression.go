// Package sqlgen implements the SQL Emitter and its supporting pieces
// (spec.md §4.D, §4.E): the Expression parameter carrier, the `?`/`:name`
// parameter scanner, `{alias}.col` substitution, and SELECT/count/id-list
// plan assembly from an alias.QueryPlan.
package sqlgen

import "strings"

// Expression is a (text, parameters) pair: the emitter never
// string-interpolates a caller-supplied value, only ever appends it as a
// positional parameter alongside its placeholder (spec.md §4.D, "Parameter
// carrier").
type Expression struct {
	Text   string
	Params []any
}

// Append concatenates two expressions, preserving parameter order.
func (e Expression) Append(other Expression) Expression {
	return Expression{Text: e.Text + other.Text, Params: append(append([]any{}, e.Params...), other.Params...)}
}

// Join concatenates a slice of expressions with sep between each, like
// strings.Join but parameter-aware.
func Join(exprs []Expression, sep string) Expression {
	if len(exprs) == 0 {
		return Expression{}
	}
	var b strings.Builder
	var params []any
	for i, e := range exprs {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(e.Text)
		params = append(params, e.Params...)
	}
	return Expression{Text: b.String(), Params: params}
}
