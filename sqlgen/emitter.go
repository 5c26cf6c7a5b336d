package sqlgen

import (
	"fmt"
	"strings"

	"github.com/strata-orm/strata/alias"
	"github.com/strata-orm/strata/dialect"
)

// Fragment is one user-supplied SQL fragment (where/group/order/join
// condition/computed field), scoped to the alias that owns it so `{this}`
// and bare `{x}` tokens resolve correctly (spec.md §4.D).
type Fragment struct {
	Text      string
	Params    []any
	OwnerPath string // "" means the plan's root alias
}

// BuildOptions carries the caller-supplied fragments the SQL Emitter folds
// into the root SELECT plan (spec.md §4.D).
type BuildOptions struct {
	Where   []Fragment
	GroupBy []Fragment
	OrderBy []Fragment
	Limit   int // negative means unset
	Offset  int

	// NamedArgs resolves any `:name` placeholder appearing in Where/GroupBy/
	// OrderBy fragment text (spec.md §4.E); every such placeholder is
	// expanded to a positional `?` bound from this map before the Statement
	// is returned, so a named parameter never reaches the row source.
	NamedArgs map[string]any
}

// Statement is a fully assembled, parameterized SQL statement.
type Statement struct {
	SQL    string
	Params []any
}

// Emitter assembles Statements from a QueryPlan, per spec.md §4.D.
type Emitter struct {
	Dialect dialect.Dialect
	Plan    *alias.QueryPlan
}

func NewEmitter(d dialect.Dialect, plan *alias.QueryPlan) *Emitter {
	return &Emitter{Dialect: d, Plan: plan}
}

func (e *Emitter) quote(s string) string { return e.Dialect.QuoteIdentifier(s) }
func (e *Emitter) quoteCol(tableAlias, col string) string {
	return e.Dialect.QuoteIdentifier(tableAlias, col)
}

func (e *Emitter) resolve(path string) (string, bool) {
	if path == "" || path == e.Plan.Root.Path {
		return e.Plan.Root.PhysicalAlias, true
	}
	if a, ok := e.Plan.ByPath[path]; ok {
		return a.PhysicalAlias, true
	}
	return "", false
}

func (e *Emitter) substitute(frag Fragment) (Expression, error) {
	owner := frag.OwnerPath
	isRoot := owner == "" || owner == e.Plan.Root.Path
	scope := Scope{This: owner, IsRoot: isRoot, Resolve: e.resolve}
	if isRoot {
		scope.This = e.Plan.Root.Path
	}
	if a, ok := e.Plan.ByPath[owner]; ok {
		scope.LinkTable = a.JunctionAlias
	}
	text, err := Substitute(frag.Text, scope, e.quote)
	if err != nil {
		return Expression{}, err
	}
	return Expression{Text: text, Params: frag.Params}, nil
}

func idColumnOfAlias(a *alias.Alias) string {
	if len(a.IDFields) > 0 {
		return a.IDFields[0].Column
	}
	return "id"
}

// selectBase assembles the SELECT projection list and FROM/JOIN clauses:
// the part of a Select plan that depends only on the QueryPlan (the whole
// alias/join graph), never on a particular call's BuildOptions. It is the
// expensive part worth reusing across calls through a PlanCache.
func (e *Emitter) selectBase() (string, error) {
	var b strings.Builder

	b.WriteString("SELECT ")
	e.writeProjections(&b)

	b.WriteString(" FROM ")
	b.WriteString(e.quote(e.Plan.Root.PhysicalTable))
	b.WriteString(" AS ")
	b.WriteString(e.quote(e.Plan.Root.PhysicalAlias))

	if err := e.writeJoins(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Select builds the root SELECT Statement (spec.md §4.D).
func (e *Emitter) Select(opts BuildOptions) (Statement, error) {
	base, err := e.selectBase()
	if err != nil {
		return Statement{}, err
	}
	return e.selectTail(base, opts)
}

// selectTail appends the WHERE/GROUP BY/ORDER BY/LIMIT clauses to a
// previously assembled base clause (either freshly built by selectBase, or
// read back from a PlanCache) and binds every param in final statement
// order. Splitting this out of Select lets SelectCached skip selectBase's
// alias-graph walk on a cache hit while still always recomputing this part,
// since it is call-specific.
func (e *Emitter) selectTail(base string, opts BuildOptions) (Statement, error) {
	var b strings.Builder
	var params []any
	b.WriteString(base)

	whereExpr, err := e.joinFragments(opts.Where, " AND ")
	if err != nil {
		return Statement{}, err
	}
	if whereExpr.Text != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereExpr.Text)
		params = append(params, whereExpr.Params...)
	}

	groupExpr, err := e.joinFragments(opts.GroupBy, ", ")
	if err != nil {
		return Statement{}, err
	}
	if groupExpr.Text != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(groupExpr.Text)
		params = append(params, groupExpr.Params...)
	}

	orderExpr, err := e.joinFragments(opts.OrderBy, ", ")
	if err != nil {
		return Statement{}, err
	}
	if orderExpr.Text != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderExpr.Text)
		params = append(params, orderExpr.Params...)
	}

	if opts.Limit >= 0 {
		b.WriteString(e.Dialect.LimitClause(opts.Offset, opts.Limit))
	}

	return ExpandNamed(Statement{SQL: b.String(), Params: params}, opts.NamedArgs)
}

// Count builds the "SELECT COUNT(DISTINCT <root id columns>) ..." plan
// (spec.md §4.D, "Count plan").
func (e *Emitter) Count(where []Fragment, namedArgs map[string]any) (Statement, error) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(DISTINCT ")
	e.writeIDColumns(&b, e.Plan.Root)
	b.WriteString(") FROM ")
	b.WriteString(e.quote(e.Plan.Root.PhysicalTable))
	b.WriteString(" AS ")
	b.WriteString(e.quote(e.Plan.Root.PhysicalAlias))
	if err := e.writeJoins(&b); err != nil {
		return Statement{}, err
	}
	whereExpr, err := e.joinFragments(where, " AND ")
	if err != nil {
		return Statement{}, err
	}
	if whereExpr.Text != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereExpr.Text)
	}
	return ExpandNamed(Statement{SQL: b.String(), Params: whereExpr.Params}, namedArgs)
}

// IDList builds the "SELECT DISTINCT <root id columns> ..." plan used for
// two-phase pagination (spec.md §4.D, "Id-list plan").
func (e *Emitter) IDList(opts BuildOptions) (Statement, error) {
	var b strings.Builder
	b.WriteString("SELECT DISTINCT ")
	e.writeIDColumns(&b, e.Plan.Root)
	b.WriteString(" FROM ")
	b.WriteString(e.quote(e.Plan.Root.PhysicalTable))
	b.WriteString(" AS ")
	b.WriteString(e.quote(e.Plan.Root.PhysicalAlias))
	if err := e.writeJoins(&b); err != nil {
		return Statement{}, err
	}

	var params []any
	whereExpr, err := e.joinFragments(opts.Where, " AND ")
	if err != nil {
		return Statement{}, err
	}
	if whereExpr.Text != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereExpr.Text)
		params = append(params, whereExpr.Params...)
	}
	orderExpr, err := e.joinFragments(opts.OrderBy, ", ")
	if err != nil {
		return Statement{}, err
	}
	if orderExpr.Text != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderExpr.Text)
		params = append(params, orderExpr.Params...)
	}
	if opts.Limit >= 0 {
		b.WriteString(e.Dialect.LimitClause(opts.Offset, opts.Limit))
	}
	return ExpandNamed(Statement{SQL: b.String(), Params: params}, opts.NamedArgs)
}

func (e *Emitter) writeIDColumns(b *strings.Builder, a *alias.Alias) {
	for i, f := range a.IDFields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.quoteCol(a.PhysicalAlias, f.Column))
	}
}

func (e *Emitter) joinFragments(frags []Fragment, sep string) (Expression, error) {
	if len(frags) == 0 {
		return Expression{}, nil
	}
	exprs := make([]Expression, 0, len(frags))
	for _, f := range frags {
		expr, err := e.substitute(f)
		if err != nil {
			return Expression{}, err
		}
		exprs = append(exprs, expr)
	}
	return Join(exprs, sep), nil
}

func (e *Emitter) writeProjections(b *strings.Builder) {
	first := true
	write := func(physicalAlias, column, label string) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(b, "%s AS %s", e.quoteCol(physicalAlias, column), e.quote(label))
	}
	for _, a := range e.Plan.Aliases {
		for _, cj := range a.ChainJoins {
			for _, f := range cj.Fields {
				write(f.PhysicalAlias, f.Column, f.Label)
			}
		}
		for _, f := range a.Fields {
			write(f.PhysicalAlias, f.Column, f.Label)
		}
		for _, lv := range a.LinkedValues {
			write(lv.JunctionAlias, lv.Column, lv.Label)
		}
	}
}

// writeJoins emits every join in plan order: each alias's own table-chain
// INNER JOINs first, then its own LEFT/INNER JOIN clause (spec.md §4.C
// "Tie-breaks": superclass chain first, then declared fields in source
// order — the same order QueryPlan.Aliases already carries).
func (e *Emitter) writeJoins(b *strings.Builder) error {
	for _, a := range e.Plan.Aliases {
		for _, cj := range a.ChainJoins {
			fmt.Fprintf(b, " INNER JOIN %s AS %s ON %s=%s",
				e.quote(cj.PhysicalTable), e.quote(cj.PhysicalAlias),
				e.quoteCol(a.PhysicalAlias, idColumnOfAlias(a)),
				e.quoteCol(cj.PhysicalAlias, cj.IDColumn))
		}
		switch a.Join {
		case alias.JoinRoot, alias.JoinNone:
			continue
		case alias.JoinInner, alias.JoinLeft:
			keyword := "LEFT JOIN"
			if a.Join == alias.JoinInner {
				keyword = "INNER JOIN"
			}
			fmt.Fprintf(b, " %s %s AS %s ON ", keyword, e.quote(a.PhysicalTable), e.quote(a.PhysicalAlias))
			if a.CustomJoinCondition != "" {
				cond, err := e.substitute(Fragment{Text: a.CustomJoinCondition, OwnerPath: a.Path})
				if err != nil {
					return err
				}
				b.WriteString(cond.Text)
			} else {
				b.WriteString(e.quoteCol(a.JoinLeftAlias, a.JoinLeftCol))
				b.WriteString("=")
				b.WriteString(e.quoteCol(a.PhysicalAlias, a.JoinRightCol))
			}
		}
	}
	return nil
}
