// Package alias implements the Alias Planner (spec.md §4.C): turning a
// classified model.Node into a QueryPlan — a dotted alias namespace, the
// join edges between them, and the projection list each alias contributes.
package alias

import "github.com/strata-orm/strata/model"

// JoinKind is how an Alias attaches to the rest of the plan.
type JoinKind int

const (
	JoinRoot  JoinKind = iota // the plan's root entity; no join, no parent
	JoinNone                  // embedded group or single-table subclass branch: no SQL join, shares the parent's physical table alias
	JoinInner                 // multi-table inheritance chain link (shared id)
	JoinLeft                  // relation or table-per-subclass branch
)

// ProjectedField is one column an Alias contributes to the SELECT list.
type ProjectedField struct {
	Field         *model.Field
	PhysicalAlias string // the quoted-at-emit-time SQL table alias this column is read from
	Column        string // physical column name
	Label         string // output key, "{alias}.{fieldName}"
}

// ChainJoin is one ancestor table in a multi-table-inheritance chain,
// INNER JOINed to the owning Alias's physical alias on the shared id
// (spec.md §4.C, "Multi-table inheritance (super-chain)").
type ChainJoin struct {
	PhysicalAlias string
	PhysicalTable string
	IDColumn      string // column on PhysicalTable joined against the owner's id
	Fields        []ProjectedField
}

// LinkedValue is a fetchColumn projection from a LinkMany field: a scalar
// sequence rather than an entity sequence (spec.md §4.C, LinkMany "If a
// fetchColumn is given...").
type LinkedValue struct {
	Field         *model.Field
	JunctionAlias string
	Column        string
	Label         string
}

// Alias is one node of the dotted alias namespace: an entity (root or
// relation target), an embedded group, or a subclass branch. A junction-table
// hop for a LinkMany field is also an Alias, with a nil Node: it appears in
// QueryPlan.Aliases so its join is emitted, but not in QueryPlan.ByPath.
type Alias struct {
	Path   string // dotted path, e.g. "article", "comments", "comments.author"
	Node   *model.Node
	Parent *Alias
	ParentField *model.Field // the field on Parent that produced this alias; nil for root

	Join          JoinKind
	PhysicalTable string // "" for JoinNone (embedded / single-table branch)
	PhysicalAlias string // SQL table alias used in FROM/JOIN and in {alias}.col substitution

	// Join predicate, meaningful when Join is JoinLeft or JoinInner: the
	// condition is "{JoinLeftAlias}.{JoinLeftCol} = {PhysicalAlias}.{JoinRightCol}",
	// unless CustomJoinCondition overrides it entirely.
	JoinLeftAlias       string
	JoinLeftCol         string
	JoinRightCol        string
	CustomJoinCondition string

	ChainJoins []*ChainJoin // ancestor tables in this entity's own table chain

	JunctionAlias string // physical alias of the link-table junction row feeding this alias, set only on a LinkMany target

	IsSubclassBranch bool
	Branch           *model.Branch
	Discriminator    string // non-empty on a single-table branch alias: the discriminator column on the parent's physical alias

	OtherBagField *model.Field // set when this entity has an @Other catch-all field

	Fields       []ProjectedField
	LinkedValues []LinkedValue // fetchColumn projections rooted at this alias
	IDFields     []*model.Field
}

// QueryPlan is the immutable result of planning (spec.md §5: "QueryPlan is
// immutable after construction and safe for concurrent use").
type QueryPlan struct {
	RootType string
	Root     *Alias
	Aliases  []*Alias // plan visit order: superclass chain first, then declared fields in source order (spec.md §4.C "Tie-breaks")
	ByPath   map[string]*Alias
}

func (p *QueryPlan) addAlias(a *Alias) {
	p.Aliases = append(p.Aliases, a)
	p.ByPath[a.Path] = a
}

func idColumn(n *model.Node) string {
	if len(n.IDFields) == 0 {
		return ""
	}
	return n.IDFields[0].Column
}
