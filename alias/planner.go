package alias

import (
	"fmt"
	"unicode"

	"github.com/strata-orm/strata/model"
)

type plannerError struct{ message string }

func (e *plannerError) Error() string { return "strata: alias planner: " + e.message }

func errf(format string, args ...any) error {
	return &plannerError{message: fmt.Sprintf(format, args...)}
}

// Plan computes the QueryPlan for node, per spec.md §4.C.
func Plan(node *model.Node) (*QueryPlan, error) {
	concrete := node.ConcreteTable()
	if concrete == nil {
		return nil, errf("record type %s has no table", node.Type)
	}
	p := &QueryPlan{RootType: node.Type.String(), ByPath: map[string]*Alias{}}
	root := &Alias{
		Path:          concrete.TableName,
		Node:          node,
		Join:          JoinRoot,
		PhysicalTable: concrete.TableName,
		PhysicalAlias: concrete.TableName,
		IDFields:      node.IDFields,
	}
	p.addAlias(root)
	p.Root = root
	if err := p.planEntity(root, node); err != nil {
		return nil, err
	}
	return p, nil
}

// childPath computes a relation's dotted alias, per the blog-article golden
// scenario in spec.md §8: a direct child of the root drops the root table
// name entirely ("author", "comments"), while deeper nesting chains off the
// parent's own path ("comments.author").
func childPath(parent *Alias, fieldName string) string {
	name := decapitalize(fieldName)
	if parent.Join == JoinRoot {
		return name
	}
	return parent.Path + "." + name
}

func decapitalize(s string) string {
	r := []rune(s)
	for i := 0; i < len(r) && unicode.IsUpper(r[i]); i++ {
		if i > 0 && i+1 < len(r) && unicode.IsLower(r[i+1]) {
			break
		}
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}

func projectedField(owner *Alias, f *model.Field, physicalAlias string) ProjectedField {
	return ProjectedField{Field: f, PhysicalAlias: physicalAlias, Column: f.Column, Label: owner.Path + "." + decapitalize(f.GoName)}
}

// planEntity projects an entity alias's own scalar/computed columns (walking
// its table chain, INNER-joining ancestor tables), then recurses into its
// relation fields in table-chain then declaration order (spec.md §4.C
// "Tie-breaks").
func (p *QueryPlan) planEntity(a *Alias, node *model.Node) error {
	chain := node.TableChain
	for i := 0; i < len(chain)-1; i++ {
		tm := chain[i]
		cj := &ChainJoin{
			PhysicalAlias: a.PhysicalAlias + "$" + tm.TableName,
			PhysicalTable: tm.TableName,
			IDColumn:      idColumnOf(tm),
		}
		for _, f := range tm.OwnFields {
			if f.Kind == model.KindScalar || f.Kind == model.KindComputed {
				cj.Fields = append(cj.Fields, projectedField(a, f, cj.PhysicalAlias))
			}
		}
		a.ChainJoins = append(a.ChainJoins, cj)
	}

	concrete := chain[len(chain)-1]
	for _, f := range concrete.OwnFields {
		if f.Kind == model.KindScalar || f.Kind == model.KindComputed {
			a.Fields = append(a.Fields, projectedField(a, f, a.PhysicalAlias))
		}
	}

	for _, tm := range chain {
		for _, f := range tm.OwnFields {
			var err error
			switch f.Kind {
			case model.KindEmbedded:
				err = p.planEmbedded(a, f)
			case model.KindToOne:
				err = p.planToOne(a, f)
			case model.KindToMany:
				err = p.planToMany(a, f)
			case model.KindLinkMany:
				err = p.planLinkMany(a, f)
			case model.KindSubclasses:
				err = p.planSubclasses(a, f)
			case model.KindOtherBag:
				a.OtherBagField = f
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// idColumnOf finds the id column declared directly on tm (ancestor tables in
// a multi-table chain each carry their own copy of the id column).
func idColumnOf(tm *model.TableMapping) string {
	for _, f := range tm.OwnFields {
		if f.Kind == model.KindScalar && f.IsID {
			return f.Column
		}
	}
	return "id"
}

func (p *QueryPlan) planEmbedded(parent *Alias, f *model.Field) error {
	path := childPath(parent, f.GoName)
	child := &Alias{
		Path:          path,
		Node:          f.EmbeddedNode,
		Parent:        parent,
		ParentField:   f,
		Join:          JoinNone,
		PhysicalAlias: parent.PhysicalAlias,
	}
	for _, ef := range f.EmbeddedNode.Fields() {
		if ef.Kind != model.KindScalar {
			continue
		}
		child.Fields = append(child.Fields, ProjectedField{
			Field:         ef,
			PhysicalAlias: parent.PhysicalAlias,
			Column:        f.EmbeddedPrefix + ef.Column,
			Label:         path + "." + decapitalize(ef.GoName),
		})
	}
	p.addAlias(child)
	return nil
}

func (p *QueryPlan) planToOne(parent *Alias, f *model.Field) error {
	path := childPath(parent, f.GoName)
	child := &Alias{
		Path:                path,
		Node:                f.Target,
		Parent:              parent,
		ParentField:         f,
		Join:                JoinLeft,
		PhysicalTable:       f.Target.ConcreteTable().TableName,
		PhysicalAlias:       path,
		JoinLeftAlias:       parent.PhysicalAlias,
		JoinLeftCol:         f.ForeignKey,
		JoinRightCol:        idColumn(f.Target),
		CustomJoinCondition: f.JoinCondition,
		IDFields:            f.Target.IDFields,
	}
	p.addAlias(child)
	return p.planEntity(child, f.Target)
}

func (p *QueryPlan) planToMany(parent *Alias, f *model.Field) error {
	path := childPath(parent, f.GoName)
	child := &Alias{
		Path:                path,
		Node:                f.Target,
		Parent:              parent,
		ParentField:         f,
		Join:                JoinLeft,
		PhysicalTable:       f.Target.ConcreteTable().TableName,
		PhysicalAlias:       path,
		JoinLeftAlias:       parent.PhysicalAlias,
		JoinLeftCol:         idColumn(parent.Node),
		JoinRightCol:        f.ForeignKey,
		CustomJoinCondition: f.JoinCondition,
		IDFields:            f.Target.IDFields,
	}
	p.addAlias(child)
	return p.planEntity(child, f.Target)
}

func (p *QueryPlan) planLinkMany(parent *Alias, f *model.Field) error {
	path := childPath(parent, f.GoName)
	junctionAlias := path + "$link"
	junction := &Alias{
		Path:          junctionAlias,
		Join:          JoinLeft,
		PhysicalTable: f.LinkTable,
		PhysicalAlias: junctionAlias,
		JoinLeftAlias: parent.PhysicalAlias,
		JoinLeftCol:   idColumn(parent.Node),
		JoinRightCol:  f.LinkLeftCol,
	}
	p.Aliases = append(p.Aliases, junction) // not addressable by dotted path

	if f.FetchColumn != "" {
		parent.LinkedValues = append(parent.LinkedValues, LinkedValue{
			Field:         f,
			JunctionAlias: junctionAlias,
			Column:        f.FetchColumn,
			Label:         path,
		})
		return nil
	}
	if f.Target == nil {
		return errf("field %q: link-many field without fetch= must target an entity", f.GoName)
	}

	child := &Alias{
		Path:                path,
		Node:                f.Target,
		Parent:              parent,
		ParentField:         f,
		Join:                JoinLeft,
		PhysicalTable:       f.Target.ConcreteTable().TableName,
		PhysicalAlias:       path,
		JoinLeftAlias:       junctionAlias,
		JoinLeftCol:         f.LinkRightCol,
		JoinRightCol:        idColumn(f.Target),
		CustomJoinCondition: f.JoinCondition,
		JunctionAlias:       junctionAlias,
		IDFields:            f.Target.IDFields,
	}
	p.addAlias(child)
	return p.planEntity(child, f.Target)
}

func (p *QueryPlan) planSubclasses(parent *Alias, f *model.Field) error {
	for _, br := range f.Branches {
		path := childPath(parent, br.GoName)
		if f.Discriminator == "" {
			child := &Alias{
				Path:             path,
				Node:             br.Node,
				Parent:           parent,
				ParentField:      f,
				Join:             JoinLeft,
				PhysicalTable:    br.Node.ConcreteTable().TableName,
				PhysicalAlias:    path,
				JoinLeftAlias:    parent.PhysicalAlias,
				JoinLeftCol:      idColumn(parent.Node),
				JoinRightCol:     idColumn(br.Node),
				IsSubclassBranch: true,
				Branch:           br,
				IDFields:         br.Node.IDFields,
			}
			p.addAlias(child)
			if err := p.planEntity(child, br.Node); err != nil {
				return err
			}
			continue
		}

		child := &Alias{
			Path:             path,
			Node:             br.Node,
			Parent:           parent,
			ParentField:      f,
			Join:             JoinNone,
			PhysicalAlias:    parent.PhysicalAlias,
			IsSubclassBranch: true,
			Branch:           br,
			Discriminator:    f.Discriminator,
		}
		for _, bf := range br.Node.Fields() {
			if bf.Kind == model.KindScalar {
				child.Fields = append(child.Fields, projectedField(child, bf, parent.PhysicalAlias))
			}
		}
		p.addAlias(child)
	}
	return nil
}
