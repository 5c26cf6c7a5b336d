// Package schema implements the Schema Emitter (spec.md §4.I): CREATE TABLE
// DDL for a set of record types, in topological order of foreign-key
// dependencies, plus (in migrate.go) a migration-diff mode built on Atlas's
// schema-diffing engine.
//
// Column definition combines the Model Analyzer's field classification
// (type, length, precision/scale, nullability) with the dialect adapter, the
// way syssam-velox's sqlschema annotations (cascade actions, column-type
// overrides) feed its own codegen'd DDL — except here the "annotation" is
// read straight off the struct tag the Model Analyzer already classified,
// not a separate declarative layer.
package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/model"
)

type schemaError struct{ message string }

func (e *schemaError) Error() string { return "strata: schema: " + e.message }

func errf(format string, args ...any) error {
	return &schemaError{message: fmt.Sprintf(format, args...)}
}

// Emitter builds DDL for a fixed dialect.
type Emitter struct {
	Dialect dialect.Dialect
}

// New builds an Emitter for d.
func New(d dialect.Dialect) *Emitter { return &Emitter{Dialect: d} }

// linkTable is a synthetic table backing a KindLinkMany field: not part of
// any model.Node's own table chain, but still a table the Schema Emitter
// must create and order against its endpoints.
type linkTable struct {
	name       string
	leftCol    string
	leftTable  string
	rightCol   string
	rightTable string
	fetchCol   string // non-empty => a linked-value table, no rightTable/rightCol
	valueType  dialect.ColumnType
}

// graph accumulates every table reachable from the root node set, plus the
// foreign-key edges between them (spec.md §4.I, "topological order of
// foreign-key dependencies").
type graph struct {
	tables      map[string]*model.TableMapping
	links       map[string]*linkTable
	dependsOn   map[string]map[string]bool // table -> set of tables it references
	chainParent map[string]string          // joined-inheritance table -> its chain predecessor's table
	seenNodes   map[reflect.Type]bool
}

func newGraph() *graph {
	return &graph{
		tables:      map[string]*model.TableMapping{},
		links:       map[string]*linkTable{},
		dependsOn:   map[string]map[string]bool{},
		chainParent: map[string]string{},
		seenNodes:   map[reflect.Type]bool{},
	}
}

func (g *graph) addDependency(table, dependsOnTable string) {
	if table == "" || dependsOnTable == "" || table == dependsOnTable {
		return
	}
	set := g.dependsOn[table]
	if set == nil {
		set = map[string]bool{}
		g.dependsOn[table] = set
	}
	set[dependsOnTable] = true
}

func (g *graph) register(node *model.Node) error {
	if node == nil || g.seenNodes[node.Type] {
		return nil
	}
	g.seenNodes[node.Type] = true

	for i, tm := range node.TableChain {
		if tm.TableName == "" {
			continue // single-table-inheritance branch: no table of its own
		}
		if _, ok := g.tables[tm.TableName]; !ok {
			g.tables[tm.TableName] = tm
		}
		if i > 0 {
			// Joined-table inheritance: this table's own id is the same
			// value as the previous table's, enforced as a genuine FK.
			parent := node.TableChain[i-1].TableName
			g.addDependency(tm.TableName, parent)
			g.chainParent[tm.TableName] = parent
		}
		if err := g.registerFields(tm, node); err != nil {
			return err
		}
	}
	return nil
}

func (g *graph) registerFields(tm *model.TableMapping, node *model.Node) error {
	for _, f := range tm.OwnFields {
		switch f.Kind {
		case model.KindToOne:
			if f.Target == nil {
				continue
			}
			target := f.Target.ConcreteTable()
			if target == nil {
				continue
			}
			g.addDependency(tm.TableName, target.TableName)
			if err := g.register(f.Target); err != nil {
				return err
			}
		case model.KindToMany:
			if f.Target == nil {
				continue
			}
			target := f.Target.ConcreteTable()
			if target == nil {
				continue
			}
			// The inverse FK column lives on the child (target) table,
			// pointing back at this (parent) table.
			g.addDependency(target.TableName, tm.TableName)
			if err := g.register(f.Target); err != nil {
				return err
			}
		case model.KindLinkMany:
			if f.LinkTable == "" {
				continue
			}
			lt := &linkTable{
				name:     f.LinkTable,
				leftCol:  f.LinkLeftCol,
				leftTable: tm.TableName,
			}
			g.addDependency(f.LinkTable, tm.TableName)
			if f.FetchColumn != "" {
				lt.fetchCol = f.FetchColumn
				lt.valueType = dialect.VarChar
			} else if f.Target != nil {
				target := f.Target.ConcreteTable()
				if target == nil {
					continue
				}
				lt.rightCol = f.LinkRightCol
				lt.rightTable = target.TableName
				g.addDependency(f.LinkTable, target.TableName)
				if err := g.register(f.Target); err != nil {
					return err
				}
			}
			g.links[f.LinkTable] = lt
		case model.KindSubclasses:
			for _, b := range f.Branches {
				branchTable := b.Node.ConcreteTable()
				if branchTable == nil || branchTable.TableName == "" {
					continue // single-table branch, no table of its own
				}
				g.addDependency(branchTable.TableName, tm.TableName)
				if err := g.register(b.Node); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// order returns every registered table and link table name in an order that
// respects dependsOn: a table is never emitted before anything it
// references. Returns a *schemaError if the dependency graph has a cycle.
func (g *graph) order() ([]string, error) {
	var names []string
	for n := range g.tables {
		names = append(names, n)
	}
	for n := range g.links {
		names = append(names, n)
	}
	sort.Strings(names) // deterministic tie-break among independents

	var (
		visited   = map[string]int{} // 0=unvisited, 1=in-progress, 2=done
		ordered   []string
		visitErr  error
	)
	var visit func(n string, path []string)
	visit = func(n string, path []string) {
		if visitErr != nil || visited[n] == 2 {
			return
		}
		if visited[n] == 1 {
			visitErr = errf("cyclic foreign key dependency: %s -> %s", strings.Join(path, " -> "), n)
			return
		}
		visited[n] = 1
		deps := make([]string, 0, len(g.dependsOn[n]))
		for d := range g.dependsOn[n] {
			deps = append(deps, d)
		}
		sort.Strings(deps)
		for _, d := range deps {
			visit(d, append(path, n))
		}
		visited[n] = 2
		ordered = append(ordered, n)
	}
	for _, n := range names {
		visit(n, nil)
		if visitErr != nil {
			return nil, visitErr
		}
	}
	return ordered, nil
}

// CreateStatements returns one CREATE TABLE statement per table reachable
// from nodes (including relation targets, inheritance ancestors, and link
// tables), ordered so a table never precedes anything its foreign keys
// reference.
func (e *Emitter) CreateStatements(nodes ...*model.Node) ([]string, error) {
	g := newGraph()
	for _, n := range nodes {
		if err := g.register(n); err != nil {
			return nil, err
		}
	}
	order, err := g.order()
	if err != nil {
		return nil, err
	}

	var stmts []string
	for _, name := range order {
		if tm, ok := g.tables[name]; ok {
			stmt, err := e.createTable(tm, g.chainParent[name])
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, stmt)
			continue
		}
		stmts = append(stmts, e.createLinkTable(g.links[name]))
	}
	return stmts, nil
}

func (e *Emitter) createTable(tm *model.TableMapping, chainParent string) (string, error) {
	var cols []string
	var idCols []string
	var fks []string
	isRootTable := chainParent == ""

	for _, f := range tm.OwnFields {
		switch f.Kind {
		case model.KindScalar:
			col, err := e.scalarColumn(f, isRootTable)
			if err != nil {
				return "", fmt.Errorf("table %s: %w", tm.TableName, err)
			}
			cols = append(cols, col)
			if f.IsID {
				idCols = append(idCols, f.Column)
			}
		case model.KindEmbedded:
			for _, ef := range f.EmbeddedNode.Fields() {
				if ef.Kind != model.KindScalar {
					continue
				}
				col, err := e.scalarColumn(ef, isRootTable)
				if err != nil {
					return "", fmt.Errorf("table %s: %w", tm.TableName, err)
				}
				cols = append(cols, col)
			}
		case model.KindToOne:
			if f.Target == nil || len(f.Target.IDFields) != 1 {
				continue
			}
			idField := f.Target.IDFields[0]
			typ, err := e.Dialect.SQLType(idField.SQLType, dialect.Constraints{Length: idField.Length, Nullable: true})
			if err != nil {
				return "", fmt.Errorf("table %s: field %s: %w", tm.TableName, f.GoName, err)
			}
			cols = append(cols, fmt.Sprintf("%s %s", e.Dialect.QuoteIdentifier(f.ForeignKey), typ))
			target := f.Target.ConcreteTable()
			fk := fmt.Sprintf("foreign key (%s) references %s (%s)",
				e.Dialect.QuoteIdentifier(f.ForeignKey), e.Dialect.QuoteIdentifier(target.TableName), e.Dialect.QuoteIdentifier(idField.Column))
			if f.OnDelete != "" {
				fk += " on delete " + strings.ToLower(f.OnDelete)
			}
			fks = append(fks, fk)
		}
	}

	if len(idCols) == 0 {
		return "", errf("table %s: no id column to emit a primary key for", tm.TableName)
	}

	if chainParent != "" {
		// Joined-table inheritance: this table's id is also a foreign key
		// back to its chain predecessor's id, cascading the delete so a
		// concrete row never outlives its superclass row.
		fks = append(fks, fmt.Sprintf("foreign key (%s) references %s (%s) on delete cascade",
			e.Dialect.QuoteIdentifier(idCols[0]), e.Dialect.QuoteIdentifier(chainParent), e.Dialect.QuoteIdentifier(idCols[0])))
	}

	var buf strings.Builder
	buf.WriteString("create table ")
	buf.WriteString(e.Dialect.QuoteIdentifier(tm.TableName))
	buf.WriteString(" (\n  ")
	buf.WriteString(strings.Join(cols, ",\n  "))
	buf.WriteString(",\n  primary key (")
	quotedIDs := make([]string, len(idCols))
	for i, c := range idCols {
		quotedIDs[i] = e.Dialect.QuoteIdentifier(c)
	}
	buf.WriteString(strings.Join(quotedIDs, ", "))
	buf.WriteString(")")
	for _, fk := range fks {
		buf.WriteString(",\n  ")
		buf.WriteString(fk)
	}
	buf.WriteString("\n)")
	buf.WriteString(e.Dialect.TableSuffix())
	return buf.String(), nil
}

func (e *Emitter) createLinkTable(lt *linkTable) string {
	var buf strings.Builder
	buf.WriteString("create table ")
	buf.WriteString(e.Dialect.QuoteIdentifier(lt.name))
	buf.WriteString(" (\n  ")
	buf.WriteString(e.Dialect.QuoteIdentifier(lt.leftCol))
	buf.WriteString(" bigint not null")

	if lt.fetchCol != "" {
		fmt.Fprintf(&buf, ",\n  %s varchar(255) not null", e.Dialect.QuoteIdentifier(lt.fetchCol))
		fmt.Fprintf(&buf, ",\n  primary key (%s, %s)", e.Dialect.QuoteIdentifier(lt.leftCol), e.Dialect.QuoteIdentifier(lt.fetchCol))
		fmt.Fprintf(&buf, ",\n  foreign key (%s) references %s (id)", e.Dialect.QuoteIdentifier(lt.leftCol), e.Dialect.QuoteIdentifier(lt.leftTable))
	} else {
		fmt.Fprintf(&buf, ",\n  %s bigint not null", e.Dialect.QuoteIdentifier(lt.rightCol))
		fmt.Fprintf(&buf, ",\n  primary key (%s, %s)", e.Dialect.QuoteIdentifier(lt.leftCol), e.Dialect.QuoteIdentifier(lt.rightCol))
		fmt.Fprintf(&buf, ",\n  foreign key (%s) references %s (id)", e.Dialect.QuoteIdentifier(lt.leftCol), e.Dialect.QuoteIdentifier(lt.leftTable))
		fmt.Fprintf(&buf, ",\n  foreign key (%s) references %s (id)", e.Dialect.QuoteIdentifier(lt.rightCol), e.Dialect.QuoteIdentifier(lt.rightTable))
	}
	buf.WriteString("\n)")
	buf.WriteString(e.Dialect.TableSuffix())
	return buf.String()
}

func (e *Emitter) scalarColumn(f *model.Field, isRootTable bool) (string, error) {
	nullable := f.StructField.Type.Kind() == reflect.Ptr
	constraints := dialect.Constraints{
		Length:    f.Length,
		Precision: f.Precision,
		Scale:     f.Scale,
		Nullable:  nullable,
	}
	if f.IsID && !f.NoAuto && isRootTable {
		// A chain table's id is copied from its predecessor (mutate's id
		// glue), never generated by the database itself.
		constraints.AutoIncrement = true
	}
	typ, err := e.Dialect.SQLType(f.SQLType, constraints)
	if err != nil {
		return "", fmt.Errorf("field %s: %w", f.GoName, err)
	}
	def := fmt.Sprintf("%s %s", e.Dialect.QuoteIdentifier(f.Column), typ)
	if constraints.AutoIncrement {
		if clause := e.Dialect.AutoIncrementClause(); clause != "" {
			def += " " + clause
		}
	}
	if !nullable {
		def += " not null"
	}
	return def, nil
}
