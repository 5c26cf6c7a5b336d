// Package model implements the Model Analyzer (spec.md §4.B): reflectively
// walking a record type, resolving its table chain (including multi-table
// inheritance and discriminated single-table inheritance), collecting and
// classifying its field set, detecting cycles, and validating the result.
//
// Unlike the teacher's schema-package-plus-codegen approach, record types
// here are the user's own Go structs: classification is driven by
// `strata:"..."` struct tags and by Go embedding (which stands in for a
// Java superclass chain — see model.Table and DESIGN.md).
package model

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strata-orm/strata/dialect"
)

var (
	registryMu sync.RWMutex
	registry   = map[reflect.Type]*Node{}
)

// modelError mirrors the root package's ModelError without importing it
// (model is a leaf package the root package depends on).
type modelError struct {
	typeName string
	path     string
	message  string
}

func (e *modelError) Error() string {
	if e.path != "" {
		return fmt.Sprintf("strata: model error: %s: %s: %s", e.typeName, e.path, e.message)
	}
	return fmt.Sprintf("strata: model error: %s: %s", e.typeName, e.message)
}

func errf(t reflect.Type, format string, args ...any) error {
	return &modelError{typeName: t.String(), message: fmt.Sprintf(format, args...)}
}

// CycleError is returned when a relation targets a type already on the
// current analysis stack.
type CycleError struct {
	TypeName string
	Path     []string
}

func (e *CycleError) Error() string {
	s := e.Path[0]
	for _, p := range e.Path[1:] {
		s += " -> " + p
	}
	return fmt.Sprintf("strata: cycle detected analyzing %s: %s", e.TypeName, s)
}

// Analyze walks t (which must be a struct type) and returns its fully
// classified Node, per spec.md §4.B. Results are cached per type: a
// *Node is immutable once returned and may be shared across goroutines
// (spec.md §5, "QueryPlan is immutable after construction").
func Analyze(t reflect.Type) (*Node, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errf(t, "record type must be a struct")
	}
	if n := cached(t); n != nil {
		return n, nil
	}
	return analyze(t, nil)
}

func cached(t reflect.Type) *Node {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[t]
}

func store(t reflect.Type, n *Node) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = n
}

// stackEntry tracks one ancestor on the current DFS path, for cycle
// detection (spec.md §4.B step 4).
type stackEntry struct {
	typ reflect.Type
}

func analyze(t reflect.Type, stack []stackEntry) (*Node, error) {
	for _, s := range stack {
		if s.typ == t {
			path := make([]string, len(stack)+1)
			for i, s := range stack {
				path[i] = s.typ.String()
			}
			path[len(stack)] = t.String()
			return nil, &CycleError{TypeName: t.String(), Path: path}
		}
	}
	stack = append(stack, stackEntry{typ: t})

	chain, err := buildChain(t)
	if err != nil {
		return nil, err
	}
	node := &Node{Type: t, TableChain: chain}

	for _, tm := range chain {
		for _, f := range tm.OwnFields {
			if err := classify(node, tm, f, stack); err != nil {
				return nil, err
			}
		}
	}

	if err := validate(node); err != nil {
		return nil, err
	}

	store(t, node)
	return node, nil
}

// buildChain walks t's anonymous (embedded) fields to assemble the ordered
// table chain, per spec.md §4.B step 1. A struct that directly embeds
// model.Table gets its own TableMapping entry; an embedded struct without a
// Table marker has its fields flattened into the nearest descendant table.
func buildChain(t reflect.Type) ([]*TableMapping, error) {
	return buildChainAt(t, nil)
}

// buildChainAt builds t's table chain, where rootPrefix is the
// reflect.Value.FieldByIndex path from the ultimate concrete type (the one
// originally passed to Analyze) down to t, so every Field.StructIndex this
// produces — including those of annotated ancestors reached through
// embedding — remains valid against the concrete type's reflect.Value.
func buildChainAt(t reflect.Type, rootPrefix []int) ([]*TableMapping, error) {
	var (
		chain     []*TableMapping
		ownFields []reflect.StructField
	)
	tableMarkerType := reflect.TypeOf(Table{})

	var walk func(t reflect.Type, indexPrefix []int) error
	walk = func(t reflect.Type, indexPrefix []int) error {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			index := append(append([]int{}, indexPrefix...), i)
			if f.Anonymous {
				if f.Type == tableMarkerType {
					continue // the marker itself carries no data
				}
				if f.Type.Kind() == reflect.Struct {
					if hasOwnTable(f.Type) {
						parentChain, err := buildChainAt(f.Type, index)
						if err != nil {
							return err
						}
						chain = append(chain, parentChain...)
						continue
					}
					// Unannotated embedded struct: flatten its fields into
					// the current (more concrete) table.
					if err := walk(f.Type, index); err != nil {
						return err
					}
					continue
				}
			}
			if !f.IsExported() {
				continue
			}
			ownFields = append(ownFields, withIndex(f, index))
		}
		return nil
	}
	if err := walk(t, nil); err != nil {
		return nil, err
	}

	tableName, schemaName, ok := tableOf(t)
	if !ok {
		return nil, errf(t, "record type must embed model.Table (directly or via an ancestor) tagged with a table name")
	}
	fields, err := toFields(ownFields, rootPrefix)
	if err != nil {
		return nil, err
	}
	chain = append(chain, &TableMapping{TableName: tableName, SchemaName: schemaName, Type: t, OwnFields: fields})
	return chain, nil
}

// withIndex rewrites f.Index to the full path from the owning type, since
// reflect.StructField.Index is only valid relative to its direct parent.
func withIndex(f reflect.StructField, index []int) reflect.StructField {
	f.Index = index
	return f
}

func hasOwnTable(t reflect.Type) bool {
	_, _, ok := tableOf(t)
	return ok
}

// tableOf reports the table/schema name declared by a direct model.Table
// embed on t, without recursing into further ancestors.
func tableOf(t reflect.Type) (table, schema string, ok bool) {
	tableMarkerType := reflect.TypeOf(Table{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type == tableMarkerType {
			tag := fieldTag(f)
			name := tag.getOr("table", defaultTableName(t))
			schema := tag.getOr("schema", "")
			return name, schema, true
		}
	}
	return "", "", false
}

func defaultTableName(t reflect.Type) string {
	return decapitalize(t.Name())
}

// toFields wraps each raw reflect.StructField; classification fills in the
// rest once the owning Node exists (classify needs to recurse into target
// Nodes, which needs the parent's table chain to already be known for cycle
// detection to see ancestors correctly).
func toFields(raw []reflect.StructField, rootPrefix []int) ([]*Field, error) {
	out := make([]*Field, 0, len(raw))
	for _, f := range raw {
		tag := fieldTag(f)
		if tag.has("transient") {
			continue
		}
		index := append(append([]int{}, rootPrefix...), f.Index...)
		out = append(out, &Field{GoName: f.Name, StructIndex: index, StructField: f})
	}
	return out, nil
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// classify fills in f.Kind and the kind-specific data, per the ordered match
// in spec.md §4.B step 3: LinkMany wins over generic ToMany, explicit join
// condition wins over convention, Embedded wins over ToOne.
func classify(node *Node, tm *TableMapping, f *Field, stack []stackEntry) error {
	tag := fieldTag(f.StructField)
	ft := f.StructField.Type

	switch {
	case tag.has("other"):
		f.Kind = KindOtherBag
		return nil

	case tag.has("computed"):
		f.Kind = KindComputed
		f.ComputedSQL, _ = tag.get("computed")
		return nil

	case tag.has("embedded"):
		return classifyEmbedded(node, tm, f, tag, stack)

	case tag.has("link"):
		return classifyLinkMany(node, tm, f, tag, stack)

	case tag.has("subclasses"):
		return classifySubclasses(node, tm, f, tag, stack)

	case isRelationSlice(ft):
		return classifyToMany(node, tm, f, tag, stack)

	case isRelationStruct(ft):
		return classifyToOne(node, tm, f, tag, stack)

	default:
		return classifyScalar(tm, f, tag)
	}
}

func isRelationStruct(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	if t == timeType || t == uuidType {
		return false
	}
	return hasTableInChain(t)
}

func isRelationSlice(t reflect.Type) bool {
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return false
	}
	elem := t.Elem()
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	return elem.Kind() == reflect.Struct && elem != timeType && elem != uuidType
}

// hasTableInChain reports whether t, or something it embeds, declares a
// model.Table — i.e. whether t could plausibly be an entity rather than a
// plain scalar-ish struct (a Go time/money/custom value type with no tag at
// all would fail this and fall through to scalar classification with a
// dialect lookup error, which is the intended fail-fast behavior).
func hasTableInChain(t reflect.Type) bool {
	if hasOwnTable(t) {
		return true
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && hasTableInChain(f.Type) {
			return true
		}
	}
	return false
}

func classifyScalar(tm *TableMapping, f *Field, tag tagSpec) error {
	f.Kind = KindScalar
	f.NoUpdate = tag.has("noupdate")
	f.Lob = tag.has("lob")
	f.GroupBy = tag.has("groupby")
	if tag.has("id") {
		f.IsID = true
		f.NoAuto = tag.has("noauto")
	}
	if tag.has("version") {
		f.IsVersion = true
		f.NoUpdate = false // the mutator bumps it itself; never silently skip it
	}
	defaultColumn := decapitalize(f.GoName)
	if f.IsID {
		defaultColumn = "id" // the conventional id column name, regardless of the Go field's own name (ID, Key, ...)
	}
	f.Column = tag.getOr("column", defaultColumn)
	sqlType, length, precision, scale, err := scalarSQLType(f.StructField.Type, tag, f.Lob)
	if err != nil {
		return errf(tm.Type, "field %q: %v", f.GoName, err)
	}
	f.SQLType = sqlType
	f.Length = length
	f.Precision = precision
	f.Scale = scale
	return nil
}

func scalarSQLType(t reflect.Type, tag tagSpec, lob bool) (dialect.ColumnType, int, int, int, error) {
	if override, ok := tag.get("sqltype"); ok {
		return overrideSQLType(override, tag)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return dialect.Timestamp, 0, 0, 0, nil
	case t == uuidType:
		return dialect.VarChar, 36, 0, 0, nil
	case t.Kind() == reflect.String:
		if t.Name() != "" && t.Name() != "string" {
			return dialect.Enum, 0, 0, 0, nil
		}
		if lob {
			return dialect.Text, 0, 0, 0, nil
		}
		length, _ := tag.getInt("length")
		if length == 0 {
			length = 255
		}
		return dialect.VarChar, length, 0, 0, nil
	case t.Kind() == reflect.Bool:
		return dialect.Boolean, 0, 0, 0, nil
	case t.Kind() == reflect.Int8, t.Kind() == reflect.Int16, t.Kind() == reflect.Uint8, t.Kind() == reflect.Uint16:
		return dialect.SmallInt, 0, 0, 0, nil
	case t.Kind() == reflect.Int, t.Kind() == reflect.Int32, t.Kind() == reflect.Uint, t.Kind() == reflect.Uint32:
		return dialect.Int, 0, 0, 0, nil
	case t.Kind() == reflect.Int64, t.Kind() == reflect.Uint64:
		return dialect.BigInt, 0, 0, 0, nil
	case t.Kind() == reflect.Float32:
		return dialect.Float, 0, 0, 0, nil
	case t.Kind() == reflect.Float64:
		return dialect.Double, 0, 0, 0, nil
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		return dialect.Bytes, 0, 0, 0, nil
	default:
		return 0, 0, 0, 0, fmt.Errorf("no default SQL type for Go type %s; use the sqltype= tag", t)
	}
}

func overrideSQLType(name string, tag tagSpec) (dialect.ColumnType, int, int, int, error) {
	length, _ := tag.getInt("length")
	precision, _ := tag.getInt("precision")
	scale, _ := tag.getInt("scale")
	switch name {
	case "decimal":
		return dialect.Decimal, 0, precision, scale, nil
	case "text":
		return dialect.Text, 0, 0, 0, nil
	case "bytes":
		return dialect.Bytes, 0, 0, 0, nil
	case "date":
		return dialect.Date, 0, 0, 0, nil
	case "time":
		return dialect.Time, 0, 0, 0, nil
	case "enum":
		return dialect.Enum, 0, 0, 0, nil
	case "string":
		return dialect.VarChar, length, 0, 0, nil
	default:
		return 0, 0, 0, 0, fmt.Errorf("unknown sqltype override %q", name)
	}
}

func classifyEmbedded(node *Node, tm *TableMapping, f *Field, tag tagSpec, stack []stackEntry) error {
	ft := f.StructField.Type
	for ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}
	if ft.Kind() != reflect.Struct {
		return errf(tm.Type, "field %q: embedded must be a struct", f.GoName)
	}
	if hasTableInChain(ft) {
		return errf(tm.Type, "field %q: embedded types cannot themselves be entities", f.GoName)
	}
	f.Kind = KindEmbedded
	f.EmbeddedPrefix = tag.getOr("prefix", decapitalize(f.GoName)+"_")
	embeddedFields, err := toFields(directFields(ft), f.StructIndex)
	if err != nil {
		return err
	}
	embeddedNode := &Node{Type: ft, TableChain: []*TableMapping{{TableName: tm.TableName, SchemaName: tm.SchemaName, Type: ft, OwnFields: embeddedFields}}}
	for _, ef := range embeddedNode.TableChain[0].OwnFields {
		eTag := fieldTag(ef.StructField)
		if err := classifyScalar(embeddedNode.TableChain[0], ef, eTag); err != nil {
			return err
		}
	}
	f.EmbeddedNode = embeddedNode
	return nil
}

func directFields(t reflect.Type) []reflect.StructField {
	var out []reflect.StructField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.IsExported() {
			out = append(out, withIndex(f, []int{i}))
		}
	}
	return out
}

func classifyToOne(node *Node, tm *TableMapping, f *Field, tag tagSpec, stack []stackEntry) error {
	ft := f.StructField.Type
	for ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}
	target, err := analyze(ft, stack)
	if err != nil {
		return err
	}
	f.Kind = KindToOne
	f.Target = target
	f.Container = ContainerSingle
	f.ForeignKey = tag.getOr("fk", decapitalize(f.GoName)+"_id")
	f.JoinCondition, _ = tag.get("join")
	f.OnDelete = tag.getOr("ondelete", "")
	return nil
}

func classifyToMany(node *Node, tm *TableMapping, f *Field, tag tagSpec, stack []stackEntry) error {
	ft := f.StructField.Type
	elem := ft.Elem()
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	target, err := analyze(elem, stack)
	if err != nil {
		return err
	}
	f.Kind = KindToMany
	f.Target = target
	f.Container = containerKindOf(ft)
	f.ForeignKey = tag.getOr("inversefk", tm.TableName+"_id")
	f.JoinCondition, _ = tag.get("join")
	return nil
}

func classifyLinkMany(node *Node, tm *TableMapping, f *Field, tag tagSpec, stack []stackEntry) error {
	ft := f.StructField.Type
	if ft.Kind() != reflect.Slice && ft.Kind() != reflect.Array {
		return errf(tm.Type, "field %q: link-table fields must be a sequence type", f.GoName)
	}
	f.Kind = KindLinkMany
	f.Container = containerKindOf(ft)
	f.LinkTable = tag.getOr("link", "")
	f.LinkLeftCol = tag.getOr("left", tm.TableName+"_id")
	f.LinkRightCol = tag.getOr("right", decapitalize(f.GoName)+"_id")
	f.JoinCondition, _ = tag.get("join")
	if fetch, ok := tag.get("fetch"); ok {
		f.FetchColumn = fetch
		return nil // linked value: element type need not be an entity
	}
	elem := ft.Elem()
	for elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	target, err := analyze(elem, stack)
	if err != nil {
		return err
	}
	f.Target = target
	return nil
}

func classifySubclasses(node *Node, tm *TableMapping, f *Field, tag tagSpec, stack []stackEntry) error {
	ft := f.StructField.Type
	if ft.Kind() != reflect.Slice {
		return errf(tm.Type, "field %q: subclasses field must be a slice of a branch-union struct", f.GoName)
	}
	f.Kind = KindSubclasses
	f.Container = ContainerSlice
	f.Discriminator, _ = tag.get("discriminator")

	union := ft.Elem()
	for union.Kind() == reflect.Ptr {
		union = union.Elem()
	}
	if union.Kind() != reflect.Struct {
		return errf(tm.Type, "field %q: branch-union element must be a struct", f.GoName)
	}
	for i := 0; i < union.NumField(); i++ {
		bf := union.Field(i)
		if bf.Type.Kind() != reflect.Ptr || bf.Type.Elem().Kind() != reflect.Struct {
			return errf(tm.Type, "field %q: branch-union field %q must be a pointer to struct", f.GoName, bf.Name)
		}
		branchType := bf.Type.Elem()
		if f.Discriminator == "" && !hasOwnTable(branchType) {
			return errf(tm.Type, "field %q: branch %q must declare its own table (table-per-subclass mode)", f.GoName, branchType.Name())
		}
		branchTag := fieldTag(bf)
		branchNode, err := analyzeBranch(branchType, f.Discriminator != "", stack)
		if err != nil {
			return err
		}
		f.Branches = append(f.Branches, &Branch{
			GoName:             bf.Name,
			UnionFieldIndex:    []int{i},
			Node:               branchNode,
			DiscriminatorValue: branchTag.getOr("value", branchType.Name()),
		})
	}
	return nil
}

// analyzeBranch analyzes a subclass branch type. In single-table mode the
// branch need not declare its own model.Table; its columns live in the
// parent's table and the Alias Planner skips the join entirely.
func analyzeBranch(t reflect.Type, singleTable bool, stack []stackEntry) (*Node, error) {
	if singleTable && !hasOwnTable(t) {
		fields, err := toFields(directFields(t), nil)
		if err != nil {
			return nil, err
		}
		node := &Node{Type: t, TableChain: []*TableMapping{{TableName: "", Type: t, OwnFields: fields}}}
		for _, bf := range fields {
			if err := classify(node, node.TableChain[0], bf, stack); err != nil {
				return nil, err
			}
		}
		return node, nil
	}
	return analyze(t, stack)
}

func containerKindOf(t reflect.Type) ContainerKind {
	switch t.Kind() {
	case reflect.Array:
		return ContainerArray
	case reflect.Map:
		return ContainerSet
	default:
		return ContainerSlice
	}
}

// validate enforces spec.md §4.B step 5: at least one id field (several form
// a composite id), link-table
// sequence shape (already enforced during classification), embedded
// non-entities (already enforced), subclass branch tables (already
// enforced).
func validate(node *Node) error {
	var ids []*Field
	for _, f := range node.Fields() {
		if f.Kind == KindScalar && f.IsID {
			ids = append(ids, f)
		}
	}
	if len(ids) == 0 {
		return errf(node.Type, "no @Id field found; at least one is required per entity")
	}
	node.IDFields = ids
	return nil
}
