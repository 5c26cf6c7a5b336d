// Package reduce implements the Row Reducer (spec.md §4.F) and the
// Streaming Driver built on top of it (spec.md §4.G): turning the flat
// result set the SQL Emitter's plan produces back into a graph of entities,
// deduplicating shared sub-entities through a per-alias identity map.
package reduce

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/strata-orm/strata/alias"
	"github.com/strata-orm/strata/model"
)

// foldCaser implements spec.md §6's "case of column names from the driver is
// tolerated via case-insensitive lookup fallback": the planner and emitter
// agree on label casing end to end, so this only ever fires against a driver
// that reports column names case-folded or upper-cased (observed with some
// Oracle/DB2-style catalogs; harmless to carry for the three dialects here).
var foldCaser = cases.Fold()

// lookupValue looks up label in values, falling back to a case-insensitive
// scan if the exact spelling isn't present.
func lookupValue(values map[string]any, label string) (any, bool) {
	if v, ok := values[label]; ok {
		return v, true
	}
	folded := foldCaser.String(label)
	for k, v := range values {
		if foldCaser.String(k) == folded {
			return v, true
		}
	}
	return nil, false
}

// ColumnScanner is the row-scanning capability the Row Reducer consumes,
// mirroring the teacher's own database/sql.Rows wrapper
// (dialect/sql/driver.go's ColumnScanner) so callers can hand in either a
// live *sql.Rows or a test double.
type ColumnScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type reducerError struct{ message string }

func (e *reducerError) Error() string { return "strata: row reducer: " + e.message }

func errf(format string, args ...any) error {
	return &reducerError{message: fmt.Sprintf(format, args...)}
}

// Reducer rebuilds a graph of entities from a flat SQL result set produced
// from its Plan, per spec.md §4.F. A Reducer is built once per QueryPlan and
// reused across calls to Reduce.
type Reducer struct {
	Plan     *alias.QueryPlan
	idLabels map[string][]string // alias path -> its id columns' output labels
}

// New builds a Reducer for plan, precomputing the label lookups every
// Reduce call needs.
func New(plan *alias.QueryPlan) *Reducer {
	r := &Reducer{Plan: plan, idLabels: map[string][]string{}}
	for _, a := range plan.Aliases {
		r.idLabels[a.Path] = labelsForIDFields(a)
	}
	return r
}

func labelsForIDFields(a *alias.Alias) []string {
	wanted := map[*model.Field]bool{}
	for _, f := range a.IDFields {
		wanted[f] = true
	}
	if len(wanted) == 0 {
		return nil
	}
	var labels []string
	collect := func(pfs []alias.ProjectedField) {
		for _, pf := range pfs {
			if wanted[pf.Field] {
				labels = append(labels, pf.Label)
			}
		}
	}
	for _, cj := range a.ChainJoins {
		collect(cj.Fields)
	}
	collect(a.Fields)
	return labels
}

// reduceState is the mutable state threaded through one Reduce/Stream run:
// the per-alias identity map, the dedupe sets guarding against re-linking
// the same parent/child pair once per fan-out row, and the root entities in
// first-appearance order.
type reduceState struct {
	identity            map[string]map[string]reflect.Value // alias path -> id key -> entity
	linked              map[string]bool                     // dedupe key -> already linked
	linkedValues        map[string]bool                     // dedupe key -> already appended
	singleTableBranches map[string]bool                      // dedupe key -> already built
	order               []reflect.Value
}

func newReduceState() *reduceState {
	return &reduceState{
		identity:            map[string]map[string]reflect.Value{},
		linked:              map[string]bool{},
		linkedValues:        map[string]bool{},
		singleTableBranches: map[string]bool{},
	}
}

func (st *reduceState) getOrCreate(path, key string, build func() (reflect.Value, error)) (reflect.Value, bool, error) {
	m := st.identity[path]
	if m == nil {
		m = map[string]reflect.Value{}
		st.identity[path] = m
	}
	if v, ok := m[key]; ok {
		return v, false, nil
	}
	v, err := build()
	if err != nil {
		return reflect.Value{}, false, err
	}
	m[key] = v
	return v, true, nil
}

// Reduce consumes the whole result set and returns the root entities (each a
// pointer to the root record type) in first-appearance order, per spec.md
// §4.F. For large result sets, prefer a Streamer, which emits each root as
// its row-group ends instead of buffering the whole set.
func (r *Reducer) Reduce(rows ColumnScanner) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	st := newReduceState()

	for rows.Next() {
		values, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		if err := r.reduceRow(st, values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]any, len(st.order))
	for i, v := range st.order {
		out[i] = v.Interface()
	}
	return out, nil
}

func scanRow(rows ColumnScanner, cols []string) (map[string]any, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	values := make(map[string]any, len(cols))
	for i, c := range cols {
		values[c] = raw[i]
	}
	return values, nil
}

// idKeyFromValues builds the identity-map key for a from the row's already
// scanned column values, per the alias's own id columns. Returns ok=false if
// any id column is NULL (the LEFT JOIN for this alias found no match).
func (r *Reducer) idKeyFromValues(a *alias.Alias, values map[string]any) (string, bool) {
	labels := r.idLabels[a.Path]
	if len(labels) == 0 {
		return a.Path, true
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		v, ok := lookupValue(values, l)
		if !ok || v == nil {
			return "", false
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), true
}

func rowIsNull(values map[string]any, labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	for _, l := range labels {
		if v, ok := lookupValue(values, l); ok && v != nil {
			return false
		}
	}
	return true
}

// reduceRow folds one result-set row into st, walking the plan's aliases in
// visit order (parents always precede their children, see alias.Plan).
func (r *Reducer) reduceRow(st *reduceState, values map[string]any) error {
	entities := map[string]reflect.Value{}

	for _, a := range r.Plan.Aliases {
		switch {
		case a.Node == nil:
			// Link-table junction hop: it only carries the join, its linked
			// values are read through the owning alias.

		case a.Join == alias.JoinRoot:
			key, _ := r.idKeyFromValues(a, values)
			entity, isNew, err := st.getOrCreate(a.Path, key, func() (reflect.Value, error) { return r.buildEntity(a, values) })
			if err != nil {
				return err
			}
			if isNew {
				st.order = append(st.order, entity)
			}
			entities[a.Path] = entity
			if err := r.applyLinkedValues(st, a, key, entity, values); err != nil {
				return err
			}

		case a.Join == alias.JoinNone && a.IsSubclassBranch:
			if err := r.reduceSingleTableBranch(st, a, entities, values); err != nil {
				return err
			}

		case a.Join == alias.JoinNone:
			parentEntity, ok := entities[a.Parent.Path]
			if !ok {
				continue
			}
			for _, pf := range a.Fields {
				if err := setProjected(parentEntity.Elem(), pf, values); err != nil {
					return err
				}
			}

		default: // JoinLeft / JoinInner: relation target, link-many target, or table-per-subclass branch
			if err := r.reduceJoinedAlias(st, a, entities, values); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reducer) reduceJoinedAlias(st *reduceState, a *alias.Alias, entities map[string]reflect.Value, values map[string]any) error {
	labels := r.idLabels[a.Path]
	if rowIsNull(values, labels) {
		return nil
	}
	key, ok := r.idKeyFromValues(a, values)
	if !ok {
		return nil
	}
	entity, _, err := st.getOrCreate(a.Path, key, func() (reflect.Value, error) { return r.buildEntity(a, values) })
	if err != nil {
		return err
	}
	entities[a.Path] = entity
	if err := r.applyLinkedValues(st, a, key, entity, values); err != nil {
		return err
	}

	if a.Parent == nil {
		return nil
	}
	parentEntity, ok := entities[a.Parent.Path]
	if !ok {
		return nil
	}
	parentKey, _ := r.idKeyFromValues(a.Parent, values)
	linkKey := a.Parent.Path + "/" + parentKey + "#" + a.Path + "/" + key
	if st.linked[linkKey] {
		return nil
	}
	st.linked[linkKey] = true

	if a.IsSubclassBranch {
		return linkSubclassBranch(parentEntity, a.ParentField, a.Branch, entity)
	}
	return linkChild(parentEntity, a.ParentField, entity)
}

func (r *Reducer) reduceSingleTableBranch(st *reduceState, a *alias.Alias, entities map[string]reflect.Value, values map[string]any) error {
	parentEntity, ok := entities[a.Parent.Path]
	if !ok {
		return nil
	}
	discVal, _ := lookupValue(values, a.Parent.Path+"."+a.Discriminator)
	if !matchesDiscriminator(discVal, a.Branch.DiscriminatorValue) {
		return nil
	}
	parentKey, _ := r.idKeyFromValues(a.Parent, values)
	dedupeKey := a.Parent.Path + "/" + parentKey + "#" + a.Path
	if st.singleTableBranches[dedupeKey] {
		return nil
	}
	st.singleTableBranches[dedupeKey] = true

	branchPtr := reflect.New(a.Node.Type)
	for _, pf := range a.Fields {
		if err := setProjected(branchPtr.Elem(), pf, values); err != nil {
			return err
		}
	}
	return linkSubclassBranch(parentEntity, a.ParentField, a.Branch, branchPtr)
}

func matchesDiscriminator(v any, want string) bool {
	if v == nil {
		return false
	}
	switch t := v.(type) {
	case []byte:
		return string(t) == want
	case string:
		return t == want
	default:
		return fmt.Sprint(t) == want
	}
}

func (r *Reducer) buildEntity(a *alias.Alias, values map[string]any) (reflect.Value, error) {
	ptr := reflect.New(a.Node.Type)
	elem := ptr.Elem()
	for _, cj := range a.ChainJoins {
		for _, pf := range cj.Fields {
			if err := setProjected(elem, pf, values); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	for _, pf := range a.Fields {
		if err := setProjected(elem, pf, values); err != nil {
			return reflect.Value{}, err
		}
	}
	if a.OtherBagField != nil {
		fillOtherBag(elem, a, values)
	}
	return ptr, nil
}

func setProjected(entity reflect.Value, pf alias.ProjectedField, values map[string]any) error {
	raw, ok := lookupValue(values, pf.Label)
	if !ok {
		return nil
	}
	field := entity.FieldByIndex(pf.Field.StructIndex)
	if err := assignScalar(field, raw); err != nil {
		return errf("field %q: %v", pf.Field.GoName, err)
	}
	return nil
}

func fillOtherBag(entity reflect.Value, a *alias.Alias, values map[string]any) {
	claimed := map[string]bool{}
	for _, cj := range a.ChainJoins {
		for _, pf := range cj.Fields {
			claimed[pf.Label] = true
		}
	}
	for _, pf := range a.Fields {
		claimed[pf.Label] = true
	}
	bag := map[string]any{}
	prefix := a.Path + "."
	for label, v := range values {
		if v == nil || !strings.HasPrefix(label, prefix) || claimed[label] {
			continue
		}
		key := strings.TrimPrefix(label, prefix)
		if strings.Contains(key, ".") {
			continue // belongs to a deeper alias, not this entity's own bag
		}
		bag[key] = v
	}
	entity.FieldByIndex(a.OtherBagField.StructIndex).Set(reflect.ValueOf(bag))
}

// applyLinkedValues appends any fetchColumn scalar values projected at a
// (spec.md §4.C, LinkMany "fetch") onto entity's collection field, deduping
// per (entity, value) so LEFT JOIN fan-out doesn't append the same value
// once per unrelated joined row.
func (r *Reducer) applyLinkedValues(st *reduceState, a *alias.Alias, entityKey string, entity reflect.Value, values map[string]any) error {
	for _, lv := range a.LinkedValues {
		raw, ok := lookupValue(values, lv.Label)
		if !ok || raw == nil {
			continue
		}
		dedupeKey := fmt.Sprintf("%s/%s#%s=%v", a.Path, entityKey, lv.Label, raw)
		if st.linkedValues[dedupeKey] {
			continue
		}
		st.linkedValues[dedupeKey] = true

		field := entity.Elem().FieldByIndex(lv.Field.StructIndex)
		elemType := field.Type().Elem()
		ev := reflect.New(elemType).Elem()
		if err := assignScalar(ev, raw); err != nil {
			return errf("field %q: %v", lv.Field.GoName, err)
		}
		switch lv.Field.Container {
		case model.ContainerSet:
			if field.IsNil() {
				field.Set(reflect.MakeMap(field.Type()))
			}
			field.SetMapIndex(ev, reflect.Zero(field.Type().Elem()))
		default:
			field.Set(reflect.Append(field, ev))
		}
	}
	return nil
}

func linkChild(parent reflect.Value, f *model.Field, child reflect.Value) error {
	pf := parent.Elem().FieldByIndex(f.StructIndex)
	switch f.Container {
	case model.ContainerSingle:
		if pf.Kind() == reflect.Ptr {
			pf.Set(child)
		} else {
			pf.Set(child.Elem())
		}
	case model.ContainerSlice:
		pf.Set(reflect.Append(pf, elemOrPtr(pf.Type().Elem(), child)))
	case model.ContainerArray:
		for i := 0; i < pf.Len(); i++ {
			if pf.Index(i).IsZero() {
				pf.Index(i).Set(elemOrPtr(pf.Type().Elem(), child))
				break
			}
		}
	case model.ContainerSet:
		if pf.IsNil() {
			pf.Set(reflect.MakeMap(pf.Type()))
		}
		pf.SetMapIndex(elemOrPtr(pf.Type().Key(), child), reflect.Zero(pf.Type().Elem()))
	default:
		return errf("field %q: unknown container kind %v", f.GoName, f.Container)
	}
	return nil
}

func elemOrPtr(wantType reflect.Type, ptr reflect.Value) reflect.Value {
	if wantType.Kind() == reflect.Ptr {
		return ptr
	}
	return ptr.Elem()
}

func linkSubclassBranch(parent reflect.Value, f *model.Field, branch *model.Branch, entity reflect.Value) error {
	pf := parent.Elem().FieldByIndex(f.StructIndex)
	unionType := pf.Type().Elem()
	union := reflect.New(unionType).Elem()
	union.FieldByIndex(branch.UnionFieldIndex).Set(entity)
	pf.Set(reflect.Append(pf, union))
	return nil
}

var (
	uuidType  = reflect.TypeOf(uuid.UUID{})
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// assignScalar coerces a driver-returned value into field, which may be a
// plain scalar or a pointer to one (a nullable column). There is no corpus
// example of this exact row->struct coercion step (the teacher's codegen
// produces type-specific Scan targets instead of doing this generically at
// runtime), so this follows database/sql's own convertAssign conventions by
// hand: widen through reflect.Value.Convert for numeric/bool/string kinds,
// and special-case the two non-convertible wrapper types the Model Analyzer
// recognizes (time.Time, uuid.UUID).
func assignScalar(field reflect.Value, raw any) error {
	if raw == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	targetType := field.Type()
	isPtr := targetType.Kind() == reflect.Ptr
	elemType := targetType
	if isPtr {
		elemType = targetType.Elem()
	}

	value, err := convertScalar(elemType, raw)
	if err != nil {
		return err
	}

	if isPtr {
		if field.IsNil() {
			field.Set(reflect.New(elemType))
		}
		field.Elem().Set(value)
	} else {
		field.Set(value)
	}
	return nil
}

func convertScalar(elemType reflect.Type, raw any) (reflect.Value, error) {
	switch v := raw.(type) {
	case []byte:
		switch {
		case elemType == uuidType:
			id, err := uuid.ParseBytes(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(id), nil
		case elemType == bytesType:
			return reflect.ValueOf(append([]byte(nil), v...)), nil
		case elemType.Kind() == reflect.String:
			return reflect.ValueOf(string(v)).Convert(elemType), nil
		}
	case string:
		switch {
		case elemType == uuidType:
			id, err := uuid.Parse(v)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(id), nil
		case elemType.Kind() == reflect.String:
			return reflect.ValueOf(v).Convert(elemType), nil
		}
	case time.Time:
		if elemType == timeType {
			return reflect.ValueOf(v), nil
		}
	}

	rv := reflect.ValueOf(raw)
	if !rv.Type().ConvertibleTo(elemType) {
		return reflect.Value{}, fmt.Errorf("cannot assign %T into %s", raw, elemType)
	}
	return rv.Convert(elemType), nil
}
