// Package mutate implements the Mutator (spec.md §4.H): insert, update,
// delete, and upsert for a single record, spread across its table chain when
// the record's type participates in multi-table inheritance, with an
// optimistic-version check on update.
//
// The statement-building style (bytes.Buffer assembly, bind-var
// accumulation, RowsAffected on the result) follows
// outdoorsy-gorq/plans/query_plans.go's Insert/Update/Delete; the
// table-chain spread and version check are this package's own, since no
// corpus file does dynamic multi-table-inheritance writes end to end (ent's
// generated mutation builders are type-specific, not runtime-driven).
package mutate

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/strata-orm/strata"
	"github.com/strata-orm/strata/dialect"
	"github.com/strata-orm/strata/model"
)

// Executor is what the Mutator needs to run statements: ExecContext for
// INSERT/UPDATE/DELETE, QueryRowContext for dialects that retrieve a
// generated id via a RETURNING clause instead of sql.Result.LastInsertId.
// *sql.DB and *sql.Tx both satisfy this directly.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type mutatorError struct{ message string }

func (e *mutatorError) Error() string { return "strata: mutator: " + e.message }

func errf(format string, args ...any) error {
	return &mutatorError{message: fmt.Sprintf(format, args...)}
}

// Mutator issues Insert/Update/Delete/Upsert statements for one record type,
// built once per model.Node and reused across calls.
type Mutator struct {
	Dialect dialect.Dialect
	Node    *model.Node
}

// New builds a Mutator for node under d.
func New(d dialect.Dialect, node *model.Node) *Mutator {
	return &Mutator{Dialect: d, Node: node}
}

func idFieldsOf(tm *model.TableMapping) []*model.Field {
	var ids []*model.Field
	for _, f := range tm.OwnFields {
		if f.Kind == model.KindScalar && f.IsID {
			ids = append(ids, f)
		}
	}
	return ids
}

// rootGenerated reports whether the root table's single id field is
// database-generated (the common auto-increment/serial case): exactly one id
// field, not opted out with `noauto`.
func rootGenerated(root *model.TableMapping) (*model.Field, bool) {
	ids := idFieldsOf(root)
	if len(ids) != 1 || ids[0].NoAuto {
		return nil, false
	}
	return ids[0], true
}

func derefRecord(record any) (reflect.Value, error) {
	rv := reflect.ValueOf(record)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, errf("record must be a non-nil pointer to struct, got %T", record)
	}
	return rv.Elem(), nil
}

// Insert issues one INSERT per table in the chain, top-down, gluing
// subsequent tables to the first insert's generated id (spec.md §4.H).
func (m *Mutator) Insert(ctx context.Context, exec Executor, record any) error {
	rv, err := derefRecord(record)
	if err != nil {
		return err
	}
	chain := m.Node.TableChain
	if len(chain) == 0 {
		return errf("%s: empty table chain", m.Node.Type)
	}

	rootIDs := idFieldsOf(chain[0])
	for i, tm := range chain {
		if i > 0 {
			// Multi-table inheritance glue: this table's own id column(s)
			// are the same value(s) as the root's, not independently
			// generated.
			thisIDs := idFieldsOf(tm)
			for k, f := range thisIDs {
				if k >= len(rootIDs) {
					break
				}
				rv.FieldByIndex(f.StructIndex).Set(rv.FieldByIndex(rootIDs[k].StructIndex))
			}
		}

		generated, isRoot := (*model.Field)(nil), i == 0
		if isRoot {
			generated, _ = rootGenerated(tm)
		}

		cols, vals, err := m.insertCells(tm, rv, generated)
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		buf.WriteString("insert into ")
		buf.WriteString(m.Dialect.QuoteIdentifier(tm.TableName))
		buf.WriteString(" (")
		for i, c := range cols {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(m.Dialect.QuoteIdentifier(c))
		}
		buf.WriteString(") values (")
		for i := range cols {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString("?")
		}
		buf.WriteString(")")

		if generated == nil {
			if _, err := exec.ExecContext(ctx, buf.String(), vals...); err != nil {
				return err
			}
			continue
		}

		if returning := m.Dialect.InsertReturningClause(generated.Column); returning != "" {
			row := exec.QueryRowContext(ctx, buf.String()+returning, vals...)
			if err := scanGeneratedID(row, rv.FieldByIndex(generated.StructIndex)); err != nil {
				return err
			}
			continue
		}

		res, err := exec.ExecContext(ctx, buf.String(), vals...)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := setGeneratedID(rv.FieldByIndex(generated.StructIndex), id); err != nil {
			return err
		}
	}
	return nil
}

// insertCells gathers the (column, value) pairs this table contributes to an
// INSERT: its own scalars (minus the generated id, minus computed columns),
// its embedded fields' scalars, and the foreign-key cell for any ToOne
// relation populated with a concrete related record.
func (m *Mutator) insertCells(tm *model.TableMapping, rv reflect.Value, generated *model.Field) ([]string, []any, error) {
	var cols []string
	var vals []any
	for _, f := range tm.OwnFields {
		switch f.Kind {
		case model.KindScalar:
			if generated != nil && f == generated {
				continue
			}
			cols = append(cols, f.Column)
			vals = append(vals, rv.FieldByIndex(f.StructIndex).Interface())
		case model.KindEmbedded:
			ecols, evals := embeddedCells(f, rv)
			cols = append(cols, ecols...)
			vals = append(vals, evals...)
		case model.KindToOne:
			col, val, ok, err := toOneCell(f, rv)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				cols = append(cols, col)
				vals = append(vals, val)
			}
		}
	}
	return cols, vals, nil
}

func embeddedCells(f *model.Field, rv reflect.Value) ([]string, []any) {
	var cols []string
	var vals []any
	for _, ef := range f.EmbeddedNode.Fields() {
		if ef.Kind != model.KindScalar {
			continue
		}
		cols = append(cols, ef.Column)
		vals = append(vals, rv.FieldByIndex(ef.StructIndex).Interface())
	}
	return cols, vals
}

// toOneCell resolves the foreign-key cell for a ToOne field from the
// referenced record's id field (spec.md §4.H, "Foreign-key cells are filled
// from the referenced record's id field"). A nil relation contributes no
// cell, leaving the column at its table default (typically NULL).
func toOneCell(f *model.Field, rv reflect.Value) (string, any, bool, error) {
	fv := rv.FieldByIndex(f.StructIndex)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return "", nil, false, nil
		}
		fv = fv.Elem()
	} else if fv.IsZero() {
		return "", nil, false, nil
	}
	if len(f.Target.IDFields) != 1 {
		return "", nil, false, errf("field %q: relation targets with a composite id are not supported for foreign-key population", f.GoName)
	}
	idField := f.Target.IDFields[0]
	return f.ForeignKey, fv.FieldByIndex(idField.StructIndex).Interface(), true, nil
}

func scanGeneratedID(row *sql.Row, field reflect.Value) error {
	return row.Scan(field.Addr().Interface())
}

// setGeneratedID assigns an int64 generated id (from sql.Result.LastInsertId)
// into field, converting through reflect for narrower integer field types.
func setGeneratedID(field reflect.Value, id int64) error {
	v := reflect.ValueOf(id)
	if !v.Type().ConvertibleTo(field.Type()) {
		return errf("cannot assign generated id %d into %s", id, field.Type())
	}
	field.Set(v.Convert(field.Type()))
	return nil
}

// Update issues one UPDATE per table in the chain, filtered by that table's
// own id column(s); fields tagged noupdate are skipped. When the record's
// node declares a version field, the WHERE clause also requires the row's
// current version and the SET clause bumps it by one; zero rows affected in
// that case is reported as a StaleRecordError rather than silently no-op'd.
func (m *Mutator) Update(ctx context.Context, exec Executor, record any) error {
	rv, err := derefRecord(record)
	if err != nil {
		return err
	}
	version := m.Node.VersionField()

	for _, tm := range m.Node.TableChain {
		ids := idFieldsOf(tm)
		if len(ids) == 0 {
			continue // an ancestor table with no id of its own cannot happen per validate(), defensive only
		}

		var setCols []string
		var setVals []any
		hasVersionHere := false
		for _, f := range tm.OwnFields {
			switch {
			case f.Kind == model.KindScalar && f.IsID:
				continue
			case f.Kind == model.KindScalar && f == version:
				hasVersionHere = true
			case f.Kind == model.KindScalar && f.NoUpdate:
				continue
			case f.Kind == model.KindScalar:
				setCols = append(setCols, f.Column)
				setVals = append(setVals, rv.FieldByIndex(f.StructIndex).Interface())
			case f.Kind == model.KindEmbedded:
				ecols, evals := embeddedCells(f, rv)
				setCols = append(setCols, ecols...)
				setVals = append(setVals, evals...)
			case f.Kind == model.KindToOne:
				col, val, ok, err := toOneCell(f, rv)
				if err != nil {
					return err
				}
				if ok {
					setCols = append(setCols, col)
					setVals = append(setVals, val)
				}
			}
		}

		currentVersion := reflect.Value{}
		if hasVersionHere {
			currentVersion = rv.FieldByIndex(version.StructIndex)
			setCols = append(setCols, version.Column)
			setVals = append(setVals, bumpedVersion(currentVersion))
		}

		if len(setCols) == 0 {
			continue // nothing mutable on this table (e.g. an id-only ancestor row)
		}

		var buf bytes.Buffer
		buf.WriteString("update ")
		buf.WriteString(m.Dialect.QuoteIdentifier(tm.TableName))
		buf.WriteString(" set ")
		for i, c := range setCols {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(m.Dialect.QuoteIdentifier(c))
			buf.WriteString("=?")
		}
		args := append([]any{}, setVals...)
		buf.WriteString(" where ")
		for i, f := range ids {
			if i > 0 {
				buf.WriteString(" and ")
			}
			buf.WriteString(m.Dialect.QuoteIdentifier(f.Column))
			buf.WriteString("=?")
			args = append(args, rv.FieldByIndex(f.StructIndex).Interface())
		}
		if hasVersionHere {
			buf.WriteString(" and ")
			buf.WriteString(m.Dialect.QuoteIdentifier(version.Column))
			buf.WriteString("=?")
			args = append(args, currentVersion.Interface())
		}

		res, err := exec.ExecContext(ctx, buf.String(), args...)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if hasVersionHere && rows == 0 {
			return strata.NewStaleRecordError(tm.TableName, rv.FieldByIndex(ids[0].StructIndex).Interface())
		}
		if hasVersionHere {
			currentVersion.Set(reflect.ValueOf(bumpedVersion(currentVersion)).Convert(currentVersion.Type()))
		}
	}
	return nil
}

func bumpedVersion(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() + 1
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() + 1
	default:
		return v.Interface()
	}
}

// Delete issues one DELETE per table in the chain, bottom-up (the concrete
// table first, ancestor tables last), so a foreign key from a subclass table
// back to its superclass table is never left dangling mid-delete.
func (m *Mutator) Delete(ctx context.Context, exec Executor, record any) error {
	rv, err := derefRecord(record)
	if err != nil {
		return err
	}
	chain := m.Node.TableChain
	for i := len(chain) - 1; i >= 0; i-- {
		tm := chain[i]
		ids := idFieldsOf(tm)
		if len(ids) == 0 {
			continue
		}
		var buf bytes.Buffer
		buf.WriteString("delete from ")
		buf.WriteString(m.Dialect.QuoteIdentifier(tm.TableName))
		buf.WriteString(" where ")
		var args []any
		for i, f := range ids {
			if i > 0 {
				buf.WriteString(" and ")
			}
			buf.WriteString(m.Dialect.QuoteIdentifier(f.Column))
			buf.WriteString("=?")
			args = append(args, rv.FieldByIndex(f.StructIndex).Interface())
		}
		if _, err := exec.ExecContext(ctx, buf.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// Upsert inserts record, or updates it in place if a row with its id already
// exists, using the dialect's native primitive (ON CONFLICT / ON DUPLICATE
// KEY UPDATE) when one is available. Upsert only ever touches the concrete
// (last) table in the chain: a record whose type participates in multi-table
// inheritance is expected to already exist at every ancestor level (created
// once via Insert) by the time it's a candidate for Upsert.
func (m *Mutator) Upsert(ctx context.Context, exec Executor, record any) error {
	rv, err := derefRecord(record)
	if err != nil {
		return err
	}
	tm := m.Node.ConcreteTable()
	ids := idFieldsOf(tm)
	if len(ids) == 0 {
		return errf("%s: no id field on concrete table", m.Node.Type)
	}

	// An auto-generated id only applies when the concrete table is also the
	// chain's root: a subclass table's own id is always FK-glued to the
	// root's, never independently generated (see Insert).
	var generated *model.Field
	if tm == m.Node.TableChain[0] {
		generated, _ = rootGenerated(tm)
	}
	cols, vals, err := m.insertCells(tm, rv, generated)
	if err != nil {
		return err
	}
	// The id itself must be present in the column list for upsert (unlike a
	// plain Insert, where a generated id is omitted): the conflict target is
	// the id column, so it has to appear in the VALUES list being compared
	// against it.
	if generated != nil {
		cols = append([]string{generated.Column}, cols...)
		vals = append([]any{rv.FieldByIndex(generated.StructIndex).Interface()}, vals...)
	}

	var idCols []string
	for _, f := range ids {
		idCols = append(idCols, f.Column)
	}
	var updateCols []string
	for _, c := range cols {
		if !containsString(idCols, c) {
			updateCols = append(updateCols, c)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("insert into ")
	buf.WriteString(m.Dialect.QuoteIdentifier(tm.TableName))
	buf.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(m.Dialect.QuoteIdentifier(c))
	}
	buf.WriteString(") values (")
	for i := range cols {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString("?")
	}
	buf.WriteString(")")

	if suffix, ok := upsertSuffix(m.Dialect, idCols, updateCols); ok {
		buf.WriteString(suffix)
		_, err := exec.ExecContext(ctx, buf.String(), vals...)
		return err
	}
	return m.fallbackUpsert(ctx, exec, tm, ids, cols, vals)
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// upsertSuffix returns the ON CONFLICT / ON DUPLICATE KEY UPDATE suffix for
// d, or ok=false if d has no native upsert primitive this package knows
// about (the fallback UPDATE-then-INSERT path is used instead).
func upsertSuffix(d dialect.Dialect, idCols, updateCols []string) (string, bool) {
	if len(updateCols) == 0 {
		return "", false
	}
	switch d.Name() {
	case dialect.Postgres, dialect.SQLite:
		var b strings.Builder
		b.WriteString(" on conflict (")
		for i, c := range idCols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.QuoteIdentifier(c))
		}
		b.WriteString(") do update set ")
		for i, c := range updateCols {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=excluded.%s", d.QuoteIdentifier(c), d.QuoteIdentifier(c))
		}
		return b.String(), true
	case dialect.MySQL:
		var b strings.Builder
		b.WriteString(" on duplicate key update ")
		for i, c := range updateCols {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=values(%s)", d.QuoteIdentifier(c), d.QuoteIdentifier(c))
		}
		return b.String(), true
	default:
		return "", false
	}
}

// fallbackUpsert implements spec.md §4.H's documented fallback for dialects
// without a native upsert primitive: an UPDATE, and if it affects zero rows,
// an INSERT. The caller is expected to have already opened a transaction on
// exec (via the txn package's RunInTransaction) so the two statements commit
// or roll back together.
func (m *Mutator) fallbackUpsert(ctx context.Context, exec Executor, tm *model.TableMapping, ids []*model.Field, cols []string, vals []any) error {
	idSet := map[string]bool{}
	for _, f := range ids {
		idSet[f.Column] = true
	}

	var buf bytes.Buffer
	buf.WriteString("update ")
	buf.WriteString(m.Dialect.QuoteIdentifier(tm.TableName))
	buf.WriteString(" set ")
	var setArgs []any
	wrote := 0
	for i, c := range cols {
		if idSet[c] {
			continue
		}
		if wrote > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(m.Dialect.QuoteIdentifier(c))
		buf.WriteString("=?")
		setArgs = append(setArgs, vals[i])
		wrote++
	}
	buf.WriteString(" where ")
	for i, f := range ids {
		if i > 0 {
			buf.WriteString(" and ")
		}
		buf.WriteString(m.Dialect.QuoteIdentifier(f.Column))
		buf.WriteString("=?")
	}
	// Walk ids again, not cols: cols/vals may list a composite id's columns
	// in a different order than ids, and the bound values must line up with
	// the "col=?" placeholders just written above, which are in ids order.
	for _, f := range ids {
		for i, c := range cols {
			if c == f.Column {
				setArgs = append(setArgs, vals[i])
				break
			}
		}
	}
	res, err := exec.ExecContext(ctx, buf.String(), setArgs...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var insertBuf bytes.Buffer
	insertBuf.WriteString("insert into ")
	insertBuf.WriteString(m.Dialect.QuoteIdentifier(tm.TableName))
	insertBuf.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			insertBuf.WriteString(", ")
		}
		insertBuf.WriteString(m.Dialect.QuoteIdentifier(c))
	}
	insertBuf.WriteString(") values (")
	for i := range cols {
		if i > 0 {
			insertBuf.WriteString(", ")
		}
		insertBuf.WriteString("?")
	}
	insertBuf.WriteString(")")
	_, err = exec.ExecContext(ctx, insertBuf.String(), vals...)
	return err
}
