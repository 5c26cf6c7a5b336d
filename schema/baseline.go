package schema

import (
	"io"

	"gopkg.in/yaml.v3"

	atlasschema "ariga.io/atlas/sql/schema"
)

// Baseline is a lightweight, YAML-serializable snapshot of a live schema,
// persisted between migration-planning runs (spec.md §4.I's diff mode needs
// a "last known" state to diff against when the live database can't be
// introspected directly, such as a read replica without DDL privileges;
// the Migrator itself still comes from OpenMigrator on a live connection).
// It captures only what Migrator.Plan's diff
// actually reads off a *schema.Schema: table and column names, types, and
// nullability.
type Baseline struct {
	Tables []BaselineTable `yaml:"tables"`
}

// BaselineTable is one table's snapshot.
type BaselineTable struct {
	Name    string           `yaml:"name"`
	Columns []BaselineColumn `yaml:"columns"`
}

// BaselineColumn is one column's snapshot.
type BaselineColumn struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // the dialect's raw type text, e.g. "bigint", "varchar(255)"
	Nullable bool   `yaml:"nullable"`
}

// SnapshotBaseline captures s into a Baseline, deterministically ordered by
// table and column declaration order, so two snapshots of an unchanged
// schema always serialize byte-identically.
func SnapshotBaseline(s *atlasschema.Schema) *Baseline {
	b := &Baseline{Tables: make([]BaselineTable, 0, len(s.Tables))}
	for _, t := range s.Tables {
		bt := BaselineTable{Name: t.Name, Columns: make([]BaselineColumn, 0, len(t.Columns))}
		for _, c := range t.Columns {
			col := BaselineColumn{Name: c.Name}
			if c.Type != nil {
				col.Type = c.Type.Raw
				col.Nullable = c.Type.Null
			}
			bt.Columns = append(bt.Columns, col)
		}
		b.Tables = append(b.Tables, bt)
	}
	return b
}

// ToSchema rebuilds a minimal *schema.Schema from b, suitable as the
// "current" side of Migrator.Plan's diff when a live introspection can't be
// run. The rebuilt schema carries only name/raw-type/nullability — enough
// for Atlas's differ to detect added/removed tables and columns, not enough
// to detect a type change expressed only in Atlas's richer schema.Type
// (Atlas falls back to comparing Column.Type.Raw in that case).
func (b *Baseline) ToSchema(schemaName string) *atlasschema.Schema {
	s := &atlasschema.Schema{Name: schemaName}
	for _, bt := range b.Tables {
		t := &atlasschema.Table{Name: bt.Name, Schema: s}
		for _, bc := range bt.Columns {
			t.Columns = append(t.Columns, &atlasschema.Column{
				Name: bc.Name,
				Type: &atlasschema.ColumnType{Raw: bc.Type, Null: bc.Nullable},
			})
		}
		s.Tables = append(s.Tables, t)
	}
	return s
}

// WriteBaseline YAML-encodes b to w.
func WriteBaseline(w io.Writer, b *Baseline) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(b)
}

// ReadBaseline decodes a Baseline previously written by WriteBaseline.
func ReadBaseline(r io.Reader) (*Baseline, error) {
	var b Baseline
	if err := yaml.NewDecoder(r).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// PlanAgainstBaseline is Migrator.Plan's counterpart for when no live
// connection is available to introspect: it diffs desired against a
// previously captured Baseline instead of a freshly introspected schema.
// Unlike Plan, it never touches the database and so takes no context.
func (m *Migrator) PlanAgainstBaseline(schemaName string, desired *atlasschema.Schema, baseline *Baseline) (additive, skipped []atlasschema.Change, err error) {
	changes, err := m.driver.SchemaDiff(baseline.ToSchema(schemaName), desired)
	if err != nil {
		return nil, nil, err
	}
	additive, skipped = partitionAdditive(changes)
	return additive, skipped, nil
}
