package schema

import (
	"context"
	"database/sql"
	"fmt"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/postgres"
	atlasschema "ariga.io/atlas/sql/schema"
)

// Migrator drives Atlas's introspect-and-diff pipeline against a live
// database, restricted to the additive subset of the diff (spec.md §4.I:
// destructive changes — drops, narrowings — are out of scope by design, so
// a caller who wants those reaches for Atlas directly rather than through
// this package).
type Migrator struct {
	driver migrate.Driver
}

// OpenMigrator opens a Migrator against db through Atlas's PostgreSQL
// driver, which probes the connection's system variables on open; no
// dialect detection takes place. Only PostgreSQL is wired here since it is the only dialect
// whose Atlas driver this module carries a verified reference for; MySQL and
// SQLite schemas are migrated through the create-table Emitter plus a
// hand-applied ALTER, the same as any dialect Atlas doesn't cover.
func OpenMigrator(db *sql.DB) (*Migrator, error) {
	driver, err := postgres.Open(db)
	if err != nil {
		return nil, fmt.Errorf("strata: schema: open migrator: %w", err)
	}
	return &Migrator{driver: driver}, nil
}

// Plan inspects the live schema named schemaName, diffs it against desired,
// and returns the additive subset of that diff as an executable migration
// plan: new tables, new columns, and new indexes. Anything else the diff
// would otherwise propose (dropped tables/columns, modified columns) is
// filtered out before a plan is even built, so Execute can never be handed a
// destructive statement; skipped is the filtered-out remainder, for a caller
// that wants to log or surface what this mode refused to touch.
func (m *Migrator) Plan(ctx context.Context, schemaName string, desired *atlasschema.Schema) (plan *migrate.Plan, skipped []atlasschema.Change, err error) {
	current, err := m.driver.InspectSchema(ctx, schemaName, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("strata: schema: inspect: %w", err)
	}

	changes, err := m.driver.SchemaDiff(current, desired)
	if err != nil {
		return nil, nil, fmt.Errorf("strata: schema: diff: %w", err)
	}

	additive, skipped := partitionAdditive(changes)
	plan, err = m.driver.PlanChanges(ctx, "strata", additive)
	if err != nil {
		return nil, nil, fmt.Errorf("strata: schema: plan: %w", err)
	}
	return plan, skipped, nil
}

// Execute runs every statement in plan against the connection the Migrator
// was opened with.
func (m *Migrator) Execute(ctx context.Context, plan *migrate.Plan) error {
	for _, stmt := range plan.Changes {
		if stmt.Cmd == "" {
			continue
		}
		if err := applyChange(ctx, m.driver, stmt); err != nil {
			return fmt.Errorf("strata: schema: apply %q: %w", stmt.Cmd, err)
		}
	}
	return nil
}

// applyChange executes one planned statement's command (and its declared
// args, for drivers that parameterise DDL) through the same ExecQuerier the
// driver was opened against — postgres.Driver embeds its conn's
// schema.ExecQuerier directly, so the driver itself satisfies execer.
func applyChange(ctx context.Context, driver migrate.Driver, stmt *migrate.Change) error {
	type execer interface {
		ExecContext(context.Context, string, ...any) (sql.Result, error)
	}
	if e, ok := driver.(execer); ok {
		_, err := e.ExecContext(ctx, stmt.Cmd, stmt.Args...)
		return err
	}
	return fmt.Errorf("driver does not expose a direct executor for %q", stmt.Cmd)
}

// partitionAdditive splits a diff into the subset this package is willing to
// apply (new tables, new columns, new indexes) and everything else (drops,
// renames, and every column modification, widenings included), which is
// reported back but never planned.
func partitionAdditive(changes []atlasschema.Change) (additive, dropped []atlasschema.Change) {
	for _, c := range changes {
		switch change := c.(type) {
		case *atlasschema.AddTable:
			additive = append(additive, change)
		case *atlasschema.DropTable:
			dropped = append(dropped, change)
		case *atlasschema.ModifyTable:
			kept := partitionTableChanges(change)
			if kept != nil {
				additive = append(additive, kept)
			} else {
				dropped = append(dropped, change)
			}
		default:
			// Anything this package doesn't recognize (renames, object-level
			// changes) is conservatively treated as non-additive.
			dropped = append(dropped, c)
		}
	}
	return additive, dropped
}

// partitionTableChanges keeps only the additive sub-changes of a
// ModifyTable (new columns, new indexes), dropping the rest. Returns nil if
// nothing additive survives.
func partitionTableChanges(mt *atlasschema.ModifyTable) *atlasschema.ModifyTable {
	var kept []atlasschema.Change
	for _, c := range mt.Changes {
		switch c.(type) {
		case *atlasschema.AddColumn, *atlasschema.AddIndex:
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &atlasschema.ModifyTable{T: mt.T, Changes: kept}
}
