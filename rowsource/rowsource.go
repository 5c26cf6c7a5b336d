// Package rowsource defines the row-source capability boundary (spec.md §6):
// the core never talks to a database directly, only to this interface, kept
// deliberately narrow — query a statement, execute a statement, begin a
// transaction. The txn package depends on it rather than on database/sql,
// so a caller can substitute any backend (a live driver, a recorded
// fixture, a test double) there. The reduce and mutate packages do not use
// it: they declare their own narrow ColumnScanner and Executor interfaces,
// which *sql.Rows and *sql.DB/*sql.Tx satisfy.
//
// The default implementation, Open, wraps database/sql exactly the way
// syssam-velox/dialect/sql.Conn wraps an ExecQuerier: thin adaptation, no
// behavior of its own.
package rowsource

import (
	"context"
	"database/sql"
)

// Statement is a parameterised unit of work dispatched to a row source.
// Positional "?" parameters only travel on the wire (spec.md §6); named
// ":x" parameters are expanded client-side by sqlgen before a Statement is
// ever built.
type Statement struct {
	Text string
	Args []any
}

// Row is the shape the core receives back from a query: string column name
// (spelled the way the Alias Planner spelled it, "alias.field") mapped to
// its cell value. Case-insensitive lookup fallback against a driver that
// reports different casing lives in the reduce package, not here — this
// type simply carries whatever the row source reports.
type Row map[string]any

// Cursor iterates the rows produced by Query, one at a time. Close must be
// safe to call multiple times and must be called on every exit path, including
// early break out of a partial iteration (spec.md §5, "resource discipline").
type Cursor interface {
	Next(ctx context.Context) bool
	Row() (Row, error)
	Err() error
	Close() error
}

// ExecResult is what Execute reports back: how many rows a DML statement
// touched, and any ids the row source generated for an insert.
type ExecResult struct {
	AffectedRows int64
	GeneratedIDs []any
}

// RowSource is the external collaborator the core depends on for all I/O
// (spec.md §6, "row source capability"): query a statement and iterate its
// rows, execute a statement and observe how many rows it touched, or begin a
// transaction scoped to the same source. No other access to connections is
// assumed; the core never reaches for a driver-specific type.
type RowSource interface {
	Query(ctx context.Context, stmt Statement) (Cursor, error)
	Execute(ctx context.Context, stmt Statement) (ExecResult, error)
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is a RowSource scoped to one transaction, plus the means to
// end it. The core never holds a Transaction past the body of a
// txn.RunInTransaction call.
type Transaction interface {
	RowSource
	Commit() error
	Rollback() error
}

// sqlDB is the subset of *sql.DB / *sql.Tx this package needs; satisfied by
// both without an adapter, mirroring mutate.Executor and
// syssam-velox/dialect/sql.ExecQuerier.
type sqlDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// dbSource adapts a database/sql connection (a *sql.DB or a *sql.Tx) to
// RowSource. It is the only RowSource implementation this package ships;
// anything else (a fixture, a recorder) is the caller's to write against the
// same interface.
type dbSource struct {
	conn sqlDB
	db   *sql.DB // non-nil only at the root source, needed to start a *sql.Tx
}

// Open wraps db as a RowSource, the way syssam-velox/dialect/sql.Open wraps
// database/sql.Open with a Driver.
func Open(db *sql.DB) RowSource {
	return &dbSource{conn: db, db: db}
}

func (s *dbSource) Query(ctx context.Context, stmt Statement) (Cursor, error) {
	rows, err := s.conn.QueryContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, err
	}
	return &sqlCursor{rows: rows}, nil
}

func (s *dbSource) Execute(ctx context.Context, stmt Statement) (ExecResult, error) {
	res, err := s.conn.ExecContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return ExecResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ExecResult{}, err
	}
	result := ExecResult{AffectedRows: affected}
	if id, err := res.LastInsertId(); err == nil {
		result.GeneratedIDs = []any{id}
	}
	return result, nil
}

func (s *dbSource) BeginTransaction(ctx context.Context) (Transaction, error) {
	if s.db == nil {
		return nil, errAlreadyInTransaction
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txSource{dbSource: dbSource{conn: tx}, tx: tx}, nil
}

type txSource struct {
	dbSource
	tx *sql.Tx
}

func (t *txSource) Commit() error   { return t.tx.Commit() }
func (t *txSource) Rollback() error { return t.tx.Rollback() }

var errAlreadyInTransaction = &rowSourceError{"BeginTransaction called on a transaction-scoped RowSource; transactions do not nest"}

type rowSourceError struct{ message string }

func (e *rowSourceError) Error() string { return "strata: rowsource: " + e.message }

// sqlCursor adapts *sql.Rows to Cursor: Columns()+Scan(...) into a Row map,
// mirroring syssam-velox/dialect/sql.Rows' wrap of the same ColumnScanner
// surface.
type sqlCursor struct {
	rows *sql.Rows
	cols []string
	err  error
}

func (c *sqlCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.cols == nil {
		cols, err := c.rows.Columns()
		if err != nil {
			c.err = err
			return false
		}
		c.cols = cols
	}
	return c.rows.Next()
}

func (c *sqlCursor) Row() (Row, error) {
	dest := make([]any, len(c.cols))
	ptrs := make([]any, len(c.cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(c.cols))
	for i, col := range c.cols {
		row[col] = dest[i]
	}
	return row, nil
}

func (c *sqlCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *sqlCursor) Close() error { return c.rows.Close() }
