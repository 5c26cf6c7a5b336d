// Package strata is a model-driven query compiler for relational databases.
//
// A static model of user-defined record types is compiled into a single SQL
// SELECT statement whose projection, joins, and aliases are fully determined
// by the model, and into a deterministic result-set reducer that folds the
// rectangular row output of that query into an object graph shaped like the
// model. A companion schema emitter derives CREATE TABLE / ALTER TABLE DDL
// from the same model.
//
// The type model is required to be acyclic; strata refuses cyclic graphs
// rather than break cycles. Users define a distinct "view" type per query
// depth when the application domain itself has a cycle.
package strata

import (
	"reflect"
	"sync/atomic"

	"github.com/strata-orm/strata/dialect"
)

// defaultDialect holds the process-wide default dialect. It is replaceable
// atomically; every public API also accepts an explicit dialect so tests
// never depend on process-global state.
var defaultDialect atomic.Pointer[dialect.Dialect]

// SetDefaultDialect atomically replaces the process-wide default dialect.
func SetDefaultDialect(d dialect.Dialect) {
	defaultDialect.Store(&d)
}

// DefaultDialect returns the process-wide default dialect, or nil if none has
// been set.
func DefaultDialect() dialect.Dialect {
	p := defaultDialect.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Session bundles a dialect with an optional logging hook. The sqlgen,
// mutate and schema packages take a dialect.Dialect directly; none of them
// accepts a Session.
type Session struct {
	Dialect dialect.Dialect

	// Logf is an optional logging hook, off by default; strata imposes no
	// logging library on its callers. No package in this module calls it
	// when a statement is executed.
	Logf func(format string, args ...any)
}

// NewSession returns a Session for the given dialect. If d is nil, the
// process-wide default dialect is used.
func NewSession(d dialect.Dialect) *Session {
	if d == nil {
		d = DefaultDialect()
	}
	return &Session{Dialect: d}
}

func (s *Session) log(sql string, args []any) {
	if s != nil && s.Logf != nil {
		s.Logf(sql, args...)
	}
}

// recordType validates that target is a pointer to a struct, as every public
// entry point (Model Analyzer, Mutator, Row Reducer) requires.
func recordType(target any) (reflect.Type, error) {
	t := reflect.TypeOf(target)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, NewModelError(typeName(t), "a record target must be a pointer to struct")
	}
	return t.Elem(), nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
