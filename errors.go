package strata

import (
	"errors"
	"fmt"
)

// Sentinel errors for the five error kinds the core distinguishes (spec §7).
// Use errors.Is against these, or errors.As against the concrete types below
// when the extra context (column name, path, ...) is needed.
var (
	// ErrModel is the sentinel for structural problems in a user's record
	// type: missing table, missing id, a cycle, a non-sequence ToMany, an
	// unknown field reference in a tag. Always fatal at plan time.
	ErrModel = errors.New("strata: model error")

	// ErrMapping is the sentinel for a runtime reduction failure: a missing
	// expected column, a constructor failure, a coercion failure.
	ErrMapping = errors.New("strata: mapping error")

	// ErrSQL is the sentinel for a statement-build failure: an unterminated
	// string literal, an unknown named parameter, a reference to an unknown
	// alias.
	ErrSQL = errors.New("strata: sql error")

	// ErrDialect is the sentinel for an abstract column type the selected
	// dialect cannot express.
	ErrDialect = errors.New("strata: dialect error")

	// ErrStaleRecord is the sentinel for an optimistic-version mismatch on
	// update.
	ErrStaleRecord = errors.New("strata: stale record")
)

// ModelError describes a structural problem discovered while analyzing a
// record type: a missing table, a missing id field, a cycle in the alias
// graph, and so on.
type ModelError struct {
	Type    string // the Go type name the error was found on
	Path    string // dotted alias path, when the error is path-specific
	Message string
}

func (e *ModelError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("strata: model error: %s: %s: %s", e.Type, e.Path, e.Message)
	}
	return fmt.Sprintf("strata: model error: %s: %s", e.Type, e.Message)
}

// Is reports whether target is ErrModel, so errors.Is(err, ErrModel) works.
func (e *ModelError) Is(target error) bool { return target == ErrModel }

// NewModelError builds a ModelError for the given type and message.
func NewModelError(typeName, message string) *ModelError {
	return &ModelError{Type: typeName, Message: message}
}

// CycleError is a ModelError specialization naming the cyclic path.
type CycleError struct {
	ModelError
	Cycle []string // dotted alias segments forming the cycle
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("strata: cycle detected: %s", joinDots(e.Cycle))
}

func joinDots(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}

// NewCycleError builds a CycleError naming the offending path.
func NewCycleError(typeName string, cycle []string) *CycleError {
	return &CycleError{
		ModelError: ModelError{Type: typeName, Message: "cyclic relation graph"},
		Cycle:      cycle,
	}
}

// MappingError describes a failure while reducing rows into an object graph.
type MappingError struct {
	Alias   string
	Column  string
	Message string
	Cause   error
}

func (e *MappingError) Error() string {
	switch {
	case e.Column != "" && e.Alias != "":
		return fmt.Sprintf("strata: mapping error: %s.%s: %s", e.Alias, e.Column, e.Message)
	case e.Alias != "":
		return fmt.Sprintf("strata: mapping error: %s: %s", e.Alias, e.Message)
	default:
		return fmt.Sprintf("strata: mapping error: %s", e.Message)
	}
}

func (e *MappingError) Unwrap() error    { return e.Cause }
func (e *MappingError) Is(t error) bool  { return t == ErrMapping }

// NewMappingError builds a MappingError.
func NewMappingError(alias, column, message string) *MappingError {
	return &MappingError{Alias: alias, Column: column, Message: message}
}

// SqlError describes a failure while assembling a Statement: an unterminated
// literal, an unresolved alias token, an unknown named parameter.
type SqlError struct {
	Message string
	Cause   error
}

func (e *SqlError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("strata: sql error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("strata: sql error: %s", e.Message)
}

func (e *SqlError) Unwrap() error   { return e.Cause }
func (e *SqlError) Is(t error) bool { return t == ErrSQL }

// NewSqlError builds a SqlError.
func NewSqlError(message string) *SqlError {
	return &SqlError{Message: message}
}

// DialectError describes an abstract type or feature that the selected
// dialect cannot express.
type DialectError struct {
	Dialect string
	Message string
}

func (e *DialectError) Error() string {
	return fmt.Sprintf("strata: dialect error: %s: %s", e.Dialect, e.Message)
}

func (e *DialectError) Is(t error) bool { return t == ErrDialect }

// NewDialectError builds a DialectError.
func NewDialectError(dialectName, message string) *DialectError {
	return &DialectError{Dialect: dialectName, Message: message}
}

// StaleRecordError is returned by an Update when the optimistic-version
// predicate matched zero rows.
type StaleRecordError struct {
	Table string
	ID    any
}

func (e *StaleRecordError) Error() string {
	return fmt.Sprintf("strata: stale record: %s (id=%v)", e.Table, e.ID)
}

func (e *StaleRecordError) Is(t error) bool { return t == ErrStaleRecord }

// NewStaleRecordError builds a StaleRecordError.
func NewStaleRecordError(table string, id any) *StaleRecordError {
	return &StaleRecordError{Table: table, ID: id}
}
