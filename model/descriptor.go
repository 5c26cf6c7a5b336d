package model

import (
	"reflect"

	"github.com/strata-orm/strata/dialect"
)

// FieldKind tags the classification variants of spec.md §3.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindComputed
	KindEmbedded
	KindToOne
	KindToMany
	KindLinkMany
	KindSubclasses
	KindOtherBag
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindComputed:
		return "computed"
	case KindEmbedded:
		return "embedded"
	case KindToOne:
		return "to-one"
	case KindToMany:
		return "to-many"
	case KindLinkMany:
		return "link-many"
	case KindSubclasses:
		return "subclasses"
	case KindOtherBag:
		return "other-bag"
	default:
		return "unknown"
	}
}

// ContainerKind is how a ToMany/LinkMany/Subclasses field's Go value is
// shaped, driving the Row Reducer's linking step (spec.md §4.F step 5).
type ContainerKind int

const (
	ContainerSingle ContainerKind = iota // *T or T (ToOne only)
	ContainerSlice                       // []T, ordered, first-appearance order
	ContainerSet                         // map[T]struct{} or a Set[T] wrapper, unordered
	ContainerArray                       // [N]T, fixed size
)

// TableMapping is one entry in a record type's table chain: the declaring
// Go type, the table it maps to, and the fields declared directly on that
// type (after flattening any un-annotated embedded structs into it).
type TableMapping struct {
	TableName  string
	SchemaName string
	Type       reflect.Type
	OwnFields  []*Field
}

// Field is a classified struct field: the tagged-union of spec.md §3's
// field-classification variants, plus enough reflect metadata to populate it
// during reduction and mutation.
type Field struct {
	GoName      string
	StructIndex []int // reflect.Value.FieldByIndex path, relative to the record type the Node was analyzed from
	StructField reflect.StructField
	Kind        FieldKind

	// Scalar / Computed / Embedded-leaf
	Column     string
	SQLType    dialect.ColumnType
	Length     int
	Precision  int
	Scale      int
	IsID       bool
	IsVersion  bool
	NoAuto     bool // id is caller-supplied (e.g. a UUID key), not database-generated
	NoUpdate   bool
	Lob        bool
	GroupBy    bool
	ComputedSQL string

	// Embedded
	EmbeddedPrefix string
	EmbeddedNode   *Node

	// ToOne / ToMany
	Target        *Node
	ForeignKey    string // column on the owning side (ToOne) or the child side (ToMany)
	JoinCondition string // explicit override, wins over convention
	Container     ContainerKind
	OnDelete      string // cascade action for the Schema Emitter's FK constraint; empty means the dialect default

	// LinkMany
	LinkTable    string
	LinkLeftCol  string
	LinkRightCol string
	FetchColumn  string // non-empty => linked-value alias, not an entity alias

	// Subclasses
	Branches      []*Branch
	Discriminator string // non-empty => single-table inheritance keyed by this column
}

// Branch is one participant of a Subclasses field: a concrete subtype, either
// with its own table (table-per-subclass) or sharing the parent's table and
// selected by a discriminator value (single-table).
type Branch struct {
	GoName            string
	UnionFieldIndex   []int // index of the pointer field within the union struct
	Node              *Node
	DiscriminatorValue string // set when the parent field declares a Discriminator
}

// Node is the fully classified model of one record type: its table chain and
// the classified fields contributed by every table in that chain.
type Node struct {
	Type       reflect.Type
	TableChain []*TableMapping
	IDFields   []*Field // the id field(s), flattened across the whole chain

	// allFields is populated by Fields() lazily.
	allFields []*Field
}

// VersionField returns the field annotated as the optimistic-lock version
// column, if this record type declares one (spec.md §4.H: "when the record
// implements an optimistic-version capability").
func (n *Node) VersionField() *Field {
	for _, f := range n.Fields() {
		if f.Kind == KindScalar && f.IsVersion {
			return f
		}
	}
	return nil
}

// ConcreteTable is the last (most-derived) entry in the table chain, per the
// invariant in spec.md §3 ("the last entry's type is the concrete type").
func (n *Node) ConcreteTable() *TableMapping {
	if len(n.TableChain) == 0 {
		return nil
	}
	return n.TableChain[len(n.TableChain)-1]
}

// Fields returns every classified field across the whole table chain, in
// chain order (superclass-first) and declaration order within each table —
// the same deterministic order the Alias Planner visits fields in (spec.md
// §4.C "Tie-breaks").
func (n *Node) Fields() []*Field {
	if n.allFields != nil {
		return n.allFields
	}
	var out []*Field
	for _, tm := range n.TableChain {
		out = append(out, tm.OwnFields...)
	}
	n.allFields = out
	return out
}
