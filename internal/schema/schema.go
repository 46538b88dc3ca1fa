// Package schema defines the row, column-group and index schemas that every
// other core package takes a borrowed, non-owning reference to. The table
// owns the single Schema value for its lifetime; segments, indexes and
// column-group stores never copy or outlive it (spec §9, "Cyclic
// ownership").
package schema

import "fmt"

// ColumnType enumerates the value types a column can hold. Variable-length
// types (String, Bytes) force their column group into row-wise storage;
// fixed-width types are eligible for fixed-length packed storage.
type ColumnType int

const (
	ColumnUnknown ColumnType = iota
	ColumnInt32
	ColumnInt64
	ColumnUint32
	ColumnUint64
	ColumnFloat64
	ColumnBool
	ColumnString
	ColumnBytes
)

// FixedWidth returns the on-disk width of the type in bytes, or (0, false)
// for variable-length types.
func (t ColumnType) FixedWidth() (int, bool) {
	switch t {
	case ColumnInt32, ColumnUint32:
		return 4, true
	case ColumnInt64, ColumnUint64, ColumnFloat64:
		return 8, true
	case ColumnBool:
		return 1, true
	default:
		return 0, false
	}
}

// NeedsByteLexEncode reports whether values of this type require the
// codec package's order-preserving transform before they can be used as
// raw-memcmp-ordered index keys.
func (t ColumnType) NeedsByteLexEncode() bool {
	switch t {
	case ColumnInt32, ColumnInt64, ColumnFloat64:
		return true
	default:
		return false
	}
}

// Column describes a single row field.
type Column struct {
	Name string
	Type ColumnType
}

// ColgroupRepr selects the on-disk representation a column group's store
// uses (spec §4.3).
type ColgroupRepr int

const (
	// ReprRowWritable is the mutable append-only row store, used by
	// writable segments for columns not split into fixed-length storage.
	ReprRowWritable ColgroupRepr = iota
	// ReprFixedLength is the immutable contiguous fixed-width packed store.
	ReprFixedLength
	// ReprCompressedTrie is the immutable dawg-backed succinct store, used
	// for string column groups with high prefix redundancy.
	ReprCompressedTrie
)

// ColumnGroup is a named subset of a row's columns stored together under a
// single representation.
type ColumnGroup struct {
	Name    string
	Columns []string // column names, in encode order
	Repr    ColgroupRepr
}

// IndexKind distinguishes unique from duplicable indexes (spec §4.2).
type IndexKind int

const (
	IndexUnique IndexKind = iota
	IndexDuplicable
)

// IndexBacking selects which structure backs an index: a compressed trie
// for readonly segments, or an embedded KV for writable ones (spec §4.2).
type IndexBacking int

const (
	BackingTrie IndexBacking = iota
	BackingKV
)

// Index describes one index over a subset of a row's columns.
type Index struct {
	Name     string
	Columns  []string
	Kind     IndexKind
	Backing  IndexBacking
	Ordered  bool // whether an ordered cursor is exposed in addition to exact lookup
	Regex    bool // whether matchRegex is exposed; only meaningful for BackingTrie
}

// Schema is the full row/column-group/index definition for one table. It is
// immutable once built; every downstream structure holds a *Schema obtained
// from the table, never a copy.
type Schema struct {
	Columns      []Column
	ColumnGroups []ColumnGroup
	Indexes      []Index

	colIndex map[string]int
	cgIndex  map[string]int
	idxIndex map[string]int
}

// New validates and builds a Schema. Every column referenced by a column
// group or index must be declared in Columns.
func New(columns []Column, groups []ColumnGroup, indexes []Index) (*Schema, error) {
	s := &Schema{Columns: columns, ColumnGroups: groups, Indexes: indexes}
	s.colIndex = make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := s.colIndex[c.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		s.colIndex[c.Name] = i
	}

	s.cgIndex = make(map[string]int, len(groups))
	for i, g := range groups {
		if _, dup := s.cgIndex[g.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate column group %q", g.Name)
		}
		for _, colName := range g.Columns {
			if _, ok := s.colIndex[colName]; !ok {
				return nil, fmt.Errorf("schema: column group %q references unknown column %q", g.Name, colName)
			}
		}
		s.cgIndex[g.Name] = i
	}

	s.idxIndex = make(map[string]int, len(indexes))
	for i, idx := range indexes {
		if _, dup := s.idxIndex[idx.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate index %q", idx.Name)
		}
		for _, colName := range idx.Columns {
			if _, ok := s.colIndex[colName]; !ok {
				return nil, fmt.Errorf("schema: index %q references unknown column %q", idx.Name, colName)
			}
		}
		if idx.Backing == BackingKV && idx.Regex {
			return nil, fmt.Errorf("schema: index %q: regex scan requires a trie backing", idx.Name)
		}
		s.idxIndex[idx.Name] = i
	}

	return s, nil
}

// Column looks up a column by name.
func (s *Schema) Column(name string) (Column, bool) {
	i, ok := s.colIndex[name]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], ok
}

// ColumnGroup looks up a column group by name.
func (s *Schema) ColumnGroup(name string) (ColumnGroup, bool) {
	i, ok := s.cgIndex[name]
	if !ok {
		return ColumnGroup{}, false
	}
	return s.ColumnGroups[i], ok
}

// Index looks up an index by name.
func (s *Schema) Index(name string) (Index, bool) {
	i, ok := s.idxIndex[name]
	if !ok {
		return Index{}, false
	}
	return s.Indexes[i], ok
}

// NeedByteLexEncode reports whether any column backing idx requires
// order-preserving encoding before insertion (spec §6 "Key encoding
// invariants").
func (s *Schema) NeedByteLexEncode(idx Index) bool {
	for _, name := range idx.Columns {
		if c, ok := s.Column(name); ok && c.Type.NeedsByteLexEncode() {
			return true
		}
	}
	return false
}
