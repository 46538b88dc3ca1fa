// Package index defines the shared index contract (spec §4.2) and its two
// concrete backings: internal/index/trieindex (immutable, compressed-trie,
// regex-capable, used by readonly segments) and internal/index/kvindex
// (mutable, btree-backed, used by writable segments). A table never talks
// to either backing directly — it holds an Index and type-switches to
// WritableIndex only when routing writes to the active writable segment's
// index (spec §4.4).
package index

import (
	"regexp"

	"github.com/iamNilotpal/ignite/internal/schema"
)

// Cursor walks an Index in key order, starting from wherever a Seek* call
// on the owning Index positioned it. Next moves toward larger keys and Prev
// toward smaller ones regardless of which Seek* produced it; callers
// wanting descending order use SeekUpperBound then Prev.
type Cursor interface {
	// Valid reports whether the cursor currently references a key.
	Valid() bool
	// Key returns the current key. Valid only when Valid() is true.
	Key() []byte
	// Ids returns every row id registered under the current key (more than
	// one only for a duplicable index).
	Ids() []int64
	// Next advances to the next larger key.
	Next() bool
	// Prev moves to the next smaller key.
	Prev() bool
}

// Index is the read contract every backing satisfies.
type Index interface {
	// Name is the schema index name this instance backs.
	Name() string
	// Kind reports unique vs duplicable.
	Kind() schema.IndexKind
	// NumKeys returns the number of distinct keys currently indexed.
	NumKeys() int64

	// Exact returns every row id registered under key.
	Exact(key []byte) ([]int64, error)
	// KeyExists reports whether key has at least one row id.
	KeyExists(key []byte) bool

	// SeekLowerBound returns a cursor at the first key >= key.
	SeekLowerBound(key []byte) Cursor
	// SeekUpperBound returns a cursor at the first key > key.
	SeekUpperBound(key []byte) Cursor
	// SeekMaxPrefix returns a cursor at the first key sharing prefix, plus
	// the exclusive upper cursor bound of the prefix run.
	SeekMaxPrefix(prefix []byte) (lower Cursor, upperExclusive Cursor)

	// MatchRegex returns every row id whose key matches re, failing with
	// ierrors.ErrStoreInternal once more than memLimitBytes of key bytes
	// have been scanned. The trie backing also returns ErrStoreInternal
	// when it was built without schema.Index.Regex; the KV backing always
	// answers with a linear scan.
	MatchRegex(re *regexp.Regexp, memLimitBytes uint64) ([]int64, error)

	Close() error
}

// WritableIndex extends Index with mutation, implemented only by
// internal/index/kvindex.
type WritableIndex interface {
	Index
	Insert(key []byte, id int64) error
	Remove(key []byte, id int64) error
}
