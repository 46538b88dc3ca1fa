// Package kvindex implements the mutable, btree-backed Index used by
// writable segments (spec §4.2). It is grounded on
// fenghaojiang-erigon-lib/state/domain_committed.go's use of
// github.com/google/btree's generic BTreeG for an ordered, mutable key
// index, generalized here from commitment items to (key, posting-list)
// pairs so a writable segment's index can support both unique and
// duplicable columns without a second data structure.
package kvindex

import (
	"bytes"
	"regexp"
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/iamNilotpal/ignite/internal/index"
	"github.com/iamNilotpal/ignite/internal/schema"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
)

type item struct {
	key []byte
	ids []int64
}

func less(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

// Index is a mutable key -> posting-list map ordered by byte-lex key.
type Index struct {
	name string
	kind schema.IndexKind
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

// New creates an empty writable index.
func New(name string, kind schema.IndexKind) *Index {
	return &Index{name: name, kind: kind, tree: btree.NewG(32, less)}
}

func (idx *Index) Name() string               { return idx.name }
func (idx *Index) Kind() schema.IndexKind     { return idx.kind }
func (idx *Index) NumKeys() int64             { idx.mu.RLock(); defer idx.mu.RUnlock(); return int64(idx.tree.Len()) }

// Insert registers id under key. For a unique index, inserting a second id
// under an existing key fails with ErrDuplicateKey.
func (idx *Index) Insert(key []byte, id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	k := append([]byte(nil), key...)
	existing, found := idx.tree.Get(item{key: k})
	if !found {
		idx.tree.ReplaceOrInsert(item{key: k, ids: []int64{id}})
		return nil
	}

	if idx.kind == schema.IndexUnique {
		return ierrors.Wrap(ierrors.ErrDuplicateKey, "kvindex: unique index already has a row under this key")
	}

	for _, existingID := range existing.ids {
		if existingID == id {
			return nil
		}
	}
	existing.ids = append(existing.ids, id)
	idx.tree.ReplaceOrInsert(existing)
	return nil
}

// Remove deregisters id from key. Once a key's posting list is empty the
// key itself is removed from the tree.
func (idx *Index) Remove(key []byte, id int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	existing, found := idx.tree.Get(item{key: key})
	if !found {
		return ierrors.Wrap(ierrors.ErrNotFound, "kvindex: key not present")
	}

	filtered := existing.ids[:0]
	for _, existingID := range existing.ids {
		if existingID != id {
			filtered = append(filtered, existingID)
		}
	}
	if len(filtered) == 0 {
		idx.tree.Delete(existing)
		return nil
	}
	existing.ids = filtered
	idx.tree.ReplaceOrInsert(existing)
	return nil
}

func (idx *Index) Exact(key []byte) ([]int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	it, found := idx.tree.Get(item{key: key})
	if !found {
		return nil, ierrors.Wrap(ierrors.ErrNotFound, "kvindex: key not present")
	}
	return append([]int64(nil), it.ids...), nil
}

func (idx *Index) KeyExists(key []byte) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, found := idx.tree.Get(item{key: key})
	return found
}

func (idx *Index) SeekLowerBound(key []byte) index.Cursor {
	return idx.seek(key, false)
}

func (idx *Index) SeekUpperBound(key []byte) index.Cursor {
	return idx.seek(key, true)
}

// seek snapshots the full ordered key set and positions a cursor by index
// into it, rather than a forward-only slice from the bound: a cursor must
// support Prev as well as Next (SeekUpperBound+Prev is the documented way
// to start a backward iteration, index.Cursor), which a snapshot that only
// ever looked forward from the bound could never satisfy.
func (idx *Index) seek(key []byte, strictlyGreater bool) index.Cursor {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var all []item
	idx.tree.Ascend(func(it item) bool {
		all = append(all, it)
		return true
	})

	pos := sort.Search(len(all), func(i int) bool {
		if strictlyGreater {
			return bytes.Compare(all[i].key, key) > 0
		}
		return bytes.Compare(all[i].key, key) >= 0
	})

	return &cursor{idx: idx, all: all, pos: pos}
}

// SeekMaxPrefix returns [lower, upperExclusive) cursors bounding every key
// sharing prefix.
func (idx *Index) SeekMaxPrefix(prefix []byte) (index.Cursor, index.Cursor) {
	upper := incrementBytes(prefix)
	lower := idx.SeekLowerBound(prefix)
	if upper == nil {
		return lower, &cursor{idx: idx}
	}
	return lower, idx.SeekLowerBound(upper)
}

func incrementBytes(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out
		}
		out[i] = 0
	}
	return nil
}

// MatchRegex is only meaningful for trie-backed indexes; a writable
// segment's kvindex still honors it (linear scan) so a query spanning both
// a readonly and writable segment gets consistent semantics.
func (idx *Index) MatchRegex(re *regexp.Regexp, memLimitBytes uint64) ([]int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []int64
	var scanned uint64
	var budgetErr error
	idx.tree.Ascend(func(it item) bool {
		scanned += uint64(len(it.key))
		if scanned > memLimitBytes {
			budgetErr = ierrors.Wrap(ierrors.ErrStoreInternal, "kvindex: regex scan exceeded memory budget")
			return false
		}
		if re.Match(it.key) {
			out = append(out, it.ids...)
		}
		return true
	})
	if budgetErr != nil {
		return nil, budgetErr
	}
	return out, nil
}

func (idx *Index) Close() error { return nil }

// cursor walks a fixed snapshot of the tree's keys taken at seek time.
// kvindex is small enough per writable segment (bounded by flush size)
// that a full in-memory snapshot per cursor is simpler and safer than
// threading btree iteration state across Next/Prev calls.
type cursor struct {
	idx *Index
	all []item
	pos int
}

func (c *cursor) Valid() bool { return c.pos >= 0 && c.pos < len(c.all) }

func (c *cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return c.all[c.pos].key
}

func (c *cursor) Ids() []int64 {
	if !c.Valid() {
		return nil
	}
	return c.all[c.pos].ids
}

// Next advances to the next larger key. It returns whether the new
// position is valid, so callers write `for c.Valid() { use(c); c.Next() }`.
func (c *cursor) Next() bool {
	if c.pos < len(c.all) {
		c.pos++
	}
	return c.Valid()
}

// Prev moves back to the next smaller key.
func (c *cursor) Prev() bool {
	if c.pos > 0 {
		c.pos--
	} else {
		c.pos = -1
	}
	return c.Valid()
}

var (
	_ index.Index         = (*Index)(nil)
	_ index.WritableIndex = (*Index)(nil)
)
