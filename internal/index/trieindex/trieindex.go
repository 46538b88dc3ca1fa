// Package trieindex implements the immutable, compressed-trie-backed Index
// used by readonly segments (spec §4.2, §4.4). Distinct keys are packed
// into a single internal/trie.Trie; duplicate occurrences of the same key
// (legal only for a duplicable index) are represented by a posting array
// plus a recBits run-start bitmap, so a duplicable key's row count is
// derived by a zero-run-length scan from the bitmap rather than stored
// redundantly per id.
package trieindex

import (
	"regexp"

	"github.com/iamNilotpal/ignite/internal/index"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/trie"
	"github.com/iamNilotpal/ignite/pkg/bitmap"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
)

// Entry is one (key, id) pair supplied to Build. Builders (freeze/convert/
// merge) are expected to have already sorted by key and, within equal
// keys, by id.
type Entry struct {
	Key []byte
	ID  int64
}

// Index is a read-only key -> posting-list map.
type Index struct {
	name    string
	kind    schema.IndexKind
	regex   bool
	keys    *trie.Trie // distinct sorted keys; rank == posting-group index
	ids     []int64    // all ids, grouped by rank, in the order supplied
	recBits *bitmap.Bitmap
}

// Build constructs an Index from entries already sorted by (Key, ID).
// Adjacent entries sharing a key form one posting group.
func Build(name string, kind schema.IndexKind, regex bool, entries []Entry) (*Index, error) {
	idx := &Index{name: name, kind: kind, regex: regex, recBits: bitmap.New()}
	if len(entries) == 0 {
		keys, err := trie.Build(nil)
		if err != nil {
			return nil, err
		}
		idx.keys = keys
		return idx, nil
	}

	var distinctKeys [][]byte
	idx.ids = make([]int64, 0, len(entries))

	var prevKey []byte
	for i, e := range entries {
		isNewGroup := i == 0 || string(e.Key) != string(prevKey)
		if isNewGroup {
			distinctKeys = append(distinctKeys, e.Key)
			idx.recBits.Set(uint32(len(idx.ids)))
			prevKey = e.Key
		} else if kind == schema.IndexUnique {
			return nil, ierrors.Wrap(ierrors.ErrDuplicateKey, "trieindex: unique index built with duplicate key")
		}
		idx.ids = append(idx.ids, e.ID)
	}

	keys, err := trie.Build(distinctKeys)
	if err != nil {
		return nil, err
	}
	idx.keys = keys
	return idx, nil
}

func (idx *Index) Name() string           { return idx.name }
func (idx *Index) Kind() schema.IndexKind { return idx.kind }
func (idx *Index) NumKeys() int64         { return int64(idx.keys.NumKeys()) }

// postingRange returns the [lo, hi) slice bounds into idx.ids for the
// posting group at key rank.
func (idx *Index) postingRange(rank int64) (int64, int64) {
	lo, _ := idx.recBits.Select1(uint64(rank))
	runLen := idx.recBits.ZeroSeqLength(lo+1, uint32(len(idx.ids))) + 1
	return int64(lo), int64(lo) + int64(runLen)
}

func (idx *Index) Exact(key []byte) ([]int64, error) {
	rank, ok := idx.keys.Lookup(key)
	if !ok {
		return nil, ierrors.Wrap(ierrors.ErrNotFound, "trieindex: key not present")
	}
	lo, hi := idx.postingRange(rank)
	return append([]int64(nil), idx.ids[lo:hi]...), nil
}

func (idx *Index) KeyExists(key []byte) bool {
	_, ok := idx.keys.Lookup(key)
	return ok
}

func (idx *Index) SeekLowerBound(key []byte) index.Cursor {
	rank := idx.keys.LowerBound(key)
	return &cursor{idx: idx, rank: rank}
}

func (idx *Index) SeekUpperBound(key []byte) index.Cursor {
	rank := idx.keys.UpperBound(key)
	return &cursor{idx: idx, rank: rank}
}

func (idx *Index) SeekMaxPrefix(prefix []byte) (index.Cursor, index.Cursor) {
	lo, hi := idx.keys.SeekMaxPrefix(prefix)
	return &cursor{idx: idx, rank: lo}, &cursor{idx: idx, rank: hi}
}

func (idx *Index) MatchRegex(re *regexp.Regexp, memLimitBytes uint64) ([]int64, error) {
	if !idx.regex {
		return nil, ierrors.Wrap(ierrors.ErrStoreInternal, "trieindex: regex scan not enabled for this index")
	}
	ranks, err := idx.keys.MatchRegex(re, memLimitBytes)
	if err != nil {
		return nil, err
	}

	var out []int64
	for _, rank := range ranks {
		lo, hi := idx.postingRange(rank)
		out = append(out, idx.ids[lo:hi]...)
	}
	return out, nil
}

func (idx *Index) Close() error { return nil }

type cursor struct {
	idx  *Index
	rank int64
}

func (c *cursor) Valid() bool { return c.rank >= 0 && c.rank < int64(c.idx.keys.NumKeys()) }

func (c *cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	return c.idx.keys.KeyAt(c.rank)
}

func (c *cursor) Ids() []int64 {
	if !c.Valid() {
		return nil
	}
	lo, hi := c.idx.postingRange(c.rank)
	return c.idx.ids[lo:hi]
}

func (c *cursor) Next() bool {
	c.rank++
	return c.Valid()
}

func (c *cursor) Prev() bool {
	if c.rank <= 0 {
		c.rank = -1
		return false
	}
	c.rank--
	return true
}

var _ index.Index = (*Index)(nil)
