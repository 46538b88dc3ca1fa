// Package trie implements the immutable, memory-compact sorted-key
// structure that backs compressed-trie column-group stores and trie-backed
// indexes on readonly segments (spec §4.2, §4.3). It is conceptually
// grounded in original_source's nested-louds-trie/DAWG index
// (src/terark/terichdb/dfadb/nlt_index.cpp), which packs a sorted key set
// into a succinct trie plus a packed id<->rank integer array so neither
// structure needs per-key pointers or hashmap overhead.
//
// No pack dependency provides a succinct trie primitive, so this builds
// directly on sort/encoding/binary: keys are suffix/prefix-shared only
// through a single concatenated backing buffer (no string headers per key)
// and resolved in O(log n) via binary search over a packed offset array,
// which is the same memory-vs-lookup trade the original makes without
// requiring a hand-rolled louds bitvector.
package trie

import (
	"bytes"
	"encoding/binary"
	"regexp"
	"sort"

	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
)

// Trie is an immutable sorted set of byte-string keys, each assigned a
// dense rank id in [0, NumKeys()). It never mutates after Build; readonly
// segments rebuild it wholesale on freeze/convert (spec §4.4).
type Trie struct {
	blob    []byte   // concatenated key bytes, in sorted order
	offsets []uint64 // offsets[i] is the start of key i in blob; len == n+1
}

// Build constructs a Trie from keys, which must already be sorted in
// ascending byte-lex order and is taken ownership of (not copied).
func Build(sortedKeys [][]byte) (*Trie, error) {
	for i := 1; i < len(sortedKeys); i++ {
		if bytes.Compare(sortedKeys[i-1], sortedKeys[i]) >= 0 {
			return nil, ierrors.Wrap(ierrors.ErrInvariant, "trie: input keys not strictly sorted")
		}
	}

	t := &Trie{offsets: make([]uint64, len(sortedKeys)+1)}
	var total uint64
	for _, k := range sortedKeys {
		total += uint64(len(k))
	}
	t.blob = make([]byte, 0, total)

	for i, k := range sortedKeys {
		t.offsets[i] = uint64(len(t.blob))
		t.blob = append(t.blob, k...)
	}
	t.offsets[len(sortedKeys)] = uint64(len(t.blob))
	return t, nil
}

// NumKeys returns the number of keys in the trie.
func (t *Trie) NumKeys() int {
	if len(t.offsets) == 0 {
		return 0
	}
	return len(t.offsets) - 1
}

// KeyAt returns the key with rank id. id must be in [0, NumKeys()).
func (t *Trie) KeyAt(id int64) []byte {
	return t.blob[t.offsets[id]:t.offsets[id+1]]
}

// Lookup returns the rank id of key and true if present.
func (t *Trie) Lookup(key []byte) (int64, bool) {
	n := t.NumKeys()
	i := sort.Search(n, func(i int) bool { return bytes.Compare(t.KeyAt(int64(i)), key) >= 0 })
	if i < n && bytes.Equal(t.KeyAt(int64(i)), key) {
		return int64(i), true
	}
	return 0, false
}

// LowerBound returns the rank id of the first key >= target, or NumKeys()
// if all keys are smaller.
func (t *Trie) LowerBound(target []byte) int64 {
	n := t.NumKeys()
	return int64(sort.Search(n, func(i int) bool { return bytes.Compare(t.KeyAt(int64(i)), target) >= 0 }))
}

// UpperBound returns the rank id of the first key > target, or NumKeys()
// if none.
func (t *Trie) UpperBound(target []byte) int64 {
	n := t.NumKeys()
	return int64(sort.Search(n, func(i int) bool { return bytes.Compare(t.KeyAt(int64(i)), target) > 0 }))
}

// SeekMaxPrefix returns the rank-id range [lo, hi) of every key sharing
// prefix as its leading bytes (spec §4.2 seekMaxPrefix).
func (t *Trie) SeekMaxPrefix(prefix []byte) (lo, hi int64) {
	lo = t.LowerBound(prefix)
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	// The first key that does NOT start with prefix, among keys >= prefix,
	// is found by incrementing prefix as a big-endian byte string: any key
	// >= that bound has diverged from the prefix.
	inc := incrementBytes(upper)
	if inc == nil {
		return lo, int64(t.NumKeys())
	}
	hi = t.LowerBound(inc)
	return lo, hi
}

func incrementBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out
		}
		out[i] = 0
	}
	return nil // all 0xff: no finite upper bound, caller treats as +inf
}

// MatchRegex streams every rank id whose key matches re, in ascending
// order, honoring a byte budget on how much key data may be scanned
// (spec §6).
func (t *Trie) MatchRegex(re *regexp.Regexp, memLimit uint64) ([]int64, error) {
	var scanned uint64
	var out []int64
	n := t.NumKeys()
	for i := 0; i < n; i++ {
		k := t.KeyAt(int64(i))
		scanned += uint64(len(k))
		if scanned > memLimit {
			return nil, ierrors.Wrap(ierrors.ErrStoreInternal, "trie: regex scan exceeded memory budget")
		}
		if re.Match(k) {
			out = append(out, int64(i))
		}
	}
	return out, nil
}

// Save serializes the trie: [n:8][offsets:8*(n+1)][blob].
func (t *Trie) Save() []byte {
	n := t.NumKeys()
	out := make([]byte, 8+8*(n+1)+len(t.blob))
	binary.BigEndian.PutUint64(out[0:8], uint64(n))
	for i, off := range t.offsets {
		binary.BigEndian.PutUint64(out[8+8*i:8+8*i+8], off)
	}
	copy(out[8+8*(n+1):], t.blob)
	return out
}

// Load deserializes a trie previously produced by Save.
func Load(data []byte) (*Trie, error) {
	if len(data) < 8 {
		return nil, ierrors.Wrap(ierrors.ErrCorrupt, "trie: truncated header")
	}
	n := binary.BigEndian.Uint64(data[0:8])
	need := 8 + 8*(n+1)
	if uint64(len(data)) < need {
		return nil, ierrors.Wrap(ierrors.ErrCorrupt, "trie: truncated offsets")
	}

	t := &Trie{offsets: make([]uint64, n+1)}
	for i := uint64(0); i < n+1; i++ {
		t.offsets[i] = binary.BigEndian.Uint64(data[8+8*i : 8+8*i+8])
	}
	t.blob = data[need:]
	return t, nil
}
