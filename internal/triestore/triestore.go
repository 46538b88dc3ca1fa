// Package triestore implements the immutable, DAWG-backed column-group
// store used for string-heavy column groups with high value redundancy
// (spec §4.3, ReprCompressedTrie). Distinct values are deduplicated and
// packed into a single shared trie.Trie; each row id then only stores a
// packed integer reference (its value's trie rank) rather than a copy of
// the bytes, so columns with many repeated values (status strings,
// categories, low-cardinality tags) compress sharply. Building it requires
// every row's encoded value up front, so it is only produced at
// freeze/convert/merge time (spec §4.4), never by a writable segment.
package triestore

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"context"

	"github.com/iamNilotpal/ignite/internal/store"
	"github.com/iamNilotpal/ignite/internal/trie"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
)

const (
	dataFileName = "trie.dat"
	refsFileName = "rowrefs.dat"
)

// Store is a read-only column-group store: a dictionary of distinct
// values (the trie) plus a per-row-id array of dictionary ranks.
type Store struct {
	dict    *trie.Trie
	rowRank []int64 // rowRank[rowID] = rank into dict
}

// Build deduplicates rowsInOrder into a sorted value dictionary and
// persists both the dictionary and the row->rank reference array to dir.
func Build(dir string, rowsInOrder [][]byte) (*Store, error) {
	unique := make(map[string]struct{}, len(rowsInOrder))
	for _, v := range rowsInOrder {
		unique[string(v)] = struct{}{}
	}
	sortedVals := make([][]byte, 0, len(unique))
	for v := range unique {
		sortedVals = append(sortedVals, []byte(v))
	}
	sort.Slice(sortedVals, func(i, j int) bool { return string(sortedVals[i]) < string(sortedVals[j]) })

	dict, err := trie.Build(sortedVals)
	if err != nil {
		return nil, ierrors.Wrap(err, "triestore: build value dictionary")
	}

	rowRank := make([]int64, len(rowsInOrder))
	for i, v := range rowsInOrder {
		rank, ok := dict.Lookup(v)
		if !ok {
			return nil, ierrors.Wrap(ierrors.ErrInvariant, "triestore: value missing from its own dictionary")
		}
		rowRank[i] = rank
	}

	s := &Store{dict: dict, rowRank: rowRank}
	if err := s.save(dir); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads a previously built Store from dir.
func Open(dir string) (*Store, error) {
	dictBytes, err := os.ReadFile(filepath.Join(dir, dataFileName))
	if err != nil {
		return nil, ierrors.Wrap(err, "triestore: read dictionary file")
	}
	dict, err := trie.Load(dictBytes)
	if err != nil {
		return nil, err
	}

	refBytes, err := os.ReadFile(filepath.Join(dir, refsFileName))
	if err != nil {
		return nil, ierrors.Wrap(err, "triestore: read row reference file")
	}
	if len(refBytes)%8 != 0 {
		return nil, ierrors.Wrap(ierrors.ErrCorrupt, "triestore: row reference file misaligned")
	}
	rowRank := make([]int64, len(refBytes)/8)
	for i := range rowRank {
		rowRank[i] = int64(binary.BigEndian.Uint64(refBytes[i*8 : i*8+8]))
	}

	return &Store{dict: dict, rowRank: rowRank}, nil
}

func (s *Store) save(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, dataFileName), s.dict.Save(), 0644); err != nil {
		return ierrors.Wrap(err, "triestore: write dictionary file")
	}

	refBytes := make([]byte, len(s.rowRank)*8)
	for i, rank := range s.rowRank {
		binary.BigEndian.PutUint64(refBytes[i*8:i*8+8], uint64(rank))
	}
	if err := os.WriteFile(filepath.Join(dir, refsFileName), refBytes, 0644); err != nil {
		return ierrors.Wrap(err, "triestore: write row reference file")
	}
	return nil
}

// NumRows implements store.ReadableStore.
func (s *Store) NumRows() int64 { return int64(len(s.rowRank)) }

// DataStorageSize implements store.ReadableStore.
func (s *Store) DataStorageSize() int64 {
	return int64(len(s.dict.Save())) + int64(len(s.rowRank))*8
}

// DataInflateSize implements store.ReadableStore: the logical size if
// every row's value were stored uncompressed.
func (s *Store) DataInflateSize() int64 {
	var n int64
	for _, rank := range s.rowRank {
		n += int64(len(s.dict.KeyAt(rank)))
	}
	return n
}

// GetValueAppend implements store.ReadableStore.
func (s *Store) GetValueAppend(ctx context.Context, id int64, buf []byte) ([]byte, error) {
	if id < 0 || id >= int64(len(s.rowRank)) {
		return nil, ierrors.Wrap(ierrors.ErrNotFound, "triestore: unknown id")
	}
	return append(buf, s.dict.KeyAt(s.rowRank[id])...), nil
}

// NewForwardIterator implements store.ReadableStore.
func (s *Store) NewForwardIterator() store.Iterator { return &iterator{s: s, pos: -1, forward: true} }

// NewBackwardIterator implements store.ReadableStore.
func (s *Store) NewBackwardIterator() store.Iterator {
	return &iterator{s: s, pos: len(s.rowRank), forward: false}
}

type iterator struct {
	s       *Store
	pos     int
	forward bool
}

func (it *iterator) Next() bool {
	if it.forward {
		it.pos++
		return it.pos < len(it.s.rowRank)
	}
	it.pos--
	return it.pos >= 0
}

func (it *iterator) Id() int64     { return int64(it.pos) }
func (it *iterator) Value() []byte { return it.s.dict.KeyAt(it.s.rowRank[it.pos]) }

func (it *iterator) SeekExact(id int64) bool {
	if id < 0 || id >= int64(len(it.s.rowRank)) {
		return false
	}
	it.pos = int(id)
	return true
}

func (it *iterator) Reset() {
	if it.forward {
		it.pos = -1
	} else {
		it.pos = len(it.s.rowRank)
	}
}

func (it *iterator) Close() error { return nil }

var _ store.ReadableStore = (*Store)(nil)
