// Package store defines the readable/appendable/updatable store contracts
// shared by every column-group representation (spec §4.1, §4.3). The three
// representations (writable row store, compressed trie, fixed-length) live
// in sibling packages (internal/rowstore, internal/triestore,
// internal/fixedstore) and are assembled behind the same ReadableStore
// interface so a segment can hold a slice of them uniformly.
package store

import (
	"context"

	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
)

// ReadableStore is the capability every column-group store has
// unconditionally: sized random access over a row-id range plus
// restartable forward/backward iteration (spec §4.1).
type ReadableStore interface {
	// NumRows returns the number of logical rows the store holds.
	NumRows() int64

	// DataStorageSize returns the on-disk size in bytes.
	DataStorageSize() int64

	// DataInflateSize returns the logical (decompressed) size in bytes.
	DataInflateSize() int64

	// GetValueAppend appends the row's encoded bytes to buf and returns the
	// extended slice. Returns ierrors.ErrDeletedRow, ErrUncommittedRow or
	// ErrCorrupt on failure per spec §4.1.
	GetValueAppend(ctx context.Context, id int64, buf []byte) ([]byte, error)

	// NewForwardIterator returns a restartable, single-pass-per-direction
	// iterator over (id, bytes) in ascending id order. Tombstoned rows are
	// skipped by the caller (the segment), not by the store itself, since
	// the store has no notion of deletion — only the segment's isDel does.
	NewForwardIterator() Iterator

	// NewBackwardIterator is the descending-order counterpart.
	NewBackwardIterator() Iterator
}

// Iterator walks a ReadableStore in one direction. It is single-pass: once
// exhausted it must be Reset to run again.
type Iterator interface {
	// Next advances the iterator and reports whether a value was produced.
	Next() bool

	// Id returns the current row's id. Valid only after Next returns true.
	Id() int64

	// Value returns the current row's bytes. Valid only after Next returns
	// true; the returned slice is only valid until the next Next call.
	Value() []byte

	// SeekExact positions the iterator at id and reports whether it exists.
	SeekExact(id int64) bool

	// Reset rewinds the iterator to start a fresh pass.
	Reset()

	// Close releases any resources (open file handles, mmaps) held by the
	// iterator.
	Close() error
}

// AppendableStore is implemented by representations that accept new rows
// (currently only the writable row store).
type AppendableStore interface {
	// Append serializes row and returns the sub-id it was assigned.
	Append(row []byte) (int64, error)
}

// UpdatableStore is implemented by representations that accept in-place
// rewrites of an existing row.
type UpdatableStore interface {
	Update(id int64, row []byte) error
}

// WritableStore is the union AppendableStore+UpdatableStore+Remove that the
// writable row store implements in full (spec §4.3, §4.4).
type WritableStore interface {
	ReadableStore
	AppendableStore
	UpdatableStore
	Remove(id int64) error
}

// Persistable describes a Save/Load round trip of a store's on-disk state
// (spec §8 property 6). No store in this module implements it; each store
// persists through its own constructor (rowstore.Open, triestore.Build,
// fixedstore.Build) and is reopened with its own Open.
type Persistable interface {
	Save(dir string) error
	Load(dir string) error
}

// notFound builds the ErrNotFound error for an absent row. The store
// implementations live in other packages and build their own errors.
func notFound(id int64) error {
	return ierrors.Wrap(ierrors.ErrNotFound, "row not found")
}
