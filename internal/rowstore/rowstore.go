// Package rowstore implements the mutable, append-log-backed column-group
// store that writable segments use (spec §4.3, ReprRowWritable). It follows
// the teacher's Bitcask-style design in internal/storage+internal/index: an
// append-only data file plus an in-memory pointer table, generalized from
// string keys to the engine's sequential sub-row ids and stripped of the
// multi-segment-file rotation the original storage package handled (a
// rowstore lives inside exactly one engine segment, so rotation is the
// segment lifecycle controller's job, not this package's).
package rowstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/iamNilotpal/ignite/internal/latch"
	"github.com/iamNilotpal/ignite/internal/store"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
	"github.com/iamNilotpal/ignite/pkg/filesys"
	"go.uber.org/zap"
)

const dataFileName = "rows.dat"

// pointer locates one row version inside the data file.
type pointer struct {
	offset  int64
	length  uint32
	deleted bool
}

// RowStore is a mutable, append-only row-wise column-group store. Updates
// and deletes never rewrite in place; they append a new record (or a
// tombstone marker) and retarget the in-memory pointer, exactly like the
// teacher's Bitcask value log.
type RowStore struct {
	dir      string
	file     *os.File
	size     int64
	latch    latch.SpinRW
	pointers []pointer // indexed by sub-id; grows monotonically with Append
	log      *zap.SugaredLogger
}

// Open creates or reopens a RowStore rooted at dir.
func Open(dir string, logger *zap.SugaredLogger) (*RowStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		return nil, ierrors.Wrap(err, "rowstore: create directory")
	}

	path := filepath.Join(dir, dataFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, ierrors.Wrap(err, "rowstore: open data file")
	}

	rs := &RowStore{dir: dir, file: f, log: logger}
	if err := rs.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return rs, nil
}

// replay reconstructs the pointer table by scanning the length-prefixed
// record stream from the start of the file (there is no separate index
// file — the pointer table is rebuilt on open, matching the teacher's
// recovery-on-boot philosophy in storage.New).
func (rs *RowStore) replay() error {
	if _, err := rs.file.Seek(0, io.SeekStart); err != nil {
		return ierrors.Wrap(err, "rowstore: seek to start")
	}

	var offset int64
	hdr := make([]byte, 5)
	for {
		if _, err := io.ReadFull(rs.file, hdr); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return ierrors.Wrap(err, "rowstore: read record header")
		}

		deleted := hdr[0] != 0
		length := binary.BigEndian.Uint32(hdr[1:])
		rs.pointers = append(rs.pointers, pointer{offset: offset + 5, length: length, deleted: deleted})

		if _, err := rs.file.Seek(int64(length), io.SeekCurrent); err != nil {
			return ierrors.Wrap(err, "rowstore: seek past record body")
		}
		offset += 5 + int64(length)
	}

	rs.size = offset
	if _, err := rs.file.Seek(0, io.SeekEnd); err != nil {
		return ierrors.Wrap(err, "rowstore: seek to end")
	}
	return nil
}

// Append writes row as a new record and returns its sub-id.
func (rs *RowStore) Append(row []byte) (int64, error) {
	rs.latch.Lock()
	defer rs.latch.Unlock()

	off, err := rs.writeRecord(false, row)
	if err != nil {
		return 0, err
	}

	id := int64(len(rs.pointers))
	rs.pointers = append(rs.pointers, pointer{offset: off + 5, length: uint32(len(row))})
	return id, nil
}

// Update appends a new version of id's row and retargets its pointer.
func (rs *RowStore) Update(id int64, row []byte) error {
	rs.latch.Lock()
	defer rs.latch.Unlock()

	if id < 0 || id >= int64(len(rs.pointers)) {
		return ierrors.Wrap(ierrors.ErrNotFound, "rowstore: update of unknown id")
	}

	off, err := rs.writeRecord(false, row)
	if err != nil {
		return err
	}
	rs.pointers[id] = pointer{offset: off + 5, length: uint32(len(row))}
	return nil
}

// Remove appends a zero-length tombstone record and marks the pointer
// deleted. Segments track deletion themselves via the tombstone bitmap;
// this exists so a rowstore is independently consistent if queried
// directly (e.g. during compaction).
func (rs *RowStore) Remove(id int64) error {
	rs.latch.Lock()
	defer rs.latch.Unlock()

	if id < 0 || id >= int64(len(rs.pointers)) {
		return ierrors.Wrap(ierrors.ErrNotFound, "rowstore: remove of unknown id")
	}
	if _, err := rs.writeRecord(true, nil); err != nil {
		return err
	}
	rs.pointers[id].deleted = true
	return nil
}

// writeRecord appends a [deletedFlag:1][length:4][body] record and returns
// the offset the header was written at. Caller holds the latch.
func (rs *RowStore) writeRecord(deleted bool, body []byte) (int64, error) {
	off := rs.size

	hdr := make([]byte, 5)
	if deleted {
		hdr[0] = 1
	}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(body)))

	if _, err := rs.file.WriteAt(hdr, off); err != nil {
		return 0, ierrors.Wrap(err, "rowstore: write record header")
	}
	if len(body) > 0 {
		if _, err := rs.file.WriteAt(body, off+5); err != nil {
			return 0, ierrors.Wrap(err, "rowstore: write record body")
		}
	}

	rs.size = off + 5 + int64(len(body))
	return off, nil
}

// NumRows implements store.ReadableStore.
func (rs *RowStore) NumRows() int64 {
	rs.latch.RLock()
	defer rs.latch.RUnlock()
	return int64(len(rs.pointers))
}

// DataStorageSize implements store.ReadableStore.
func (rs *RowStore) DataStorageSize() int64 {
	rs.latch.RLock()
	defer rs.latch.RUnlock()
	return rs.size
}

// DataInflateSize implements store.ReadableStore. The row store never
// compresses, so the inflated size equals the on-disk size.
func (rs *RowStore) DataInflateSize() int64 {
	return rs.DataStorageSize()
}

// GetValueAppend implements store.ReadableStore.
func (rs *RowStore) GetValueAppend(ctx context.Context, id int64, buf []byte) ([]byte, error) {
	rs.latch.RLock()
	if id < 0 || id >= int64(len(rs.pointers)) {
		rs.latch.RUnlock()
		return nil, ierrors.Wrap(ierrors.ErrNotFound, "rowstore: unknown id")
	}
	p := rs.pointers[id]
	rs.latch.RUnlock()

	if p.deleted {
		return nil, ierrors.Wrap(ierrors.ErrDeletedRow, "rowstore: row is deleted")
	}
	if p.length == 0 {
		return buf, nil
	}

	start := len(buf)
	out := append(buf, make([]byte, p.length)...)
	if _, err := rs.file.ReadAt(out[start:], p.offset); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCorrupt, fmt.Sprintf("rowstore: short read at offset %d: %v", p.offset, err))
	}
	return out, nil
}

// NewForwardIterator implements store.ReadableStore.
func (rs *RowStore) NewForwardIterator() store.Iterator {
	return &iterator{rs: rs, pos: -1, forward: true}
}

// NewBackwardIterator implements store.ReadableStore.
func (rs *RowStore) NewBackwardIterator() store.Iterator {
	rs.latch.RLock()
	n := len(rs.pointers)
	rs.latch.RUnlock()
	return &iterator{rs: rs, pos: n, forward: false}
}

// Sync fsyncs the data file, so every record appended before this call is
// durable even if the process dies immediately after. Called by
// Segment.Checkpoint on the checkpoint interval, not on every Append/Update
// (spec §4.7 item 2/5, "write files, fsync, rename" / "periodically flush").
func (rs *RowStore) Sync() error {
	rs.latch.RLock()
	defer rs.latch.RUnlock()
	return rs.file.Sync()
}

// Close releases the underlying file handle.
func (rs *RowStore) Close() error {
	return rs.file.Close()
}

type iterator struct {
	rs      *RowStore
	pos     int
	forward bool
	buf     []byte
}

func (it *iterator) Next() bool {
	it.rs.latch.RLock()
	n := len(it.rs.pointers)
	it.rs.latch.RUnlock()

	if it.forward {
		it.pos++
		return it.pos < n
	}
	it.pos--
	return it.pos >= 0
}

func (it *iterator) Id() int64 { return int64(it.pos) }

func (it *iterator) Value() []byte {
	it.buf = it.buf[:0]
	v, err := it.rs.GetValueAppend(context.Background(), int64(it.pos), it.buf)
	if err != nil {
		return nil
	}
	it.buf = v
	return v
}

func (it *iterator) SeekExact(id int64) bool {
	it.rs.latch.RLock()
	n := len(it.rs.pointers)
	it.rs.latch.RUnlock()
	if id < 0 || id >= int64(n) {
		return false
	}
	it.pos = int(id)
	return true
}

func (it *iterator) Reset() {
	if it.forward {
		it.pos = -1
	} else {
		it.rs.latch.RLock()
		it.pos = len(it.rs.pointers)
		it.rs.latch.RUnlock()
	}
}

func (it *iterator) Close() error { return nil }

var (
	_ store.WritableStore = (*RowStore)(nil)
)
