// Package fixedstore implements the immutable fixed-width packed
// column-group store (spec §4.3, ReprFixedLength). Rows of a uniform byte
// width are laid out contiguously on disk with no per-row header, and the
// file is mmap'd read-only so random access costs a page fault rather than
// a syscall, mirroring the teacher pack's only other mmap consumer
// (calvinalkan-agent-task's and edirooss-zmux-server's transitive
// golang.org/x/sys/unix dependency) and the original's fixed_len_store.hpp
// memory-mapped column blocks.
package fixedstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/iamNilotpal/ignite/internal/store"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
	"golang.org/x/sys/unix"
)

const dataFileName = "fixed.dat"

// Store is a read-only, mmap-backed fixed-width row array.
type Store struct {
	width int
	n     int64
	data  []byte // mmap'd region, len == n*width (0 when n==0)
	file  *os.File
}

// Build writes rows (each exactly width bytes) to dir and opens the
// resulting file with Open. Used when a writable segment is converted to
// readonly (spec §4.4 "convert").
func Build(dir string, width int, rows [][]byte) (*Store, error) {
	path := filepath.Join(dir, dataFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, ierrors.Wrap(err, "fixedstore: create data file")
	}
	for _, r := range rows {
		if len(r) != width {
			f.Close()
			return nil, ierrors.Wrap(ierrors.ErrInvariant, "fixedstore: row width mismatch")
		}
		if _, err := f.Write(r); err != nil {
			f.Close()
			return nil, ierrors.Wrap(err, "fixedstore: write row")
		}
	}
	if err := f.Close(); err != nil {
		return nil, ierrors.Wrap(err, "fixedstore: close after build")
	}
	return Open(dir, width, true)
}

// Open mmaps the data file at dir/fixed.dat. populate requests
// MAP_POPULATE so pages are pre-faulted (options.MmapPopulate).
func Open(dir string, width int, populate bool) (*Store, error) {
	path := filepath.Join(dir, dataFileName)
	f, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, ierrors.Wrap(err, "fixedstore: open data file")
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ierrors.Wrap(err, "fixedstore: stat data file")
	}

	s := &Store{width: width, file: f}
	size := st.Size()
	if size == 0 {
		return s, nil
	}
	if size%int64(width) != 0 {
		f.Close()
		return nil, ierrors.Wrap(ierrors.ErrCorrupt, "fixedstore: file size not a multiple of row width")
	}
	s.n = size / int64(width)

	flags := unix.MAP_SHARED
	if populate {
		flags |= unix.MAP_POPULATE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, flags)
	if err != nil {
		f.Close()
		return nil, ierrors.Wrap(err, "fixedstore: mmap data file")
	}
	s.data = data
	return s, nil
}

// Close unmaps the file and releases the handle.
func (s *Store) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return ierrors.Wrap(err, "fixedstore: munmap")
		}
	}
	return s.file.Close()
}

// NumRows implements store.ReadableStore.
func (s *Store) NumRows() int64 { return s.n }

// DataStorageSize implements store.ReadableStore.
func (s *Store) DataStorageSize() int64 { return int64(len(s.data)) }

// DataInflateSize implements store.ReadableStore. Fixed-length rows are
// never compressed, so inflate size equals storage size.
func (s *Store) DataInflateSize() int64 { return s.DataStorageSize() }

// GetValueAppend implements store.ReadableStore.
func (s *Store) GetValueAppend(ctx context.Context, id int64, buf []byte) ([]byte, error) {
	if id < 0 || id >= s.n {
		return nil, ierrors.Wrap(ierrors.ErrNotFound, "fixedstore: unknown id")
	}
	off := id * int64(s.width)
	return append(buf, s.data[off:off+int64(s.width)]...), nil
}

// NewForwardIterator implements store.ReadableStore.
func (s *Store) NewForwardIterator() store.Iterator { return &iterator{s: s, pos: -1, forward: true} }

// NewBackwardIterator implements store.ReadableStore.
func (s *Store) NewBackwardIterator() store.Iterator {
	return &iterator{s: s, pos: int(s.n), forward: false}
}

type iterator struct {
	s       *Store
	pos     int
	forward bool
}

func (it *iterator) Next() bool {
	if it.forward {
		it.pos++
		return int64(it.pos) < it.s.n
	}
	it.pos--
	return it.pos >= 0
}

func (it *iterator) Id() int64 { return int64(it.pos) }

func (it *iterator) Value() []byte {
	v, _ := it.s.GetValueAppend(context.Background(), int64(it.pos), nil)
	return v
}

func (it *iterator) SeekExact(id int64) bool {
	if id < 0 || id >= it.s.n {
		return false
	}
	it.pos = int(id)
	return true
}

func (it *iterator) Reset() {
	if it.forward {
		it.pos = -1
	} else {
		it.pos = int(it.s.n)
	}
}

func (it *iterator) Close() error { return nil }

var _ store.ReadableStore = (*Store)(nil)
