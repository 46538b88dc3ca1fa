// Package segment implements the unit of storage a table is built from
// (spec §4.4): an ordered, self-contained slice of rows with its own
// column-group stores, its own indexes, and its own tombstone/purge
// bitmaps. A table never touches a store or index directly — every read
// and write goes through a Segment so the logical/physical row-id
// translation and deletion bookkeeping happen in one place.
package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/ignite/internal/fixedstore"
	"github.com/iamNilotpal/ignite/internal/index"
	"github.com/iamNilotpal/ignite/internal/index/kvindex"
	"github.com/iamNilotpal/ignite/internal/index/trieindex"
	"github.com/iamNilotpal/ignite/internal/latch"
	"github.com/iamNilotpal/ignite/internal/rowstore"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/store"
	"github.com/iamNilotpal/ignite/internal/triestore"
	"github.com/iamNilotpal/ignite/pkg/bitmap"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
	"github.com/iamNilotpal/ignite/pkg/filesys"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Kind distinguishes the three segment variants named in spec §4.4.
type Kind int

const (
	// KindReadonly holds only immutable stores (trie/fixed-length) built
	// once at freeze/convert/merge time.
	KindReadonly Kind = iota
	// KindWritablePlain holds a single rowstore spanning every column —
	// the shape a brand-new segment starts in before any column-group
	// split has been decided.
	KindWritablePlain
	// KindWritableColgroup holds one rowstore per schema column group.
	KindWritableColgroup
)

const metaFileName = "meta.json"

// groupMeta records which representation a readonly segment built a named
// column group under, so OpenReadonly can reopen it without guessing — a
// readonly segment's groups are not always a 1:1 mirror of the schema's
// declared ColumnGroups (a writable-plain segment's single "__row__" blob
// has no schema.ColumnGroup entry of its own, for instance).
type groupMeta struct {
	Name string             `json:"name"`
	Repr schema.ColgroupRepr `json:"repr"`
}

// meta is the on-disk descriptor persisted alongside a segment's stores.
type meta struct {
	ID       uint32      `json:"id"`
	Kind     Kind        `json:"kind"`
	NumRows  int64       `json:"numRows"`
	SealedAt int64       `json:"sealedAt,omitempty"`
	Groups   []groupMeta `json:"groups,omitempty"`
}

// Segment is one ordered slice of a table's rows.
type Segment struct {
	dir    string
	id     uint32
	kind   Kind
	schema *schema.Schema
	log    *zap.SugaredLogger

	mu latch.SpinRW

	numRows  int64
	isDel    *bitmap.Bitmap // logical id -> tombstoned
	isPurged *bitmap.Bitmap // logical id -> physically removed (readonly only)

	// updateList tracks which logical ids were updated since the segment
	// was opened, starting sparse (a plain set) and promoting to a dense
	// bitmap once it grows past denseThreshold entries, mirroring the
	// spec's sparse/dense update-tracking log (spec §4.4 "Supplemented
	// features").
	updateSparse map[int64]struct{}
	updateDense  *bitmap.Bitmap
	updateCount  int64

	colgroups map[string]store.ReadableStore
	writable  map[string]store.WritableStore // nil entries for readonly
	indexes   map[string]index.Index
	groups    []groupMeta // readonly segments only; drives Save/OpenReadonly

	// refs counts the table's own ownership of the segment (1 while it sits
	// in the live segment array) plus one per outstanding Context that has
	// Acquired it via Table.Snapshot. Resources are freed only once this
	// reaches zero, so a segment retired out of the array by a publish
	// (internal/compaction's convert/merge/purge) stays mapped until every
	// reader that snapshotted it before the swap has released it too (spec
	// §4.7 "the old segment's memory is retired only after no outstanding
	// context references it").
	refs int32

	closeOnce sync.Once
}

const denseThreshold = 4096

// New creates a fresh writable segment (plain or colgroup) rooted at dir.
func New(dir string, id uint32, kind Kind, sc *schema.Schema, logger *zap.SugaredLogger) (*Segment, error) {
	if kind == KindReadonly {
		return nil, ierrors.Wrap(ierrors.ErrInvariant, "segment: New cannot create a readonly segment directly")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		return nil, ierrors.Wrap(err, "segment: create directory")
	}

	s := &Segment{
		dir: dir, id: id, kind: kind, schema: sc, log: logger,
		isDel: bitmap.New(), isPurged: bitmap.New(),
		updateSparse: make(map[int64]struct{}),
		colgroups:    make(map[string]store.ReadableStore),
		writable:     make(map[string]store.WritableStore),
		indexes:      make(map[string]index.Index),
		refs:         1,
	}

	groupNames := []string{"__row__"}
	if kind == KindWritableColgroup {
		groupNames = groupNames[:0]
		for _, g := range sc.ColumnGroups {
			groupNames = append(groupNames, g.Name)
		}
	}
	for _, name := range groupNames {
		rs, err := rowstore.Open(filepath.Join(dir, "cg_"+name), logger)
		if err != nil {
			return nil, err
		}
		s.writable[name] = rs
		s.colgroups[name] = rs
	}

	for _, idxDef := range sc.Indexes {
		s.indexes[idxDef.Name] = kvindex.New(idxDef.Name, idxDef.Kind)
	}

	return s, nil
}

// OpenReadonly loads a previously frozen/converted/merged segment from dir.
func OpenReadonly(dir string, sc *schema.Schema, logger *zap.SugaredLogger) (*Segment, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var m meta
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, ierrors.Wrap(err, "segment: read meta.json")
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCorrupt, "segment: decode meta.json: "+err.Error())
	}

	s := &Segment{
		dir: dir, id: m.ID, kind: KindReadonly, schema: sc, log: logger,
		numRows: m.NumRows, isDel: bitmap.New(), isPurged: bitmap.New(),
		colgroups: make(map[string]store.ReadableStore),
		indexes:   make(map[string]index.Index),
		refs:      1,
	}

	if err := s.loadBitmap("isDel.bin", s.isDel); err != nil {
		return nil, err
	}
	if err := s.loadBitmap("isPurged.bin", s.isPurged); err != nil {
		return nil, err
	}

	s.groups = m.Groups
	for _, g := range m.Groups {
		cgDir := filepath.Join(dir, "cg_"+g.Name)
		var st store.ReadableStore
		switch g.Repr {
		case schema.ReprFixedLength:
			width, ok := fixedWidthOfGroup(sc, g.Name)
			if !ok {
				return nil, ierrors.Wrap(ierrors.ErrInvariant, "segment: column group "+g.Name+" has no fixed width")
			}
			st, err = fixedstore.Open(cgDir, width, false)
		case schema.ReprCompressedTrie:
			st, err = triestore.Open(cgDir)
		default:
			return nil, ierrors.Wrap(ierrors.ErrInvariant, "segment: readonly segment cannot host ReprRowWritable")
		}
		if err != nil {
			return nil, ierrors.Wrap(err, fmt.Sprintf("segment: open column group %q", g.Name))
		}
		s.colgroups[g.Name] = st
	}

	for _, idxDef := range sc.Indexes {
		idxDir := filepath.Join(dir, "idx_"+idxDef.Name)
		data, err := os.ReadFile(filepath.Join(idxDir, "dict.trie"))
		if err != nil {
			return nil, ierrors.Wrap(err, fmt.Sprintf("segment: read index %q", idxDef.Name))
		}
		entries, err := decodeIndexEntries(data)
		if err != nil {
			return nil, err
		}
		built, err := trieindex.Build(idxDef.Name, idxDef.Kind, idxDef.Regex, entries)
		if err != nil {
			return nil, err
		}
		s.indexes[idxDef.Name] = built
	}

	return s, nil
}

// GroupData is one column group's physical row values, ordered by physical
// id, plus the representation the compaction controller chose for it.
type GroupData struct {
	Name   string
	Repr   schema.ColgroupRepr
	Values [][]byte
}

// BuildReadonly constructs a brand-new readonly segment on disk from
// already-assembled physical data. Only the compaction controller calls
// this: it alone knows how to combine or drop rows across one or more
// source segments (convert, merge, purge — spec §4.4); BuildReadonly itself
// just lays out whatever it is given under dir and persists it.
func BuildReadonly(
	dir string,
	id uint32,
	sc *schema.Schema,
	numRows int64,
	groups []GroupData,
	indexEntries map[string][]trieindex.Entry,
	isDel, isPurged *bitmap.Bitmap,
	logger *zap.SugaredLogger,
) (*Segment, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		return nil, ierrors.Wrap(err, "segment: create directory")
	}
	if isDel == nil {
		isDel = bitmap.New()
	}
	if isPurged == nil {
		isPurged = bitmap.New()
	}

	s := &Segment{
		dir: dir, id: id, kind: KindReadonly, schema: sc, log: logger,
		numRows: numRows, isDel: isDel, isPurged: isPurged,
		colgroups: make(map[string]store.ReadableStore),
		indexes:   make(map[string]index.Index),
		refs:      1,
	}

	for _, g := range groups {
		cgDir := filepath.Join(dir, "cg_"+g.Name)
		var st store.ReadableStore
		var err error
		switch g.Repr {
		case schema.ReprFixedLength:
			width := 0
			if len(g.Values) > 0 {
				width = len(g.Values[0])
			}
			st, err = fixedstore.Build(cgDir, width, g.Values)
		case schema.ReprCompressedTrie:
			st, err = triestore.Build(cgDir, g.Values)
		default:
			return nil, ierrors.Wrap(ierrors.ErrInvariant, "segment: readonly segment cannot host ReprRowWritable")
		}
		if err != nil {
			return nil, ierrors.Wrap(err, fmt.Sprintf("segment: build column group %q", g.Name))
		}
		s.colgroups[g.Name] = st
		s.groups = append(s.groups, groupMeta{Name: g.Name, Repr: g.Repr})
	}

	for _, idxDef := range sc.Indexes {
		entries := indexEntries[idxDef.Name]
		built, err := trieindex.Build(idxDef.Name, idxDef.Kind, idxDef.Regex, entries)
		if err != nil {
			return nil, ierrors.Wrap(err, fmt.Sprintf("segment: build index %q", idxDef.Name))
		}
		s.indexes[idxDef.Name] = built

		data, err := encodeIndexEntries(entries)
		if err != nil {
			return nil, err
		}
		idxDir := filepath.Join(dir, "idx_"+idxDef.Name)
		if err := filesys.CreateDir(idxDir, 0755, true); err != nil {
			return nil, ierrors.Wrap(err, "segment: create index directory")
		}
		if err := filesys.WriteFileAtomic(filepath.Join(idxDir, "dict.trie"), data); err != nil {
			return nil, err
		}
	}

	if err := s.Save(); err != nil {
		return nil, err
	}
	// The index dictionaries, bitmaps and meta.json above were written via
	// write-temp-then-rename (filesys.WriteFileAtomic); the column-group
	// stores (fixedstore.Build, triestore.Build) write their files in place.
	// Fsyncing the directory entry now makes the renames and the newly
	// created entries durable.
	if err := fsyncDir(dir); err != nil {
		return nil, ierrors.Wrap(err, "segment: fsync segment directory")
	}
	return s, nil
}

// fsyncDir fsyncs a directory's inode so that prior renames/creates of
// entries under it are durable, not just the file contents those renames
// pointed at.
func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func fixedWidthOf(sc *schema.Schema, g schema.ColumnGroup) (int, bool) {
	var width int
	for _, colName := range g.Columns {
		c, ok := sc.Column(colName)
		if !ok {
			return 0, false
		}
		w, fixed := c.Type.FixedWidth()
		if !fixed {
			return 0, false
		}
		width += w
	}
	return width, true
}

func fixedWidthOfGroup(sc *schema.Schema, name string) (int, bool) {
	g, ok := sc.ColumnGroup(name)
	if !ok {
		return 0, false
	}
	return fixedWidthOf(sc, g)
}

func (s *Segment) loadBitmap(name string, b *bitmap.Bitmap) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ierrors.Wrap(err, "segment: read bitmap "+name)
	}
	return b.Load(bytes.NewReader(data))
}

// ID returns the segment's stable identifier within its table.
func (s *Segment) ID() uint32 { return s.id }

// Kind reports which of the three segment variants this is.
func (s *Segment) Kind() Kind { return s.kind }

// NumRows returns the logical row count, including tombstoned and purged
// rows (a purge keeps the logical id range).
func (s *Segment) NumRows() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numRows
}

// IsDeleted reports whether logicalID has been removed.
func (s *Segment) IsDeleted(logicalID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isDel.Test(uint32(logicalID))
}

// IsPurged reports whether logicalID's bytes have already been physically
// reclaimed. Only meaningful on readonly segments; writable segments never
// purge.
func (s *Segment) IsPurged(logicalID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isPurged.Test(uint32(logicalID))
}

// ColumnGroupNames lists the column-group names this segment actually
// hosts, which the compaction controller uses to assemble a replacement
// segment without assuming every group mirrors the schema's declared
// ColumnGroups (a writable-plain segment's single "__row__" blob has none).
func (s *Segment) ColumnGroupNames() []string {
	names := make([]string, 0, len(s.colgroups))
	for name := range s.colgroups {
		names = append(names, name)
	}
	return names
}

// RawColumnValue reads column group name's bytes for logicalID regardless
// of tombstone state. It exists solely for the compaction controller, which
// must read a deleted-but-not-yet-purged row's last value when assembling
// a replacement segment that still carries the row (convert/merge) or is
// about to drop it for good (purge).
func (s *Segment) RawColumnValue(ctx context.Context, name string, logicalID int64) ([]byte, error) {
	s.mu.RLock()
	st, ok := s.colgroups[name]
	s.mu.RUnlock()
	if !ok {
		return nil, ierrors.Wrap(ierrors.ErrNotFound, "segment: unknown column group "+name)
	}
	return st.GetValueAppend(ctx, s.physicalID(logicalID), nil)
}

// AllIndexEntries walks every key in the named index and returns its
// (key, row id) pairs in key order, local to this segment. The compaction
// controller uses this to rebuild an index after remapping row ids into a
// replacement segment.
func (s *Segment) AllIndexEntries(name string) ([]trieindex.Entry, bool) {
	idx, ok := s.indexes[name]
	if !ok {
		return nil, false
	}
	var out []trieindex.Entry
	cur := idx.SeekLowerBound(nil)
	for cur.Valid() {
		key := append([]byte(nil), cur.Key()...)
		for _, id := range cur.Ids() {
			out = append(out, trieindex.Entry{Key: key, ID: id})
		}
		if !cur.Next() {
			break
		}
	}
	return out, true
}

// physicalID resolves a logical id to its physical offset in the readonly
// stores via rank0 over isPurged, per spec §3 invariant 3. Writable
// segments never purge, so logical == physical there.
func (s *Segment) physicalID(logicalID int64) int64 {
	if s.kind != KindReadonly || s.isPurged.Count() == 0 {
		return logicalID
	}
	return int64(s.isPurged.Rank0(uint32(logicalID)))
}

// Append adds a new row to a writable segment. values maps column-group
// name ("__row__" for a plain segment) to its pre-encoded bytes.
func (s *Segment) Append(values map[string][]byte) (int64, error) {
	if s.kind == KindReadonly {
		return 0, ierrors.Wrap(ierrors.ErrInvariant, "segment: cannot append to a readonly segment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var assigned int64 = -1
	for name, ws := range s.writable {
		body, ok := values[name]
		if !ok {
			return 0, ierrors.Wrap(ierrors.ErrInvariant, "segment: append missing column group "+name)
		}
		id, err := ws.Append(body)
		if err != nil {
			return 0, err
		}
		if assigned == -1 {
			assigned = id
		} else if id != assigned {
			return 0, ierrors.Wrap(ierrors.ErrInvariant, "segment: column group stores diverged on row id")
		}
	}
	s.numRows++
	return assigned, nil
}

// Update rewrites an existing row and records it in the update-tracking
// log.
func (s *Segment) Update(logicalID int64, values map[string][]byte) error {
	if s.kind == KindReadonly {
		return ierrors.Wrap(ierrors.ErrInvariant, "segment: cannot update a readonly segment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDel.Test(uint32(logicalID)) {
		return ierrors.Wrap(ierrors.ErrDeletedRow, "segment: cannot update a deleted row")
	}
	for name, ws := range s.writable {
		body, ok := values[name]
		if !ok {
			continue
		}
		if err := ws.Update(logicalID, body); err != nil {
			return err
		}
	}
	s.markUpdated(logicalID)
	return nil
}

// markUpdated records logicalID in the sparse or dense update log,
// promoting sparse to dense once it exceeds denseThreshold entries.
func (s *Segment) markUpdated(logicalID int64) {
	if s.updateDense != nil {
		s.updateDense.Set(uint32(logicalID))
		return
	}
	if _, seen := s.updateSparse[logicalID]; !seen {
		s.updateSparse[logicalID] = struct{}{}
		s.updateCount++
	}
	if s.updateCount > denseThreshold {
		dense := bitmap.New()
		for id := range s.updateSparse {
			dense.Set(uint32(id))
		}
		s.updateDense = dense
		s.updateSparse = nil
	}
}

// WasUpdated reports whether logicalID has been rewritten since the
// segment was opened.
func (s *Segment) WasUpdated(logicalID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.updateDense != nil {
		return s.updateDense.Test(uint32(logicalID))
	}
	_, ok := s.updateSparse[logicalID]
	return ok
}

// Remove tombstones logicalID. The row's bytes remain on disk until a
// purge job physically compacts them away (spec §4.4).
func (s *Segment) Remove(logicalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDel.Test(uint32(logicalID)) {
		return ierrors.Wrap(ierrors.ErrDeletedRow, "segment: row already deleted")
	}
	s.isDel.Set(uint32(logicalID))
	return nil
}

// UndoRemove clears logicalID's tombstone. It exists solely for
// internal/txn's Rollback compensating actions; ordinary callers remove
// rows through Remove and never need to resurrect one.
func (s *Segment) UndoRemove(logicalID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isDel.Clear(uint32(logicalID))
}

// GetValue reads column group name's bytes for logicalID.
func (s *Segment) GetValue(ctx context.Context, name string, logicalID int64) ([]byte, error) {
	s.mu.RLock()
	deleted := s.isDel.Test(uint32(logicalID))
	st, ok := s.colgroups[name]
	s.mu.RUnlock()

	if deleted {
		return nil, ierrors.Wrap(ierrors.ErrDeletedRow, "segment: row is deleted")
	}
	if !ok {
		return nil, ierrors.Wrap(ierrors.ErrNotFound, "segment: unknown column group "+name)
	}
	return st.GetValueAppend(ctx, s.physicalID(logicalID), nil)
}

// Index returns the named index, if the segment's schema declares one.
func (s *Segment) Index(name string) (index.Index, bool) {
	idx, ok := s.indexes[name]
	return idx, ok
}

// ColumnGroupStore exposes the raw store for bulk scan paths
// (selectColumns/selectColgroups, spec §6).
func (s *Segment) ColumnGroupStore(name string) (store.ReadableStore, bool) {
	st, ok := s.colgroups[name]
	return st, ok
}

// DataStorageSize sums the on-disk size of every column-group store the
// segment owns, the size signal the compaction controller compares against
// WritableFlushSize and MergeMaxSize.
func (s *Segment) DataStorageSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, st := range s.colgroups {
		total += st.DataStorageSize()
	}
	return total
}

// DeletedCount returns the number of tombstoned-but-not-purged rows,
// which the compaction controller compares against PurgeDeleteThreshold.
func (s *Segment) DeletedCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// isPurged is a subset of isDel (spec §3 invariant 3).
	return int64(s.isDel.Count()) - int64(s.isPurged.Count())
}

// Save persists the segment's tombstone bitmap (plus, for a readonly
// segment, its purge bitmap) and the meta descriptor to dir. Column-group
// rowstores persist themselves on every write; the update log is kept in
// memory only and is not saved.
func (s *Segment) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.saveBitmap("isDel.bin", s.isDel); err != nil {
		return err
	}
	if s.kind == KindReadonly {
		if err := s.saveBitmap("isPurged.bin", s.isPurged); err != nil {
			return err
		}
	}

	m := meta{ID: s.id, Kind: s.kind, NumRows: s.numRows, Groups: s.groups}
	data, err := json.Marshal(m)
	if err != nil {
		return ierrors.Wrap(err, "segment: marshal meta.json")
	}
	return filesys.WriteFileAtomic(filepath.Join(s.dir, metaFileName), data)
}

func (s *Segment) saveBitmap(name string, b *bitmap.Bitmap) error {
	data, err := b.Bytes()
	if err != nil {
		return ierrors.Wrap(err, "segment: serialize bitmap "+name)
	}
	return filesys.WriteFileAtomic(filepath.Join(s.dir, name), data)
}

// syncer is implemented by column-group stores that can flush buffered
// writes to stable storage (currently only internal/rowstore.RowStore, the
// only store representation still accepting writes after a segment leaves
// build time).
type syncer interface {
	Sync() error
}

// Checkpoint flushes this segment's mutable on-disk state durably: the
// tombstone bitmap (and, for a readonly segment, the purge bitmap) via
// Save's write-temp-then-rename, then fsyncs every writable column-group
// store that buffers appends in an OS page cache. internal/compaction's
// Controller calls this periodically on the table's segments (spec §4.7
// item 5, "periodically flush writable KVs and tombstone bitmaps"). A
// freshly assembled readonly segment is not checkpointed here:
// BuildReadonly calls Save and fsyncs the directory itself.
func (s *Segment) Checkpoint() error {
	if err := s.Save(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var errs error
	for _, ws := range s.writable {
		if sy, ok := ws.(syncer); ok {
			if err := sy.Sync(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// Close releases every store and index handle the segment owns immediately,
// bypassing reference counting. Only Table.Close calls this, at full table
// shutdown once no reader can legitimately still be using the segment;
// everywhere else a segment is retired via Retire/Release instead, so a
// reader mid-read against a just-replaced segment never has its backing
// mmap region pulled out from under it (spec §4.7).
func (s *Segment) Close() error {
	return s.closeNow()
}

func (s *Segment) closeNow() error {
	var errs error
	s.closeOnce.Do(func() {
		for _, ws := range s.writable {
			if closer, ok := ws.(interface{ Close() error }); ok {
				if err := closer.Close(); err != nil {
					errs = multierr.Append(errs, err)
				}
			}
		}
		for _, idx := range s.indexes {
			if err := idx.Close(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	})
	return errs
}

// Acquire pins the segment so Retire/Release cannot free its resources until
// a matching Release is called. Table.Snapshot acquires a reference for
// every segment a Context hands out. Returns false if the segment's
// resources have already been released (refs already at zero) — a caller
// observing that raced with a shutdown and must not use the segment.
func (s *Segment) Acquire() bool {
	for {
		n := atomic.LoadInt32(&s.refs)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.refs, n, n+1) {
			return true
		}
	}
}

// Release drops one reference taken by Acquire (or the table's own
// ownership reference released via Retire), closing the segment's
// underlying stores and indexes once the count reaches zero.
func (s *Segment) Release() error {
	if atomic.AddInt32(&s.refs, -1) == 0 {
		return s.closeNow()
	}
	return nil
}

// Retire drops the table's owning reference to a segment that
// PublishSegments has just swapped out of the live array. It does not close
// the segment directly: any Context snapshotted before the swap still holds
// its own Acquired reference, so the segment's resources are only actually
// freed once every such reference is Released too — the reference-counted
// retirement spec §4.7 requires instead of closing a replaced segment
// immediately.
func (s *Segment) Retire() error {
	return s.Release()
}

// encodeIndexEntries and decodeIndexEntries are small local helpers kept here
// rather than in pkg/bitmap or internal/trie since the on-disk index
// entry format (key + posting ids) is specific to segment persistence.
func encodeIndexEntries(entries []trieindex.Entry) ([]byte, error) {
	grouped := make(map[string][]int64)
	var order []string
	for _, e := range entries {
		k := string(e.Key)
		if _, seen := grouped[k]; !seen {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], e.ID)
	}

	raw := make([]struct {
		Key []byte  `json:"key"`
		Ids []int64 `json:"ids"`
	}, 0, len(order))
	for _, k := range order {
		raw = append(raw, struct {
			Key []byte  `json:"key"`
			Ids []int64 `json:"ids"`
		}{Key: []byte(k), Ids: grouped[k]})
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, ierrors.Wrap(err, "segment: encode index entries: "+err.Error())
	}
	return data, nil
}

func decodeIndexEntries(data []byte) ([]trieindex.Entry, error) {
	var raw []struct {
		Key []byte  `json:"key"`
		Ids []int64 `json:"ids"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCorrupt, "segment: decode index entries: "+err.Error())
	}
	var out []trieindex.Entry
	for _, r := range raw {
		for _, id := range r.Ids {
			out = append(out, trieindex.Entry{Key: r.Key, ID: id})
		}
	}
	return out, nil
}
