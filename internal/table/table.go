// Package table implements the top-level row-id space and segment array a
// whole table is built from (spec §4.4, "Table & segment array"). Global
// row ids (recId) are allocated once, monotonically, at insert time; a
// table never reuses one. Segments are kept in append order and each owns
// a contiguous, non-overlapping recId range, so resolving a recId to its
// owning segment is a binary search over a cumulative row-count vector —
// the same structure an LSM-style id space uses everywhere in the example
// pack's storage engines, generalized here from byte-offset cumulative
// vectors to row-count cumulative vectors.
package table

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/iamNilotpal/ignite/internal/index"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/segment"
	"github.com/iamNilotpal/ignite/internal/txn"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
	"github.com/iamNilotpal/ignite/pkg/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Context is an immutable snapshot of the segment array taken under the
// table mutex. Long-lived consumers (an iterator, a compaction pass) hold
// one instead of re-acquiring the table's lock on every step, and call
// Stale to detect when the table has since published a new segment array
// (spec §4.4 "segArraySeq").
type Context struct {
	segments  []*segment.Segment
	rowNumVec []int64 // rowNumVec[i] = first global recId owned by segments[i]
	seq       uint64
	table     *Table

	released atomic.Bool
}

// Stale reports whether the table has published a newer segment array
// since this Context was captured.
func (c *Context) Stale() bool {
	return atomic.LoadUint64(&c.table.segArraySeq) != c.seq
}

// Release drops this Context's reference on every segment it holds,
// acquired when Snapshot created it. Safe to call more than once; only the
// first call has any effect. Every caller of Snapshot must eventually call
// Release — short-lived callers typically `defer ctx.Release()` right after
// taking the snapshot, while a long-lived iterator (TableIterator,
// IndexIterator) releases when the caller is done with it — so a segment
// retired by a compaction publish while this Context is still in use stays
// mapped until this Context lets go of it too (spec §4.7).
func (c *Context) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	for _, s := range c.segments {
		_ = s.Release()
	}
}

// Segments returns the snapshot's segment slice. Callers must not mutate
// it.
func (c *Context) Segments() []*segment.Segment { return c.segments }

// RowBase returns the first global recId owned by Segments()[i], the same
// offset resolve uses internally. Exposed so callers translating a
// segment-local id (an index posting, a column-group row index) into a
// global recId don't need to reimplement the cumulative row-count vector.
func (c *Context) RowBase(i int) int64 { return c.rowNumVec[i] }

// resolve finds the segment owning recID and its local row id within that
// segment via binary search over rowNumVec.
func (c *Context) resolve(recID int64) (*segment.Segment, int64, error) {
	if len(c.segments) == 0 || recID < 0 {
		return nil, 0, ierrors.Wrap(ierrors.ErrNotFound, "table: no segment owns this row id")
	}
	i := sort.Search(len(c.rowNumVec), func(i int) bool { return c.rowNumVec[i] > recID }) - 1
	if i < 0 || i >= len(c.segments) {
		return nil, 0, ierrors.Wrap(ierrors.ErrNotFound, "table: row id out of range")
	}
	seg := c.segments[i]
	local := recID - c.rowNumVec[i]
	if local >= seg.NumRows() {
		return nil, 0, ierrors.Wrap(ierrors.ErrNotFound, "table: row id out of range")
	}
	return seg, local, nil
}

// Table owns a schema, its segment array, and the global recId space.
type Table struct {
	mu     sync.Mutex
	schema *schema.Schema
	opts   *options.Options
	log    *zap.SugaredLogger
	dir    string

	segments            []*segment.Segment
	rowNumVec           []int64
	activeWritableIndex int
	segArraySeq         uint64
	nextSegmentID       uint32
}

// Open creates a Table rooted at dir, starting with exactly one
// writable-plain segment at seg_1. It does not load segments already
// present under dir.
func Open(dir string, sc *schema.Schema, opts *options.Options, logger *zap.SugaredLogger) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	t := &Table{schema: sc, opts: opts, log: logger, dir: dir, nextSegmentID: 1}

	seg, err := t.newWritableSegment()
	if err != nil {
		return nil, err
	}
	t.segments = []*segment.Segment{seg}
	t.rowNumVec = []int64{0}
	t.activeWritableIndex = 0
	return t, nil
}

func (t *Table) newWritableSegment() (*segment.Segment, error) {
	id := t.nextSegmentID
	t.nextSegmentID++
	dir := segmentDir(t.dir, id)
	return segment.New(dir, id, segment.KindWritablePlain, t.schema, t.log)
}

func segmentDir(root string, id uint32) string {
	return filepath.Join(root, "seg_"+strconv.FormatUint(uint64(id), 10))
}

// Snapshot captures the current segment array under the table mutex. The
// lock is held only long enough to copy two slice headers — no I/O ever
// happens while it is held (spec §5).
func (t *Table) Snapshot() *Context {
	t.mu.Lock()
	segments := append([]*segment.Segment(nil), t.segments...)
	rowNumVec := append([]int64(nil), t.rowNumVec...)
	seq := atomic.LoadUint64(&t.segArraySeq)
	t.mu.Unlock()

	// Every segment here is still in t.segments as of the lock above, so its
	// owning reference (held since construction) is guaranteed live — Acquire
	// cannot observe refs already at zero on this path. PublishSegments only
	// ever calls Retire on a segment after it has already removed that
	// segment from t.segments under the same lock.
	for _, s := range segments {
		s.Acquire()
	}
	return &Context{segments: segments, rowNumVec: rowNumVec, seq: seq, table: t}
}

// NumRows returns the total logical row count across every segment.
func (t *Table) NumRows() int64 {
	ctx := t.Snapshot()
	defer ctx.Release()
	if len(ctx.segments) == 0 {
		return 0
	}
	last := len(ctx.segments) - 1
	return ctx.rowNumVec[last] + ctx.segments[last].NumRows()
}

func (t *Table) activeWritable() *segment.Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.segments[t.activeWritableIndex]
}

// IndexKey names one index a row operation should register under; the
// actual index.WritableIndex instance is always resolved from the owning
// segment, never supplied by the caller, since indexes live one-per-
// segment (spec §4.2) and a caller-supplied instance could belong to the
// wrong segment entirely.
type IndexKey struct {
	Name string
	Key  []byte
}

func (t *Table) resolveWrites(seg *segment.Segment, keys []IndexKey) ([]txn.IndexWrite, error) {
	writes := make([]txn.IndexWrite, 0, len(keys))
	for _, k := range keys {
		idx, ok := seg.Index(k.Name)
		if !ok {
			return nil, ierrors.Wrap(ierrors.ErrInvariant, "table: segment has no index named "+k.Name)
		}
		wIdx, ok := idx.(index.WritableIndex)
		if !ok {
			return nil, ierrors.Wrap(ierrors.ErrWriteThrottle, "table: index "+k.Name+" is not writable on this segment")
		}
		writes = append(writes, txn.IndexWrite{Index: wIdx, Key: k.Key})
	}
	return writes, nil
}

// Insert appends a brand-new row to the active writable segment and
// returns its global recId.
func (t *Table) Insert(values map[string][]byte, indexKeys []IndexKey) (int64, error) {
	ctx := t.Snapshot()
	defer ctx.Release()
	last := len(ctx.segments) - 1
	base := ctx.rowNumVec[last]
	seg := ctx.segments[last]

	writes, err := t.resolveWrites(seg, indexKeys)
	if err != nil {
		return 0, err
	}

	tx := txn.Begin(seg, -1)
	localID, err := tx.InsertRow(values, writes)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return base + localID, nil
}

// Update rewrites an existing row in place.
func (t *Table) Update(recID int64, values map[string][]byte, oldKeys, newKeys []IndexKey) error {
	ctx := t.Snapshot()
	defer ctx.Release()
	seg, local, err := ctx.resolve(recID)
	if err != nil {
		return err
	}
	if seg.Kind() == segment.KindReadonly {
		return ierrors.Wrap(ierrors.ErrWriteThrottle, "table: row lives in a readonly segment, retry after compaction publishes")
	}

	oldWrites, err := t.resolveWrites(seg, oldKeys)
	if err != nil {
		return err
	}
	newWrites, err := t.resolveWrites(seg, newKeys)
	if err != nil {
		return err
	}

	tx := txn.Begin(seg, local)
	if err := tx.UpdateRow(values, oldWrites, newWrites); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove tombstones an existing row.
func (t *Table) Remove(recID int64, indexKeys []IndexKey) error {
	ctx := t.Snapshot()
	defer ctx.Release()
	seg, local, err := ctx.resolve(recID)
	if err != nil {
		return err
	}

	writes, err := t.resolveWrites(seg, indexKeys)
	if err != nil {
		return err
	}

	tx := txn.Begin(seg, local)
	if err := tx.RemoveRow(writes); err != nil {
		return err
	}
	return tx.Commit()
}

// GetValue reads a column group's bytes for recID.
func (t *Table) GetValue(ctxArg context.Context, colgroup string, recID int64) ([]byte, error) {
	ctx := t.Snapshot()
	defer ctx.Release()
	seg, local, err := ctx.resolve(recID)
	if err != nil {
		return nil, err
	}
	return seg.GetValue(ctxArg, colgroup, local)
}

// Upsert resolves lookupKey against indexName across every segment. Zero
// matches inserts a new row; exactly one match updates it in place; more
// than one is the ambiguous case decided in DESIGN.md Open Question 2.
func (t *Table) Upsert(
	indexName string,
	lookupKey []byte,
	values map[string][]byte,
	indexKeys []IndexKey,
) (int64, error) {
	ctx := t.Snapshot()
	defer ctx.Release()

	type match struct {
		seg   *segment.Segment
		base  int64
		local int64
	}
	var matches []match

	for i, seg := range ctx.segments {
		idx, ok := seg.Index(indexName)
		if !ok {
			continue
		}
		ids, err := idx.Exact(lookupKey)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if !seg.IsDeleted(id) {
				matches = append(matches, match{seg: seg, base: ctx.rowNumVec[i], local: id})
			}
		}
	}

	switch len(matches) {
	case 0:
		return t.Insert(values, indexKeys)
	case 1:
		m := matches[0]
		recID := m.base + m.local
		if m.seg.Kind() == segment.KindReadonly {
			return 0, ierrors.Wrap(ierrors.ErrWriteThrottle, "table: upsert target lives in a readonly segment, retry after compaction publishes")
		}
		oldKeys := []IndexKey{{Name: indexName, Key: lookupKey}}
		return recID, t.Update(recID, values, oldKeys, indexKeys)
	default:
		return 0, ierrors.Wrap(ierrors.ErrAmbiguousUpsert, "table: upsert key matched rows in more than one segment")
	}
}

// PublishSegments atomically swaps the segment array for newSegments,
// bumping segArraySeq so outstanding Contexts observe staleness (spec
// §4.4 "publish-then-retire"). It is called by the compaction controller
// after it has fully constructed replacement segments on disk; retiring
// the old in-memory segment objects is the caller's responsibility once it
// has confirmed no outstanding Context still references them.
func (t *Table) PublishSegments(newSegments []*segment.Segment, newActiveWritableIndex int) []*segment.Segment {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.segments
	rowNumVec := make([]int64, len(newSegments))
	var cum int64
	for i, s := range newSegments {
		rowNumVec[i] = cum
		cum += s.NumRows()
	}

	t.segments = newSegments
	t.rowNumVec = rowNumVec
	t.activeWritableIndex = newActiveWritableIndex
	atomic.AddUint64(&t.segArraySeq, 1)
	return old
}

// Schema exposes the table's (immutable, borrowed) schema.
func (t *Table) Schema() *schema.Schema { return t.schema }

// Dir exposes the table's root data directory, for compaction to derive
// new segment directories from.
func (t *Table) Dir() string { return t.dir }

// SegmentDir returns the on-disk directory a segment with the given id
// lives under, the same layout newWritableSegment uses.
func (t *Table) SegmentDir(id uint32) string { return segmentDir(t.dir, id) }

// AllocateSegmentID reserves the next segment id for a replacement segment
// the compaction controller is about to build (convert/merge/purge). It
// shares the same counter as freshly-opened writable segments so every
// segment directory under the table is uniquely named.
func (t *Table) AllocateSegmentID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSegmentID
	t.nextSegmentID++
	return id
}

// Freeze appends a brand-new writable-plain segment and makes it the
// active one, returning the previously-active segment so the compaction
// controller can convert it to readonly at its leisure (spec §4.4
// "freeze"). The frozen segment stays fully readable through the table —
// it simply stops receiving new inserts.
func (t *Table) Freeze() (*segment.Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	frozen := t.segments[t.activeWritableIndex]
	newSeg, err := t.newWritableSegment()
	if err != nil {
		return nil, err
	}

	newSegments := append(append([]*segment.Segment(nil), t.segments...), newSeg)
	rowNumVec := append([]int64(nil), t.rowNumVec...)
	rowNumVec = append(rowNumVec, rowNumVec[len(rowNumVec)-1]+frozen.NumRows())

	t.segments = newSegments
	t.rowNumVec = rowNumVec
	t.activeWritableIndex = len(newSegments) - 1
	atomic.AddUint64(&t.segArraySeq, 1)
	return frozen, nil
}

// Close closes every current segment.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs error
	for _, s := range t.segments {
		if err := s.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
