// Package compaction implements the background lifecycle controller a
// table needs once writes accumulate (spec §4.4, "Compaction lifecycle";
// spec §5, "Concurrency"). It owns four jobs — freeze, convert, merge, and
// purge — plus the bounded read/write ticket pools. It never
// touches a store or index directly; every job is expressed as "read some
// segments, ask internal/segment to build a replacement, publish it
// through internal/table" (spec §4.4 "publish-then-retire"). It also owns
// the per-key upsert serialization the engine layer wires in front of
// internal/table.
package compaction

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iamNilotpal/ignite/internal/index/trieindex"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/segment"
	"github.com/iamNilotpal/ignite/internal/table"
	"github.com/iamNilotpal/ignite/pkg/bitmap"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
	"github.com/iamNilotpal/ignite/pkg/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Controller coordinates a table's background compaction jobs and the
// bounded concurrency tickets every foreground read/write acquires before
// touching a segment (spec §5 "ticket holders").
type Controller struct {
	tbl  *table.Table
	opts *options.Options
	log  *zap.SugaredLogger

	readSem     *semaphore.Weighted
	writeSem    *semaphore.Weighted
	upsertLocks sync.Map // string -> *keyLockEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Controller over tbl. It does not start the background sweep
// loop; call Run for that.
func New(tbl *table.Table, opts *options.Options, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		tbl:      tbl,
		opts:     opts,
		log:      logger,
		readSem:  semaphore.NewWeighted(opts.ConcurrentReadTickets),
		writeSem: semaphore.NewWeighted(opts.ConcurrentWriteTickets),
		stopCh:   make(chan struct{}),
	}
}

// AcquireRead blocks until a read ticket is free or ctx is done (spec §5).
// The returned release func must be called exactly once.
func (c *Controller) AcquireRead(ctx context.Context) (func(), error) {
	if err := c.readSem.Acquire(ctx, 1); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrNeedRetry, "compaction: no read ticket available: "+err.Error())
	}
	return func() { c.readSem.Release(1) }, nil
}

// AcquireWrite blocks until a write ticket is free or ctx is done.
func (c *Controller) AcquireWrite(ctx context.Context) (func(), error) {
	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		return nil, ierrors.Wrap(ierrors.ErrWriteThrottle, "compaction: no write ticket available: "+err.Error())
	}
	return func() { c.writeSem.Release(1) }, nil
}

// keyLockEntry is one key's turnstile in the upsert lock registry: a plain
// mutex plus a refcount of callers currently holding or waiting to acquire
// it, so the entry can be safely dropped from the registry once nobody
// references it anymore.
type keyLockEntry struct {
	mu    sync.Mutex
	count int32 // atomic
}

// lockUpsertKey serializes concurrent upsert attempts racing on the same
// lookup key, without sharing any one caller's result with another — the
// asymmetry that made singleflight wrong here: two upserts on the same key
// may carry different payloads, and both must actually run against
// Table.Upsert (spec §8 scenario C), not have one silently stand in for the
// other. Grounded on calvinalkan-agent-task's pkg/slotcache/lock.go
// refcounted fileRegistry: a sync.Map of per-key mutexes, each entry
// removed from the map once its last waiter releases it. The returned func
// must be called exactly once to release the lock.
func (c *Controller) lockUpsertKey(key string) func() {
	for {
		if v, ok := c.upsertLocks.Load(key); ok {
			entry := v.(*keyLockEntry)
			acquired := false
			for {
				old := atomic.LoadInt32(&entry.count)
				if old <= 0 {
					// Entry is mid-teardown (its last holder already dropped to
					// zero and is about to CompareAndDelete it) — never resurrect
					// it, start over against a fresh entry instead.
					break
				}
				if atomic.CompareAndSwapInt32(&entry.count, old, old+1) {
					acquired = true
					break
				}
			}
			if acquired {
				entry.mu.Lock()
				return c.releaseUpsertKey(key, entry)
			}
			continue
		}

		fresh := &keyLockEntry{count: 1}
		v, loaded := c.upsertLocks.LoadOrStore(key, fresh)
		if !loaded {
			fresh.mu.Lock()
			return c.releaseUpsertKey(key, fresh)
		}
		_ = v // someone else won the insert race; retry against whatever is there now
	}
}

func (c *Controller) releaseUpsertKey(key string, entry *keyLockEntry) func() {
	return func() {
		entry.mu.Unlock()
		if atomic.AddInt32(&entry.count, -1) == 0 {
			c.upsertLocks.CompareAndDelete(key, entry)
		}
	}
}

// SerializedUpsert runs fn with exclusive access among every other caller
// presently serializing on the same lookup key, calling fn exactly once.
// It never collapses distinct writers' requests into one shared result and
// does not retry itself; engine.UpsertRow retries on the conflict errors
// Table.Upsert can return (spec §6 "upsertRow", UpsertMaxRetry; spec §8
// scenario C).
func (c *Controller) SerializedUpsert(key string, fn func() (int64, error)) (int64, error) {
	unlock := c.lockUpsertKey(key)
	defer unlock()
	return fn()
}

// Run starts the background sweep loop, which periodically evaluates every
// segment against the freeze/merge/purge thresholds, and the independent,
// much-more-frequent checkpoint loop that flushes tombstone bitmaps and
// fsyncs writable segments (spec §4.7 item 5), until ctx is done or Stop is
// called.
func (c *Controller) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		interval := c.opts.CompactInterval
		if interval <= 0 {
			interval = 5 * time.Hour
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if err := c.Sweep(ctx); err != nil {
					c.log.Warnw("compaction: sweep failed", "error", err)
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		interval := c.opts.CheckpointInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				if err := c.Checkpoint(ctx); err != nil {
					c.log.Warnw("compaction: checkpoint failed", "error", err)
				}
			}
		}
	}()
}

// Checkpoint flushes every writable segment's tombstone bitmap and fsyncs
// its buffered column-group writes (spec §4.7 item 5). Readonly segments
// are already checkpointed once, at assemble time (BuildReadonly calls
// Segment.Save, and fsyncs the directory after writing), so Checkpoint only
// revisits segments still accepting writes.
func (c *Controller) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := c.tbl.Snapshot()
	defer snap.Release()

	var errs error
	for _, seg := range snap.Segments() {
		if seg.Kind() == segment.KindReadonly {
			continue
		}
		if err := seg.Checkpoint(); err != nil {
			errs = multierr.Append(errs, ierrors.Wrap(err, fmt.Sprintf("compaction: checkpoint segment %d", seg.ID())))
		}
	}
	return errs
}

// Stop ends the background sweep loop and waits for it to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Sweep runs one evaluation pass: freeze the active writable segment if it
// has grown past WritableFlushSize, convert any frozen writable segments to
// readonly, merge runs of small adjacent readonly segments, and purge any
// readonly segment whose tombstone density exceeds PurgeDeleteThreshold
// (spec §4.4, Open Question 3 — purge is evaluated per segment).
func (c *Controller) Sweep(ctx context.Context) error {
	active := c.tbl.Snapshot()
	defer active.Release()
	if len(active.Segments()) > 0 {
		last := active.Segments()[len(active.Segments())-1]
		if last.Kind() != segment.KindReadonly && uint64(last.DataStorageSize()) >= c.opts.WritableFlushSize && last.NumRows() > 0 {
			frozen, err := c.tbl.Freeze()
			if err != nil {
				return err
			}
			if err := c.Convert(ctx, frozen); err != nil {
				return err
			}
		}
	}

	for {
		snap := c.tbl.Snapshot()
		run := c.findMergeRun(snap.Segments())
		if run == nil {
			snap.Release()
			break
		}
		if err := c.Merge(ctx, run); err != nil {
			snap.Release()
			return err
		}
		snap.Release()
	}

	snap := c.tbl.Snapshot()
	defer snap.Release()
	for _, seg := range snap.Segments() {
		if seg.Kind() != segment.KindReadonly || seg.NumRows() == 0 {
			continue
		}
		density := float64(seg.DeletedCount()) / float64(seg.NumRows())
		if density >= c.opts.PurgeDeleteThreshold {
			if err := c.Purge(ctx, seg); err != nil {
				return err
			}
		}
	}
	return nil
}

// findMergeRun locates the first run of two or more adjacent readonly
// segments whose combined size fits MergeMaxSize/MergeMaxCount.
func (c *Controller) findMergeRun(segments []*segment.Segment) []*segment.Segment {
	for i := 0; i < len(segments); {
		if segments[i].Kind() != segment.KindReadonly {
			i++
			continue
		}
		j := i
		var size uint64
		for j < len(segments) && segments[j].Kind() == segment.KindReadonly &&
			(j-i) < c.opts.MergeMaxCount && size+uint64(segments[j].DataStorageSize()) <= c.opts.MergeMaxSize {
			size += uint64(segments[j].DataStorageSize())
			j++
		}
		if j-i >= 2 {
			return append([]*segment.Segment(nil), segments[i:j]...)
		}
		if j == i { // MergeMaxCount/MergeMaxSize rejected even the first segment alone
			i++
		} else {
			i = j
		}
	}
	return nil
}

// Convert replaces a frozen writable segment with an equivalent readonly
// one built from its rowstore contents (spec §4.4 "convert"). Every row
// (including tombstoned-but-not-purged ones) carries over unchanged; only
// the physical representation changes.
func (c *Controller) Convert(ctx context.Context, frozen *segment.Segment) error {
	return c.replaceOne(ctx, frozen, false)
}

// Purge rebuilds a readonly segment's column-group stores excluding rows
// already tombstoned, promoting them into the replacement's isPurged
// bitmap while keeping the logical row-id range exactly as wide as before
// (spec §3 invariant 3, physicalId = rank0(isPurged, logicalId)). Global
// recIds are never renumbered by a purge.
func (c *Controller) Purge(ctx context.Context, seg *segment.Segment) error {
	if seg.Kind() != segment.KindReadonly {
		return ierrors.Wrap(ierrors.ErrInvariant, "compaction: purge target must be readonly")
	}
	return c.replaceOne(ctx, seg, true)
}

// replaceOne builds one replacement segment from a single source and swaps
// it into the table at the same array position, leaving segment count and
// every other segment's recId range unchanged.
func (c *Controller) replaceOne(ctx context.Context, src *segment.Segment, purgeNow bool) error {
	snap := c.tbl.Snapshot()
	defer snap.Release()
	pos := indexOf(snap.Segments(), src)
	if pos < 0 {
		return ierrors.Wrap(ierrors.ErrNeedRetry, "compaction: source segment no longer in the table, retry")
	}

	replacement, err := c.assemble(ctx, []*segment.Segment{src}, purgeNow)
	if err != nil {
		return err
	}

	newSegments := append([]*segment.Segment(nil), snap.Segments()...)
	newSegments[pos] = replacement

	// The table's active writable segment is always the last element: a
	// fresh table starts with one, and Freeze only ever appends a new one
	// and retires the old one in place, so it is never touched by convert
	// or purge (a purge target is always readonly; a convert target is
	// always a frozen, no-longer-active writable segment at some earlier
	// position).
	old := c.tbl.PublishSegments(newSegments, len(newSegments)-1)
	// old[pos] is src itself — Retire drops the table's owning reference
	// only; any Context that snapshotted src before this publish (and so
	// still holds its own Acquired reference) keeps it mapped until that
	// Context is released too (spec §4.7).
	return old[pos].Retire()
}

// Merge combines an adjacent run of readonly segments into one, replacing
// that whole run's slot in the segment array (spec §4.4 "merge"). run must
// be adjacent and already sorted in table order — Sweep's findMergeRun
// guarantees this; callers driving Merge directly must preserve it too,
// since the cumulative row-count vector depends on segment order never
// changing across a publish.
func (c *Controller) Merge(ctx context.Context, run []*segment.Segment) error {
	if len(run) < 2 {
		return ierrors.Wrap(ierrors.ErrInvariant, "compaction: merge requires at least two segments")
	}

	snap := c.tbl.Snapshot()
	defer snap.Release()
	start := indexOf(snap.Segments(), run[0])
	if start < 0 {
		return ierrors.Wrap(ierrors.ErrNeedRetry, "compaction: merge run no longer in the table, retry")
	}
	for i, s := range run {
		if start+i >= len(snap.Segments()) || snap.Segments()[start+i] != s {
			return ierrors.Wrap(ierrors.ErrNeedRetry, "compaction: merge run is no longer contiguous, retry")
		}
	}

	merged, err := c.assemble(ctx, run, false)
	if err != nil {
		return err
	}

	newSegments := make([]*segment.Segment, 0, len(snap.Segments())-len(run)+1)
	newSegments = append(newSegments, snap.Segments()[:start]...)
	newSegments = append(newSegments, merged)
	newSegments = append(newSegments, snap.Segments()[start+len(run):]...)

	// A merge run is always entirely readonly (findMergeRun filters on
	// Kind), so it can never include the active writable segment, which
	// is always the last element; the active segment's position in the
	// new array is still simply the last one.
	old := c.tbl.PublishSegments(newSegments, len(newSegments)-1)
	for _, s := range old {
		inRun := false
		for _, r := range run {
			if s == r {
				inRun = true
				break
			}
		}
		if inRun {
			// Retire, not Close: drop only the table's owning reference so a
			// Context that snapshotted this segment before the publish keeps
			// it mapped until it releases too (spec §4.7).
			_ = s.Retire()
		}
	}
	return nil
}

func indexOf(segments []*segment.Segment, target *segment.Segment) int {
	for i, s := range segments {
		if s == target {
			return i
		}
	}
	return -1
}

// assemble builds one brand-new readonly segment spanning sources in
// order. When purgeNow is true (the purge job, always called with exactly
// one source), rows already tombstoned in that source have their physical
// bytes dropped and are marked isPurged in the replacement; their logical
// ids still exist, just unreadable, so the recId space does not shrink.
// Convert and merge never drop bytes themselves — they only reshape
// physical representation or concatenate already-physically-compacted
// sources — so purgeNow is false for both.
func (c *Controller) assemble(ctx context.Context, sources []*segment.Segment, purgeNow bool) (*segment.Segment, error) {
	sc := c.tbl.Schema()
	id := c.tbl.AllocateSegmentID()
	dir := c.tbl.SegmentDir(id)

	groupNames := map[string]struct{}{}
	for _, s := range sources {
		for _, n := range s.ColumnGroupNames() {
			groupNames[n] = struct{}{}
		}
	}

	var totalLogical int64
	for _, s := range sources {
		totalLogical += s.NumRows()
	}

	newIsDel := bitmap.New()
	newIsPurged := bitmap.New()

	var logicalOffset int64
	offsets := make([]int64, len(sources))
	for i, src := range sources {
		offsets[i] = logicalOffset
		logicalOffset += src.NumRows()
	}

	// Each source is read by its own goroutine (errgroup, bounded by
	// sources count), but every goroutine fills its OWN per-source
	// buffers — physical row order within a column group's final store
	// must exactly match source order then local-id order, which a
	// shared slice appended to from concurrent goroutines could not
	// guarantee.
	perSourceValues := make([]map[string][][]byte, len(sources))
	perSourceKept := make([][]bool, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			n := src.NumRows()
			localKept := make([]bool, n)
			values := make(map[string][][]byte, len(groupNames))
			for gName := range groupNames {
				values[gName] = make([][]byte, 0, n)
			}

			for local := int64(0); local < n; local++ {
				deleted := src.IsDeleted(local)
				alreadyPurged := src.IsPurged(local)
				if alreadyPurged || (purgeNow && deleted) {
					continue
				}
				localKept[local] = true
				for gName := range groupNames {
					v, err := src.RawColumnValue(ctx, gName, local)
					if err != nil {
						return ierrors.Wrap(err, fmt.Sprintf("compaction: read column group %q row %d of segment %d", gName, local, src.ID()))
					}
					values[gName] = append(values[gName], v)
				}
			}

			perSourceValues[i] = values
			perSourceKept[i] = localKept
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	groupValues := make(map[string][][]byte, len(groupNames))
	for n := range groupNames {
		groupValues[n] = make([][]byte, 0, totalLogical)
	}
	kept := make(map[*segment.Segment][]bool, len(sources))
	for i, src := range sources {
		base := offsets[i]
		n := src.NumRows()
		for local := int64(0); local < n; local++ {
			newLogical := base + local
			if src.IsDeleted(local) {
				newIsDel.Set(uint32(newLogical))
			}
			if !perSourceKept[i][local] {
				newIsPurged.Set(uint32(newLogical))
			}
		}
		for gName, vals := range perSourceValues[i] {
			groupValues[gName] = append(groupValues[gName], vals...)
		}
		kept[src] = perSourceKept[i]
	}

	idxEntries := make(map[string][]trieindex.Entry)
	for i, src := range sources {
		base := offsets[i]
		localKept := kept[src]
		for _, idxDef := range sc.Indexes {
			entries, ok := src.AllIndexEntries(idxDef.Name)
			if !ok {
				continue
			}
			for _, e := range entries {
				if e.ID < 0 || int(e.ID) >= len(localKept) || !localKept[e.ID] {
					continue
				}
				idxEntries[idxDef.Name] = append(idxEntries[idxDef.Name], trieindex.Entry{
					Key: e.Key,
					ID:  base + e.ID,
				})
			}
		}
	}
	for name, list := range idxEntries {
		sort.Slice(list, func(i, j int) bool {
			if cmp := bytes.Compare(list[i].Key, list[j].Key); cmp != 0 {
				return cmp < 0
			}
			return list[i].ID < list[j].ID
		})
		idxEntries[name] = list
	}

	groups := make([]segment.GroupData, 0, len(groupNames))
	for name, vals := range groupValues {
		groups = append(groups, segment.GroupData{Name: name, Repr: reprFor(sc, name), Values: vals})
	}

	return segment.BuildReadonly(dir, id, sc, totalLogical, groups, idxEntries, newIsDel, newIsPurged, c.log)
}

// reprFor picks the on-disk representation a column group's replacement
// store should use: the schema's declared Repr for a named group, or the
// dictionary-compressed trie for a writable-plain segment's undivided
// "__row__" blob, which has no schema.ColumnGroup entry of its own and can
// hold arbitrary-width bytes.
func reprFor(sc *schema.Schema, name string) schema.ColgroupRepr {
	if g, ok := sc.ColumnGroup(name); ok {
		return g.Repr
	}
	return schema.ReprCompressedTrie
}
