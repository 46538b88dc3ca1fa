// Package engine wires the core pieces — internal/table's recId space,
// internal/compaction's lifecycle controller and ticket pools — into the
// single entry point pkg/ignite's facade calls through. It owns no storage
// logic of its own: every operation here is "acquire a ticket, then call
// straight through to internal/table", plus the cross-segment fan-out a
// table alone cannot do (index search, iteration) since indexes and column
// groups live one-per-segment (spec §4.2, §4.4).
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/iamNilotpal/ignite/internal/compaction"
	"github.com/iamNilotpal/ignite/internal/index"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/table"
	ierrors "github.com/iamNilotpal/ignite/pkg/errors"
	"github.com/iamNilotpal/ignite/pkg/options"
	"go.uber.org/zap"
)

// rowColgroupName is the pseudo column-group name a writable-plain segment
// stores its undivided row blob under (internal/rowstore, internal/segment).
const rowColgroupName = "__row__"

// Config holds everything New needs to bring a table and its background
// lifecycle controller up. The table is rooted at Options.DataDir.
type Config struct {
	Schema  *schema.Schema
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// Engine is the central coordinator every pkg/ignite.Instance holds one of.
type Engine struct {
	opts *options.Options
	log  *zap.SugaredLogger

	tbl  *table.Table
	ctrl *compaction.Controller

	colToGroup map[string]string
	cancel     context.CancelFunc
	closed     atomic.Bool
}

// New opens a table rooted at cfg.Options.DataDir (see table.Open) and
// starts the compaction controller's background sweep loop.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	tbl, err := table.Open(cfg.Options.DataDir, cfg.Schema, cfg.Options, logger)
	if err != nil {
		return nil, err
	}

	ctrl := compaction.New(tbl, cfg.Options, logger)
	runCtx, cancel := context.WithCancel(ctx)
	ctrl.Run(runCtx)

	colToGroup := make(map[string]string, len(cfg.Schema.Columns))
	for _, g := range cfg.Schema.ColumnGroups {
		for _, col := range g.Columns {
			colToGroup[col] = g.Name
		}
	}

	return &Engine{
		opts:       cfg.Options,
		log:        logger,
		tbl:        tbl,
		ctrl:       ctrl,
		colToGroup: colToGroup,
		cancel:     cancel,
	}, nil
}

// Close stops the background sweep loop and closes every segment. Safe to
// call exactly once; a second call returns ErrInvariant.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ierrors.Wrap(ierrors.ErrInvariant, "engine: already closed")
	}
	e.cancel()
	e.ctrl.Stop()
	return e.tbl.Close()
}

// InsertRow appends a brand-new row and returns its global recId.
func (e *Engine) InsertRow(ctx context.Context, values map[string][]byte, indexKeys []table.IndexKey) (int64, error) {
	release, err := e.ctrl.AcquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return e.tbl.Insert(values, indexKeys)
}

// UpsertRow resolves lookupKey against indexName, inserting on a miss and
// updating in place on a single hit. Concurrent upserts racing on the same
// lookupKey are serialized against each other by the compaction
// controller's per-key lock (so two writers never both observe a zero-match
// and both insert), but each still runs its own Table.Upsert with its own
// values — a second writer's payload is never dropped in favor of the
// first's. A NeedRetry/WriteThrottle loser retries up to UpsertMaxRetry
// times against a fresh Table snapshot before surfacing the last error
// (spec §6 "upsertRow"; spec §8 scenario C).
func (e *Engine) UpsertRow(
	ctx context.Context,
	indexName string,
	lookupKey []byte,
	values map[string][]byte,
	indexKeys []table.IndexKey,
) (int64, error) {
	release, err := e.ctrl.AcquireWrite(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	maxRetry := e.opts.UpsertMaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}
	lockKey := indexName + "|" + string(lookupKey)

	var lastErr error
	for attempt := 0; attempt <= maxRetry; attempt++ {
		id, err := e.ctrl.SerializedUpsert(lockKey, func() (int64, error) {
			return e.tbl.Upsert(indexName, lookupKey, values, indexKeys)
		})
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !errors.Is(err, ierrors.ErrNeedRetry) &&
			!errors.Is(err, ierrors.ErrWriteThrottle) &&
			!errors.Is(err, ierrors.ErrAmbiguousUpsert) {
			return 0, err
		}
	}
	return 0, ierrors.Wrap(ierrors.ErrNeedRetry, fmt.Sprintf("engine: upsertRow exhausted retries: %v", lastErr))
}

// UpdateRow rewrites an existing row's values and index registrations.
func (e *Engine) UpdateRow(ctx context.Context, recID int64, values map[string][]byte, oldKeys, newKeys []table.IndexKey) error {
	release, err := e.ctrl.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.tbl.Update(recID, values, oldKeys, newKeys)
}

// RemoveRow tombstones an existing row.
func (e *Engine) RemoveRow(ctx context.Context, recID int64, indexKeys []table.IndexKey) error {
	release, err := e.ctrl.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()
	return e.tbl.Remove(recID, indexKeys)
}

// GetValue reads a single column group's raw bytes for recID.
func (e *Engine) GetValue(ctx context.Context, colgroup string, recID int64) ([]byte, error) {
	release, err := e.ctrl.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.tbl.GetValue(ctx, colgroup, recID)
}

// colgroupForColumn resolves the column group hosting col. A column never
// declared in any schema.ColumnGroup belongs to the writable-plain
// segment's undivided row blob.
func (e *Engine) colgroupForColumn(col string) string {
	if g, ok := e.colToGroup[col]; ok {
		return g
	}
	return rowColgroupName
}

// SelectColumns reads recID's value once per distinct column group backing
// the requested columns and returns each column name mapped to its group's
// raw bytes. There is no per-column sub-decode layer (spec Non-goals rule
// out a query planner), so two columns sharing a group see the same bytes.
func (e *Engine) SelectColumns(ctx context.Context, recID int64, columnNames []string) (map[string][]byte, error) {
	release, err := e.ctrl.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	groupCache := make(map[string][]byte, len(columnNames))
	out := make(map[string][]byte, len(columnNames))
	for _, col := range columnNames {
		group := e.colgroupForColumn(col)
		v, ok := groupCache[group]
		if !ok {
			v, err = e.tbl.GetValue(ctx, group, recID)
			if err != nil {
				return nil, err
			}
			groupCache[group] = v
		}
		out[col] = v
	}
	return out, nil
}

// SelectColgroups reads recID's raw bytes for each named column group.
func (e *Engine) SelectColgroups(ctx context.Context, recID int64, groupNames []string) (map[string][]byte, error) {
	release, err := e.ctrl.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make(map[string][]byte, len(groupNames))
	for _, name := range groupNames {
		v, err := e.tbl.GetValue(ctx, name, recID)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// IndexSearchExact returns every live recId registered under key across
// every segment's copy of indexName.
func (e *Engine) IndexSearchExact(ctx context.Context, indexName string, key []byte) ([]int64, error) {
	release, err := e.ctrl.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	snap := e.tbl.Snapshot()
	defer snap.Release()
	var out []int64
	for i, seg := range snap.Segments() {
		idx, ok := seg.Index(indexName)
		if !ok {
			continue
		}
		ids, err := idx.Exact(key)
		if errors.Is(err, ierrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		base := snap.RowBase(i)
		for _, id := range ids {
			if !seg.IsDeleted(id) {
				out = append(out, base+id)
			}
		}
	}
	return out, nil
}

// IndexKeyExists reports whether key has at least one live row registered
// in any segment's copy of indexName.
func (e *Engine) IndexKeyExists(ctx context.Context, indexName string, key []byte) (bool, error) {
	ids, err := e.IndexSearchExact(ctx, indexName, key)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// IndexMatchRegex returns every live recId whose key in indexName matches
// pattern. A readonly segment's trie-backed index returns ErrStoreInternal
// unless it was declared with schema.Index.Regex set (spec §4.2); a
// writable segment's KV-backed index answers with a linear key scan.
func (e *Engine) IndexMatchRegex(ctx context.Context, indexName, pattern string) ([]int64, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrInvariant, "engine: invalid regex pattern: "+err.Error())
	}

	release, err := e.ctrl.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	snap := e.tbl.Snapshot()
	defer snap.Release()
	var out []int64
	for i, seg := range snap.Segments() {
		idx, ok := seg.Index(indexName)
		if !ok {
			continue
		}
		ids, err := idx.MatchRegex(re, e.opts.RegexMatchMemLimit)
		if err != nil {
			return nil, err
		}
		base := snap.RowBase(i)
		for _, id := range ids {
			if !seg.IsDeleted(id) {
				out = append(out, base+id)
			}
		}
	}
	return out, nil
}

// TableIterator walks every live row across a table's segment array in
// ascending recId order over a fixed Snapshot; it does not observe inserts
// made after it was created (use Stale to detect that).
type TableIterator struct {
	snap  *table.Context
	segAt int
	local int64
}

// CreateTableIterForward returns an iterator positioned before the first
// live row.
func (e *Engine) CreateTableIterForward(ctx context.Context) (*TableIterator, error) {
	release, err := e.ctrl.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return &TableIterator{snap: e.tbl.Snapshot()}, nil
}

// Stale reports whether the table has published a newer segment array
// since this iterator was created.
func (it *TableIterator) Stale() bool { return it.snap.Stale() }

// Close releases this iterator's reference on every segment it snapshotted.
// Callers must call this once they are done iterating so a segment retired
// by compaction while the iterator was still in use can finally be closed
// (spec §4.7); a TableIterator left open pins its segments indefinitely.
func (it *TableIterator) Close() { it.snap.Release() }

// Next advances to the next live row, returning its global recId. ok is
// false once every segment has been exhausted.
func (it *TableIterator) Next() (recID int64, ok bool) {
	segs := it.snap.Segments()
	for it.segAt < len(segs) {
		seg := segs[it.segAt]
		for it.local < seg.NumRows() {
			local := it.local
			it.local++
			if seg.IsDeleted(local) {
				continue
			}
			return it.snap.RowBase(it.segAt) + local, true
		}
		it.segAt++
		it.local = 0
	}
	return 0, false
}

// IndexIterator merges every segment's cursor over one index into a single
// ascending- or descending-key ordered stream, translating each posting's
// segment-local id into a global recId (spec §8 scenario B, "duplicate
// iteration order").
type IndexIterator struct {
	snap    *table.Context
	cursors []index.Cursor
	bases   []int64
	forward bool
}

func (e *Engine) newIndexIter(ctx context.Context, indexName string, from []byte, forward bool) (*IndexIterator, error) {
	release, err := e.ctrl.AcquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	snap := e.tbl.Snapshot()
	it := &IndexIterator{snap: snap, forward: forward}
	for i, seg := range snap.Segments() {
		idx, ok := seg.Index(indexName)
		if !ok {
			continue
		}
		var cur index.Cursor
		if forward {
			cur = idx.SeekLowerBound(from)
		} else {
			if from == nil {
				cur = idx.SeekLowerBound(nil)
				for cur != nil && cur.Valid() {
					cur.Next()
				}
			} else {
				cur = idx.SeekUpperBound(from)
			}
			if cur != nil {
				cur.Prev()
			}
		}
		if cur == nil {
			continue
		}
		it.cursors = append(it.cursors, cur)
		it.bases = append(it.bases, snap.RowBase(i))
	}
	return it, nil
}

// Close releases this iterator's reference on every segment it snapshotted.
// Callers must call this once they are done iterating so a segment retired
// by compaction while the iterator was still in use can finally be closed
// (spec §4.7); an IndexIterator left open pins its segments indefinitely.
func (it *IndexIterator) Close() { it.snap.Release() }

// CreateIndexIterForward returns an iterator over indexName starting at the
// first key >= from (from == nil means the very first key).
func (e *Engine) CreateIndexIterForward(ctx context.Context, indexName string, from []byte) (*IndexIterator, error) {
	return e.newIndexIter(ctx, indexName, from, true)
}

// CreateIndexIterBackward returns an iterator over indexName starting at
// the last key <= from (from == nil means the very last key).
func (e *Engine) CreateIndexIterBackward(ctx context.Context, indexName string, from []byte) (*IndexIterator, error) {
	return e.newIndexIter(ctx, indexName, from, false)
}

// Next advances to the next key in the iterator's direction, returning the
// key and every recId registered under it across every segment holding
// that key. ok is false once no cursor has a valid position left.
func (it *IndexIterator) Next() (key []byte, recIds []int64, ok bool) {
	best := -1
	for i, c := range it.cursors {
		if !c.Valid() {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cmp := bytes.Compare(c.Key(), it.cursors[best].Key())
		if (it.forward && cmp < 0) || (!it.forward && cmp > 0) {
			best = i
		}
	}
	if best == -1 {
		return nil, nil, false
	}

	key = append([]byte(nil), it.cursors[best].Key()...)
	for i, c := range it.cursors {
		if !c.Valid() || !bytes.Equal(c.Key(), key) {
			continue
		}
		for _, id := range c.Ids() {
			recIds = append(recIds, it.bases[i]+id)
		}
		if it.forward {
			c.Next()
		} else {
			c.Prev()
		}
	}
	return key, recIds, true
}

// SyncFinishWriting freezes the active writable segment and converts it to
// readonly immediately, rather than waiting for the background sweep's
// WritableFlushSize threshold (spec §8 scenario D, "freeze and survive").
func (e *Engine) SyncFinishWriting(ctx context.Context) error {
	release, err := e.ctrl.AcquireWrite(ctx)
	if err != nil {
		return err
	}
	defer release()

	frozen, err := e.tbl.Freeze()
	if err != nil {
		return err
	}
	return e.ctrl.Convert(ctx, frozen)
}

// SafeStopAndWaitForCompress stops the background sweep loop, waiting for
// any compaction job already in flight to finish publishing, then closes
// every segment.
func (e *Engine) SafeStopAndWaitForCompress() error {
	return e.Close()
}
