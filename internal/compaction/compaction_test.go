package compaction_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/iamNilotpal/ignite/internal/compaction"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/segment"
	"github.com/iamNilotpal/ignite/internal/table"
	"github.com/iamNilotpal/ignite/pkg/options"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *table.Table {
	t.Helper()
	sc, err := schema.New(
		[]schema.Column{{Name: "name", Type: schema.ColumnString}},
		nil,
		[]schema.Index{{Name: "by_name", Columns: []string{"name"}, Kind: schema.IndexUnique, Backing: schema.BackingKV}},
	)
	require.NoError(t, err)

	opts := options.NewDefaultOptions()
	tbl, err := table.Open(t.TempDir(), sc, &opts, nil)
	require.NoError(t, err)
	return tbl
}

func testOpts(t *testing.T) *options.Options {
	t.Helper()
	opts := options.NewDefaultOptions()
	return &opts
}

func TestConvertPreservesRowsAndIndex(t *testing.T) {
	tbl := newTestTable(t)
	defer tbl.Close()
	c := compaction.New(tbl, testOpts(t), nil)

	ids := make([]int64, 0, 3)
	for _, name := range []string{"alice", "bob", "carol"} {
		id, err := tbl.Insert(
			map[string][]byte{"__row__": []byte(name)},
			[]table.IndexKey{{Name: "by_name", Key: []byte(name)}},
		)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	frozen, err := tbl.Freeze()
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), frozen))

	for i, name := range []string{"alice", "bob", "carol"} {
		v, err := tbl.GetValue(context.Background(), "__row__", ids[i])
		require.NoError(t, err)
		require.Equal(t, name, string(v))
	}

	snap := tbl.Snapshot()
	defer snap.Release()
	require.Len(t, snap.Segments(), 2)
	require.Equal(t, segment.KindReadonly, snap.Segments()[0].Kind())

	idx, ok := snap.Segments()[0].Index("by_name")
	require.True(t, ok)
	got, err := idx.Exact([]byte("bob"))
	require.NoError(t, err)
	require.Equal(t, []int64{1}, got)
}

func TestPurgeDropsTombstonedBytesKeepsRecIdRange(t *testing.T) {
	tbl := newTestTable(t)
	defer tbl.Close()
	c := compaction.New(tbl, testOpts(t), nil)

	var ids []int64
	for _, name := range []string{"alice", "bob", "carol"} {
		id, err := tbl.Insert(
			map[string][]byte{"__row__": []byte(name)},
			[]table.IndexKey{{Name: "by_name", Key: []byte(name)}},
		)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, tbl.Remove(ids[1], []table.IndexKey{{Name: "by_name", Key: []byte("bob")}}))

	frozen, err := tbl.Freeze()
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), frozen))

	snap := tbl.Snapshot()
	seg := snap.Segments()[0]
	require.NoError(t, c.Purge(context.Background(), seg))
	snap.Release()

	snap = tbl.Snapshot()
	defer snap.Release()
	purged := snap.Segments()[0]
	require.Equal(t, int64(3), purged.NumRows())
	require.True(t, purged.IsDeleted(1))
	require.True(t, purged.IsPurged(1))

	v, err := tbl.GetValue(context.Background(), "__row__", ids[0])
	require.NoError(t, err)
	require.Equal(t, "alice", string(v))
	v, err = tbl.GetValue(context.Background(), "__row__", ids[2])
	require.NoError(t, err)
	require.Equal(t, "carol", string(v))

	_, err = tbl.GetValue(context.Background(), "__row__", ids[1])
	require.Error(t, err)
}

func TestMergeCombinesAdjacentReadonlySegments(t *testing.T) {
	tbl := newTestTable(t)
	defer tbl.Close()
	c := compaction.New(tbl, testOpts(t), nil)

	id1, err := tbl.Insert(map[string][]byte{"__row__": []byte("alice")}, []table.IndexKey{{Name: "by_name", Key: []byte("alice")}})
	require.NoError(t, err)
	frozen1, err := tbl.Freeze()
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), frozen1))

	id2, err := tbl.Insert(map[string][]byte{"__row__": []byte("bob")}, []table.IndexKey{{Name: "by_name", Key: []byte("bob")}})
	require.NoError(t, err)
	frozen2, err := tbl.Freeze()
	require.NoError(t, err)
	require.NoError(t, c.Convert(context.Background(), frozen2))

	snap := tbl.Snapshot()
	require.Len(t, snap.Segments(), 3) // two readonly + one active writable
	run := snap.Segments()[:2]
	require.NoError(t, c.Merge(context.Background(), run))
	snap.Release()

	snap = tbl.Snapshot()
	defer snap.Release()
	require.Len(t, snap.Segments(), 2)
	require.Equal(t, segment.KindReadonly, snap.Segments()[0].Kind())
	require.Equal(t, int64(2), snap.Segments()[0].NumRows())

	v, err := tbl.GetValue(context.Background(), "__row__", id1)
	require.NoError(t, err)
	require.Equal(t, "alice", string(v))
	v, err = tbl.GetValue(context.Background(), "__row__", id2)
	require.NoError(t, err)
	require.Equal(t, "bob", string(v))
}

// TestSerializedUpsertRunsEveryCallersPayload guards against the
// singleflight-style bug where concurrent callers sharing a lookup key
// would have one caller's result handed back to another without that
// caller's own Table.Upsert ever running — silently dropping its payload
// (spec §8 scenario C: two different writers upserting the same key must
// both actually execute their write). Two goroutines race
// SerializedUpsert on the same key with distinct payloads; both must run
// their own fn to completion exactly once, and the table must end up with
// exactly one row carrying whichever payload committed second.
func TestSerializedUpsertRunsEveryCallersPayload(t *testing.T) {
	tbl := newTestTable(t)
	defer tbl.Close()
	c := compaction.New(tbl, testOpts(t), nil)

	var execCount int32
	var committed []string // appended under the per-key lock, in commit order
	upsert := func(payload string) (int64, error) {
		return c.SerializedUpsert("dave", func() (int64, error) {
			atomic.AddInt32(&execCount, 1)
			id, err := tbl.Upsert("by_name", []byte("dave"),
				map[string][]byte{"__row__": []byte(payload)},
				[]table.IndexKey{{Name: "by_name", Key: []byte("dave")}},
			)
			if err == nil {
				committed = append(committed, payload)
			}
			return id, err
		})
	}

	var wg sync.WaitGroup
	ids := make([]int64, 2)
	errs := make([]error, 2)
	payloads := []string{"dave-a", "dave-b"}
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			ids[i], errs[i] = upsert(payloads[i])
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, ids[0], ids[1])
	require.Equal(t, int32(2), atomic.LoadInt32(&execCount))
	require.Equal(t, int64(1), tbl.NumRows())

	v, err := tbl.GetValue(context.Background(), "__row__", ids[0])
	require.NoError(t, err)
	require.Contains(t, payloads, string(v))
	require.Len(t, committed, 2)
	require.Equal(t, committed[1], string(v))
}

// TestCheckpointPersistsTombstoneBitmap asserts the periodic checkpoint job
// actually durably flushes the active writable segment's tombstone
// bitmap — Table.Remove only updates it in memory, and before this job
// existed nothing ever wrote isDel.bin for a writable segment at all (spec
// §4.7 item 5).
func TestCheckpointPersistsTombstoneBitmap(t *testing.T) {
	tbl := newTestTable(t)
	defer tbl.Close()
	c := compaction.New(tbl, testOpts(t), nil)

	id, err := tbl.Insert(
		map[string][]byte{"__row__": []byte("alice")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("alice")}},
	)
	require.NoError(t, err)
	require.NoError(t, tbl.Remove(id, []table.IndexKey{{Name: "by_name", Key: []byte("alice")}}))

	snap := tbl.Snapshot()
	active := snap.Segments()[len(snap.Segments())-1]
	segDir := tbl.SegmentDir(active.ID())
	snap.Release()

	require.NoError(t, c.Checkpoint(context.Background()))

	data, err := os.ReadFile(filepath.Join(segDir, "isDel.bin"))
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
