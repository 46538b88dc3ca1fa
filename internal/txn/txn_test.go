package txn_test

import (
	"context"
	"testing"

	"github.com/iamNilotpal/ignite/internal/index/kvindex"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/segment"
	"github.com/iamNilotpal/ignite/internal/txn"
	"github.com/stretchr/testify/require"
)

func newSeg(t *testing.T) *segment.Segment {
	t.Helper()
	sc, err := schema.New(
		[]schema.Column{{Name: "name", Type: schema.ColumnString}},
		nil,
		[]schema.Index{{Name: "by_name", Columns: []string{"name"}, Kind: schema.IndexUnique, Backing: schema.BackingKV}},
	)
	require.NoError(t, err)
	seg, err := segment.New(t.TempDir(), 1, segment.KindWritablePlain, sc, nil)
	require.NoError(t, err)
	return seg
}

func TestInsertRowCommits(t *testing.T) {
	seg := newSeg(t)
	defer seg.Close()
	idx := kvindex.New("by_name", schema.IndexUnique)

	tx := txn.Begin(seg, -1)
	id, err := tx.InsertRow(
		map[string][]byte{"__row__": []byte("alice")},
		[]txn.IndexWrite{{Index: idx, Key: []byte("alice")}},
	)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	ids, err := idx.Exact([]byte("alice"))
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids)

	v, err := seg.GetValue(context.Background(), "__row__", id)
	require.NoError(t, err)
	require.Equal(t, "alice", string(v))
}

func TestInsertRowRollsBackOnIndexConflict(t *testing.T) {
	seg := newSeg(t)
	defer seg.Close()
	idx := kvindex.New("by_name", schema.IndexUnique)
	require.NoError(t, idx.Insert([]byte("alice"), 999))

	tx := txn.Begin(seg, -1)
	_, err := tx.InsertRow(
		map[string][]byte{"__row__": []byte("alice")},
		[]txn.IndexWrite{{Index: idx, Key: []byte("alice")}},
	)
	require.Error(t, err)
	require.Equal(t, txn.StateRolledBack, tx.State())

	// The row itself was appended then tombstoned by rollback.
	require.True(t, seg.IsDeleted(0))
}

func TestRemoveRowRollback(t *testing.T) {
	seg := newSeg(t)
	defer seg.Close()
	idx := kvindex.New("by_name", schema.IndexUnique)

	setupTx := txn.Begin(seg, -1)
	id, err := setupTx.InsertRow(map[string][]byte{"__row__": []byte("bob")}, []txn.IndexWrite{{Index: idx, Key: []byte("bob")}})
	require.NoError(t, err)
	require.NoError(t, setupTx.Commit())

	removeTx := txn.Begin(seg, id)
	require.NoError(t, removeTx.RemoveRow([]txn.IndexWrite{{Index: idx, Key: []byte("bob")}}))
	removeTx.Rollback()

	require.False(t, seg.IsDeleted(id))
	require.True(t, idx.KeyExists([]byte("bob")))
}
