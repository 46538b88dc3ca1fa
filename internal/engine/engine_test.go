package engine_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/iamNilotpal/ignite/internal/engine"
	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/table"
	"github.com/iamNilotpal/ignite/pkg/options"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	sc, err := schema.New(
		[]schema.Column{{Name: "name", Type: schema.ColumnString}},
		nil,
		[]schema.Index{
			{Name: "by_name", Columns: []string{"name"}, Kind: schema.IndexUnique, Backing: schema.BackingKV, Regex: false},
		},
	)
	require.NoError(t, err)

	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	eng, err := engine.New(context.Background(), &engine.Config{
		Schema: sc, Options: &opts,
	})
	require.NoError(t, err)
	return eng
}

// Scenario A: insert, read, remove.
func TestInsertReadRemove(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	ctx := context.Background()

	id, err := eng.InsertRow(ctx, map[string][]byte{"__row__": []byte("alice")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("alice")}})
	require.NoError(t, err)

	v, err := eng.GetValue(ctx, "__row__", id)
	require.NoError(t, err)
	require.Equal(t, "alice", string(v))

	ids, err := eng.IndexSearchExact(ctx, "by_name", []byte("alice"))
	require.NoError(t, err)
	require.Equal(t, []int64{id}, ids)

	require.NoError(t, eng.RemoveRow(ctx, id, []table.IndexKey{{Name: "by_name", Key: []byte("alice")}}))
	_, err = eng.GetValue(ctx, "__row__", id)
	require.Error(t, err)
}

// Scenario C: upsert collision — a second upsert on the same key updates
// the same row rather than inserting a new one.
func TestUpsertRowCollision(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	ctx := context.Background()

	id1, err := eng.UpsertRow(ctx, "by_name", []byte("bob"),
		map[string][]byte{"__row__": []byte("bob-v1")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("bob")}})
	require.NoError(t, err)

	id2, err := eng.UpsertRow(ctx, "by_name", []byte("bob"),
		map[string][]byte{"__row__": []byte("bob-v2")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("bob")}})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	v, err := eng.GetValue(ctx, "__row__", id1)
	require.NoError(t, err)
	require.Equal(t, "bob-v2", string(v))
}

// Scenario D: freeze and survive — syncFinishWriting converts the active
// segment to readonly and every row is still readable afterward.
func TestSyncFinishWritingSurvivesReads(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"alice", "bob", "carol"} {
		id, err := eng.InsertRow(ctx, map[string][]byte{"__row__": []byte(name)},
			[]table.IndexKey{{Name: "by_name", Key: []byte(name)}})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, eng.SyncFinishWriting(ctx))

	for i, name := range []string{"alice", "bob", "carol"} {
		v, err := eng.GetValue(ctx, "__row__", ids[i])
		require.NoError(t, err)
		require.Equal(t, name, string(v))
	}

	searchIDs, err := eng.IndexSearchExact(ctx, "by_name", []byte("bob"))
	require.NoError(t, err)
	require.Equal(t, []int64{ids[1]}, searchIDs)
}

// Scenario B: duplicate iteration order — a forward index iterator visits
// keys in ascending order and returns every id registered under each.
func TestIndexIterForwardOrdersKeys(t *testing.T) {
	sc, err := schema.New(
		[]schema.Column{{Name: "status", Type: schema.ColumnString}},
		nil,
		[]schema.Index{{Name: "by_status", Columns: []string{"status"}, Kind: schema.IndexDuplicable, Backing: schema.BackingKV}},
	)
	require.NoError(t, err)
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	eng, err := engine.New(context.Background(), &engine.Config{Schema: sc, Options: &opts})
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	for _, s := range []string{"active", "banned", "active"} {
		_, err := eng.InsertRow(ctx, map[string][]byte{"__row__": []byte(s)},
			[]table.IndexKey{{Name: "by_status", Key: []byte(s)}})
		require.NoError(t, err)
	}

	it, err := eng.CreateIndexIterForward(ctx, "by_status", nil)
	require.NoError(t, err)
	defer it.Close()

	key, ids, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "active", string(key))
	require.Len(t, ids, 2)

	key, ids, ok = it.Next()
	require.True(t, ok)
	require.Equal(t, "banned", string(key))
	require.Len(t, ids, 1)

	_, _, ok = it.Next()
	require.False(t, ok)
}

// A forward table iterator skips a removed row and yields every surviving
// row under its original recId.
func TestTableIterForwardSkipsRemoved(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"alice", "bob", "carol"} {
		id, err := eng.InsertRow(ctx, map[string][]byte{"__row__": []byte(name)},
			[]table.IndexKey{{Name: "by_name", Key: []byte(name)}})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, eng.RemoveRow(ctx, ids[1], []table.IndexKey{{Name: "by_name", Key: []byte("bob")}}))

	it, err := eng.CreateTableIterForward(ctx)
	require.NoError(t, err)
	defer it.Close()

	var seen []int64
	for {
		id, ok := it.Next()
		if !ok {
			break
		}
		seen = append(seen, id)
	}
	require.Equal(t, []int64{ids[0], ids[2]}, seen)
}

// Scenario F: regex over trie index — a readonly segment's trie-backed
// index supports matchRegex after conversion.
func TestIndexMatchRegexAfterConvert(t *testing.T) {
	sc, err := schema.New(
		[]schema.Column{{Name: "name", Type: schema.ColumnString}},
		nil,
		[]schema.Index{{Name: "by_name", Columns: []string{"name"}, Kind: schema.IndexUnique, Backing: schema.BackingTrie, Regex: true}},
	)
	require.NoError(t, err)
	opts := options.NewDefaultOptions()
	opts.DataDir = t.TempDir()
	eng, err := engine.New(context.Background(), &engine.Config{Schema: sc, Options: &opts})
	require.NoError(t, err)
	defer eng.Close()
	ctx := context.Background()

	for _, name := range []string{"alice", "alan", "bob"} {
		_, err := eng.InsertRow(ctx, map[string][]byte{"__row__": []byte(name)},
			[]table.IndexKey{{Name: "by_name", Key: []byte(name)}})
		require.NoError(t, err)
	}
	require.NoError(t, eng.SyncFinishWriting(ctx))

	ids, err := eng.IndexMatchRegex(ctx, "by_name", "^al.*")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	_, err = regexp.Compile("^al.*")
	require.NoError(t, err)
}

func TestSelectColumnsFallsBackToRowGroup(t *testing.T) {
	eng := newTestEngine(t)
	defer eng.Close()
	ctx := context.Background()

	id, err := eng.InsertRow(ctx, map[string][]byte{"__row__": []byte("alice")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("alice")}})
	require.NoError(t, err)

	out, err := eng.SelectColumns(ctx, id, []string{"name"})
	require.NoError(t, err)
	require.Equal(t, "alice", string(out["name"]))

	want := map[string][]byte{"name": []byte("alice")}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("SelectColumns mismatch (-want +got):\n%s", diff)
	}
}
