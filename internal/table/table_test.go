package table_test

import (
	"context"
	"testing"

	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/table"
	"github.com/iamNilotpal/ignite/pkg/options"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T) *table.Table {
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

func TestInsertAndGetValue(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Close()

	id, err := tbl.Insert(
		map[string][]byte{"__row__": []byte("alice")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("alice")}},
	)
	require.NoError(t, err)

	v, err := tbl.GetValue(context.Background(), "__row__", id)
	require.NoError(t, err)
	require.Equal(t, "alice", string(v))
	require.Equal(t, int64(1), tbl.NumRows())
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Close()

	id, err := tbl.Upsert("by_name", []byte("alice"),
		map[string][]byte{"__row__": []byte("alice-v1")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("alice")}},
	)
	require.NoError(t, err)
	require.Equal(t, int64(1), tbl.NumRows())

	same, err := tbl.Upsert("by_name", []byte("alice"),
		map[string][]byte{"__row__": []byte("alice-v2")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("alice")}},
	)
	require.NoError(t, err)
	require.Equal(t, int64(1), tbl.NumRows())

	v, err := tbl.GetValue(context.Background(), "__row__", same)
	require.NoError(t, err)
	require.Equal(t, "alice-v2", string(v))
	require.Equal(t, id, same)
}

func TestRemoveTombstones(t *testing.T) {
	tbl := newTable(t)
	defer tbl.Close()

	id, err := tbl.Insert(
		map[string][]byte{"__row__": []byte("bob")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("bob")}},
	)
	require.NoError(t, err)

	require.NoError(t, tbl.Remove(id, []table.IndexKey{{Name: "by_name", Key: []byte("bob")}}))
	_, err = tbl.GetValue(context.Background(), "__row__", id)
	require.Error(t, err)
}

func TestUpsertSingleSegmentHitIsNotAmbiguous(t *testing.T) {
	// A duplicable index can legitimately have the same key resolve to
	// more than one live row only if the schema allows duplicates; this
	// test instead confirms the unique-index, single-segment common case
	// does not misfire as ambiguous.
	tbl := newTable(t)
	defer tbl.Close()

	_, err := tbl.Insert(
		map[string][]byte{"__row__": []byte("carol")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("carol")}},
	)
	require.NoError(t, err)

	_, err = tbl.Upsert("by_name", []byte("carol"),
		map[string][]byte{"__row__": []byte("carol-2")},
		[]table.IndexKey{{Name: "by_name", Key: []byte("carol")}},
	)
	require.NoError(t, err)
}
