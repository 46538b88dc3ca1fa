package segment_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/iamNilotpal/ignite/internal/schema"
	"github.com/iamNilotpal/ignite/internal/segment"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sc, err := schema.New(
		[]schema.Column{{Name: "id", Type: schema.ColumnInt64}, {Name: "name", Type: schema.ColumnString}},
		nil,
		[]schema.Index{{Name: "by_name", Columns: []string{"name"}, Kind: schema.IndexUnique, Backing: schema.BackingKV}},
	)
	require.NoError(t, err)
	return sc
}

func TestAppendGetValueRemove(t *testing.T) {
	sc := testSchema(t)
	seg, err := segment.New(t.TempDir(), 1, segment.KindWritablePlain, sc, nil)
	require.NoError(t, err)
	defer seg.Close()

	id, err := seg.Append(map[string][]byte{"__row__": []byte("row-a")})
	require.NoError(t, err)
	require.Equal(t, int64(0), id)
	require.Equal(t, int64(1), seg.NumRows())

	v, err := seg.GetValue(context.Background(), "__row__", id)
	require.NoError(t, err)
	require.Equal(t, "row-a", string(v))

	require.NoError(t, seg.Remove(id))
	require.True(t, seg.IsDeleted(id))

	_, err = seg.GetValue(context.Background(), "__row__", id)
	require.Error(t, err)

	err = seg.Remove(id)
	require.Error(t, err)
}

func TestUpdateMarksUpdateList(t *testing.T) {
	sc := testSchema(t)
	seg, err := segment.New(t.TempDir(), 1, segment.KindWritablePlain, sc, nil)
	require.NoError(t, err)
	defer seg.Close()

	id, err := seg.Append(map[string][]byte{"__row__": []byte("v1")})
	require.NoError(t, err)
	require.False(t, seg.WasUpdated(id))

	require.NoError(t, seg.Update(id, map[string][]byte{"__row__": []byte("v2")}))
	require.True(t, seg.WasUpdated(id))

	v, err := seg.GetValue(context.Background(), "__row__", id)
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestSavePersistsMeta(t *testing.T) {
	sc := testSchema(t)
	dir := t.TempDir()
	seg, err := segment.New(dir, 7, segment.KindWritablePlain, sc, nil)
	require.NoError(t, err)

	_, err = seg.Append(map[string][]byte{"__row__": []byte("a")})
	require.NoError(t, err)
	require.NoError(t, seg.Save())
	require.Equal(t, uint32(7), seg.ID())
	_, err = os.Stat(filepath.Join(dir, "meta.json"))
	require.NoError(t, err)
}
