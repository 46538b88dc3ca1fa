package fixedstore_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/iamNilotpal/ignite/internal/fixedstore"
	"github.com/stretchr/testify/require"
)

func row(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func TestBuildAndRead(t *testing.T) {
	dir := t.TempDir()
	rows := [][]byte{row(10), row(20), row(30)}

	s, err := fixedstore.Build(dir, 8, rows)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, int64(3), s.NumRows())

	v, err := s.GetValueAppend(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(20), binary.BigEndian.Uint64(v))

	_, err = s.GetValueAppend(context.Background(), 5, nil)
	require.Error(t, err)
}

func TestReopenAfterBuild(t *testing.T) {
	dir := t.TempDir()
	rows := [][]byte{row(1), row(2)}
	built, err := fixedstore.Build(dir, 8, rows)
	require.NoError(t, err)
	require.NoError(t, built.Close())

	reopened, err := fixedstore.Open(dir, 8, false)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, int64(2), reopened.NumRows())
}

func TestBackwardIterator(t *testing.T) {
	dir := t.TempDir()
	rows := [][]byte{row(1), row(2), row(3)}
	s, err := fixedstore.Build(dir, 8, rows)
	require.NoError(t, err)
	defer s.Close()

	it := s.NewBackwardIterator()
	defer it.Close()
	var got []uint64
	for it.Next() {
		got = append(got, binary.BigEndian.Uint64(it.Value()))
	}
	require.Equal(t, []uint64{3, 2, 1}, got)
}
