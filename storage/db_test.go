package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBGetPut(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, db.TrieDB())
}

func TestLevelDBPersists(t *testing.T) {
	dir := t.TempDir()

	db, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("root"), []byte{0x01, 0x02}))
	_, err = db.Get([]byte("absent"))
	require.ErrorIs(t, err, ErrNotFound)
	db.Close()

	reopened, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get([]byte("root"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, got)
}
