package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	has, err := db.Has([]byte("missing"))
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, db.Put([]byte("key"), []byte("value")))

	got, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	has, err = db.Has([]byte("key"))
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, db.Put([]byte("key"), []byte("replaced")))
	got, err = db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("replaced"), got)

	require.NoError(t, db.Delete([]byte("key")))
	_, err = db.Get([]byte("key"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.WriteBatch(map[string][]byte{
		"batch/a": []byte("1"),
		"batch/b": []byte("2"),
	}))
	got, err = db.Get([]byte("batch/a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	got, err = db.Get([]byte("batch/b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("value")
	require.NoError(t, db.Put([]byte("key"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)

	// Mutating a returned value must not leak back into the store.
	got[0] = 'Y'
	again, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), again)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDBBatchSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.WriteBatch(map[string][]byte{
		"counter/value": []byte("7"),
		"counter/board": []byte("[]"),
	}))
	require.NoError(t, db1.Close())

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("counter/value"))
	require.NoError(t, err)
	require.Equal(t, []byte("7"), got)
	got, err = db2.Get([]byte("counter/board"))
	require.NoError(t, err)
	require.Equal(t, []byte("[]"), got)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("key"), []byte("value")))
	require.NoError(t, db1.Close())

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}
