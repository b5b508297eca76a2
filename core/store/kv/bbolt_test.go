package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestBoltDB_New(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = New(filepath.Join(t.TempDir(), "missing", "test.db"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to open db: ")
}

func TestBoltDB_UpdateAndView(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	committed := false

	err = db.Update(func(tx WritableTx) error {
		tx.OnCommit(func() { committed = true })

		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		return bucket.Set([]byte("ping"), []byte("pong"))
	})
	require.NoError(t, err)
	require.True(t, committed)

	err = db.View(func(tx ReadableTx) error {
		bucket := tx.GetBucket([]byte("bucket"))
		require.NotNil(t, bucket)
		require.Equal(t, []byte("pong"), bucket.Get([]byte("ping")))

		require.Nil(t, tx.GetBucket([]byte("unknown")))

		return nil
	})
	require.NoError(t, err)

	err = db.Update(func(tx WritableTx) error {
		_, err := tx.GetBucketOrCreate(nil)
		return err
	})
	require.EqualError(t, err, "failed to create bucket: bucket name required")
}

func TestBoltDB_UpdateRollback(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, bucket.Set([]byte("ping"), []byte("pong")))

		return xerrors.New("oops")
	})
	require.EqualError(t, err, "oops")

	err = db.View(func(tx ReadableTx) error {
		require.Nil(t, tx.GetBucket([]byte("bucket")))
		return nil
	})
	require.NoError(t, err)
}

func TestBoltBucket_Get_Set_Delete(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte("ping"), []byte("pong")))
		require.Equal(t, []byte("pong"), b.Get([]byte("ping")))
		require.Nil(t, b.Get([]byte("pong")))

		require.NoError(t, b.Delete([]byte("ping")))
		require.Nil(t, b.Get([]byte("ping")))

		return nil
	})
	require.NoError(t, err)
}

func TestBoltBucket_ForEach(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte{2}, []byte{2}))
		require.NoError(t, b.Set([]byte{1}, []byte{1}))
		require.NoError(t, b.Set([]byte{0}, []byte{0}))

		var i byte = 0
		return b.ForEach(func(k, v []byte) error {
			require.Equal(t, []byte{i}, k)
			require.Equal(t, []byte{i}, v)
			i++
			return nil
		})
	})
	require.NoError(t, err)
}

func TestBoltBucket_Scan(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte("r/2/b"), []byte{2}))
		require.NoError(t, b.Set([]byte("r/1/a"), []byte{1}))
		require.NoError(t, b.Set([]byte("r/1/b"), []byte{1}))
		require.NoError(t, b.Set([]byte("s/1/a"), []byte{3}))

		keys := []string{}
		err = b.Scan([]byte("r/1/"), func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"r/1/a", "r/1/b"}, keys)

		err = b.Scan([]byte("t/"), func(k, v []byte) error {
			return xerrors.New("oops")
		})
		require.NoError(t, err)

		err = b.Scan([]byte{}, func(k, v []byte) error {
			return xerrors.New("oops")
		})
		require.EqualError(t, err, "callback failed: oops")

		return nil
	})
	require.NoError(t, err)
}
