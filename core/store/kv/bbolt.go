package kv

import (
	"bytes"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// openTimeout is the time given to obtain the file lock of the database, which
// is held by another process running with the same configuration folder.
const openTimeout = 5 * time.Second

// boltDB is an adapter of the KV store using bboltdb.
//
// - implements kv.DB
type boltDB struct {
	bolt *bbolt.DB
}

// New opens the database at the given path, or creates it if it does not
// exist yet.
func New(path string) (DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %v", err)
	}

	return boltDB{bolt: db}, nil
}

// View implements kv.DB. It executes the read-only transaction in the context
// of the database.
func (db boltDB) View(fn func(ReadableTx) error) error {
	return db.bolt.View(func(txn *bbolt.Tx) error {
		return fn(boltTx{txn: txn})
	})
}

// Update implements kv.DB. It executes the writable transaction in the
// context of the database. The transaction is rolled back if the callback
// returns an error.
func (db boltDB) Update(fn func(WritableTx) error) error {
	return db.bolt.Update(func(txn *bbolt.Tx) error {
		return fn(boltTx{txn: txn})
	})
}

// Close implements kv.DB. It closes the database. Any view or update call will
// result in an error after this function is called.
func (db boltDB) Close() error {
	return db.bolt.Close()
}

// boltTx is the adapter of a bbolt transaction.
//
// - implements kv.ReadableTx
// - implements kv.WritableTx
type boltTx struct {
	txn *bbolt.Tx
}

// GetBucket implements kv.ReadableTx. It returns the bucket with the given name
// or nil if it does not exist.
func (tx boltTx) GetBucket(name []byte) Bucket {
	bucket := tx.txn.Bucket(name)
	if bucket == nil {
		return nil
	}

	return boltBucket{bucket: bucket}
}

// GetBucketOrCreate implements kv.WritableTx. It creates the bucket if it does
// not exist and then returns it.
func (tx boltTx) GetBucketOrCreate(name []byte) (Bucket, error) {
	bucket, err := tx.txn.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, xerrors.Errorf("failed to create bucket: %v", err)
	}

	return boltBucket{bucket: bucket}, nil
}

// OnCommit implements kv.WritableTx.
func (tx boltTx) OnCommit(fn func()) {
	tx.txn.OnCommit(fn)
}

// boltBucket is the adapter of a bbolt bucket to the kv.Bucket interface.
//
// - implements kv.Bucket
type boltBucket struct {
	bucket *bbolt.Bucket
}

// Get implements kv.Bucket. It returns the value associated to the key.
func (b boltBucket) Get(key []byte) []byte {
	return b.bucket.Get(key)
}

// Set implements kv.Bucket. It sets the provided key to the value.
func (b boltBucket) Set(key, value []byte) error {
	return b.bucket.Put(key, value)
}

// Delete implements kv.Bucket. It deletes the key from the bucket.
func (b boltBucket) Delete(key []byte) error {
	return b.bucket.Delete(key)
}

// ForEach implements kv.Bucket. It iterates over the whole bucket in the order
// of the keys.
func (b boltBucket) ForEach(fn func(k, v []byte) error) error {
	return b.bucket.ForEach(fn)
}

// Scan implements kv.Bucket. It iterates over the keys matching the prefix in
// the order of the keys.
func (b boltBucket) Scan(prefix []byte, fn func(k, v []byte) error) error {
	cursor := b.bucket.Cursor()

	for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
		err := fn(k, v)
		if err != nil {
			return xerrors.Errorf("callback failed: %v", err)
		}
	}

	return nil
}
