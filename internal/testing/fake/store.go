package fake

import (
	"go.dedis.ch/keygen/core/store/kv"
)

// DB is a fake implementation of a key/value database that fails the
// transactions when configured to.
//
// - implements kv.DB
type DB struct {
	kv.DB

	errView   error
	errUpdate error
	errBucket error
	errSet    error
	errClose  error
}

// NewBadDB returns a database that fails every transaction.
func NewBadDB() DB {
	return DB{errView: fakeErr, errUpdate: fakeErr}
}

// NewBadCloseDB returns a database that fails to close.
func NewBadCloseDB() DB {
	return DB{errClose: fakeErr}
}

// NewBadBucketDB returns a database whose writable transaction fails to
// create a bucket.
func NewBadBucketDB() DB {
	return DB{errBucket: fakeErr}
}

// NewBadWriteDB returns a database whose buckets fail on writes.
func NewBadWriteDB() DB {
	return DB{errSet: fakeErr}
}

// View implements kv.DB.
func (db DB) View(fn func(kv.ReadableTx) error) error {
	if db.errView != nil {
		return db.errView
	}

	return fn(tx{db: db})
}

// Update implements kv.DB.
func (db DB) Update(fn func(kv.WritableTx) error) error {
	if db.errUpdate != nil {
		return db.errUpdate
	}

	return fn(tx{db: db})
}

// Close implements kv.DB.
func (db DB) Close() error {
	return db.errClose
}

type tx struct {
	db DB
}

func (t tx) GetBucket([]byte) kv.Bucket {
	return nil
}

func (t tx) GetBucketOrCreate([]byte) (kv.Bucket, error) {
	if t.db.errBucket != nil {
		return nil, t.db.errBucket
	}

	return bucket{err: t.db.errSet}, nil
}

func (t tx) OnCommit(func()) {}

type bucket struct {
	kv.Bucket
	err error
}

func (b bucket) Get([]byte) []byte {
	return nil
}

func (b bucket) Set(key, value []byte) error {
	return b.err
}

func (b bucket) Delete([]byte) error {
	return b.err
}

func (b bucket) ForEach(func(k, v []byte) error) error {
	return nil
}

func (b bucket) Scan([]byte, func(k, v []byte) error) error {
	return nil
}
