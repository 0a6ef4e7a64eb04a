package localstore

import "errors"

// ErrBucketNotFound is returned by storageTx.DeleteBucket when the bucket
// doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage represents a key-value storage backend (Bolt file or in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for
	// a nested bucket. Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist.
	// For sub != "", it must also ensure the root bucket exists.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket deletes a nested bucket (sub must be non-empty).
	DeleteBucket(name, sub string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Cursor returns a cursor for iteration.
	Cursor() storageCursor

	// KeyCount returns the number of keys in the bucket (best effort).
	KeyCount() int
}

// storageCursor iterates over a sorted bucket in key order.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)
}
