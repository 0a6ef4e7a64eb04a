package localstore

import (
	"errors"
	"fmt"
)

// ErrBundleNotFound is returned by GetBundleMetadata for an unknown bundle ID.
var ErrBundleNotFound = errors.New("bundle not found")

// ErrQueryNotFound is returned by GetNamedQuery and GetNamedQueryKeys for an
// unknown query name.
var ErrQueryNotFound = errors.New("named query not found")

// ErrDocumentNotFound is returned by GetDocument for a key with no cached
// record.
var ErrDocumentNotFound = errors.New("document not found")

// DataError means a stored record is corrupted: too short, failing its
// checksum, or not decoding into the expected record shape.
type DataError struct {
	Bucket string
	Key    string
	Data   []byte
	Err    error
	Msg    string
}

func dataErrf(bucket, key string, data []byte, err error, format string, args ...any) error {
	return &DataError{bucket, key, data, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s/%s: %s: %v: (%d) %x", e.Bucket, e.Key, e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s/%s: %s: (%d) %x", e.Bucket, e.Key, e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s/%s: %s: %v: (%d) %x...%x", e.Bucket, e.Key, e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s/%s: %s: (%d) %x...%x", e.Bucket, e.Key, e.Msg, n, p, s)
		}
	}
}
