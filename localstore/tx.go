package localstore

// writeTx wraps a writable storage transaction and keeps every encoded
// value buffer alive until the transaction is done: Bolt references the
// value bytes until commit.
type writeTx struct {
	tx   storageTx
	bufs [][]byte
}

func (w *writeTx) putRecord(buck storageBucket, key string, rec any) error {
	buf := valueBytesPool.Get().([]byte)
	w.bufs = append(w.bufs, buf)
	raw := encodeRecord(buf, rec)
	return buck.Put([]byte(key), raw)
}

func (w *writeTx) release() {
	for _, buf := range w.bufs {
		valueBytesPool.Put(buf[:0])
	}
	w.bufs = nil
}

func (s *Store) writeTx(fn func(w *writeTx) error) error {
	stx, err := s.stg.BeginTx(true)
	if err != nil {
		return err
	}
	w := &writeTx{tx: stx}
	defer w.release()
	defer stx.Rollback()
	if err := fn(w); err != nil {
		return err
	}
	return stx.Commit()
}

func (s *Store) readTx(fn func(tx storageTx) error) error {
	stx, err := s.stg.BeginTx(false)
	if err != nil {
		return err
	}
	defer stx.Rollback()
	return fn(stx)
}

func getRecord(buck storageBucket, bucket, key string, rec any) (bool, error) {
	raw := buck.Get(unsafeBytesFromString(key))
	if raw == nil {
		return false, nil
	}
	if err := decodeRecord(bucket, key, raw, rec); err != nil {
		return false, err
	}
	return true, nil
}

func nonNilBucket(b storageBucket) storageBucket {
	if b == nil {
		panic("nil bucket")
	}
	return b
}
