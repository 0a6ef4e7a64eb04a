package localstore

import (
	"github.com/andreyvit/bundle"
	"github.com/andreyvit/bundle/model"
)

// ApplyBundledDocuments upserts the batch of bundled documents and
// rewrites the bundle's membership bucket with every key in the batch.
// A document is written only when there is no cached record or the
// bundled version is newer; equal and older versions are skipped.
// Returns the keys actually written.
func (s *Store) ApplyBundledDocuments(docs []*model.Document, bundleID string) ([]model.DocumentKey, error) {
	written := make([]model.DocumentKey, 0, len(docs))
	var changes []Change
	var skipped int64

	err := s.writeTx(func(w *writeTx) error {
		docsBuck := nonNilBucket(w.tx.Bucket(docsBucket, ""))
		for _, doc := range docs {
			key := doc.Key.String()

			var old documentRecord
			cached, err := getRecord(docsBuck, docsBucket, key, &old)
			if err != nil {
				return err
			}
			if cached && old.Version.Compare(doc.Version) >= 0 {
				skipped++
				if s.verbose {
					s.logf("store: SKIP %s/%s v=%v (cached v=%v)", docsBucket, key, doc.Version, old.Version)
				}
				continue
			}

			rec, err := docRecordFrom(doc)
			if err != nil {
				return err
			}
			if err := w.putRecord(docsBuck, key, rec); err != nil {
				return err
			}
			written = append(written, doc.Key)
			if doc.Found {
				changes = append(changes, Change{Op: OpPut, Key: doc.Key, BundleID: bundleID})
				if s.verbose {
					s.logf("store: PUT %s/%s v=%v", docsBucket, key, doc.Version)
				}
			} else {
				changes = append(changes, Change{Op: OpDelete, Key: doc.Key, BundleID: bundleID})
				if s.verbose {
					s.logf("store: PUT %s/%s v=%v (missing)", docsBucket, key, doc.Version)
				}
			}
		}

		if err := w.tx.DeleteBucket(bundledocsBucket, bundleID); err != nil && err != ErrBucketNotFound {
			return err
		}
		memberBuck, err := w.tx.CreateBucket(bundledocsBucket, bundleID)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := memberBuck.Put([]byte(doc.Key.String()), emptyValue); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.docsWritten.Add(int64(len(written)))
	s.docsSkipped.Add(skipped)
	if s.onChange != nil {
		for _, chg := range changes {
			s.onChange(chg)
		}
	}
	return written, nil
}

// SaveNamedQuery stores the query definition and, when its read time is
// newer than the cached record's, replaces the query's membership bucket
// with the given keys.
func (s *Store) SaveNamedQuery(q *bundle.NamedQuery, keys []model.DocumentKey) error {
	err := s.writeTx(func(w *writeTx) error {
		queriesBuck := nonNilBucket(w.tx.Bucket(queriesBucket, ""))

		var old queryRecord
		cached, err := getRecord(queriesBuck, queriesBucket, q.Name, &old)
		if err != nil {
			return err
		}

		rec, err := queryRecordFrom(q)
		if err != nil {
			return err
		}
		if err := w.putRecord(queriesBuck, q.Name, rec); err != nil {
			return err
		}

		if cached && old.ReadTime.Compare(q.ReadTime) >= 0 {
			if s.verbose {
				s.logf("store: PUT %s/%s readTime=%v (keeping members)", queriesBucket, q.Name, q.ReadTime)
			}
			return nil
		}

		if err := w.tx.DeleteBucket(querydocsBucket, q.Name); err != nil && err != ErrBucketNotFound {
			return err
		}
		memberBuck, err := w.tx.CreateBucket(querydocsBucket, q.Name)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := memberBuck.Put([]byte(key.String()), emptyValue); err != nil {
				return err
			}
		}
		if s.verbose {
			s.logf("store: PUT %s/%s readTime=%v (%d members)", queriesBucket, q.Name, q.ReadTime, len(keys))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.queriesSaved.Add(1)
	return nil
}

// SaveBundleMetadata records the bundle as loaded.
func (s *Store) SaveBundleMetadata(m *bundle.Metadata) error {
	err := s.writeTx(func(w *writeTx) error {
		bundlesBuck := nonNilBucket(w.tx.Bucket(bundlesBucket, ""))
		if err := w.putRecord(bundlesBuck, m.ID, bundleRecordFrom(m)); err != nil {
			return err
		}
		if s.verbose {
			s.logf("store: PUT %s/%s createTime=%v docs=%d bytes=%d", bundlesBucket, m.ID, m.CreateTime, m.TotalDocuments, m.TotalBytes)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.bundlesSaved.Add(1)
	return nil
}

// HasNewerBundle reports whether a bundle with this ID and the same or a
// newer create time has already been loaded.
func (s *Store) HasNewerBundle(m *bundle.Metadata) (bool, error) {
	var newer bool
	err := s.readTx(func(tx storageTx) error {
		bundlesBuck := nonNilBucket(tx.Bucket(bundlesBucket, ""))
		var rec bundleRecord
		cached, err := getRecord(bundlesBuck, bundlesBucket, m.ID, &rec)
		if err != nil {
			return err
		}
		newer = cached && rec.CreateTime.Compare(m.CreateTime) >= 0
		return nil
	})
	return newer, err
}

// GetBundleMetadata returns the metadata of a previously loaded bundle,
// or ErrBundleNotFound.
func (s *Store) GetBundleMetadata(id string) (*bundle.Metadata, error) {
	var m *bundle.Metadata
	err := s.readTx(func(tx storageTx) error {
		bundlesBuck := nonNilBucket(tx.Bucket(bundlesBucket, ""))
		var rec bundleRecord
		cached, err := getRecord(bundlesBuck, bundlesBucket, id, &rec)
		if err != nil {
			return err
		}
		if !cached {
			return ErrBundleNotFound
		}
		m = rec.metadata(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetNamedQuery returns a saved named query, or ErrQueryNotFound.
func (s *Store) GetNamedQuery(name string) (*bundle.NamedQuery, error) {
	var q *bundle.NamedQuery
	err := s.readTx(func(tx storageTx) error {
		queriesBuck := nonNilBucket(tx.Bucket(queriesBucket, ""))
		var rec queryRecord
		cached, err := getRecord(queriesBuck, queriesBucket, name, &rec)
		if err != nil {
			return err
		}
		if !cached {
			return ErrQueryNotFound
		}
		q, err = rec.namedQuery(name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// GetNamedQueryKeys returns the keys of the documents the named query
// matched when its bundle was loaded, sorted, or ErrQueryNotFound.
func (s *Store) GetNamedQueryKeys(name string) ([]model.DocumentKey, error) {
	var keys []model.DocumentKey
	err := s.readTx(func(tx storageTx) error {
		queriesBuck := nonNilBucket(tx.Bucket(queriesBucket, ""))
		if queriesBuck.Get(unsafeBytesFromString(name)) == nil {
			return ErrQueryNotFound
		}
		var err error
		keys, err = memberKeys(tx, querydocsBucket, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// GetDocument returns the cached record for a key, possibly a
// missing-document record (Found == false), or ErrDocumentNotFound when
// nothing is cached.
func (s *Store) GetDocument(key model.DocumentKey) (*model.Document, error) {
	var doc *model.Document
	err := s.readTx(func(tx storageTx) error {
		docsBuck := nonNilBucket(tx.Bucket(docsBucket, ""))
		var rec documentRecord
		cached, err := getRecord(docsBuck, docsBucket, key.String(), &rec)
		if err != nil {
			return err
		}
		if !cached {
			return ErrDocumentNotFound
		}
		doc, err = rec.document(key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// BundleDocumentKeys returns the keys of every document a loaded bundle
// delivered, sorted, or ErrBundleNotFound.
func (s *Store) BundleDocumentKeys(id string) ([]model.DocumentKey, error) {
	var keys []model.DocumentKey
	err := s.readTx(func(tx storageTx) error {
		bundlesBuck := nonNilBucket(tx.Bucket(bundlesBucket, ""))
		if bundlesBuck.Get(unsafeBytesFromString(id)) == nil {
			return ErrBundleNotFound
		}
		var err error
		keys, err = memberKeys(tx, bundledocsBucket, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func memberKeys(tx storageTx, bucket, sub string) ([]model.DocumentKey, error) {
	buck := tx.Bucket(bucket, sub)
	if buck == nil {
		return nil, nil
	}
	keys := make([]model.DocumentKey, 0, buck.KeyCount())
	c := buck.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		key, err := model.DocumentKeyFromString(string(k))
		if err != nil {
			return nil, dataErrf(bucket+"/"+sub, string(k), k, err, "invalid member key")
		}
		keys = append(keys, key)
	}
	model.SortDocumentKeys(keys)
	return keys, nil
}
