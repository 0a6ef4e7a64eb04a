// Package localstore persists loaded bundle data in a local key-value
// store, either a Bolt file or a transient in-memory backend.
//
// The store keeps five buckets: document records, named query records and
// bundle metadata records under their natural keys, plus two families of
// nested membership buckets listing the document paths each named query
// matched and each bundle delivered. Document writes are version-gated, so
// re-applying a bundle, or applying an older one, never clobbers newer
// cached data.
//
// A *Store satisfies the loading side's persistence interface and can be
// passed directly to bundle.Load.
package localstore

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/bundle"
)

const (
	docsBucket       = "docs"
	queriesBucket    = "queries"
	bundlesBucket    = "bundles"
	querydocsBucket  = "querydocs"
	bundledocsBucket = "bundledocs"
)

var rootBuckets = []string{docsBucket, queriesBucket, bundlesBucket, querydocsBucket, bundledocsBucket}

type Store struct {
	stg      storage
	bolt     *bbolt.DB
	logf     func(format string, args ...any)
	verbose  bool
	onChange func(Change)

	docsWritten  atomic.Int64
	docsSkipped  atomic.Int64
	queriesSaved atomic.Int64
	bundlesSaved atomic.Int64
}

var _ bundle.Store = (*Store)(nil)

type Options struct {
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool
	OnChange  func(Change)
}

// Open opens or creates a Bolt-backed store at the given path.
func Open(path string, opt Options) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("localstore: %w", err)
	}

	s := newStore(newBoltStorage(bdb), opt)
	s.bolt = bdb
	if err := s.prepare(); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("localstore: %w", err)
	}
	return s, nil
}

// OpenMemory returns a store over a transient in-memory backend.
func OpenMemory(opt Options) (*Store, error) {
	s := newStore(newMemStorage(), opt)
	if err := s.prepare(); err != nil {
		return nil, fmt.Errorf("localstore: %w", err)
	}
	return s, nil
}

func newStore(stg storage, opt Options) *Store {
	logf := opt.Logf
	if logf == nil {
		logf = func(format string, args ...any) {}
	}
	return &Store{
		stg:      stg,
		logf:     logf,
		verbose:  opt.Verbose,
		onChange: opt.OnChange,
	}
}

func (s *Store) prepare() error {
	return s.writeTx(func(w *writeTx) error {
		for _, name := range rootBuckets {
			if _, err := w.tx.CreateBucket(name, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() {
	err := s.stg.Close()
	if err != nil {
		panic(fmt.Errorf("localstore: closing: %w", err))
	}
}

// Bolt returns the underlying Bolt database, or nil for a memory-backed
// store.
func (s *Store) Bolt() *bbolt.DB {
	return s.bolt
}

// Stats is a point-in-time snapshot of the store's counters and sizes.
type Stats struct {
	DocumentsWritten int64
	DocumentsSkipped int64
	QueriesSaved     int64
	BundlesSaved     int64

	DocumentCount int
	QueryCount    int
	BundleCount   int
	FileSize      int64
}

func (s *Store) Stats() (Stats, error) {
	st := Stats{
		DocumentsWritten: s.docsWritten.Load(),
		DocumentsSkipped: s.docsSkipped.Load(),
		QueriesSaved:     s.queriesSaved.Load(),
		BundlesSaved:     s.bundlesSaved.Load(),
	}
	err := s.readTx(func(tx storageTx) error {
		st.DocumentCount = nonNilBucket(tx.Bucket(docsBucket, "")).KeyCount()
		st.QueryCount = nonNilBucket(tx.Bucket(queriesBucket, "")).KeyCount()
		st.BundleCount = nonNilBucket(tx.Bucket(bundlesBucket, "")).KeyCount()
		st.FileSize = tx.Size()
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}
