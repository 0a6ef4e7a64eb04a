package bundle

import (
	"fmt"

	"github.com/andreyvit/bundle/model"
)

// Callback is the persistence side of bundle loading. ApplyChanges
// invokes the three methods in a fixed order: documents, then each named
// query, then the bundle metadata. The implementation owns transaction
// boundaries; the loader never rolls back.
type Callback interface {
	// ApplyBundledDocuments upserts the batch (sorted by key, tombstones
	// included) and returns the keys it actually wrote. bundleID names
	// the bundle for its membership record.
	ApplyBundledDocuments(docs []*model.Document, bundleID string) ([]model.DocumentKey, error)

	// SaveNamedQuery stores the query definition together with the keys
	// of the bundle's documents that matched it (sorted, possibly empty).
	SaveNamedQuery(q *NamedQuery, keys []model.DocumentKey) error

	// SaveBundleMetadata records the bundle as loaded; it runs last so an
	// interrupted load is never mistaken for a completed one.
	SaveBundleMetadata(m *Metadata) error
}

type loaderState int

const (
	loaderAccumulating loaderState = iota
	loaderCommitted
	loaderFailed
)

// Loader accumulates bundle elements and commits them once the stream is
// exhausted. Elements stream in via AddElement; ApplyChanges verifies the
// declared totals and persists through the callback. A loader is single
// use: after ApplyChanges or any returned error it must be discarded.
type Loader struct {
	cb       Callback
	metadata *Metadata

	queries   []*NamedQuery
	documents map[model.DocumentKey]*model.Document
	docMeta   map[model.DocumentKey]*DocumentMetadata

	// pending is the single slot for metadata awaiting its document:
	// nil, or the metadata the next Document element must match.
	pending *DocumentMetadata

	bytesLoaded int64
	state       loaderState
}

func NewLoader(cb Callback, metadata *Metadata) *Loader {
	return &Loader{
		cb:        cb,
		metadata:  metadata,
		documents: make(map[model.DocumentKey]*model.Document),
		docMeta:   make(map[model.DocumentKey]*DocumentMetadata),
	}
}

// AddElement folds one element into the load, with byteSize the
// element's encoded frame size. It returns a progress snapshot when the
// element completed a document (a paired document or a deletion record),
// nil otherwise.
func (l *Loader) AddElement(el Element, byteSize int64) (*Progress, error) {
	l.ensureAccumulating()
	before := len(l.documents)

	switch el := el.(type) {
	case *Metadata:
		return nil, l.fail(&OrderError{Msg: "unexpected bundle metadata element"})

	case *NamedQuery:
		l.queries = append(l.queries, el)

	case *DocumentMetadata:
		if l.pending != nil {
			return nil, l.fail(&OrderError{Msg: fmt.Sprintf(
				"expected document contents for %s, got metadata for %s", l.pending.Key, el.Key)})
		}
		l.docMeta[el.Key] = el
		if el.Exists {
			l.pending = el
		} else {
			l.documents[el.Key] = model.NewMissingDocument(el.Key, el.ReadTime)
		}

	case *Document:
		if l.pending == nil || l.pending.Key != el.Key() {
			return nil, l.fail(&OrderError{Msg: "The document being added does not match the stored metadata."})
		}
		l.documents[el.Key()] = el.Doc.WithReadTime(l.pending.ReadTime)
		l.pending = nil
	}

	l.bytesLoaded += byteSize
	if len(l.documents) == before {
		return nil, nil
	}
	return &Progress{
		DocumentsLoaded: len(l.documents),
		TotalDocuments:  l.metadata.TotalDocuments,
		BytesLoaded:     l.bytesLoaded,
		TotalBytes:      l.metadata.TotalBytes,
		State:           TaskRunning,
	}, nil
}

// ApplyChanges verifies the accumulated elements against the metadata
// and commits them through the callback. It returns the keys the
// callback reported as written.
func (l *Loader) ApplyChanges() ([]model.DocumentKey, error) {
	l.ensureAccumulating()
	if l.pending != nil {
		return nil, l.fail(&ConsistencyError{Msg: "Bundle ended with a document metadata element instead of a document."})
	}
	if l.metadata.ID == "" {
		return nil, l.fail(&ConsistencyError{Msg: "bundle ID must be set"})
	}
	if len(l.documents) != l.metadata.TotalDocuments {
		return nil, l.fail(&ConsistencyError{Msg: fmt.Sprintf(
			"Expected %d documents, but loaded %d.", l.metadata.TotalDocuments, len(l.documents))})
	}

	docs := make([]*model.Document, 0, len(l.documents))
	for _, d := range l.documents {
		docs = append(docs, d)
	}
	model.SortDocuments(docs)

	committed, err := l.cb.ApplyBundledDocuments(docs, l.metadata.ID)
	if err != nil {
		return nil, l.fail(&StoreError{Op: "apply bundled documents", Err: err})
	}

	queryKeys := l.queryDocumentMapping()
	for _, q := range l.queries {
		if err := l.cb.SaveNamedQuery(q, queryKeys[q.Name]); err != nil {
			return nil, l.fail(&StoreError{Op: "save named query " + q.Name, Err: err})
		}
	}
	if err := l.cb.SaveBundleMetadata(l.metadata); err != nil {
		return nil, l.fail(&StoreError{Op: "save bundle metadata", Err: err})
	}
	l.state = loaderCommitted
	return committed, nil
}

// queryDocumentMapping collects, per named query, the keys whose
// metadata listed that query. Deleted documents contribute too; for a
// key delivered twice, the last metadata wins.
func (l *Loader) queryDocumentMapping() map[string][]model.DocumentKey {
	m := make(map[string][]model.DocumentKey)
	for key, meta := range l.docMeta {
		for _, q := range meta.Queries {
			m[q] = append(m[q], key)
		}
	}
	for _, keys := range m {
		model.SortDocumentKeys(keys)
	}
	return m
}

func (l *Loader) ensureAccumulating() {
	switch l.state {
	case loaderCommitted:
		panic("bundle: loader already committed")
	case loaderFailed:
		panic("bundle: loader already failed")
	}
}

func (l *Loader) fail(err error) error {
	l.state = loaderFailed
	return err
}
