package bundle

import (
	"errors"
	"testing"

	"github.com/andreyvit/bundle/model"
)

// captureCallback records the commit calls in order and can be told to
// fail one of them.
type captureCallback struct {
	calls     []string
	docs      []*model.Document
	bundleID  string
	queryKeys map[string][]model.DocumentKey
	metadata  *Metadata

	failOn string
	err    error
}

func (c *captureCallback) ApplyBundledDocuments(docs []*model.Document, bundleID string) ([]model.DocumentKey, error) {
	c.calls = append(c.calls, "apply")
	if c.failOn == "apply" {
		return nil, c.err
	}
	c.docs = docs
	c.bundleID = bundleID
	keys := make([]model.DocumentKey, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	return keys, nil
}

func (c *captureCallback) SaveNamedQuery(q *NamedQuery, keys []model.DocumentKey) error {
	c.calls = append(c.calls, "query "+q.Name)
	if c.failOn == "query" {
		return c.err
	}
	if c.queryKeys == nil {
		c.queryKeys = make(map[string][]model.DocumentKey)
	}
	c.queryKeys[q.Name] = keys
	return nil
}

func (c *captureCallback) SaveBundleMetadata(m *Metadata) error {
	c.calls = append(c.calls, "metadata")
	if c.failOn == "metadata" {
		return c.err
	}
	c.metadata = m
	return nil
}

func TestLoader(t *testing.T) {
	md := &Metadata{ID: "test-bundle", CreateTime: version(1590011379000000), Version: 1, TotalDocuments: 3, TotalBytes: 400}
	cb := &captureCallback{}
	l := NewLoader(cb, md)

	doc2Meta := &DocumentMetadata{Key: mkey("coll/doc2"), ReadTime: version(5600000), Exists: true}
	doc2 := &Document{Doc: model.NewDocument(mkey("coll/doc2"), version(30004000), model.Fields{"baz": model.Boolean(true)})}
	nodocMeta := &DocumentMetadata{Key: mkey("coll/nodoc"), ReadTime: version(5600000), Queries: []string{"limitQuery"}}

	p, err := l.AddElement(limitQuery(), 40)
	ensure(err)
	isnil(t, p)
	p, err = l.AddElement(doc1Meta(), 60)
	ensure(err)
	isnil(t, p)
	p, err = l.AddElement(doc1(), 200)
	ensure(err)
	deepEqual(t, p, &Progress{DocumentsLoaded: 1, TotalDocuments: 3, BytesLoaded: 300, TotalBytes: 400, State: TaskRunning})
	p, err = l.AddElement(nodocMeta, 40)
	ensure(err)
	deepEqual(t, p, &Progress{DocumentsLoaded: 2, TotalDocuments: 3, BytesLoaded: 340, TotalBytes: 400, State: TaskRunning})
	p, err = l.AddElement(doc2Meta, 30)
	ensure(err)
	isnil(t, p)
	p, err = l.AddElement(doc2, 30)
	ensure(err)
	deepEqual(t, p, &Progress{DocumentsLoaded: 3, TotalDocuments: 3, BytesLoaded: 400, TotalBytes: 400, State: TaskRunning})

	committed := must(l.ApplyChanges())
	deepEqual(t, cb.calls, []string{"apply", "query limitQuery", "metadata"})
	deepEqual(t, cb.bundleID, "test-bundle")
	deepEqual(t, committed, []model.DocumentKey{mkey("coll/doc1"), mkey("coll/doc2"), mkey("coll/nodoc")})

	if len(cb.docs) != 3 {
		t.Fatalf("got %d documents, wanted 3", len(cb.docs))
	}
	deepEqual(t, cb.docs[0], doc1().Doc.WithReadTime(version(5600000)))
	nodoc := cb.docs[2]
	deepEqual(t, nodoc.Key, mkey("coll/nodoc"))
	deepEqual(t, nodoc.Found, false)
	deepEqual(t, nodoc.Version, version(5600000))
	deepEqual(t, nodoc.ReadTime, version(5600000))

	deepEqual(t, cb.queryKeys["limitQuery"], []model.DocumentKey{mkey("coll/doc1"), mkey("coll/nodoc")})
	deepEqual(t, cb.metadata, md)
}

func TestLoaderOrderErrors(t *testing.T) {
	md := &Metadata{ID: "x", CreateTime: version(1000000), Version: 1, TotalDocuments: 1, TotalBytes: 100}

	t.Run("metadata element mid-stream", func(t *testing.T) {
		l := NewLoader(&captureCallback{}, md)
		_, err := l.AddElement(md, 10)
		expectOrderError(t, err, "unexpected bundle metadata element")
	})
	t.Run("document without metadata", func(t *testing.T) {
		l := NewLoader(&captureCallback{}, md)
		_, err := l.AddElement(doc1(), 10)
		expectOrderError(t, err, "The document being added does not match the stored metadata.")
	})
	t.Run("document key mismatch", func(t *testing.T) {
		l := NewLoader(&captureCallback{}, md)
		_, err := l.AddElement(doc1Meta(), 10)
		ensure(err)
		_, err = l.AddElement(doc3(), 10)
		expectOrderError(t, err, "The document being added does not match the stored metadata.")
	})
	t.Run("metadata while a document is pending", func(t *testing.T) {
		l := NewLoader(&captureCallback{}, md)
		_, err := l.AddElement(doc1Meta(), 10)
		ensure(err)
		_, err = l.AddElement(doc3Meta(), 10)
		expectOrderError(t, err, "expected document contents for coll/doc1, got metadata for coll/doc3")
	})
}

func TestLoaderConsistencyErrors(t *testing.T) {
	t.Run("pending document at end", func(t *testing.T) {
		md := &Metadata{ID: "x", CreateTime: version(1000000), Version: 1, TotalDocuments: 1, TotalBytes: 100}
		l := NewLoader(&captureCallback{}, md)
		_, err := l.AddElement(doc1Meta(), 10)
		ensure(err)
		_, err = l.ApplyChanges()
		expectConsistencyError(t, err, "Bundle ended with a document metadata element instead of a document.")
	})
	t.Run("document count mismatch", func(t *testing.T) {
		md := &Metadata{ID: "x", CreateTime: version(1000000), Version: 1, TotalDocuments: 2, TotalBytes: 100}
		l := NewLoader(&captureCallback{}, md)
		_, err := l.AddElement(doc1Meta(), 10)
		ensure(err)
		_, err = l.AddElement(doc1(), 10)
		ensure(err)
		_, err = l.ApplyChanges()
		expectConsistencyError(t, err, "Expected 2 documents, but loaded 1.")
	})
	t.Run("empty bundle ID", func(t *testing.T) {
		md := &Metadata{CreateTime: version(1000000), Version: 1}
		l := NewLoader(&captureCallback{}, md)
		_, err := l.ApplyChanges()
		expectConsistencyError(t, err, "bundle ID must be set")
	})
}

func TestLoaderDuplicateKeyLastWins(t *testing.T) {
	md := &Metadata{ID: "dup", CreateTime: version(1000000), Version: 1, TotalDocuments: 1, TotalBytes: 60}
	cb := &captureCallback{}
	l := NewLoader(cb, md)

	qa := limitQuery()
	qa.Name = "a"
	qb := limitQuery()
	qb.Name = "bq"
	_, err := l.AddElement(qa, 10)
	ensure(err)
	_, err = l.AddElement(qb, 10)
	ensure(err)

	p, err := l.AddElement(&DocumentMetadata{Key: mkey("coll/doc1"), ReadTime: version(5000000), Queries: []string{"a"}}, 20)
	ensure(err)
	deepEqual(t, p.DocumentsLoaded, 1)
	p, err = l.AddElement(&DocumentMetadata{Key: mkey("coll/doc1"), ReadTime: version(6000000), Queries: []string{"bq"}}, 20)
	ensure(err)
	isnil(t, p)

	must(l.ApplyChanges())
	deepEqual(t, cb.calls, []string{"apply", "query a", "query bq", "metadata"})
	if len(cb.docs) != 1 {
		t.Fatalf("got %d documents, wanted 1", len(cb.docs))
	}
	deepEqual(t, cb.docs[0].Found, false)
	deepEqual(t, cb.docs[0].Version, version(6000000))
	isempty(t, cb.queryKeys["a"])
	deepEqual(t, cb.queryKeys["bq"], []model.DocumentKey{mkey("coll/doc1")})
}

func TestLoaderStoreFailure(t *testing.T) {
	for _, failOn := range []string{"apply", "query", "metadata"} {
		inner := errors.New("disk full")
		cb := &captureCallback{failOn: failOn, err: inner}
		md := &Metadata{ID: "x", CreateTime: version(1000000), Version: 1, TotalDocuments: 1, TotalBytes: 30}
		l := NewLoader(cb, md)
		_, err := l.AddElement(limitQuery(), 10)
		ensure(err)
		_, err = l.AddElement(&DocumentMetadata{Key: mkey("coll/doc1"), ReadTime: version(1000000)}, 20)
		ensure(err)

		_, err = l.ApplyChanges()
		var se *StoreError
		if !errors.As(err, &se) {
			t.Fatalf("%s: err = %T (%v), wanted *StoreError", failOn, err, err)
		}
		wantOp := map[string]string{
			"apply":    "apply bundled documents",
			"query":    "save named query limitQuery",
			"metadata": "save bundle metadata",
		}[failOn]
		deepEqual(t, se.Op, wantOp)
		if !errors.Is(err, inner) {
			t.Errorf("%s: error does not wrap the callback failure", failOn)
		}
	}
}

func TestLoaderSingleUse(t *testing.T) {
	t.Run("after commit", func(t *testing.T) {
		md := &Metadata{ID: "x", CreateTime: version(1000000), Version: 1}
		l := NewLoader(&captureCallback{}, md)
		must(l.ApplyChanges())
		defer func() {
			if recover() == nil {
				t.Fatal("AddElement did not panic")
			}
		}()
		l.AddElement(limitQuery(), 1)
	})
	t.Run("after failure", func(t *testing.T) {
		md := &Metadata{ID: "x", CreateTime: version(1000000), Version: 1}
		l := NewLoader(&captureCallback{}, md)
		_, err := l.AddElement(doc1(), 1)
		if err == nil {
			t.Fatal("AddElement did not fail")
		}
		defer func() {
			if recover() == nil {
				t.Fatal("ApplyChanges did not panic")
			}
		}()
		l.ApplyChanges()
	})
}

func TestTaskStateString(t *testing.T) {
	deepEqual(t, TaskRunning.String(), "running")
	deepEqual(t, TaskSuccess.String(), "success")
	deepEqual(t, TaskError.String(), "error")
	deepEqual(t, TaskState(99).String(), "invalid")
}

func expectOrderError(t testing.TB, err error, msg string) {
	t.Helper()
	var oe *OrderError
	if !errors.As(err, &oe) {
		t.Fatalf("err = %T (%v), wanted *OrderError", err, err)
	}
	if oe.Msg != msg {
		t.Fatalf("err = %q, wanted %q", oe.Msg, msg)
	}
}

func expectConsistencyError(t testing.TB, err error, msg string) {
	t.Helper()
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T (%v), wanted *ConsistencyError", err, err)
	}
	if ce.Msg != msg {
		t.Fatalf("err = %q, wanted %q", ce.Msg, msg)
	}
}
