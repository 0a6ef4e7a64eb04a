package bundle_test

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/andreyvit/bundle"
	"github.com/andreyvit/bundle/bundletest"
	"github.com/andreyvit/bundle/localstore"
	"github.com/andreyvit/bundle/model"
)

var testSer = bundle.NewSerializer(model.NewDatabaseID("test-project", "(default)"))

func setup(t testing.TB) *localstore.Store {
	store := must(localstore.OpenMemory(localstore.Options{
		Logf:    t.Logf,
		Verbose: testing.Verbose(),
	}))
	t.Cleanup(store.Close)
	return store
}

func version(micros int64) model.SnapshotVersion {
	return model.VersionFromMicros(micros)
}

func namedQuery(name string) *bundle.NamedQuery {
	return &bundle.NamedQuery{
		Name: name,
		Query: &bundle.BundledQuery{
			Target: &model.Target{
				Path:     model.ResourcePath{"coll"},
				OrderBys: []model.OrderBy{{Field: model.FieldPath{"sort"}, Direction: model.Ascending}},
				Limit:    10,
			},
			LimitType: model.LimitToFirst,
		},
		ReadTime: version(1590011379000001),
	}
}

func TestLoad(t *testing.T) {
	store := setup(t)

	readTime := version(1590011379000000)
	doc1 := model.NewDocument(bundletest.Key("coll/doc1"), version(30004000), model.Fields{
		"foo": model.String("value1"),
		"bar": model.Integer(-42),
	}).WithReadTime(readTime)

	b := bundletest.NewBuilder(testSer, "test-bundle", readTime)
	b.AddNamedQuery(namedQuery("limitQuery"))
	b.AddDocument(doc1, "limitQuery")
	afterDoc1 := b.TotalBytes()
	b.AddDeletedDocument(bundletest.Key("coll/nodoc"), readTime, "limitQuery")
	total := b.TotalBytes()

	var snapshots []bundle.Progress
	p, err := bundle.Load(store, testSer, bytes.NewReader(b.Build()), bundle.LoadOptions{
		OnProgress: func(p bundle.Progress) { snapshots = append(snapshots, p) },
	})
	ensure(err)
	want := []bundle.Progress{
		{DocumentsLoaded: 0, TotalDocuments: 2, BytesLoaded: 0, TotalBytes: total, State: bundle.TaskRunning},
		{DocumentsLoaded: 1, TotalDocuments: 2, BytesLoaded: afterDoc1, TotalBytes: total, State: bundle.TaskRunning},
		{DocumentsLoaded: 2, TotalDocuments: 2, BytesLoaded: total, TotalBytes: total, State: bundle.TaskRunning},
		{DocumentsLoaded: 2, TotalDocuments: 2, BytesLoaded: total, TotalBytes: total, State: bundle.TaskSuccess},
	}
	deepEqual(t, snapshots, want)
	deepEqual(t, p, want[3])

	got := must(store.GetDocument(bundletest.Key("coll/doc1")))
	deepEqual(t, got, doc1)
	nodoc := must(store.GetDocument(bundletest.Key("coll/nodoc")))
	deepEqual(t, nodoc.Found, false)
	deepEqual(t, nodoc.Version, readTime)

	q := must(store.GetNamedQuery("limitQuery"))
	deepEqual(t, q, namedQuery("limitQuery"))
	keys := must(store.GetNamedQueryKeys("limitQuery"))
	deepEqual(t, keys, []model.DocumentKey{bundletest.Key("coll/doc1"), bundletest.Key("coll/nodoc")})

	md := must(store.GetBundleMetadata("test-bundle"))
	deepEqual(t, md, b.Metadata())
	bkeys := must(store.BundleDocumentKeys("test-bundle"))
	deepEqual(t, bkeys, []model.DocumentKey{bundletest.Key("coll/doc1"), bundletest.Key("coll/nodoc")})

	st := must(store.Stats())
	deepEqual(t, st.DocumentsWritten, int64(2))
	deepEqual(t, st.DocumentsSkipped, int64(0))
	deepEqual(t, st.QueriesSaved, int64(1))
	deepEqual(t, st.BundlesSaved, int64(1))
	deepEqual(t, st.DocumentCount, 2)
	deepEqual(t, st.QueryCount, 1)
	deepEqual(t, st.BundleCount, 1)
}

func TestLoadSkipsAlreadyLoadedBundle(t *testing.T) {
	store := setup(t)

	doc := model.NewDocument(bundletest.Key("coll/doc1"), version(2000000), model.Fields{
		"v": model.Integer(1),
	}).WithReadTime(version(10000000))
	b := bundletest.NewBuilder(testSer, "b", version(10000000))
	b.AddDocument(doc)
	data := b.Build()

	_, err := bundle.Load(store, testSer, bytes.NewReader(data), bundle.LoadOptions{})
	ensure(err)
	before := must(store.Stats())

	var snapshots []bundle.Progress
	p, err := bundle.Load(store, testSer, bytes.NewReader(data), bundle.LoadOptions{
		OnProgress: func(p bundle.Progress) { snapshots = append(snapshots, p) },
	})
	ensure(err)
	deepEqual(t, p.State, bundle.TaskSuccess)
	deepEqual(t, p.DocumentsLoaded, 1)
	deepEqual(t, snapshots, []bundle.Progress{p})
	deepEqual(t, must(store.Stats()), before)
}

func TestLoadSkipsOlderBundle(t *testing.T) {
	store := setup(t)

	doc := model.NewDocument(bundletest.Key("coll/doc1"), version(2000000), model.Fields{
		"v": model.Integer(2),
	}).WithReadTime(version(10000000))
	b1 := bundletest.NewBuilder(testSer, "b", version(10000000))
	b1.AddDocument(doc)
	_, err := bundle.Load(store, testSer, bytes.NewReader(b1.Build()), bundle.LoadOptions{})
	ensure(err)

	older := model.NewDocument(bundletest.Key("coll/doc1"), version(1000000), model.Fields{
		"v": model.Integer(1),
	}).WithReadTime(version(5000000))
	b2 := bundletest.NewBuilder(testSer, "b", version(5000000))
	b2.AddDocument(older)
	p, err := bundle.Load(store, testSer, bytes.NewReader(b2.Build()), bundle.LoadOptions{})
	ensure(err)
	deepEqual(t, p.State, bundle.TaskSuccess)
	deepEqual(t, must(store.GetBundleMetadata("b")).CreateTime, version(10000000))
	deepEqual(t, must(store.GetDocument(bundletest.Key("coll/doc1"))), doc)

	newer := model.NewDocument(bundletest.Key("coll/doc1"), version(3000000), model.Fields{
		"v": model.Integer(3),
	}).WithReadTime(version(20000000))
	b3 := bundletest.NewBuilder(testSer, "b", version(20000000))
	b3.AddDocument(newer)
	_, err = bundle.Load(store, testSer, bytes.NewReader(b3.Build()), bundle.LoadOptions{})
	ensure(err)
	deepEqual(t, must(store.GetBundleMetadata("b")).CreateTime, version(20000000))
	deepEqual(t, must(store.GetDocument(bundletest.Key("coll/doc1"))), newer)
}

func TestLoadFailure(t *testing.T) {
	store := setup(t)

	doc := model.NewDocument(bundletest.Key("coll/doc1"), version(2000000), model.Fields{
		"v": model.Integer(1),
	}).WithReadTime(version(10000000))
	b := bundletest.NewBuilder(testSer, "bad", version(10000000))
	b.AddDocument(doc)
	b.TotalDocuments = 2

	var snapshots []bundle.Progress
	_, err := bundle.Load(store, testSer, bytes.NewReader(b.Build()), bundle.LoadOptions{
		OnProgress: func(p bundle.Progress) { snapshots = append(snapshots, p) },
	})
	var ce *bundle.ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T (%v), wanted *ConsistencyError", err, err)
	}
	deepEqual(t, ce.Msg, "Expected 2 documents, but loaded 1.")
	deepEqual(t, snapshots[len(snapshots)-1], bundle.Progress{State: bundle.TaskError})

	if _, err := store.GetBundleMetadata("bad"); !errors.Is(err, localstore.ErrBundleNotFound) {
		t.Errorf("** err = %v, wanted ErrBundleNotFound", err)
	}
	if _, err := store.GetDocument(bundletest.Key("coll/doc1")); !errors.Is(err, localstore.ErrDocumentNotFound) {
		t.Errorf("** err = %v, wanted ErrDocumentNotFound", err)
	}
}

func TestLoadMalformedStream(t *testing.T) {
	store := setup(t)

	b := bundletest.NewBuilder(testSer, "m", version(1000000))
	data := append(b.Build(), "3abc"...)

	var snapshots []bundle.Progress
	_, err := bundle.Load(store, testSer, bytes.NewReader(data), bundle.LoadOptions{
		OnProgress: func(p bundle.Progress) { snapshots = append(snapshots, p) },
	})
	var de *bundle.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T (%v), wanted *DecodeError", err, err)
	}
	deepEqual(t, snapshots, []bundle.Progress{
		{State: bundle.TaskRunning},
		{State: bundle.TaskError},
	})
	if _, err := store.GetBundleMetadata("m"); !errors.Is(err, localstore.ErrBundleNotFound) {
		t.Errorf("** err = %v, wanted ErrBundleNotFound", err)
	}
}

func TestBuilderReaderRoundTrip(t *testing.T) {
	q := namedQuery("q1")
	doc := model.NewDocument(bundletest.Key("rooms/eros"), version(30004000), model.Fields{
		"x": model.Integer(1),
	}).WithReadTime(version(5600000))

	b := bundletest.NewBuilder(testSer, "rt", version(123456789000000))
	b.AddNamedQuery(q)
	b.AddDocument(doc, "q1")
	b.AddDeletedDocument(bundletest.Key("rooms/gone"), version(5600000))

	r := bundle.NewReader(testSer, bytes.NewReader(b.Build()))
	md := must(r.ReadMetadata())
	deepEqual(t, md, b.Metadata())

	var els []bundle.Element
	for {
		el, err := r.Next()
		if err == io.EOF {
			break
		}
		ensure(err)
		els = append(els, el)
	}
	wantDoc := *doc
	wantDoc.ReadTime = model.SnapshotVersion{}
	deepEqual(t, els, []bundle.Element{
		q,
		&bundle.DocumentMetadata{Key: doc.Key, ReadTime: doc.ReadTime, Exists: true, Queries: []string{"q1"}},
		&bundle.Document{Doc: &wantDoc},
		&bundle.DocumentMetadata{Key: bundletest.Key("rooms/gone"), ReadTime: version(5600000)},
	})
	deepEqual(t, r.BytesRead(), md.TotalBytes)
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
