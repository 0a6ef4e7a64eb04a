// Package bundletest builds well-formed bundle streams for tests.
package bundletest

import (
	"slices"
	"strconv"

	"github.com/andreyvit/bundle"
	"github.com/andreyvit/bundle/model"
)

// Builder accumulates bundle elements and renders the length-prefixed
// stream with the metadata's totals computed from what was added.
// TotalDocuments can be overridden before Build to declare a lying count.
type Builder struct {
	ID             string
	CreateTime     model.SnapshotVersion
	Version        uint32
	TotalDocuments int

	ser      *bundle.Serializer
	payloads [][]byte
}

func NewBuilder(ser *bundle.Serializer, id string, createTime model.SnapshotVersion) *Builder {
	return &Builder{ID: id, CreateTime: createTime, Version: 1, ser: ser}
}

// AddNamedQuery appends a named query element.
func (b *Builder) AddNamedQuery(q *bundle.NamedQuery) {
	b.add(must(b.ser.EncodeNamedQuery(q)))
}

// AddDocument appends a metadata + contents pair for a found document and
// counts it. The metadata's read time is the document's; queries lists
// the named queries the document matched.
func (b *Builder) AddDocument(doc *model.Document, queries ...string) {
	b.add(must(b.ser.EncodeDocumentMetadata(&bundle.DocumentMetadata{
		Key:      doc.Key,
		ReadTime: doc.ReadTime,
		Exists:   true,
		Queries:  queries,
	})))
	b.add(must(b.ser.EncodeDocument(&bundle.Document{Doc: doc})))
	b.TotalDocuments++
}

// AddDeletedDocument appends a deletion record and counts the document.
func (b *Builder) AddDeletedDocument(key model.DocumentKey, readTime model.SnapshotVersion, queries ...string) {
	b.add(must(b.ser.EncodeDocumentMetadata(&bundle.DocumentMetadata{
		Key:      key,
		ReadTime: readTime,
		Exists:   false,
		Queries:  queries,
	})))
	b.TotalDocuments++
}

// AddElement appends any element without adjusting the document count.
// Use it to build streams that break the pairing rules on purpose.
func (b *Builder) AddElement(el bundle.Element) {
	b.add(must(b.ser.EncodeElement(el)))
}

// AddRaw appends an arbitrary payload as one correctly framed element.
func (b *Builder) AddRaw(payload []byte) {
	b.add(slices.Clone(payload))
}

func (b *Builder) add(payload []byte) {
	b.payloads = append(b.payloads, payload)
}

// TotalBytes returns the encoded size of the elements added so far,
// length prefixes included.
func (b *Builder) TotalBytes() int64 {
	var total int64
	for _, p := range b.payloads {
		total += frameSize(p)
	}
	return total
}

// Metadata returns the bundle metadata the built stream will declare.
func (b *Builder) Metadata() *bundle.Metadata {
	return &bundle.Metadata{
		ID:             b.ID,
		CreateTime:     b.CreateTime,
		Version:        b.Version,
		TotalDocuments: b.TotalDocuments,
		TotalBytes:     b.TotalBytes(),
	}
}

// Build renders the stream: the metadata frame followed by every added
// element.
func (b *Builder) Build() []byte {
	var out []byte
	out = appendFrame(out, must(b.ser.EncodeMetadata(b.Metadata())))
	for _, p := range b.payloads {
		out = appendFrame(out, p)
	}
	return out
}

func appendFrame(out, payload []byte) []byte {
	out = strconv.AppendInt(out, int64(len(payload)), 10)
	return append(out, payload...)
}

func frameSize(payload []byte) int64 {
	return int64(len(strconv.Itoa(len(payload)))) + int64(len(payload))
}

// Key parses a document path, panicking on malformed input.
func Key(path string) model.DocumentKey {
	return must(model.DocumentKeyFromString(path))
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
