package model

import "slices"

// Document is the client-side view of one document: either a found
// document with its fields, or a missing-document tombstone recording
// that the server confirmed the document's absence at some version.
type Document struct {
	Key      DocumentKey
	Version  SnapshotVersion
	ReadTime SnapshotVersion
	Fields   Fields
	Found    bool
}

// NewDocument returns a found document at the given version.
func NewDocument(key DocumentKey, version SnapshotVersion, fields Fields) *Document {
	if fields == nil {
		fields = Fields{}
	}
	return &Document{Key: key, Version: version, Fields: fields, Found: true}
}

// NewMissingDocument returns a tombstone for a document confirmed absent
// at the given version.
func NewMissingDocument(key DocumentKey, version SnapshotVersion) *Document {
	return &Document{Key: key, Version: version, ReadTime: version}
}

// WithReadTime returns a copy of the document carrying the given read time.
func (d *Document) WithReadTime(rt SnapshotVersion) *Document {
	dd := *d
	dd.ReadTime = rt
	return &dd
}

// SortDocuments orders documents by key, in place.
func SortDocuments(docs []*Document) {
	slices.SortFunc(docs, func(a, b *Document) int {
		return a.Key.Compare(b.Key)
	})
}
