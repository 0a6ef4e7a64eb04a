package bundle

import (
	"github.com/andreyvit/bundle/model"
)

// Element is one decoded bundle element. The implementations are
// *Metadata, *NamedQuery, *DocumentMetadata and *Document; the set is
// closed.
type Element interface {
	isBundleElement()
}

// Metadata identifies a bundle and declares what it contains. TotalBytes
// counts every frame after the metadata frame, length prefixes included.
type Metadata struct {
	ID             string
	CreateTime     model.SnapshotVersion
	Version        uint32
	TotalDocuments int
	TotalBytes     int64
}

// NamedQuery is a query definition saved under a name, captured at a
// consistent read time.
type NamedQuery struct {
	Name     string
	Query    *BundledQuery
	ReadTime model.SnapshotVersion
}

// BundledQuery is the stored form of a named query. The target is always
// kept in limit-to-first form; LimitType records how to interpret it.
type BundledQuery struct {
	Target    *model.Target
	LimitType model.LimitType
}

// DocumentMetadata describes one document of the bundle: its read time,
// whether it existed at that time, and the named queries it matched.
// When Exists is true the contents follow as a separate Document element
// with the same key.
type DocumentMetadata struct {
	Key      model.DocumentKey
	ReadTime model.SnapshotVersion
	Exists   bool
	Queries  []string
}

// Document is a bundle element holding the contents of one found
// document.
type Document struct {
	Doc *model.Document
}

// Key returns the document's key.
func (d *Document) Key() model.DocumentKey { return d.Doc.Key }

func (*Metadata) isBundleElement()         {}
func (*NamedQuery) isBundleElement()       {}
func (*DocumentMetadata) isBundleElement() {}
func (*Document) isBundleElement()         {}
