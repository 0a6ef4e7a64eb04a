package bundle

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/andreyvit/bundle/model"
)

// Serializer decodes and encodes bundle elements for one database
// instance. Resource names inside elements must belong to that instance.
type Serializer struct {
	dbID model.DatabaseID
}

func NewSerializer(dbID model.DatabaseID) *Serializer {
	return &Serializer{dbID: dbID}
}

func (s *Serializer) DatabaseID() model.DatabaseID { return s.dbID }

type elementWire struct {
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	NamedQuery       json.RawMessage `json:"namedQuery,omitempty"`
	DocumentMetadata json.RawMessage `json:"documentMetadata,omitempty"`
	Document         json.RawMessage `json:"document,omitempty"`
}

// DecodeElement decodes one frame payload. The payload must be a JSON
// object with exactly one of the four element keys.
func (s *Serializer) DecodeElement(payload []byte) (Element, error) {
	var w elementWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, decodeErrf(payload, err, "malformed JSON")
	}
	var count int
	for _, raw := range [...]json.RawMessage{w.Metadata, w.NamedQuery, w.DocumentMetadata, w.Document} {
		if raw != nil {
			count++
		}
	}
	if count > 1 {
		return nil, decodeErrf(payload, nil, "element has more than one payload key")
	}

	switch {
	case w.Metadata != nil:
		el, err := s.DecodeMetadata(w.Metadata)
		if err != nil {
			return nil, decodeErrf(payload, err, "metadata")
		}
		return el, nil
	case w.NamedQuery != nil:
		el, err := s.DecodeNamedQuery(w.NamedQuery)
		if err != nil {
			return nil, decodeErrf(payload, err, "namedQuery")
		}
		return el, nil
	case w.DocumentMetadata != nil:
		el, err := s.DecodeDocumentMetadata(w.DocumentMetadata)
		if err != nil {
			return nil, decodeErrf(payload, err, "documentMetadata")
		}
		return el, nil
	case w.Document != nil:
		el, err := s.DecodeDocument(w.Document)
		if err != nil {
			return nil, decodeErrf(payload, err, "document")
		}
		return el, nil
	default:
		return nil, decodeErrf(payload, nil, "cannot decode unknown bundle element")
	}
}

type metadataWire struct {
	ID             string                 `json:"id"`
	CreateTime     *model.SnapshotVersion `json:"createTime"`
	Version        json.RawMessage        `json:"version"`
	TotalDocuments json.RawMessage        `json:"totalDocuments"`
	TotalBytes     json.RawMessage        `json:"totalBytes"`
}

// DecodeMetadata decodes the body of a metadata element.
func (s *Serializer) DecodeMetadata(data json.RawMessage) (*Metadata, error) {
	var w metadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.CreateTime == nil {
		return nil, fmt.Errorf("missing createTime")
	}
	version, err := wireInt64(w.Version, "version")
	if err != nil {
		return nil, err
	}
	if version < 0 || version > 1<<32-1 {
		return nil, fmt.Errorf("version %d out of range", version)
	}
	totalDocs, err := wireInt64(w.TotalDocuments, "totalDocuments")
	if err != nil {
		return nil, err
	}
	totalBytes, err := wireInt64(w.TotalBytes, "totalBytes")
	if err != nil {
		return nil, err
	}
	return &Metadata{
		ID:             w.ID,
		CreateTime:     *w.CreateTime,
		Version:        uint32(version),
		TotalDocuments: int(totalDocs),
		TotalBytes:     totalBytes,
	}, nil
}

type namedQueryWire struct {
	Name         string                 `json:"name"`
	ReadTime     *model.SnapshotVersion `json:"readTime"`
	BundledQuery *bundledQueryWire      `json:"bundledQuery"`
}

type bundledQueryWire struct {
	Parent          string          `json:"parent"`
	StructuredQuery json.RawMessage `json:"structuredQuery"`
	LimitType       string          `json:"limitType,omitempty"`
}

// DecodeNamedQuery decodes the body of a namedQuery element.
func (s *Serializer) DecodeNamedQuery(data json.RawMessage) (*NamedQuery, error) {
	var w namedQueryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Name == "" {
		return nil, fmt.Errorf("missing query name")
	}
	if w.ReadTime == nil {
		return nil, fmt.Errorf("missing readTime")
	}
	if w.BundledQuery == nil {
		return nil, fmt.Errorf("missing bundledQuery")
	}
	q, err := s.decodeBundledQuery(w.BundledQuery)
	if err != nil {
		return nil, err
	}
	return &NamedQuery{Name: w.Name, Query: q, ReadTime: *w.ReadTime}, nil
}

func (s *Serializer) decodeBundledQuery(w *bundledQueryWire) (*BundledQuery, error) {
	parent, err := s.decodeName(w.Parent)
	if err != nil {
		return nil, err
	}
	if w.StructuredQuery == nil {
		return nil, fmt.Errorf("missing structuredQuery")
	}
	target, err := model.DecodeStructuredQuery(parent, w.StructuredQuery)
	if err != nil {
		return nil, err
	}
	var lt model.LimitType
	switch w.LimitType {
	case "", "FIRST":
		lt = model.LimitToFirst
	case "LAST":
		lt = model.LimitToLast
	default:
		return nil, fmt.Errorf("invalid limit type for bundled query: %s", w.LimitType)
	}
	return &BundledQuery{Target: target, LimitType: lt}, nil
}

type documentMetadataWire struct {
	Name     string                 `json:"name"`
	ReadTime *model.SnapshotVersion `json:"readTime"`
	Exists   bool                   `json:"exists"`
	Queries  []string               `json:"queries"`
}

// DecodeDocumentMetadata decodes the body of a documentMetadata element.
// A missing exists flag means false; a missing queries array means none.
func (s *Serializer) DecodeDocumentMetadata(data json.RawMessage) (*DocumentMetadata, error) {
	var w documentMetadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	key, err := s.decodeKey(w.Name)
	if err != nil {
		return nil, err
	}
	if w.ReadTime == nil {
		return nil, fmt.Errorf("missing readTime")
	}
	return &DocumentMetadata{Key: key, ReadTime: *w.ReadTime, Exists: w.Exists, Queries: w.Queries}, nil
}

type documentWire struct {
	Name       string                 `json:"name"`
	CreateTime json.RawMessage        `json:"createTime"`
	UpdateTime *model.SnapshotVersion `json:"updateTime"`
	Fields     model.Fields           `json:"fields"`
}

// DecodeDocument decodes the body of a document element. The document's
// version is its update time; a wire createTime is accepted and ignored.
func (s *Serializer) DecodeDocument(data json.RawMessage) (*Document, error) {
	var w documentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	key, err := s.decodeKey(w.Name)
	if err != nil {
		return nil, err
	}
	if w.UpdateTime == nil {
		return nil, fmt.Errorf("missing updateTime")
	}
	return &Document{Doc: model.NewDocument(key, *w.UpdateTime, w.Fields)}, nil
}

// decodeName validates a full resource name against the serializer's
// database and strips the five-segment prefix.
func (s *Serializer) decodeName(name string) (model.ResourcePath, error) {
	p, err := model.ParseResourcePath(name)
	if err != nil {
		return nil, err
	}
	if p.Len() < 5 || p.Segment(0) != "projects" || p.Segment(1) != s.dbID.ProjectID ||
		p.Segment(2) != "databases" || p.Segment(3) != s.dbID.Database || p.Segment(4) != "documents" {
		return nil, fmt.Errorf("resource name %q does not belong to %s", name, s.dbID)
	}
	return p.PopFirst(5), nil
}

func (s *Serializer) decodeKey(name string) (model.DocumentKey, error) {
	p, err := s.decodeName(name)
	if err != nil {
		return model.DocumentKey{}, err
	}
	return model.DocumentKeyFromPath(p)
}

func (s *Serializer) encodeName(p model.ResourcePath) string {
	if p.IsEmpty() {
		return s.dbID.String() + "/documents"
	}
	return s.dbID.String() + "/documents/" + p.String()
}

// EncodeElement renders the element as one frame payload, the exact
// inverse of DecodeElement.
func (s *Serializer) EncodeElement(el Element) ([]byte, error) {
	switch el := el.(type) {
	case *Metadata:
		return s.EncodeMetadata(el)
	case *NamedQuery:
		return s.EncodeNamedQuery(el)
	case *DocumentMetadata:
		return s.EncodeDocumentMetadata(el)
	case *Document:
		return s.EncodeDocument(el)
	default:
		panic(fmt.Errorf("unknown element type %T", el))
	}
}

func (s *Serializer) EncodeMetadata(m *Metadata) ([]byte, error) {
	return envelope("metadata", struct {
		ID             string                `json:"id"`
		CreateTime     model.SnapshotVersion `json:"createTime"`
		Version        uint32                `json:"version"`
		TotalDocuments int                   `json:"totalDocuments"`
		TotalBytes     int64                 `json:"totalBytes"`
	}{m.ID, m.CreateTime, m.Version, m.TotalDocuments, m.TotalBytes})
}

func (s *Serializer) EncodeNamedQuery(q *NamedQuery) ([]byte, error) {
	parent, sq, err := q.Query.Target.EncodeStructuredQuery()
	if err != nil {
		return nil, err
	}
	limitType := "FIRST"
	if q.Query.LimitType == model.LimitToLast {
		limitType = "LAST"
	}
	return envelope("namedQuery", struct {
		Name         string                `json:"name"`
		ReadTime     model.SnapshotVersion `json:"readTime"`
		BundledQuery bundledQueryWire      `json:"bundledQuery"`
	}{q.Name, q.ReadTime, bundledQueryWire{
		Parent:          s.encodeName(parent),
		StructuredQuery: sq,
		LimitType:       limitType,
	}})
}

func (s *Serializer) EncodeDocumentMetadata(dm *DocumentMetadata) ([]byte, error) {
	return envelope("documentMetadata", struct {
		Name     string                `json:"name"`
		ReadTime model.SnapshotVersion `json:"readTime"`
		Exists   bool                  `json:"exists,omitempty"`
		Queries  []string              `json:"queries,omitempty"`
	}{s.encodeName(dm.Key.Path()), dm.ReadTime, dm.Exists, dm.Queries})
}

func (s *Serializer) EncodeDocument(d *Document) ([]byte, error) {
	doc := d.Doc
	if !doc.Found {
		return nil, fmt.Errorf("cannot encode missing document %s", doc.Key)
	}
	return envelope("document", struct {
		Name       string                `json:"name"`
		UpdateTime model.SnapshotVersion `json:"updateTime"`
		Fields     model.Fields          `json:"fields"`
	}{s.encodeName(doc.Key.Path()), doc.Version, doc.Fields})
}

func envelope(key string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, `{%q:%s}`, key, data), nil
}

// wireInt64 reads a count field that proto3 JSON may render as a number
// or a quoted decimal string.
func wireInt64(raw json.RawMessage, what string) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing %s", what)
	}
	str := string(raw)
	if str[0] == '"' {
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", what, raw)
	}
	return n, nil
}
