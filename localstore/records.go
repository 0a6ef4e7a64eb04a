package localstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/bundle"
	"github.com/andreyvit/bundle/model"
)

// Stored values are header || msgpack payload || checksum, where the header
// is a pair of uvarints (flags, payload size) and the checksum is the
// little-endian xxhash64 of everything before it.

type recordFlags uint64

const (
	rfVerBit0 = recordFlags(1 << iota)
	rfVerBit1
	rfVerBit2
	rfVerBit3

	rfVerMask       = (rfVerBit0 | rfVerBit1 | rfVerBit2 | rfVerBit3)
	rfVer1          = rfVerBit0
	rfSupportedMask = rfVer1
	rfDefault       = rfVer1

	maxRecordHeaderSize = binary.MaxVarintLen64 * 2
	recordChecksumSize  = 8
	minRecordSize       = 2 + recordChecksumSize
)

// documentRecord is the stored form of one cached document. Fields holds
// the contents as canonical JSON; it is nil for missing-document records.
type documentRecord struct {
	Version  model.SnapshotVersion
	ReadTime model.SnapshotVersion
	Found    bool
	Fields   []byte
}

func docRecordFrom(doc *model.Document) (*documentRecord, error) {
	rec := &documentRecord{
		Version:  doc.Version,
		ReadTime: doc.ReadTime,
		Found:    doc.Found,
	}
	if doc.Found {
		fields, err := json.Marshal(doc.Fields)
		if err != nil {
			return nil, fmt.Errorf("encoding fields of %s: %w", doc.Key, err)
		}
		rec.Fields = fields
	}
	return rec, nil
}

func (rec *documentRecord) document(key model.DocumentKey) (*model.Document, error) {
	doc := &model.Document{
		Key:      key,
		Version:  rec.Version,
		ReadTime: rec.ReadTime,
		Found:    rec.Found,
	}
	if rec.Found {
		var fields model.Fields
		if err := json.Unmarshal(rec.Fields, &fields); err != nil {
			return nil, dataErrf(docsBucket, key.String(), rec.Fields, err, "invalid record: bad fields")
		}
		if fields == nil {
			fields = model.Fields{}
		}
		doc.Fields = fields
	}
	return doc, nil
}

// queryRecord is the stored form of a named query. Query holds the target
// in its wire form; Parent is the target's parent resource name.
type queryRecord struct {
	ReadTime  model.SnapshotVersion
	LimitType int
	Parent    string
	Query     []byte
}

func queryRecordFrom(q *bundle.NamedQuery) (*queryRecord, error) {
	parent, data, err := q.Query.Target.EncodeStructuredQuery()
	if err != nil {
		return nil, fmt.Errorf("encoding query %s: %w", q.Name, err)
	}
	return &queryRecord{
		ReadTime:  q.ReadTime,
		LimitType: int(q.Query.LimitType),
		Parent:    parent.String(),
		Query:     data,
	}, nil
}

func (rec *queryRecord) namedQuery(name string) (*bundle.NamedQuery, error) {
	parent, err := model.ParseResourcePath(rec.Parent)
	if err != nil {
		return nil, dataErrf(queriesBucket, name, rec.Query, err, "invalid record: bad parent path")
	}
	target, err := model.DecodeStructuredQuery(parent, rec.Query)
	if err != nil {
		return nil, dataErrf(queriesBucket, name, rec.Query, err, "invalid record: bad query")
	}
	return &bundle.NamedQuery{
		Name:     name,
		Query:    &bundle.BundledQuery{Target: target, LimitType: model.LimitType(rec.LimitType)},
		ReadTime: rec.ReadTime,
	}, nil
}

// bundleRecord is the stored form of a loaded bundle's metadata.
type bundleRecord struct {
	CreateTime     model.SnapshotVersion
	Version        uint32
	TotalDocuments int
	TotalBytes     int64
}

func bundleRecordFrom(m *bundle.Metadata) *bundleRecord {
	return &bundleRecord{
		CreateTime:     m.CreateTime,
		Version:        m.Version,
		TotalDocuments: m.TotalDocuments,
		TotalBytes:     m.TotalBytes,
	}
}

func (rec *bundleRecord) metadata(id string) *bundle.Metadata {
	return &bundle.Metadata{
		ID:             id,
		CreateTime:     rec.CreateTime,
		Version:        rec.Version,
		TotalDocuments: rec.TotalDocuments,
		TotalBytes:     rec.TotalBytes,
	}
}

func reserveRecordHeader(buf []byte) []byte {
	if len(buf) != 0 {
		panic("record must be written to an empty buffer")
	}
	return buf[:maxRecordHeaderSize]
}

func putRecordHeader(buf []byte, flags recordFlags) []byte {
	if (flags &^ rfSupportedMask) != 0 {
		panic(fmt.Errorf("invalid flags %x", flags))
	}
	dataSize := len(buf) - maxRecordHeaderSize

	var off = 0
	n := binary.PutUvarint(buf[off:], uint64(flags))
	off += n
	n = binary.PutUvarint(buf[off:], uint64(dataSize))
	off += n
	headerSize := off
	if headerSize > maxRecordHeaderSize {
		panic("internal error")
	}
	if headerSize < maxRecordHeaderSize {
		// move the header closer to data
		start := maxRecordHeaderSize - headerSize
		copy(buf[start:maxRecordHeaderSize], buf[:headerSize])
		return buf[start:]
	} else {
		return buf
	}
}

func encodeRecord(buf []byte, rec any) []byte {
	bb := bytesBuilder{reserveRecordHeader(buf)}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(rec)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", rec, err))
	}

	raw := putRecordHeader(bb.Buf, rfDefault)

	var trailer [recordChecksumSize]byte
	binary.LittleEndian.PutUint64(trailer[:], xxhash.Sum64(raw))
	return append(raw, trailer[:]...)
}

func decodeRecord(bucket, key string, data []byte, rec any) error {
	if len(data) < minRecordSize {
		return dataErrf(bucket, key, data, nil, "invalid record: at least %d bytes required", minRecordSize)
	}
	body, trailer := data[:len(data)-recordChecksumSize], data[len(data)-recordChecksumSize:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(trailer) {
		return dataErrf(bucket, key, data, nil, "invalid record: checksum mismatch")
	}

	v, n := binary.Uvarint(body)
	if n <= 0 {
		return dataErrf(bucket, key, data, nil, "invalid record: bad flags")
	}
	if (v & ^uint64(rfSupportedMask)) != 0 {
		return dataErrf(bucket, key, data, nil, "invalid record: unsupported flags %x", v)
	}
	body = body[n:]

	dataSize, n := binary.Uvarint(body)
	if n <= 0 {
		return dataErrf(bucket, key, data, nil, "invalid record: bad data size")
	}
	body = body[n:]
	if uint64(len(body)) != dataSize {
		return dataErrf(bucket, key, data, nil, "invalid record: got %d bytes of data, expected %d bytes", len(body), dataSize)
	}

	var r bytes.Reader
	r.Reset(body)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(rec)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(bucket, key, data, err, "failed to decode msgpack into %T", rec)
	}
	return nil
}
