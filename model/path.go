// Package model defines the client-side data model shared by bundle
// decoding and the local store: resource paths and document keys,
// timestamps and snapshot versions, field values, documents and query
// targets.
package model

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ResourcePath is a slash-separated database resource path, held as its
// list of segments. Segments never contain slashes and are never empty.
type ResourcePath []string

// ParseResourcePath splits a slash-separated path into segments.
// An empty string parses as the empty path.
func ParseResourcePath(s string) (ResourcePath, error) {
	if s == "" {
		return nil, nil
	}
	segs := strings.Split(s, "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("invalid resource path %q: empty segment", s)
		}
	}
	return segs, nil
}

func (p ResourcePath) String() string {
	return strings.Join(p, "/")
}

func (p ResourcePath) Len() int { return len(p) }

func (p ResourcePath) IsEmpty() bool { return len(p) == 0 }

// Segment returns the i-th segment from the start.
func (p ResourcePath) Segment(i int) string { return p[i] }

// Last returns the final segment. Panics on the empty path.
func (p ResourcePath) Last() string {
	if len(p) == 0 {
		panic("last segment of empty path")
	}
	return p[len(p)-1]
}

// Child returns a new path with seg appended. The receiver is not modified.
func (p ResourcePath) Child(seg string) ResourcePath {
	return append(slices.Clip(slices.Clone(p)), seg)
}

// PopFirst returns the path without its first n segments.
func (p ResourcePath) PopFirst(n int) ResourcePath {
	if n > len(p) {
		panic(fmt.Errorf("cannot pop %d segments off a %d-segment path", n, len(p)))
	}
	return p[n:]
}

// PopLast returns the path without its final segment.
func (p ResourcePath) PopLast() ResourcePath {
	if len(p) == 0 {
		panic("cannot pop segment off empty path")
	}
	return p[:len(p)-1]
}

// Compare orders paths segment by segment, shorter prefixes first.
func (p ResourcePath) Compare(o ResourcePath) int {
	n := min(len(p), len(o))
	for i := 0; i < n; i++ {
		if c := strings.Compare(p[i], o[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(o):
		return -1
	case len(p) > len(o):
		return 1
	default:
		return 0
	}
}

// DocumentKey identifies a single document by its path relative to the
// database root. Keys are comparable and usable as map keys; the zero
// value is the invalid key.
type DocumentKey struct {
	path string
}

// DocumentKeyFromPath wraps a path with an even number of segments
// (alternating collection and document IDs).
func DocumentKeyFromPath(p ResourcePath) (DocumentKey, error) {
	if len(p) == 0 || len(p)%2 != 0 {
		return DocumentKey{}, fmt.Errorf("invalid document path %q: a document path has an even number of segments", p.String())
	}
	return DocumentKey{path: p.String()}, nil
}

// DocumentKeyFromString parses a slash-separated document path.
func DocumentKeyFromString(s string) (DocumentKey, error) {
	p, err := ParseResourcePath(s)
	if err != nil {
		return DocumentKey{}, err
	}
	return DocumentKeyFromPath(p)
}

func (k DocumentKey) String() string { return k.path }

func (k DocumentKey) IsZero() bool { return k.path == "" }

// Path returns the key's segments.
func (k DocumentKey) Path() ResourcePath {
	if k.path == "" {
		return nil
	}
	return strings.Split(k.path, "/")
}

// CollectionID returns the ID of the collection the document belongs to.
func (k DocumentKey) CollectionID() string {
	p := k.Path()
	return p[len(p)-2]
}

// Compare orders keys by path segments, not by raw string.
func (k DocumentKey) Compare(o DocumentKey) int {
	return k.Path().Compare(o.Path())
}

// SortDocumentKeys sorts keys in segment order, in place.
func SortDocumentKeys(keys []DocumentKey) {
	slices.SortFunc(keys, DocumentKey.Compare)
}

// DefaultDatabaseID is the database ID of a project's default database.
const DefaultDatabaseID = "(default)"

// DatabaseID identifies one database instance within a project.
type DatabaseID struct {
	ProjectID string
	Database  string
}

// NewDatabaseID returns the identity of the given database.
func NewDatabaseID(projectID, database string) DatabaseID {
	return DatabaseID{ProjectID: projectID, Database: database}
}

// DatabaseIDForProject returns the identity of a project's default database.
func DatabaseIDForProject(projectID string) DatabaseID {
	return DatabaseID{ProjectID: projectID, Database: DefaultDatabaseID}
}

func (id DatabaseID) String() string {
	return "projects/" + id.ProjectID + "/databases/" + id.Database
}

func (id DatabaseID) IsZero() bool { return id == DatabaseID{} }

// FieldPath is a dot-separated path to a field inside a document,
// held as its list of segments.
type FieldPath []string

// ParseServerFieldPath parses the server wire form of a field path:
// segments joined by dots, with backticks quoting segments that contain
// dots and backslash escapes inside quoted segments.
func ParseServerFieldPath(s string) (FieldPath, error) {
	if s == "" {
		return nil, fmt.Errorf("invalid field path: empty path")
	}
	var segs []string
	var cur strings.Builder
	inBackticks := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\':
			if i+1 == len(s) {
				return nil, fmt.Errorf("invalid field path %q: trailing escape character", s)
			}
			i++
			cur.WriteByte(s[i])
		case c == '`':
			inBackticks = !inBackticks
		case c == '.' && !inBackticks:
			if cur.Len() == 0 {
				return nil, fmt.Errorf("invalid field path %q: empty segment", s)
			}
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inBackticks {
		return nil, fmt.Errorf("invalid field path %q: unterminated backtick", s)
	}
	if cur.Len() == 0 {
		return nil, fmt.Errorf("invalid field path %q: empty segment", s)
	}
	return append(segs, cur.String()), nil
}

var identFieldSegment = regexp.MustCompile(`^[_a-zA-Z][_a-zA-Z0-9]*$`)

// ServerFormat renders the path in server wire form, quoting segments
// that are not plain identifiers.
func (fp FieldPath) ServerFormat() string {
	var b strings.Builder
	for i, seg := range fp {
		if i > 0 {
			b.WriteByte('.')
		}
		if identFieldSegment.MatchString(seg) {
			b.WriteString(seg)
		} else {
			b.WriteByte('`')
			for j := 0; j < len(seg); j++ {
				if c := seg[j]; c == '`' || c == '\\' {
					b.WriteByte('\\')
					b.WriteByte(c)
				} else {
					b.WriteByte(c)
				}
			}
			b.WriteByte('`')
		}
	}
	return b.String()
}

func (fp FieldPath) String() string { return fp.ServerFormat() }
