// Package bundle reads snapshot bundles: self-contained byte streams
// carrying a consistent view of documents and named queries exported from
// a document database, and loads them into a local store.
//
// # Format
//
// A bundle is a sequence of length-prefixed frames with no separators:
//
//	<len><json><len><json>...
//
// len is the shortest decimal ASCII encoding of the byte length of the
// JSON payload that follows; the payload's own opening brace terminates
// the digits. Each payload is a JSON object with exactly one of these
// keys:
//
//	metadata          bundle ID, create time, format version, totals
//	namedQuery        a query definition captured at a read time
//	documentMetadata  a document's read time, existence and query membership
//	document          the contents of one document
//
// The first frame is always the metadata element. Its frame is excluded
// from the declared byte total; every later frame counts with its prefix
// digits included.
//
// # Reading and loading
//
// Serializer decodes and encodes elements. Reader splits a stream into
// elements: ReadMetadata first, then Next until io.EOF. Loader
// accumulates elements against the declared totals and commits through a
// Callback: documents, then named queries with their matching document
// keys, then the bundle metadata. Load ties these together and adds the
// duplicate-bundle fast path.
//
// Readers and loaders are single-use and not safe for concurrent use.
package bundle
