package bundle

import (
	"io"
)

// Reader reads one bundle from a byte stream: call ReadMetadata once,
// then Next until it returns io.EOF. Any other error is sticky and
// repeats on every later call.
type Reader struct {
	ser       *Serializer
	scn       *frameScanner
	metadata  *Metadata
	bytesRead int64
	err       error
	started   bool
}

// NewReader reads src with the default buffer capacity.
func NewReader(ser *Serializer, src io.Reader) *Reader {
	return NewReaderSize(ser, src, DefaultBufferSize)
}

// NewReaderSize reads src through an internal buffer of the given
// capacity. Frames larger than the buffer work; a small capacity only
// forces more reads.
func NewReaderSize(ser *Serializer, src io.Reader, bufSize int) *Reader {
	return newReader(ser, src, bufSize, 0)
}

func newReader(ser *Serializer, src io.Reader, bufSize int, maxFrame int64) *Reader {
	return &Reader{ser: ser, scn: newFrameScanner(src, bufSize, maxFrame)}
}

// ReadMetadata consumes the first frame of the stream, which must be the
// bundle metadata element. Its frame is excluded from BytesRead.
//
// ReadMetadata must be called exactly once, before Next; anything else is
// a programming error.
func (r *Reader) ReadMetadata() (*Metadata, error) {
	if r.started {
		panic("bundle: ReadMetadata called twice")
	}
	r.started = true

	payload, _, err := r.scn.next()
	if err == io.EOF {
		return nil, r.fail(framingErrf(0, nil, "bundle is missing a metadata element"))
	}
	if err != nil {
		return nil, r.fail(err)
	}
	el, err := r.ser.DecodeElement(payload)
	if err != nil {
		return nil, r.fail(err)
	}
	md, ok := el.(*Metadata)
	if !ok {
		return nil, r.fail(decodeErrf(payload, nil, "expected first element in bundle to be a metadata object"))
	}
	r.metadata = md
	return md, nil
}

// Metadata returns the bundle metadata, or nil before ReadMetadata.
func (r *Reader) Metadata() *Metadata {
	return r.metadata
}

// Next returns the next element of the stream, or io.EOF at clean
// exhaustion. Next panics if ReadMetadata has not been called.
func (r *Reader) Next() (Element, error) {
	if !r.started {
		panic("bundle: Next called before ReadMetadata")
	}
	if r.err != nil {
		return nil, r.err
	}

	payload, size, err := r.scn.next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.fail(err)
	}
	el, err := r.ser.DecodeElement(payload)
	if err != nil {
		return nil, r.fail(err)
	}
	r.bytesRead += size
	return el, nil
}

// BytesRead returns the total encoded size (length prefixes included) of
// the frames returned by Next so far. Once the stream is exhausted it
// matches the metadata's TotalBytes for a well-formed bundle.
func (r *Reader) BytesRead() int64 {
	return r.bytesRead
}

func (r *Reader) fail(err error) error {
	r.err = err
	return err
}
