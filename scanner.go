package bundle

import (
	"bufio"
	"io"
	"strconv"
)

const (
	// DefaultBufferSize is the scanner's internal read buffer capacity.
	// Frames larger than the buffer are assembled across multiple reads.
	DefaultBufferSize = 1024

	// DefaultMaxFrameSize caps a single frame's declared payload length.
	DefaultMaxFrameSize = 64 << 20

	// A length prefix longer than this cannot fit an int64 anyway.
	maxPrefixDigits = 19
)

// frameScanner splits a byte stream into length-prefixed JSON frames.
// It reads the decimal digits greedily; the first non-digit byte (the
// payload's opening brace in a conformant stream) terminates the prefix,
// and exactly the declared number of payload bytes follow.
type frameScanner struct {
	br       *bufio.Reader
	off      int64 // stream offset of the next unread byte
	maxFrame int64
	prefix   []byte
}

func newFrameScanner(r io.Reader, bufSize int, maxFrame int64) *frameScanner {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &frameScanner{
		br:       bufio.NewReaderSize(r, bufSize),
		maxFrame: maxFrame,
	}
}

// next returns the next frame's payload together with the frame's total
// encoded size (prefix digits plus payload bytes). Clean stream end
// returns io.EOF; a stream that ends anywhere inside a frame is a
// framing error.
func (s *frameScanner) next() (payload []byte, size int64, err error) {
	start := s.off
	digits, err := s.readPrefix(start)
	if err != nil {
		return nil, 0, err
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return nil, 0, framingErrf(start, nil, "unreadable frame length %q", digits)
	}
	if n > s.maxFrame {
		return nil, 0, framingErrf(start, nil, "frame of %d bytes exceeds the %d byte limit", n, s.maxFrame)
	}

	payload = make([]byte, n)
	if _, err := io.ReadFull(s.br, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, framingErrf(start, nil, "stream ended inside a %d byte payload", n)
		}
		return nil, 0, framingErrf(start, err, "read failed")
	}
	size = int64(len(digits)) + n
	s.off += n
	return payload, size, nil
}

// readPrefix consumes the decimal digits of a length prefix, leaving the
// terminating non-digit byte unread. At clean stream end it returns
// io.EOF.
func (s *frameScanner) readPrefix(start int64) ([]byte, error) {
	s.prefix = s.prefix[:0]
	for {
		b, err := s.br.ReadByte()
		if err == io.EOF {
			if len(s.prefix) == 0 {
				return nil, io.EOF
			}
			return nil, framingErrf(start, nil, "stream ended when a length prefix was expected")
		}
		if err != nil {
			return nil, framingErrf(start, err, "read failed")
		}
		if b < '0' || b > '9' {
			if len(s.prefix) == 0 {
				return nil, framingErrf(start, nil, "frame does not start with a length prefix")
			}
			s.br.UnreadByte()
			return s.prefix, nil
		}
		s.prefix = append(s.prefix, b)
		s.off++
		if len(s.prefix) > maxPrefixDigits {
			return nil, framingErrf(start, nil, "length prefix is longer than %d digits", maxPrefixDigits)
		}
	}
}
