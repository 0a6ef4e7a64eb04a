package bundle

import (
	"fmt"
)

// FramingError means the byte stream cannot be split into
// length-prefixed frames: a missing or malformed length prefix, a
// truncated payload, or garbage after the final frame.
type FramingError struct {
	Off int64 // stream offset of the frame being read
	Err error
	Msg string
}

func framingErrf(off int64, err error, format string, args ...any) error {
	return &FramingError{off, err, fmt.Sprintf(format, args...)}
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid bundle: %s (offset %d): %v", e.Msg, e.Off, e.Err)
	}
	return fmt.Sprintf("invalid bundle: %s (offset %d)", e.Msg, e.Off)
}

// DecodeError means a correctly framed payload does not decode into a
// valid bundle element.
type DecodeError struct {
	Data []byte // the frame payload
	Err  error
	Msg  string
}

func decodeErrf(data []byte, err error, format string, args ...any) error {
	return &DecodeError{data, err, fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Error() string {
	const prefixLen = 96
	const suffixLen = 32
	data := e.Data
	var payload string
	if n := len(data); n <= prefixLen+suffixLen {
		payload = string(data)
	} else {
		payload = fmt.Sprintf("%s...%s", data[:prefixLen], data[n-suffixLen:])
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid bundle element: %s: %v: %s", e.Msg, e.Err, payload)
	}
	return fmt.Sprintf("invalid bundle element: %s: %s", e.Msg, payload)
}

// OrderError means elements arrived in an order the format forbids, like
// a document without its metadata or a second metadata element.
type OrderError struct {
	Msg string
}

func (e *OrderError) Error() string {
	return e.Msg
}

// ConsistencyError means the accumulated elements contradict the bundle
// metadata's declared totals at commit time.
type ConsistencyError struct {
	Msg string
}

func (e *ConsistencyError) Error() string {
	return e.Msg
}

// StoreError wraps a failure of the persistence callback during commit.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("bundle store: %s: %v", e.Op, e.Err)
}
