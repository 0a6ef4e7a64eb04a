package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is a point in time with nanosecond precision, held as UTC
// seconds since the epoch plus a nanosecond fraction.
//
// On the wire a timestamp is either a proto3 JSON string (RFC 3339 with
// up to nine fractional digits and a Z or numeric offset) or an object
// with "seconds" and "nanos" fields. Both forms decode; the object form
// is what this package encodes.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// TimestampFromTime converts t, discarding sub-nanosecond monotonic data.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

// Time converts the timestamp to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

func (ts Timestamp) IsZero() bool { return ts == Timestamp{} }

// Compare orders timestamps chronologically.
func (ts Timestamp) Compare(o Timestamp) int {
	switch {
	case ts.Seconds < o.Seconds:
		return -1
	case ts.Seconds > o.Seconds:
		return 1
	case ts.Nanos < o.Nanos:
		return -1
	case ts.Nanos > o.Nanos:
		return 1
	default:
		return 0
	}
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty timestamp")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*ts = TimestampFromTime(t)
		return nil
	case '{':
		var obj struct {
			Seconds json.RawMessage `json:"seconds"`
			Nanos   json.RawMessage `json:"nanos"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		secs, err := jsonInt64(obj.Seconds, 0)
		if err != nil {
			return fmt.Errorf("invalid timestamp seconds: %w", err)
		}
		nanos, err := jsonInt64(obj.Nanos, 0)
		if err != nil {
			return fmt.Errorf("invalid timestamp nanos: %w", err)
		}
		*ts = Timestamp{Seconds: secs, Nanos: int32(nanos)}
		return nil
	default:
		return fmt.Errorf("timestamp must be an ISO 8601 string or a JSON object")
	}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, `{"seconds":%d,"nanos":%d}`, ts.Seconds, ts.Nanos), nil
}

// SnapshotVersion is the read version of a document or query: the
// database-wide timestamp of the consistent snapshot it was read at.
// The zero version means "unknown".
type SnapshotVersion struct {
	Timestamp
}

// VersionFromMicros builds a version from epoch microseconds.
func VersionFromMicros(us int64) SnapshotVersion {
	return SnapshotVersion{Timestamp{
		Seconds: us / 1e6,
		Nanos:   int32(us%1e6) * 1000,
	}}
}

// Micros returns the version as epoch microseconds, truncating
// sub-microsecond nanos.
func (v SnapshotVersion) Micros() int64 {
	return v.Seconds*1e6 + int64(v.Nanos)/1000
}

// Compare orders versions chronologically.
func (v SnapshotVersion) Compare(o SnapshotVersion) int {
	return v.Timestamp.Compare(o.Timestamp)
}
