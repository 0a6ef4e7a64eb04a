package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind enumerates the wire types a document field can hold.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBoolean
	KindInteger
	KindDouble
	KindTimestamp
	KindString
	KindBytes
	KindReference
	KindGeoPoint
	KindArray
	KindMap
)

// Value is one document field value, a closed union over the eleven wire
// kinds. Kind selects which payload field is meaningful; the rest stay
// zero. Values are built with the constructor functions below and
// marshal to and from the proto3 JSON shapes ({"stringValue": ...},
// {"integerValue": ...} and so on).
type Value struct {
	Kind   ValueKind
	Bool   bool
	Int    int64
	Double float64
	Time   Timestamp
	Str    string // KindString and KindReference
	Bytes  []byte
	Geo    LatLng
	Array  []Value
	Map    Fields
}

// Fields is a string-keyed map of values: a document's field map or the
// payload of a map value.
type Fields map[string]Value

// LatLng is a geographical point.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func Null() Value                { return Value{Kind: KindNull} }
func Boolean(b bool) Value       { return Value{Kind: KindBoolean, Bool: b} }
func Integer(n int64) Value      { return Value{Kind: KindInteger, Int: n} }
func Double(f float64) Value     { return Value{Kind: KindDouble, Double: f} }
func Time(ts Timestamp) Value    { return Value{Kind: KindTimestamp, Time: ts} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Blob(b []byte) Value        { return Value{Kind: KindBytes, Bytes: b} }
func Reference(name string) Value { return Value{Kind: KindReference, Str: name} }
func GeoPoint(lat, lng float64) Value {
	return Value{Kind: KindGeoPoint, Geo: LatLng{Latitude: lat, Longitude: lng}}
}

// NaN is the not-a-number sentinel used by unary query filters.
func NaN() Value { return Value{Kind: KindDouble, Double: math.NaN()} }

func isNaNValue(v Value) bool { return v.Kind == KindDouble && math.IsNaN(v.Double) }

func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: KindArray, Array: elems}
}

func Map(fields Fields) Value {
	if fields == nil {
		fields = Fields{}
	}
	return Value{Kind: KindMap, Map: fields}
}

type valueWire struct {
	Null      json.RawMessage `json:"nullValue,omitempty"`
	Boolean   *bool           `json:"booleanValue,omitempty"`
	Integer   json.RawMessage `json:"integerValue,omitempty"`
	Double    json.RawMessage `json:"doubleValue,omitempty"`
	Timestamp json.RawMessage `json:"timestampValue,omitempty"`
	String    *string         `json:"stringValue,omitempty"`
	Bytes     *string         `json:"bytesValue,omitempty"`
	Reference *string         `json:"referenceValue,omitempty"`
	GeoPoint  *LatLng         `json:"geoPointValue,omitempty"`
	Array     *arrayWire      `json:"arrayValue,omitempty"`
	Map       *mapWire        `json:"mapValue,omitempty"`
}

type arrayWire struct {
	Values []Value `json:"values"`
}

type mapWire struct {
	Fields Fields `json:"fields"`
}

// UnmarshalJSON decodes one proto3 JSON value object. The checks run in
// a fixed kind order and the first recognized key wins.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Null != nil:
		*v = Null()
	case w.Boolean != nil:
		*v = Boolean(*w.Boolean)
	case w.Integer != nil:
		n, err := jsonInt64(w.Integer, 0)
		if err != nil {
			return err
		}
		*v = Integer(n)
	case w.Double != nil:
		f, err := jsonFloat64(w.Double)
		if err != nil {
			return err
		}
		*v = Double(f)
	case w.Timestamp != nil:
		var ts Timestamp
		if err := json.Unmarshal(w.Timestamp, &ts); err != nil {
			return err
		}
		*v = Time(ts)
	case w.String != nil:
		*v = String(*w.String)
	case w.Bytes != nil:
		b, err := base64.StdEncoding.DecodeString(*w.Bytes)
		if err != nil {
			return fmt.Errorf("invalid base64 in bytes value: %w", err)
		}
		*v = Blob(b)
	case w.Reference != nil:
		*v = Reference(*w.Reference)
	case w.GeoPoint != nil:
		*v = Value{Kind: KindGeoPoint, Geo: *w.GeoPoint}
	case w.Array != nil:
		elems := w.Array.Values
		if elems == nil {
			elems = []Value{}
		}
		*v = Value{Kind: KindArray, Array: elems}
	case w.Map != nil:
		fields := w.Map.Fields
		if fields == nil {
			fields = Fields{}
		}
		*v = Value{Kind: KindMap, Map: fields}
	default:
		return fmt.Errorf("unexpected value type: %s", data)
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte(`{"nullValue":null}`), nil
	case KindBoolean:
		if v.Bool {
			return []byte(`{"booleanValue":true}`), nil
		}
		return []byte(`{"booleanValue":false}`), nil
	case KindInteger:
		return fmt.Appendf(nil, `{"integerValue":"%d"}`, v.Int), nil
	case KindDouble:
		return appendDoubleValue(nil, v.Double), nil
	case KindTimestamp:
		ts, err := v.Time.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return append(append([]byte(`{"timestampValue":`), ts...), '}'), nil
	case KindString:
		return marshalWire(valueWire{String: &v.Str})
	case KindBytes:
		s := base64.StdEncoding.EncodeToString(v.Bytes)
		return marshalWire(valueWire{Bytes: &s})
	case KindReference:
		return marshalWire(valueWire{Reference: &v.Str})
	case KindGeoPoint:
		return marshalWire(valueWire{GeoPoint: &v.Geo})
	case KindArray:
		return marshalWire(valueWire{Array: &arrayWire{Values: v.Array}})
	case KindMap:
		return marshalWire(valueWire{Map: &mapWire{Fields: v.Map}})
	default:
		return nil, fmt.Errorf("cannot encode value of kind %d", v.Kind)
	}
}

func marshalWire(w valueWire) ([]byte, error) {
	return json.Marshal(w)
}

// appendDoubleValue writes {"doubleValue": ...}; the non-finite doubles
// use the quoted proto3 spellings since bare JSON cannot carry them.
func appendDoubleValue(buf []byte, f float64) []byte {
	buf = append(buf, `{"doubleValue":`...)
	switch {
	case math.IsNaN(f):
		buf = append(buf, `"NaN"`...)
	case math.IsInf(f, 1):
		buf = append(buf, `"Infinity"`...)
	case math.IsInf(f, -1):
		buf = append(buf, `"-Infinity"`...)
	default:
		buf = strconv.AppendFloat(buf, f, 'g', -1, 64)
	}
	return append(buf, '}')
}
