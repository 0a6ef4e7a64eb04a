package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// LimitType records how a query limit is applied. Bundled queries always
// store their target in limit-to-first form; a limit-to-last query is
// reconstructed by flipping the order at execution time.
type LimitType int

const (
	LimitToFirst LimitType = iota
	LimitToLast
)

// Direction is a sort direction of an ordering clause.
type Direction string

const (
	Ascending  Direction = "ASCENDING"
	Descending Direction = "DESCENDING"
)

// Operator is a field filter comparison operator.
type Operator string

const (
	OpLessThan         Operator = "LESS_THAN"
	OpLessThanOrEqual  Operator = "LESS_THAN_OR_EQUAL"
	OpEqual            Operator = "EQUAL"
	OpNotEqual         Operator = "NOT_EQUAL"
	OpGreaterThan      Operator = "GREATER_THAN"
	OpGreaterThanOrEq  Operator = "GREATER_THAN_OR_EQUAL"
	OpArrayContains    Operator = "ARRAY_CONTAINS"
	OpArrayContainsAny Operator = "ARRAY_CONTAINS_ANY"
	OpIn               Operator = "IN"
	OpNotIn            Operator = "NOT_IN"
)

var knownOperators = map[Operator]bool{
	OpLessThan: true, OpLessThanOrEqual: true, OpEqual: true, OpNotEqual: true,
	OpGreaterThan: true, OpGreaterThanOrEq: true, OpArrayContains: true,
	OpArrayContainsAny: true, OpIn: true, OpNotIn: true,
}

// FieldFilter constrains a single field against a value. Unary wire
// filters (IS_NAN and friends) decode into equality or inequality
// filters on the NaN or Null sentinel.
type FieldFilter struct {
	Field FieldPath
	Op    Operator
	Value Value
}

// OrderBy is one ordering clause of a query.
type OrderBy struct {
	Field     FieldPath
	Direction Direction
}

// Bound is a query cursor: a position in the query's order plus whether
// the position itself is included.
type Bound struct {
	Position  []Value
	Inclusive bool
}

// Target is the canonical form of a query as the server sees it: a
// collection path or collection group with filters, orderings, limit and
// bounds. Limit is -1 when absent.
type Target struct {
	Path            ResourcePath
	CollectionGroup string
	Filters         []FieldFilter
	OrderBys        []OrderBy
	Limit           int64
	StartAt         *Bound
	EndAt           *Bound
}

type structuredQueryWire struct {
	From    []collectionSelectorWire `json:"from,omitempty"`
	Where   *filterWire              `json:"where,omitempty"`
	OrderBy []orderByWire            `json:"orderBy,omitempty"`
	StartAt *boundWire               `json:"startAt,omitempty"`
	EndAt   *boundWire               `json:"endAt,omitempty"`
	Limit   json.RawMessage          `json:"limit,omitempty"`
	Select  json.RawMessage          `json:"select,omitempty"`
	Offset  json.RawMessage          `json:"offset,omitempty"`
}

type collectionSelectorWire struct {
	CollectionID   string `json:"collectionId"`
	AllDescendants bool   `json:"allDescendants,omitempty"`
}

type filterWire struct {
	Composite *compositeFilterWire `json:"compositeFilter,omitempty"`
	Field     *fieldFilterWire     `json:"fieldFilter,omitempty"`
	Unary     *unaryFilterWire     `json:"unaryFilter,omitempty"`
}

type compositeFilterWire struct {
	Op      string       `json:"op"`
	Filters []filterWire `json:"filters"`
}

type fieldFilterWire struct {
	Field fieldRefWire `json:"field"`
	Op    string       `json:"op"`
	Value *Value       `json:"value"`
}

type unaryFilterWire struct {
	Field fieldRefWire `json:"field"`
	Op    string       `json:"op"`
}

type fieldRefWire struct {
	FieldPath string `json:"fieldPath"`
}

type orderByWire struct {
	Field     fieldRefWire `json:"field"`
	Direction string       `json:"direction,omitempty"`
}

type boundWire struct {
	Values []Value `json:"values,omitempty"`
	Before bool    `json:"before,omitempty"`
}

// DecodeStructuredQuery decodes the structuredQuery JSON of a bundled
// query against the already-decoded parent path.
func DecodeStructuredQuery(parent ResourcePath, data json.RawMessage) (*Target, error) {
	var w structuredQueryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid structured query: %w", err)
	}
	if w.Select != nil {
		return nil, fmt.Errorf("queries with 'select' are not supported in bundles")
	}
	if w.Offset != nil {
		return nil, fmt.Errorf("queries with offsets are not supported in bundles")
	}
	if len(w.From) != 1 {
		return nil, fmt.Errorf("only queries with a single 'from' clause are supported in bundles")
	}

	t := &Target{Path: parent, Limit: -1}
	sel := w.From[0]
	if sel.AllDescendants {
		t.CollectionGroup = sel.CollectionID
	} else {
		t.Path = parent.Child(sel.CollectionID)
	}

	if w.Where != nil {
		var err error
		t.Filters, err = appendFilters(nil, *w.Where)
		if err != nil {
			return nil, err
		}
	}
	for _, ow := range w.OrderBy {
		fp, err := ParseServerFieldPath(ow.Field.FieldPath)
		if err != nil {
			return nil, err
		}
		dir := Descending
		if ow.Direction == "" || ow.Direction == string(Ascending) {
			dir = Ascending
		}
		t.OrderBys = append(t.OrderBys, OrderBy{Field: fp, Direction: dir})
	}
	if w.StartAt != nil {
		t.StartAt = &Bound{Position: w.StartAt.Values, Inclusive: w.StartAt.Before}
	}
	if w.EndAt != nil {
		t.EndAt = &Bound{Position: w.EndAt.Values, Inclusive: !w.EndAt.Before}
	}

	limit, err := decodeLimit(w.Limit)
	if err != nil {
		return nil, err
	}
	t.Limit = limit
	return t, nil
}

// decodeLimit accepts both wire encodings of a limit: a bare integer
// (proto3 JSON) and a {"value": n} wrapper (protobuf.js).
func decodeLimit(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return -1, nil
	}
	if raw[0] == '{' {
		var w struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return 0, fmt.Errorf("invalid limit: %w", err)
		}
		return jsonInt64(w.Value, -1)
	}
	return jsonInt64(raw, -1)
}

func appendFilters(out []FieldFilter, w filterWire) ([]FieldFilter, error) {
	switch {
	case w.Composite != nil:
		if w.Composite.Op != "AND" {
			return nil, fmt.Errorf("only composite filters of type 'AND' are supported in bundles")
		}
		var err error
		for _, sub := range w.Composite.Filters {
			out, err = appendFilters(out, sub)
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	case w.Field != nil:
		fp, err := ParseServerFieldPath(w.Field.Field.FieldPath)
		if err != nil {
			return nil, err
		}
		op := Operator(w.Field.Op)
		if !knownOperators[op] {
			return nil, fmt.Errorf("unknown filter operator: %s", w.Field.Op)
		}
		if w.Field.Value == nil {
			return nil, fmt.Errorf("field filter on %s is missing a value", fp)
		}
		return append(out, FieldFilter{Field: fp, Op: op, Value: *w.Field.Value}), nil

	case w.Unary != nil:
		fp, err := ParseServerFieldPath(w.Unary.Field.FieldPath)
		if err != nil {
			return nil, err
		}
		var f FieldFilter
		switch w.Unary.Op {
		case "IS_NAN":
			f = FieldFilter{Field: fp, Op: OpEqual, Value: NaN()}
		case "IS_NULL":
			f = FieldFilter{Field: fp, Op: OpEqual, Value: Null()}
		case "IS_NOT_NAN":
			f = FieldFilter{Field: fp, Op: OpNotEqual, Value: NaN()}
		case "IS_NOT_NULL":
			f = FieldFilter{Field: fp, Op: OpNotEqual, Value: Null()}
		default:
			return nil, fmt.Errorf("unexpected unary filter: %s", w.Unary.Op)
		}
		return append(out, f), nil

	default:
		return nil, fmt.Errorf("unrecognized filter")
	}
}

// EncodeStructuredQuery renders the target back into its wire form,
// returning the parent resource path (relative to the database root) and
// the structuredQuery JSON.
func (t *Target) EncodeStructuredQuery() (parent ResourcePath, data json.RawMessage, err error) {
	var w structuredQueryWire
	if t.CollectionGroup != "" {
		parent = t.Path
		w.From = []collectionSelectorWire{{CollectionID: t.CollectionGroup, AllDescendants: true}}
	} else {
		if t.Path.IsEmpty() {
			return nil, nil, fmt.Errorf("target path is empty")
		}
		parent = t.Path.PopLast()
		w.From = []collectionSelectorWire{{CollectionID: t.Path.Last()}}
	}

	if len(t.Filters) > 0 {
		filters := make([]filterWire, len(t.Filters))
		for i, f := range t.Filters {
			filters[i] = encodeFilter(f)
		}
		if len(filters) == 1 {
			w.Where = &filters[0]
		} else {
			w.Where = &filterWire{Composite: &compositeFilterWire{Op: "AND", Filters: filters}}
		}
	}

	for _, ob := range t.OrderBys {
		w.OrderBy = append(w.OrderBy, orderByWire{
			Field:     fieldRefWire{FieldPath: ob.Field.ServerFormat()},
			Direction: string(ob.Direction),
		})
	}
	if t.StartAt != nil {
		w.StartAt = &boundWire{Values: t.StartAt.Position, Before: t.StartAt.Inclusive}
	}
	if t.EndAt != nil {
		w.EndAt = &boundWire{Values: t.EndAt.Position, Before: !t.EndAt.Inclusive}
	}
	if t.Limit >= 0 {
		w.Limit = json.RawMessage(strconv.FormatInt(t.Limit, 10))
	}

	data, err = json.Marshal(&w)
	if err != nil {
		return nil, nil, err
	}
	return parent, data, nil
}

// encodeFilter prefers the unary wire form for the sentinel comparisons
// so that encoding inverts decoding exactly.
func encodeFilter(f FieldFilter) filterWire {
	ref := fieldRefWire{FieldPath: f.Field.ServerFormat()}
	if f.Op == OpEqual || f.Op == OpNotEqual {
		var op string
		switch {
		case f.Value.Kind == KindDouble && isNaNValue(f.Value):
			if f.Op == OpEqual {
				op = "IS_NAN"
			} else {
				op = "IS_NOT_NAN"
			}
		case f.Value.Kind == KindNull:
			if f.Op == OpEqual {
				op = "IS_NULL"
			} else {
				op = "IS_NOT_NULL"
			}
		}
		if op != "" {
			return filterWire{Unary: &unaryFilterWire{Field: ref, Op: op}}
		}
	}
	v := f.Value
	return filterWire{Field: &fieldFilterWire{Field: ref, Op: string(f.Op), Value: &v}}
}
