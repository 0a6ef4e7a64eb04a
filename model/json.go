package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// jsonInt64 parses a proto3 JSON integer, which arrives as a plain number
// or a quoted decimal string (exponent forms are accepted when integral).
// Absent or null raw yields def.
func jsonInt64(raw json.RawMessage, def int64) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return def, nil
	}
	s := string(raw)
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid integer %s", raw)
	}
	return int64(f), nil
}

// jsonFloat64 parses a proto3 JSON double: a number, or one of the quoted
// special strings "NaN", "Infinity" and "-Infinity", or a quoted decimal.
func jsonFloat64(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing number")
	}
	s := string(raw)
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %s", raw)
	}
	return f, nil
}
