package chain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Matches reports whether an observed datapoint value satisfies expected.
//
// The bus may report the same logical value as a bool, a number or a
// string, so matching runs in two phases:
//
//  1. native equality: same dynamic type and same value
//  2. lowercase string form of both sides compared
//
// This lets 1 match "1" and true match "TRUE" without cross-type coercion:
// 0 never matches "false" because "0" != "false". A nil on either side only
// matches another nil.
func Matches(observed, expected any) bool {
	if nativeEqual(observed, expected) {
		return true
	}
	if observed == nil || expected == nil {
		return false
	}
	return strings.ToLower(render(observed)) == strings.ToLower(render(expected))
}

func nativeEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// render produces the canonical string form used by the second matching phase.
// Numbers use their shortest decimal form so float64(2) renders as "2".
func render(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// isScalar reports whether v is a bool, number or string.
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
