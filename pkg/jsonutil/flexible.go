package jsonutil

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IsNull reports whether raw is absent, JSON null, or an empty string.
func IsNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `""`
}

// FlexibleStringValue converts a json.RawMessage to a string, accepting numbers
// and booleans as well. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if IsNull(raw) {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strings.TrimSpace(strVal)
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}

// FlexibleFloat decodes a number given either as a JSON number or a numeric string.
// The second return is false when raw is null/empty.
func FlexibleFloat(raw json.RawMessage) (float64, bool, error) {
	if IsNull(raw) {
		return 0, false, nil
	}
	s := FlexibleStringValue(raw)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, fmt.Errorf("%q is not a number", s)
	}
	return v, true, nil
}

// FlexibleInt decodes an integer given either as a JSON number or a numeric string.
// Fractional values are rejected.
func FlexibleInt(raw json.RawMessage) (int, bool, error) {
	v, ok, err := FlexibleFloat(raw)
	if !ok || err != nil {
		return 0, ok, err
	}
	if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, true, fmt.Errorf("%v is not an integer", v)
	}
	return int(v), true, nil
}

// FlexibleBool decodes a boolean given as a JSON bool, "true"/"false", "on"/"off" or 1/0.
func FlexibleBool(raw json.RawMessage) (bool, bool, error) {
	if IsNull(raw) {
		return false, false, nil
	}
	switch strings.ToLower(FlexibleStringValue(raw)) {
	case "true", "on", "1", "yes":
		return true, true, nil
	case "false", "off", "0", "no":
		return false, true, nil
	}
	return false, true, fmt.Errorf("%s is not a boolean", string(raw))
}
