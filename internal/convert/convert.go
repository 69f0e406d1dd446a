// Package convert normalizes the loosely typed values the collaborator
// sends. Identifiers arrive as JSON numbers on some endpoints and as
// strings on others.
// This package has no dependencies on other internal packages.
package convert

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// ToInt converts numeric and string values to int with a fallback.
func ToInt(v interface{}, fallback int) int {
	switch val := v.(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint:
		return int(val)
	case uint32:
		return int(val)
	case uint64:
		return int(val)
	case float32:
		return int(val)
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return fallback
}

// ToID converts a decoded identifier to its canonical string form.
// Integral floats lose their fractional part so 42 and 42.0 agree.
func ToID(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		val = strings.TrimSpace(val)
		return val, val != ""
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case fmt.Stringer:
		return ToID(val.String())
	}
	return "", false
}

// ParseID reads an identifier from raw JSON. null yields present=false.
// Numbers keep their literal digits so ids wider than float64 survive.
func ParseID(raw []byte) (id string, present bool, err error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return "", false, nil
	case raw[0] == '"':
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			return "", false, fmt.Errorf("convert: bad id string %s: %w", raw, err)
		}
		s = strings.TrimSpace(s)
		return s, s != "", nil
	}
	lit := string(raw)
	if _, err := strconv.ParseFloat(lit, 64); err != nil {
		return "", false, fmt.Errorf("convert: id is neither string nor number: %s", raw)
	}
	if i := strings.IndexByte(lit, '.'); i >= 0 && strings.Trim(lit[i+1:], "0") == "" {
		lit = lit[:i]
	}
	return lit, true, nil
}
