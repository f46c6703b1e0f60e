// Package normalize turns loosely shaped backend and push payloads into models.
//
// Every function here is total: foreign or partial data yields nil or an empty
// slice, never an error or a panic. A payload that cannot be normalized is
// treated by callers as "no update this round".
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Decode parses JSON into a generic value. Invalid JSON decodes to nil.
func Decode(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

func record(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// field returns the first key present with a non-null value.
func field(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	}
	return "", false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := asString(m[k]); ok {
			return s
		}
	}
	return ""
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func intField(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		if f, ok := asNumber(m[k]); ok {
			return int(f), true
		}
	}
	return 0, false
}

func intPtr(m map[string]any, keys ...string) *int {
	if v, ok := intField(m, keys...); ok {
		return &v
	}
	return nil
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// personName picks the most readable name from a person record.
func personName(m map[string]any) string {
	if m == nil {
		return ""
	}
	first := stringField(m, "first_name", "firstName")
	last := stringField(m, "last_name", "lastName")
	if full := strings.TrimSpace(strings.Join(nonEmpty(first, last), " ")); full != "" {
		return full
	}
	if nick := stringField(m, "nickname", "nick_name"); nick != "" {
		return nick
	}
	return stringField(m, "display_name", "displayName", "name", "full_name", "fullName")
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
