package schema

import (
	"sort"
	"strings"
)

// ValidateClientID checks that a client id is non-empty printable ASCII without spaces.
func ValidateClientID(id ClientID) error {
	raw := string(id)
	if raw == "" || len(raw) > 128 {
		return ErrInvalidClient
	}
	for _, r := range raw {
		if r <= ' ' || r > '~' {
			return ErrInvalidClient
		}
	}
	return nil
}

// NormalizeWidgetNames trims, drops empties, de-duplicates and sorts names.
func NormalizeWidgetNames(names []WidgetName) []WidgetName {
	seen := make(map[WidgetName]struct{}, len(names))
	out := make([]WidgetName, 0, len(names))
	for _, name := range names {
		trimmed := WidgetName(strings.TrimSpace(string(name)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WidgetNames converts plain strings to widget names.
func WidgetNames(values ...string) []WidgetName {
	out := make([]WidgetName, 0, len(values))
	for _, value := range values {
		out = append(out, WidgetName(value))
	}
	return out
}
