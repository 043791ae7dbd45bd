// Package normalize implements the timestamp and role normalization rules
// shared by every extractor, grounded on
// original_source/llm_archive/extractors/base.py's parse_timestamp and
// normalize_role.
package normalize

import (
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp accepts an epoch number (int or float seconds, possibly
// negative or fractional) or an ISO-8601 string (optionally ending in Z or
// carrying an explicit offset; offset-less strings are assigned UTC). Any
// other input yields (time.Time{}, false).
func ParseTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case float64:
		return epochSeconds(v), true
	case float32:
		return epochSeconds(float64(v)), true
	case int:
		return epochSeconds(float64(v)), true
	case int64:
		return epochSeconds(float64(v)), true
	case string:
		return parseTimestampString(v)
	default:
		return time.Time{}, false
	}
}

func epochSeconds(secs float64) time.Time {
	whole := int64(secs)
	frac := secs - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	// Numeric strings are treated as epoch seconds, matching the "int or
	// float seconds" branch for stringly-typed timestamps from loose JSON.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochSeconds(f), true
	}
	candidate := strings.Replace(s, "Z", "+00:00", 1)
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999-07:00",
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			if t.Location() == time.UTC || t.Location().String() == "" {
				return t.UTC(), true
			}
			return t, true
		}
	}
	// No offset present: assign UTC explicitly by re-parsing as a naive
	// timestamp and forcing the UTC location.
	for _, layout := range []string{"2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeRole lowercases the role and rewrites the alias human -> user;
// nil becomes the literal "unknown"; everything else passes through
// lowercased.
func NormalizeRole(raw *string) string {
	if raw == nil {
		return "unknown"
	}
	r := strings.ToLower(*raw)
	if r == "human" {
		return "user"
	}
	return r
}

// NormalizeRoleString is a convenience wrapper for callers already holding a
// plain string sentinel for "absent" (empty string is NOT treated as nil;
// callers that need the nil distinction should use NormalizeRole).
func NormalizeRoleString(raw string) string {
	return NormalizeRole(&raw)
}
