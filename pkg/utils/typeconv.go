package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp parses a timestamp in any of the formats the source and
// its operators produce. The returned time is UTC.
func ParseTimestamp(val string) (time.Time, error) {
	s := strings.TrimSpace(val)
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, f := range formats {
		if t, err := time.ParseInLocation(f, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// ParsePence parses a monetary amount expressed as a decimal count of
// pence ("520", "520.0"). Fractional pence are rounded to the nearest
// whole. The sign is preserved so callers can reject negative amounts.
func ParsePence(val string) (int64, error) {
	s := strings.TrimSpace(val)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse amount: %s", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount is not a finite number: %s", s)
	}
	if math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("amount out of range: %s", s)
	}
	return int64(math.Round(f)), nil
}

// NormalizeToken lowercases and trims a free-form source token so lookups
// against alias tables are case and whitespace insensitive.
func NormalizeToken(val string) string {
	return strings.ToLower(strings.TrimSpace(val))
}
