package utils

import (
	"fmt"
	"strconv"
)

// ParseWindow parses a positive integer query value with a default and an
// upper bound. An empty raw value yields the default; values above max are
// clamped.
func ParseWindow(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid window value %q", raw)
	}
	if parsed > max {
		return max, nil
	}
	return parsed, nil
}
