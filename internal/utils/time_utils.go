package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseStringTime parses durations such as "10s", "20M", "48h" or "2d".
// Anything time.ParseDuration accepts is accepted as well, so "100ms" and
// "1h30m" work too. An empty string is zero.
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.TrimSpace(timeString)
	if timeString == "" {
		return 0, nil
	}
	if duration, err := time.ParseDuration(timeString); err == nil {
		return duration, nil
	}

	lower := strings.ToLower(timeString)
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"s", time.Second},
		{"m", time.Minute},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
	}
	for _, u := range units {
		cutString, found := strings.CutSuffix(lower, u.suffix)
		if !found {
			continue
		}
		number, err := strconv.Atoi(cutString)
		if err != nil {
			return 0, fmt.Errorf("error parsing time string %q: %w", timeString, err)
		}
		return time.Duration(number) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid time format: %s", timeString)
}
