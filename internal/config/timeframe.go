package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timeframePattern accepts a positive decimal number followed by a unit
// suffix: m (minutes), h (hours), d (days).
var timeframePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)([mhd])$`)

// unitMinutes maps a timeframe unit to its span in minutes.
var unitMinutes = map[string]float64{
	"m": 1,
	"h": 60,
	"d": 1440,
}

// zeroCutoff holds, per unit, the largest value that is treated as zero.
// Values at or below the cutoff collapse to 0 minutes rather than producing
// a window too small to measure anything.
var zeroCutoff = map[string]float64{
	"m": 0.05,
	"h": 0.005,
	"d": 0.001,
}

// ParseTimeframe converts a timeframe string such as "5m", "1h" or "2d"
// into minutes. The grammar is strict: a positive number (integer or
// decimal) immediately followed by one of m/h/d. Anything else, including
// negative values, is rejected.
func ParseTimeframe(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	m := timeframePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, fmt.Errorf("invalid timeframe %q: expected <number><m|h|d>", s)
	}

	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", s, err)
	}
	unit := m[2]

	if num <= zeroCutoff[unit] {
		return 0, nil
	}
	return num * unitMinutes[unit], nil
}

// FormatTimeframe renders minutes back into the shortest timeframe string
// that ParseTimeframe maps to the same value. Whole multiples of a day or
// an hour use the larger unit.
func FormatTimeframe(minutes float64) string {
	switch {
	case minutes >= 1440 && minutes == float64(int64(minutes/1440))*1440:
		return formatNum(minutes/1440) + "d"
	case minutes >= 60 && minutes == float64(int64(minutes/60))*60:
		return formatNum(minutes/60) + "h"
	default:
		return formatNum(minutes) + "m"
	}
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// TimeframeDuration parses a timeframe string directly into a
// time.Duration.
func TimeframeDuration(s string) (time.Duration, error) {
	minutes, err := ParseTimeframe(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(minutes * float64(time.Minute)), nil
}
