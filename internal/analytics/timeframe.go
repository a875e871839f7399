package analytics

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidTimeframe is returned for a timeframe spec that does not match
// the {amount}{unit} format.
var ErrInvalidTimeframe = errors.New("analytics: invalid timeframe")

// timeframeRegex matches: {amount}{unit} where unit is hours, days, weeks
// or months. Example: 7d, 12h, 2w, 3m.
var timeframeRegex = regexp.MustCompile(`^(\d+)([dhwm])$`)

// ParseTimeframe converts a timeframe spec into a duration. Months are
// fixed 30-day windows.
func ParseTimeframe(spec string) (time.Duration, error) {
	matches := timeframeRegex.FindStringSubmatch(spec)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q (expected {amount}{d|h|w|m}, e.g. 7d)", ErrInvalidTimeframe, spec)
	}

	amount, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, spec)
	}

	var unit time.Duration
	switch matches[2] {
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	case "m":
		unit = 30 * 24 * time.Hour
	}
	return time.Duration(amount) * unit, nil
}
