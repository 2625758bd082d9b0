package gcp

import (
	"strconv"
	"strings"
	"time"
)

// EndTimeNow makes an interval end at the current time.
const EndTimeNow = "now"

var windowUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseInterval returns the interval of length window ending at endTime.
// endTime is EndTimeNow or an RFC 3339 timestamp. window is a Go duration
// ("90m"), a number of days ("2d") or a count and a unit ("5 minutes").
func ParseInterval(now time.Time, endTime, window string) (time.Time, time.Time, error) {
	end := now

	if endTime != EndTimeNow {
		var err error

		end, err = time.Parse(time.RFC3339, endTime)
		if err != nil {
			return time.Time{}, time.Time{}, ActivityFailed("unparsable end time value")
		}
	}

	length, err := parseWindow(window)
	if err != nil || length <= 0 {
		return time.Time{}, time.Time{}, ActivityFailed("unparsable window value")
	}

	return end.Add(-length), end, nil
}

func parseWindow(window string) (time.Duration, error) {
	window = strings.TrimSpace(window)

	if count, unit, ok := strings.Cut(window, " "); ok {
		n, err := strconv.Atoi(count)
		if err != nil {
			return 0, err
		}

		length, ok := windowUnits[strings.TrimSuffix(strings.TrimSpace(unit), "s")]
		if !ok {
			return 0, strconv.ErrSyntax
		}

		return time.Duration(n) * length, nil
	}

	if days, ok := strings.CutSuffix(window, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}

		return time.Duration(n) * 24 * time.Hour, nil
	}

	return time.ParseDuration(window)
}
