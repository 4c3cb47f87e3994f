package alarm

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// TestAlarmID is the fixed identifier used by Scheduler.ScheduleTestFire.
// It has only two segments, so a test fire never re-arms itself.
const TestAlarmID = "test_alarm"

// FormatID builds "<label>_<hour>_<minute>". Underscores inside the label
// are replaced with '-' so the id stays parseable.
func FormatID(label string, hour, minute int) string {
	label = strings.ReplaceAll(strings.TrimSpace(label), "_", "-")
	if label == "" {
		label = "brightness"
	}
	return fmt.Sprintf("%s_%d_%d", label, hour, minute)
}

// ParseID recovers (hour, minute) from an identifier. Segments 1 and 2 must
// be non-negative integers; anything else is ErrMalformedIdentifier.
// Range is not checked: out-of-range values roll over in NextFireInstant.
func ParseID(id string) (hour, minute int, err error) {
	parts := strings.Split(id, "_")
	if len(parts) < 3 {
		return 0, 0, fmt.Errorf("%w: %q has %d segments, want at least 3", ErrMalformedIdentifier, id, len(parts))
	}
	hour, err = strconv.Atoi(parts[1])
	if err != nil || hour < 0 {
		return 0, 0, fmt.Errorf("%w: %q: bad hour %q", ErrMalformedIdentifier, id, parts[1])
	}
	minute, err = strconv.Atoi(parts[2])
	if err != nil || minute < 0 {
		return 0, 0, fmt.Errorf("%w: %q: bad minute %q", ErrMalformedIdentifier, id, parts[2])
	}
	return hour, minute, nil
}

// TokenFor derives the timer token for an identifier (FNV-1a 64).
func TokenFor(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}

// NextFireInstant returns the next instant at hour:minute:00.000 in now's
// location: today if that is strictly after now, otherwise tomorrow.
func NextFireInstant(now time.Time, hour, minute int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}
