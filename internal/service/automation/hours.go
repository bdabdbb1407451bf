package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeWindow is a daily clock window in minutes since midnight. End may wrap
// past midnight (start > end), e.g. quiet hours 22:00-07:00. Start == End is
// an empty window.
type TimeWindow struct {
	Start int
	End   int
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// ParseWindow builds a window from "HH:MM" start and end strings.
func ParseWindow(start, end string) (TimeWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return TimeWindow{}, err
	}
	return TimeWindow{Start: s, End: e}, nil
}

// Contains reports whether t's local clock falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()

	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		// 同日窗口，如 09:00-17:00
		return minute >= w.Start && minute < w.End
	}
	// 跨夜窗口，如 22:00-07:00
	return minute >= w.Start || minute < w.End
}

var businessWindow = TimeWindow{Start: 9 * 60, End: 17 * 60}

// InBusinessHours reports whether t is Mon-Fri 09:00-17:00 in its own
// location. Callers pass a time already shifted to the user's timezone.
func InBusinessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return businessWindow.Contains(t)
}
