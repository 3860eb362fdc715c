package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeSpecRE = regexp.MustCompile(`^(\d+)([smh])$`)

// ParseTimeSpec parses a human interval like "5m", "2h" or "1800s" into a
// duration. ok is false when the input does not match the grammar; callers
// must treat that as a user input error, distinct from a parsed zero.
// Compound forms ("2h30m") are deliberately not accepted.
func ParseTimeSpec(raw string) (d time.Duration, ok bool) {
	m := timeSpecRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(raw)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "m":
		n *= 60
	case "h":
		n *= 3600
	}
	return time.Duration(n) * time.Second, true
}

// FormatInterval renders a duration in the shortest human form:
// "45s", "30m", "2h", "2h 30m". Sub-minute remainders above one minute are
// truncated.
func FormatInterval(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm", secs/60)
	default:
		h := secs / 3600
		m := (secs % 3600) / 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	}
}
