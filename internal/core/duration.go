package core

import (
	"fmt"
	"strings"
	"time"
)

// parseDurationField parses an optional duration config value; empty means
// "unset" and returns 0 without error.
func parseDurationField(name, val string) (time.Duration, error) {
	v := strings.TrimSpace(val)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, val, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", name, val)
	}
	return d, nil
}

func parseDurationOrDefault(name, val string, def time.Duration) (time.Duration, error) {
	d, err := parseDurationField(name, val)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
