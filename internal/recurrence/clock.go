package recurrence

import (
	"fmt"
	"strconv"
	"strings"
)

type clock struct {
	hour, min, sec int
}

// parseClock accepts "H:MM", "HH:MM" and "HH:MM:SS".
func parseClock(s string) (clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return clock{}, fmt.Errorf("%w: time of day %q", ErrInvalidRule, s)
	}

	var vals [3]int
	limits := [3]int{23, 59, 59}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return clock{}, fmt.Errorf("%w: time of day %q", ErrInvalidRule, s)
		}
		vals[i] = v
	}
	return clock{hour: vals[0], min: vals[1], sec: vals[2]}, nil
}
