package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// uptimePattern matches "<n> <unit>" pairs as printed by `uptime -p`,
// e.g. "up 1 day, 2 hours, 30 minutes".
var uptimePattern = regexp.MustCompile(`(\d+)\s*([a-zA-Z]+)`)

var uptimeUnits = map[string]time.Duration{
	"w":       7 * 24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
}

// ParseUptime sums the week/day/hour/minute/second components of a human
// readable duration. Unknown tokens are skipped. It fails only when nothing at all
// could be recognized.
func ParseUptime(s string) (time.Duration, error) {
	var (
		total time.Duration
		found bool
	)
	for _, m := range uptimePattern.FindAllStringSubmatch(strings.ToLower(s), -1) {
		unit, ok := uptimeUnits[m[2]]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		total += time.Duration(n) * unit
		found = true
	}
	if !found {
		return 0, fmt.Errorf("no duration found in %q", s)
	}
	return total, nil
}
