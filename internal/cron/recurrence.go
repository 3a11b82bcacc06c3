package cron

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
)

var specParser = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// datetimeLayouts are accepted for once schedules without an explicit offset.
var datetimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// NextRun returns the next trigger instant of s strictly after now, in UTC.
// It reads no clock; the same inputs always give the same answer.
func NextRun(s Schedule, now time.Time) (time.Time, error) {
	next, err := nextRun(s, now)
	if err != nil {
		return time.Time{}, &RecurrenceError{Type: s.Type, Err: err}
	}
	return next, nil
}

func nextRun(s Schedule, now time.Time) (time.Time, error) {
	loc, err := loadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	switch s.Type {
	case ScheduleOnce:
		return parseOnce(s.Datetime, loc)
	case ScheduleDaily:
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return time.Time{}, err
		}
		return nextAt(h, m, nil, loc, now)
	case ScheduleWeekly:
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return time.Time{}, err
		}
		days, err := parseWeekdays(s.Days)
		if err != nil {
			return time.Time{}, err
		}
		return nextAt(h, m, days, loc, now)
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// nextAt returns the next h:m wall time in loc on one of days, or on any day
// when days is nil. The cron spec skips a wall time that the clocks jump over;
// such a day instead runs at the instant localizeToUTC gives, as once
// schedules do.
func nextAt(h, m int, days map[time.Weekday]bool, loc *time.Location, now time.Time) (time.Time, error) {
	next, err := nextFromSpec(fmt.Sprintf("%d %d * * %s", m, h, dowField(days)), loc, now)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(loc)
	for i := 0; i <= 7; i++ {
		day := time.Date(local.Year(), local.Month(), local.Day()+i, h, m, 0, 0, time.UTC)
		if days != nil && !days[day.Weekday()] {
			continue
		}
		at := localizeToUTC(day, loc)
		if !at.After(now) {
			continue
		}
		if at.Before(next) {
			return at, nil
		}
		break
	}
	return next, nil
}

func nextFromSpec(spec string, loc *time.Location, now time.Time) (time.Time, error) {
	sched, err := specParser.Parse(fmt.Sprintf("CRON_TZ=%s %s", loc.String(), spec))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse spec %q: %w", spec, err)
	}
	next := sched.Next(now.In(loc))
	if next.IsZero() {
		return time.Time{}, errors.New("no upcoming occurrence")
	}
	return next.UTC(), nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, errors.New("timezone is required")
	}
	// "Local" would resolve to the server zone.
	if strings.EqualFold(tz, "local") {
		return nil, fmt.Errorf("unsupported timezone %q", tz)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func parseOnce(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("datetime is required")
	}
	// An explicit offset wins over the schedule timezone.
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range datetimeLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err != nil {
			continue
		}
		return localizeToUTC(t, loc), nil
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", value)
}

// localizeToUTC reads the wall clock fields of naive as a civil time in loc
// and returns the matching instant in UTC. A wall time skipped by a forward
// clock change is read with the offset in effect before the change, so 02:30
// on a day that jumps from 02:00 to 03:00 runs at 03:30.
func localizeToUTC(naive time.Time, loc *time.Location) time.Time {
	t := time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), naive.Second(), 0, loc)
	if t.Hour() == naive.Hour() && t.Minute() == naive.Minute() {
		return t.UTC()
	}
	_, before := t.Add(-24 * time.Hour).Zone()
	civil := time.Date(naive.Year(), naive.Month(), naive.Day(),
		naive.Hour(), naive.Minute(), naive.Second(), 0, time.UTC)
	return civil.Add(-time.Duration(before) * time.Second)
}

func parseHHMM(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// parseWeekdays turns day names into a set of weekdays.
func parseWeekdays(days []string) (map[time.Weekday]bool, error) {
	if len(days) == 0 {
		return nil, errors.New("at least one weekday is required")
	}
	seen := map[time.Weekday]bool{}
	for _, d := range days {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", d)
		}
		seen[wd] = true
	}
	return seen, nil
}

// dowField renders days as a cron day-of-week field like "1,3,5". A nil set
// is every day.
func dowField(days map[time.Weekday]bool) string {
	if days == nil {
		return "*"
	}
	idx := make([]int, 0, len(days))
	for wd := range days {
		idx = append(idx, int(wd))
	}
	sort.Ints(idx)
	fields := make([]string, len(idx))
	for i, v := range idx {
		fields[i] = strconv.Itoa(v)
	}
	return strings.Join(fields, ",")
}
