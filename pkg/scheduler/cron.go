// Package scheduler materializes tasks from cron schedules.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronError marks an unparseable or unsatisfiable cron expression. The
// tick loop disables schedules that raise it.
type CronError struct {
	msg string
}

func (e *CronError) Error() string {
	return e.msg
}

func cronErrorf(format string, args ...any) error {
	return &CronError{msg: fmt.Sprintf(format, args...)}
}

// Cron is a parsed 5-field expression (minute hour dom month dow) at
// one-minute resolution. Day-of-week 0 and 7 both mean Sunday; values are
// normalized to 0-6 with Sunday=0.
type Cron struct {
	minutes map[int]bool
	hours   map[int]bool
	dom     map[int]bool
	months  map[int]bool
	dow     map[int]bool
}

// maxLookaheadDays bounds NextAfter's brute-force search.
const maxLookaheadDays = 366

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (*Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, cronErrorf("cron must have 5 fields: min hour dom month dow")
	}
	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, err
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, err
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, err
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, err
	}
	dowRaw, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, err
	}
	dow := make(map[int]bool, len(dowRaw))
	for v := range dowRaw {
		if v == 7 {
			v = 0
		}
		dow[v] = true
	}
	return &Cron{minutes: minutes, hours: hours, dom: dom, months: months, dow: dow}, nil
}

func parseField(field string, min, max int) (map[int]bool, error) {
	field = strings.TrimSpace(field)
	values := make(map[int]bool)
	fill := func(a, b, step int) error {
		if a < min || b > max || a > b {
			return cronErrorf("invalid range %d-%d", a, b)
		}
		if step <= 0 {
			return cronErrorf("invalid step %d", step)
		}
		for v := a; v <= b; v += step {
			values[v] = true
		}
		return nil
	}
	if field == "*" {
		_ = fill(min, max, 1)
		return values, nil
	}

	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "*":
			if err := fill(min, max, 1); err != nil {
				return nil, err
			}
		case strings.HasPrefix(part, "*/"):
			step, err := strconv.Atoi(part[2:])
			if err != nil {
				return nil, cronErrorf("invalid step in %q", part)
			}
			if err := fill(min, max, step); err != nil {
				return nil, err
			}
		case strings.Contains(part, "/"):
			rng, stepStr, _ := strings.Cut(part, "/")
			step, err := strconv.Atoi(stepStr)
			if err != nil {
				return nil, cronErrorf("invalid step in %q", part)
			}
			a, b := min, max
			if strings.Contains(rng, "-") {
				aStr, bStr, _ := strings.Cut(rng, "-")
				if a, err = strconv.Atoi(aStr); err != nil {
					return nil, cronErrorf("invalid range in %q", part)
				}
				if b, err = strconv.Atoi(bStr); err != nil {
					return nil, cronErrorf("invalid range in %q", part)
				}
			} else {
				if a, err = strconv.Atoi(rng); err != nil {
					return nil, cronErrorf("invalid value in %q", part)
				}
				b = max
			}
			if err := fill(a, b, step); err != nil {
				return nil, err
			}
		case strings.Contains(part, "-"):
			aStr, bStr, _ := strings.Cut(part, "-")
			a, err := strconv.Atoi(aStr)
			if err != nil {
				return nil, cronErrorf("invalid range in %q", part)
			}
			b, err := strconv.Atoi(bStr)
			if err != nil {
				return nil, cronErrorf("invalid range in %q", part)
			}
			if err := fill(a, b, 1); err != nil {
				return nil, err
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, cronErrorf("invalid value %q", part)
			}
			if v < min || v > max {
				return nil, cronErrorf("value %d out of range %d-%d", v, min, max)
			}
			values[v] = true
		}
	}
	return values, nil
}

// Matches reports whether t satisfies the expression. Seconds are ignored.
func (c *Cron) Matches(t time.Time) bool {
	cronDow := int(t.Weekday()) // time.Sunday == 0, matching cron
	return c.minutes[t.Minute()] &&
		c.hours[t.Hour()] &&
		c.dom[t.Day()] &&
		c.months[int(t.Month())] &&
		c.dow[cronDow]
}

// NextAfter returns the first matching minute strictly after t, searching
// minute by minute up to the lookahead window. Good enough for small
// schedule counts.
func (c *Cron) NextAfter(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	end := after.AddDate(0, 0, maxLookaheadDays)
	for !t.After(end) {
		if c.Matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, cronErrorf("no matching time found within lookahead window")
}
