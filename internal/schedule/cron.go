// Package schedule implements cron-style schedule parsing and next-fire
// computation. Expressions use five fields (minute hour day-of-month month
// day-of-week) or six (with a leading seconds field). All evaluation is in
// UTC.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/refinery-etl/refinery/pkg/errors"
)

// FarFuture is the sentinel next-run value for disabled schedules.
var FarFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// searchHorizon bounds the next-fire scan. An expression that cannot fire
// within five years is treated as never firing.
const searchHorizon = 5 * 366 * 24 * time.Hour

type fieldSpec struct {
	min   int
	max   int
	names map[string]int
}

var (
	secondsField = fieldSpec{min: 0, max: 59}
	minutesField = fieldSpec{min: 0, max: 59}
	hoursField   = fieldSpec{min: 0, max: 23}
	domField     = fieldSpec{min: 1, max: 31}
	monthField   = fieldSpec{min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}}
	dowField = fieldSpec{min: 0, max: 6, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}}
)

// Expression is a parsed cron schedule.
type Expression struct {
	source  string
	seconds uint64
	minutes uint64
	hours   uint64
	dom     uint64
	months  uint64
	dow     uint64
	// restricted day fields participate in the day-of-month/day-of-week OR
	// rule the way classic cron defines it.
	domRestricted bool
	dowRestricted bool
}

// Parse compiles a 5- or 6-field cron expression.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	var withSeconds bool
	switch len(fields) {
	case 5:
	case 6:
		withSeconds = true
	default:
		return nil, errors.NewScheduleError(expr,
			fmt.Sprintf("expected 5 or 6 fields, got %d", len(fields)), nil)
	}

	e := &Expression{source: expr}
	idx := 0
	if withSeconds {
		bits, _, err := parseField(fields[idx], secondsField)
		if err != nil {
			return nil, errors.NewScheduleError(expr, "seconds field invalid", err)
		}
		e.seconds = bits
		idx++
	} else {
		e.seconds = 1 // second zero only
	}

	var err error
	var restricted bool
	if e.minutes, _, err = parseField(fields[idx], minutesField); err != nil {
		return nil, errors.NewScheduleError(expr, "minutes field invalid", err)
	}
	if e.hours, _, err = parseField(fields[idx+1], hoursField); err != nil {
		return nil, errors.NewScheduleError(expr, "hours field invalid", err)
	}
	if e.dom, restricted, err = parseField(fields[idx+2], domField); err != nil {
		return nil, errors.NewScheduleError(expr, "day-of-month field invalid", err)
	}
	e.domRestricted = restricted
	if e.months, _, err = parseField(fields[idx+3], monthField); err != nil {
		return nil, errors.NewScheduleError(expr, "month field invalid", err)
	}
	if e.dow, restricted, err = parseField(fields[idx+4], dowField); err != nil {
		return nil, errors.NewScheduleError(expr, "day-of-week field invalid", err)
	}
	e.dowRestricted = restricted
	return e, nil
}

// MustParse is Parse for static expressions.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source expression.
func (e *Expression) String() string { return e.source }

// parseField compiles one field into a bitmask over its value range. The
// second return reports whether the field restricts (is not "*" or "*/1").
func parseField(field string, spec fieldSpec) (uint64, bool, error) {
	var bits uint64
	restricted := true

	for _, part := range strings.Split(field, ",") {
		rangePart := part
		step := 1

		if slash := strings.IndexByte(part, '/'); slash >= 0 {
			rangePart = part[:slash]
			var err error
			step, err = strconv.Atoi(part[slash+1:])
			if err != nil || step <= 0 {
				return 0, false, fmt.Errorf("invalid step %q", part)
			}
		}

		lo, hi := spec.min, spec.max
		switch {
		case rangePart == "*" || rangePart == "?":
			if step == 1 && len(field) == len(part) {
				restricted = false
			}
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			var err error
			if lo, err = parseValue(bounds[0], spec); err != nil {
				return 0, false, err
			}
			if hi, err = parseValue(bounds[1], spec); err != nil {
				return 0, false, err
			}
			if lo > hi {
				return 0, false, fmt.Errorf("descending range %q", rangePart)
			}
		default:
			v, err := parseValue(rangePart, spec)
			if err != nil {
				return 0, false, err
			}
			lo, hi = v, v
			// A bare value with a step means "from value to max".
			if strings.IndexByte(part, '/') >= 0 {
				hi = spec.max
			}
		}

		for v := lo; v <= hi; v += step {
			bits |= 1 << uint(v)
		}
	}
	if bits == 0 {
		return 0, false, fmt.Errorf("field %q matches nothing", field)
	}
	return bits, restricted, nil
}

func parseValue(s string, spec fieldSpec) (int, error) {
	if spec.names != nil {
		if v, ok := spec.names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	// Sunday is both 0 and 7 in the day-of-week field.
	if spec.max == 6 && v == 7 {
		v = 0
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", v, spec.min, spec.max)
	}
	return v, nil
}

func bit(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}

// matchesDay applies the classic cron rule: when both day fields are
// restricted the day matches if either holds; otherwise both must hold
// (the unrestricted one always does).
func (e *Expression) matchesDay(t time.Time) bool {
	domOK := bit(e.dom, t.Day())
	dowOK := bit(e.dow, int(t.Weekday()))
	if e.domRestricted && e.dowRestricted {
		return domOK || dowOK
	}
	return domOK && dowOK
}

// Next returns the first fire time strictly after t, in UTC. Returns
// FarFuture when no fire time exists within the search horizon.
func (e *Expression) Next(t time.Time) time.Time {
	t = t.In(time.UTC).Truncate(time.Second).Add(time.Second)
	limit := t.Add(searchHorizon)

	for t.Before(limit) {
		if !bit(e.months, int(t.Month())) {
			// Jump to the first second of the next month.
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			continue
		}
		if !e.matchesDay(t) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			continue
		}
		if !bit(e.hours, t.Hour()) {
			t = t.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if !bit(e.minutes, t.Minute()) {
			t = t.Truncate(time.Minute).Add(time.Minute)
			continue
		}
		if !bit(e.seconds, t.Second()) {
			t = t.Add(time.Second)
			continue
		}
		return t
	}
	return FarFuture
}
