package recurrence

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// Field names understood by FromRecord.
const (
	FieldStart       = "start"
	FieldEnd         = "end"
	FieldKind        = "kind"
	FieldInterval    = "interval"
	FieldWeekOrdinal = "week_ordinal"
	FieldMaxCount    = "max_count"
	FieldUntil       = "until"
	FieldAllDay      = "all_day"
)

// WeekdayFields maps time.Weekday to its boolean field name.
var WeekdayFields = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// Record exposes a stored schedule through typed getters keyed by field name.
// The second return value of Time and Int reports whether the field is set.
type Record interface {
	Time(field string) (time.Time, bool)
	Int(field string) (int, bool)
	Bool(field string) bool
	Exceptions() []Exception
}

// Legacy numeric kind codes used by stored schedule records.
const (
	codeDaily   = 2
	codeWeekly  = 3
	codeMonthly = 4
	codeYearly  = 5
)

// KindFromCode maps a stored kind code to a Kind. Codes 0 and 1 are
// non-recurring.
func KindFromCode(code int) (Kind, error) {
	switch code {
	case 0, 1:
		return NonRecurring, nil
	case codeDaily:
		return Daily, nil
	case codeWeekly:
		return Weekly, nil
	case codeMonthly:
		return Monthly, nil
	case codeYearly:
		return Yearly, nil
	}
	return 0, fmt.Errorf("%w: code %d", ErrUnknownKind, code)
}

// Code is the inverse of KindFromCode.
func (k Kind) Code() int {
	switch k {
	case Daily:
		return codeDaily
	case Weekly:
		return codeWeekly
	case Monthly:
		return codeMonthly
	case Yearly:
		return codeYearly
	default:
		return 1
	}
}

// FromRecord builds a Pattern from rec. Only an unrecognized kind code is an
// error; an out-of-range week ordinal is kept so that Validate rejects the
// pattern and it expands to nothing.
func FromRecord(rec Record) (Pattern, error) {
	var p Pattern

	code, _ := rec.Int(FieldKind)
	kind, err := KindFromCode(code)
	if err != nil {
		return p, err
	}
	p.Kind = kind

	p.Start, _ = rec.Time(FieldStart)
	p.End, _ = rec.Time(FieldEnd)
	p.AllDay = rec.Bool(FieldAllDay)

	if n, ok := rec.Int(FieldInterval); ok {
		p.Interval = mo.Some(n)
	}
	for d, name := range WeekdayFields {
		p.Weekdays[d] = rec.Bool(name)
	}
	if n, ok := rec.Int(FieldWeekOrdinal); ok && n != 0 {
		p.WeekOrdinal = mo.Some(Ordinal(n))
	}
	if n, ok := rec.Int(FieldMaxCount); ok && n >= 0 {
		p.MaxCount = mo.Some(n)
	}
	if t, ok := rec.Time(FieldUntil); ok {
		p.Until = mo.Some(t)
	}
	p.Exceptions = rec.Exceptions()

	return p, nil
}
