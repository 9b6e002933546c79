package recurrence

import (
	"errors"
	"time"

	"github.com/samber/mo"
)

// Kind is the recurrence frequency of a schedule.
type Kind int

const (
	NonRecurring Kind = iota
	Daily
	Weekly
	Monthly
	Yearly
)

func (k Kind) String() string {
	switch k {
	case NonRecurring:
		return "non_recurring"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// Ordinal selects a week of the month for monthly schedules.
type Ordinal int

const (
	First Ordinal = iota + 1
	Second
	Third
	Fourth
	Last
)

// Valid reports whether o is one of First..Last.
func (o Ordinal) Valid() bool {
	return o >= First && o <= Last
}

// WeekdayMask holds one flag per weekday, indexed by time.Weekday.
type WeekdayMask [7]bool

// NewWeekdayMask returns a mask with the given days set.
func NewWeekdayMask(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			m[d] = true
		}
	}
	return m
}

// Has reports whether d is set.
func (m WeekdayMask) Has(d time.Weekday) bool {
	return m[d]
}

// Any reports whether at least one day is set.
func (m WeekdayMask) Any() bool {
	for _, set := range m {
		if set {
			return true
		}
	}
	return false
}

// Exception overrides a single instance of a schedule. Original removes an
// instant from the expansion, Rescheduled adds one. Either or both may be set.
type Exception struct {
	Original    mo.Option[time.Time]
	Rescheduled mo.Option[time.Time]
}

// Pattern is a normalized recurrence rule together with its exceptions.
// It is a read-only snapshot built at query time.
type Pattern struct {
	// Start and End bound the first occurrence.
	Start time.Time
	End   time.Time

	Kind Kind

	// Interval is the explicitly supplied step multiplier. Enumeration
	// treats an absent or non-positive value as 1.
	Interval mo.Option[int]

	// Weekdays is only consulted by Daily enumeration.
	Weekdays WeekdayMask

	// WeekOrdinal is only meaningful for Monthly patterns.
	WeekOrdinal mo.Option[Ordinal]

	MaxCount mo.Option[int]
	Until    mo.Option[time.Time]

	AllDay bool

	Exceptions []Exception
}

// Occurrence is one concrete instance of a pattern.
type Occurrence struct {
	Start  time.Time
	End    time.Time
	AllDay bool
}

var (
	ErrUnknownKind    = errors.New("recurrence: unknown kind")
	ErrInvalidOrdinal = errors.New("recurrence: invalid week ordinal")
)

// Validate reports why p cannot be expanded or encoded, if at all.
func Validate(p Pattern) error {
	switch p.Kind {
	case NonRecurring, Daily, Weekly, Yearly:
	case Monthly:
		if o, ok := p.WeekOrdinal.Get(); ok && !o.Valid() {
			return ErrInvalidOrdinal
		}
	default:
		return ErrUnknownKind
	}
	return nil
}

// Duration is End-Start, or zero when End is not after Start.
func (p Pattern) Duration() time.Duration {
	if p.Start.IsZero() || p.End.IsZero() || !p.End.After(p.Start) {
		return 0
	}
	return p.End.Sub(p.Start)
}

func (p Pattern) step() int {
	if n, ok := p.Interval.Get(); ok && n > 0 {
		return n
	}
	return 1
}

func (p Pattern) occurrence(start time.Time) Occurrence {
	return Occurrence{
		Start:  start,
		End:    start.Add(p.Duration()),
		AllDay: p.AllDay,
	}
}
