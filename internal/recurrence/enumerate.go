package recurrence

import (
	"slices"
	"time"
)

// ordinalSlack extends the date bound of ordinal monthly expansion so that a
// "last week" candidate just past the window end is still resolved.
const ordinalSlack = 7 * 24 * time.Hour

// Enumerate returns the occurrences of p whose start lies in
// [windowStart, windowEnd), after applying p's exceptions, ordered by start.
//
// Malformed patterns and Yearly patterns produce no occurrences. An empty or
// inverted window produces no occurrences.
//
// NonRecurring patterns use an overlap test instead: the single occurrence is
// kept when its end is not before windowStart and its start is before
// windowEnd.
func Enumerate(p Pattern, windowStart, windowEnd time.Time) []Occurrence {
	occs, _ := EnumerateLimit(p, windowStart, windowEnd, 0)
	return occs
}

// EnumerateLimit is Enumerate capped at the first limit occurrences. It
// reports whether occurrences past the cap were dropped. A limit of zero or
// less disables the cap.
func EnumerateLimit(p Pattern, windowStart, windowEnd time.Time, limit int) ([]Occurrence, bool) {
	if Validate(p) != nil || !windowStart.Before(windowEnd) {
		return nil, false
	}

	// Each exception removes at most one generated start, so collecting this
	// many keeps the first limit results exact.
	stop := 0
	if limit > 0 {
		stop = limit + len(p.Exceptions) + 1
	}

	var starts []time.Time
	switch p.Kind {
	case NonRecurring:
		occ := p.occurrence(p.Start)
		if !occ.End.Before(windowStart) && p.Start.Before(windowEnd) {
			starts = append(starts, p.Start)
		}
	case Daily:
		starts = p.stepDays(windowStart, windowEnd, p.step(), true, stop)
	case Weekly:
		starts = p.stepDays(windowStart, windowEnd, 7*p.step(), false, stop)
	case Monthly:
		if o, ok := p.WeekOrdinal.Get(); ok {
			starts = p.stepOrdinal(windowStart, windowEnd, o, stop)
		} else {
			starts = p.stepMonths(windowStart, windowEnd, stop)
		}
	case Yearly:
		return nil, false
	}

	starts = applyExceptions(starts, p.Exceptions, windowStart, windowEnd)
	slices.SortStableFunc(starts, func(a, b time.Time) int { return a.Compare(b) })

	truncated := false
	if limit > 0 && len(starts) > limit {
		starts, truncated = starts[:limit], true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, p.occurrence(s))
	}
	return out, truncated
}

// limiter tracks the stop conditions shared by every recurring branch.
type limiter struct {
	p     Pattern
	bound time.Time
	count int
}

// next reports whether another iteration may run for cursor, counting it.
// The count is compared before it is incremented.
func (l *limiter) next(cursor time.Time) bool {
	if limit, ok := l.p.MaxCount.Get(); ok && l.count >= limit {
		return false
	}
	if cursor.After(l.bound) {
		return false
	}
	if until, ok := l.p.Until.Get(); ok && cursor.After(until) {
		return false
	}
	l.count++
	return true
}

func inWindow(t, windowStart, windowEnd time.Time) bool {
	return !t.Before(windowStart) && t.Before(windowEnd)
}

// full reports whether a step function has collected stop starts. A stop of
// zero never fills.
func full(out []time.Time, stop int) bool {
	return stop > 0 && len(out) >= stop
}

func (p Pattern) stepDays(windowStart, windowEnd time.Time, days int, useMask bool, stop int) []time.Time {
	var out []time.Time
	lim := limiter{p: p, bound: windowEnd}
	for cursor := p.Start; !full(out, stop) && lim.next(cursor); cursor = cursor.AddDate(0, 0, days) {
		if !inWindow(cursor, windowStart, windowEnd) {
			continue
		}
		if useMask && !p.Weekdays.Has(cursor.Weekday()) {
			continue
		}
		out = append(out, cursor)
	}
	return out
}

func (p Pattern) stepMonths(windowStart, windowEnd time.Time, stop int) []time.Time {
	var out []time.Time
	lim := limiter{p: p, bound: windowEnd}
	for i := 0; !full(out, stop); i++ {
		cursor := addMonths(p.Start, i*p.step())
		if !lim.next(cursor) {
			break
		}
		if inWindow(cursor, windowStart, windowEnd) {
			out = append(out, cursor)
		}
	}
	return out
}

func (p Pattern) stepOrdinal(windowStart, windowEnd time.Time, o Ordinal, stop int) []time.Time {
	var out []time.Time
	lim := limiter{p: p, bound: windowEnd.Add(ordinalSlack)}
	for i := 0; !full(out, stop); i++ {
		cursor := addMonths(p.Start, i*p.step())
		if !lim.next(cursor) {
			break
		}
		candidate := nthWeekday(cursor, o, p.Start.Weekday())
		if until, ok := p.Until.Get(); ok && candidate.After(until) {
			continue
		}
		if inWindow(candidate, windowStart, windowEnd) {
			out = append(out, candidate)
		}
	}
	return out
}

// nthWeekday returns the day in cursor's month that falls on weekday within
// the week selected by o, keeping cursor's clock time.
func nthWeekday(cursor time.Time, o Ordinal, weekday time.Weekday) time.Time {
	y, m, _ := cursor.Date()
	hh, mm, ss := cursor.Clock()
	first := time.Date(y, m, 1, hh, mm, ss, cursor.Nanosecond(), cursor.Location())

	var candidate time.Time
	if o == Last {
		candidate = first.AddDate(0, 1, -7)
	} else {
		candidate = first.AddDate(0, 0, 7*int(o-First))
	}
	for candidate.Weekday() != weekday {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// addMonths adds n calendar months to t, clamping the day of month to the
// length of the target month instead of overflowing into the next one.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	target := time.Date(y, m+time.Month(n), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); d > last {
		d = last
	}
	return target.AddDate(0, 0, d-1)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// applyExceptions processes exceptions in list order: the original instant is
// removed first, then the rescheduled instant is added when it is in window.
func applyExceptions(starts []time.Time, exceptions []Exception, windowStart, windowEnd time.Time) []time.Time {
	for _, ex := range exceptions {
		if orig, ok := ex.Original.Get(); ok {
			starts = slices.DeleteFunc(starts, orig.Equal)
		}
		if moved, ok := ex.Rescheduled.Get(); ok && inWindow(moved, windowStart, windowEnd) {
			starts = append(starts, moved)
		}
	}
	return starts
}
