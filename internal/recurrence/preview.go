package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrNoRule is returned by Preview for patterns that encode to no RRULE.
var ErrNoRule = errors.New("recurrence: pattern has no rule")

// Preview expands the RRULE that EncodeRRule produces for p, the way a
// standards-following calendar client reading the feed would, and returns
// the instants in [windowStart, windowEnd). Exceptions become EXDATE/RDATE
// entries. Unlike Enumerate it honours BYDAY for every frequency and expands
// yearly rules.
func Preview(p Pattern, windowStart, windowEnd time.Time) ([]time.Time, error) {
	rule, ok := EncodeRRule(p).Get()
	if !ok {
		return nil, ErrNoRule
	}

	opt, err := rrule.StrToROption(strings.TrimSuffix(rule, ";"))
	if err != nil {
		return nil, fmt.Errorf("preview: parse %q: %w", rule, err)
	}
	opt.Dtstart = p.Start
	// Enumeration treats a non-positive interval as 1.
	if opt.Interval <= 0 {
		opt.Interval = 1
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("preview: build %q: %w", rule, err)
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range p.Exceptions {
		if orig, ok := ex.Original.Get(); ok {
			set.ExDate(orig)
		}
		if moved, ok := ex.Rescheduled.Get(); ok {
			set.RDate(moved)
		}
	}

	out := make([]time.Time, 0)
	for _, t := range set.Between(windowStart, windowEnd, true) {
		if inWindow(t, windowStart, windowEnd) {
			out = append(out, t)
		}
	}
	return out, nil
}
