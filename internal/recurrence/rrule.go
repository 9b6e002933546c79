package recurrence

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"schedcal/internal/ical"
)

var bydayTokens = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

type ruleField struct {
	name  string
	value mo.Option[string]
}

// EncodeRRule renders p as an RRULE value. Every field, including the last,
// is terminated by ';'. INTERVAL is written whenever one was supplied, even
// a non-positive one. COUNT suppresses UNTIL. Non-recurring and malformed
// patterns have no rule.
func EncodeRRule(p Pattern) mo.Option[string] {
	if Validate(p) != nil {
		return mo.None[string]()
	}
	freq, ok := frequency(p.Kind)
	if !ok {
		return mo.None[string]()
	}

	fields := []ruleField{
		{"FREQ", mo.Some(freq)},
		{"INTERVAL", mapOption(p.Interval, strconv.Itoa)},
		{"COUNT", mapOption(p.MaxCount, strconv.Itoa)},
		{"BYDAY", bydayValue(p.Weekdays)},
		{"BYSETPOS", mapOption(p.WeekOrdinal, setPosition)},
		{"UNTIL", untilValue(p)},
	}

	var b strings.Builder
	for _, f := range fields {
		if v, ok := f.value.Get(); ok {
			b.WriteString(f.name + "=" + v + ";")
		}
	}
	return mo.Some(b.String())
}

func frequency(k Kind) (string, bool) {
	switch k {
	case Daily:
		return "DAILY", true
	case Weekly:
		return "WEEKLY", true
	case Monthly:
		return "MONTHLY", true
	case Yearly:
		return "YEARLY", true
	case NonRecurring:
		return "", false
	}
	return "", false
}


func bydayValue(m WeekdayMask) mo.Option[string] {
	days := make([]string, 0, len(bydayTokens))
	for d, token := range bydayTokens {
		if m[d] {
			days = append(days, token)
		}
	}
	if len(days) == 0 {
		return mo.None[string]()
	}
	return mo.Some(strings.Join(days, ","))
}

func setPosition(o Ordinal) string {
	if o == Last {
		return "-1"
	}
	return strconv.Itoa(int(o))
}

func untilValue(p Pattern) mo.Option[string] {
	if p.MaxCount.IsPresent() {
		return mo.None[string]()
	}
	return mapOption(p.Until, func(t time.Time) string {
		return t.UTC().Format(ical.DateTimeLayout)
	})
}

func mapOption[T, U any](o mo.Option[T], f func(T) U) mo.Option[U] {
	if v, ok := o.Get(); ok {
		return mo.Some(f(v))
	}
	return mo.None[U]()
}
