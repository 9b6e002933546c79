package model

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/mo"

	"schedcal/internal/recurrence"
)

// Schedule is a stored schedule record: the owning event's display metadata
// plus the raw recurrence fields in their legacy encoding.
type Schedule struct {
	ID      string `yaml:"id" json:"id"`
	EventID string `yaml:"event_id,omitempty" json:"event_id,omitempty"`

	Title           string `yaml:"title" json:"title"`
	Description     string `yaml:"description,omitempty" json:"description,omitempty"`
	DescriptionHTML string `yaml:"description_html,omitempty" json:"description_html,omitempty"`
	Location        string `yaml:"location,omitempty" json:"location,omitempty"`
	URL             string `yaml:"url,omitempty" json:"url,omitempty"`
	OrganizerName   string `yaml:"organizer_name,omitempty" json:"organizer_name,omitempty"`
	OrganizerEmail  string `yaml:"organizer_email,omitempty" json:"organizer_email,omitempty"`

	// Hidden schedules are filtered out by the default visibility policy.
	Hidden  bool      `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Created time.Time `yaml:"created,omitempty" json:"created,omitempty"`

	Start  time.Time `yaml:"start" json:"start"`
	End    time.Time `yaml:"end" json:"end"`
	AllDay bool      `yaml:"all_day,omitempty" json:"all_day,omitempty"`

	// Kind uses the legacy codes: 0/1 none, 2 daily, 3 weekly, 4 monthly, 5 yearly.
	Kind     int      `yaml:"kind" json:"kind"`
	Interval *int     `yaml:"interval,omitempty" json:"interval,omitempty"`
	Weekdays []string `yaml:"weekdays,omitempty" json:"weekdays,omitempty"`
	// WeekOrdinal: 1-4 first to fourth week, 5 last week.
	WeekOrdinal *int       `yaml:"week_ordinal,omitempty" json:"week_ordinal,omitempty"`
	MaxCount    *int       `yaml:"max_count,omitempty" json:"max_count,omitempty"`
	Until       *time.Time `yaml:"until,omitempty" json:"until,omitempty"`

	Overrides []Exception `yaml:"exceptions,omitempty" json:"exceptions,omitempty"`
}

// Exception cancels and/or adds a single instance of a schedule.
type Exception struct {
	Original    *time.Time `yaml:"original,omitempty" json:"original,omitempty"`
	Rescheduled *time.Time `yaml:"rescheduled,omitempty" json:"rescheduled,omitempty"`
}

var _ recurrence.Record = Schedule{}

func (s Schedule) Time(field string) (time.Time, bool) {
	switch field {
	case recurrence.FieldStart:
		return s.Start, !s.Start.IsZero()
	case recurrence.FieldEnd:
		return s.End, !s.End.IsZero()
	case recurrence.FieldUntil:
		if s.Until != nil {
			return *s.Until, true
		}
	}
	return time.Time{}, false
}

func (s Schedule) Int(field string) (int, bool) {
	var v *int
	switch field {
	case recurrence.FieldKind:
		return s.Kind, true
	case recurrence.FieldInterval:
		v = s.Interval
	case recurrence.FieldWeekOrdinal:
		v = s.WeekOrdinal
	case recurrence.FieldMaxCount:
		v = s.MaxCount
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

func (s Schedule) Bool(field string) bool {
	if field == recurrence.FieldAllDay {
		return s.AllDay
	}
	return slices.ContainsFunc(s.Weekdays, func(d string) bool {
		return strings.EqualFold(strings.TrimSpace(d), field)
	})
}

func (s Schedule) Exceptions() []recurrence.Exception {
	out := make([]recurrence.Exception, 0, len(s.Overrides))
	for _, ex := range s.Overrides {
		out = append(out, recurrence.Exception{
			Original:    optionalTime(ex.Original),
			Rescheduled: optionalTime(ex.Rescheduled),
		})
	}
	return out
}

// Pattern decodes the schedule's recurrence fields.
func (s Schedule) Pattern() (recurrence.Pattern, error) {
	return recurrence.FromRecord(s)
}

func optionalTime(t *time.Time) mo.Option[time.Time] {
	if t == nil {
		return mo.None[time.Time]()
	}
	return mo.Some(*t)
}

// Listing is one occurrence of a schedule with its event metadata attached,
// as shown in schedule listings.
type Listing struct {
	ScheduleID string
	EventID    string

	// InstanceKey uniquely identifies a single occurrence, derived from the
	// schedule ID and the occurrence start.
	InstanceKey string

	Title    string
	Location string
	URL      string

	AllDay bool
	Start  time.Time
	End    time.Time
}
