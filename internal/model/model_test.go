package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"schedcal/internal/recurrence"
)

const scheduleYAML = `
id: s-1
event_id: e-1
title: Team sync
start: 2024-01-01T09:00:00Z
end: 2024-01-01T10:00:00Z
kind: 3
interval: 2
weekdays: [Tuesday, thursday]
max_count: 10
exceptions:
  - original: 2024-01-15T09:00:00Z
    rescheduled: 2024-01-16T09:00:00Z
  - original: 2024-01-29T09:00:00Z
`

func TestSchedule_PatternFromYAML(t *testing.T) {
	var s Schedule
	require.NoError(t, yaml.Unmarshal([]byte(scheduleYAML), &s))

	p, err := s.Pattern()
	require.NoError(t, err)

	assert.Equal(t, recurrence.Weekly, p.Kind)
	assert.Equal(t, 2, p.Interval.MustGet())
	assert.Equal(t, 10, p.MaxCount.MustGet())
	assert.Equal(t, recurrence.NewWeekdayMask(time.Tuesday, time.Thursday), p.Weekdays)
	assert.True(t, p.WeekOrdinal.IsAbsent())
	assert.True(t, p.Until.IsAbsent())
	require.Len(t, p.Exceptions, 2)
	assert.True(t, p.Exceptions[1].Rescheduled.IsAbsent())

	rule, ok := recurrence.EncodeRRule(p).Get()
	require.True(t, ok)
	assert.Equal(t, "FREQ=WEEKLY;INTERVAL=2;COUNT=10;BYDAY=TU,TH;", rule)
}

func TestSchedule_Getters(t *testing.T) {
	until := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s := Schedule{Kind: 2, AllDay: true, Until: &until}

	_, ok := s.Time(recurrence.FieldStart)
	assert.False(t, ok)
	got, ok := s.Time(recurrence.FieldUntil)
	assert.True(t, ok)
	assert.Equal(t, until, got)

	_, ok = s.Int(recurrence.FieldInterval)
	assert.False(t, ok)
	kind, ok := s.Int(recurrence.FieldKind)
	assert.True(t, ok)
	assert.Equal(t, 2, kind)

	assert.True(t, s.Bool(recurrence.FieldAllDay))
	assert.False(t, s.Bool("monday"))
	assert.Empty(t, s.Exceptions())
}

func TestSchedule_UnknownKind(t *testing.T) {
	_, err := Schedule{Kind: 11}.Pattern()

	assert.ErrorIs(t, err, recurrence.ErrUnknownKind)
}
