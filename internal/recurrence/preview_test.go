package recurrence

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview_WeeklyHonoursByday(t *testing.T) {
	p := Pattern{
		Start:    utc(2024, 1, 2, 9, 0), // Tuesday
		Kind:     Weekly,
		Weekdays: NewWeekdayMask(time.Tuesday, time.Thursday),
		MaxCount: mo.Some(4),
	}
	from, to := utc(2024, 1, 1, 0, 0), utc(2024, 2, 1, 0, 0)

	got, err := Preview(p, from, to)
	require.NoError(t, err)

	assert.Equal(t, stamps(utc(2024, 1, 2, 9, 0), utc(2024, 1, 4, 9, 0), utc(2024, 1, 9, 9, 0), utc(2024, 1, 11, 9, 0)), stamps(got...))
	assert.Equal(t, stamps(utc(2024, 1, 2, 9, 0), utc(2024, 1, 9, 9, 0), utc(2024, 1, 16, 9, 0), utc(2024, 1, 23, 9, 0)), starts(Enumerate(p, from, to)))
}

func TestPreview_YearlyExpands(t *testing.T) {
	p := Pattern{Start: utc(2024, 3, 1, 9, 0), Kind: Yearly}

	got, err := Preview(p, utc(2024, 1, 1, 0, 0), utc(2026, 1, 1, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, stamps(utc(2024, 3, 1, 9, 0), utc(2025, 3, 1, 9, 0)), stamps(got...))
}

func TestPreview_Exceptions(t *testing.T) {
	p := Pattern{
		Start: utc(2024, 1, 1, 9, 0),
		Kind:  Weekly,
		Exceptions: []Exception{{
			Original:    mo.Some(utc(2024, 1, 8, 9, 0)),
			Rescheduled: mo.Some(utc(2024, 1, 9, 9, 0)),
		}},
	}

	got, err := Preview(p, utc(2024, 1, 1, 0, 0), utc(2024, 1, 16, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, stamps(utc(2024, 1, 1, 9, 0), utc(2024, 1, 9, 9, 0), utc(2024, 1, 15, 9, 0)), stamps(got...))
}

func TestPreview_NonRecurring(t *testing.T) {
	_, err := Preview(Pattern{Kind: NonRecurring}, utc(2024, 1, 1, 0, 0), utc(2024, 2, 1, 0, 0))

	assert.ErrorIs(t, err, ErrNoRule)
}

func TestPreview_NonPositiveIntervalStepsByOne(t *testing.T) {
	for _, interval := range []int{0, -3} {
		p := Pattern{Start: utc(2024, 1, 1, 9, 0), Kind: Weekly, Interval: mo.Some(interval)}

		got, err := Preview(p, utc(2024, 1, 1, 0, 0), utc(2024, 1, 20, 0, 0))
		require.NoError(t, err)

		want := stamps(utc(2024, 1, 1, 9, 0), utc(2024, 1, 8, 9, 0), utc(2024, 1, 15, 9, 0))
		assert.Equal(t, want, stamps(got...), "interval %d", interval)
		assert.Equal(t, want, starts(Enumerate(p, utc(2024, 1, 1, 0, 0), utc(2024, 1, 20, 0, 0))))
	}
}
