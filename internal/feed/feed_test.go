package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/metrics"
	"schedcal/internal/model"
)

type memoryRepo struct {
	schedules []model.Schedule
}

func (r memoryRepo) Get(_ context.Context, id string) (model.Schedule, error) {
	for _, s := range r.schedules {
		if s.ID == id {
			return s, nil
		}
	}
	return model.Schedule{}, ErrNotFound
}

func (r memoryRepo) List(context.Context) ([]model.Schedule, error) {
	return r.schedules, nil
}

func utc(y int, m time.Month, d, hh int) time.Time {
	return time.Date(y, m, d, hh, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func fixtures() []model.Schedule {
	return []model.Schedule{
		{
			ID:             "weekly",
			EventID:        "standup",
			Title:          "Standup",
			Location:       "Room 1",
			Description:    "Daily status, blockers",
			OrganizerName:  "Jane Doe",
			OrganizerEmail: "jane@example.org",
			Created:        utc(2023, 12, 1, 12),
			Start:          utc(2024, 1, 1, 9),
			End:            utc(2024, 1, 1, 10),
			Kind:           3,
			Interval:       ptr(2),
			Weekdays:       []string{"tuesday", "thursday"},
			MaxCount:       ptr(10),
		},
		{
			ID:    "daily",
			Title: "Gym",
			Start: utc(2024, 1, 1, 9),
			End:   utc(2024, 1, 1, 11),
			Kind:  2,
			Weekdays: []string{
				"monday", "wednesday", "friday",
			},
			Overrides: []model.Exception{{
				Original:    ptr(utc(2024, 1, 3, 9)),
				Rescheduled: ptr(utc(2024, 1, 4, 9)),
			}},
		},
		{
			ID:       "hidden",
			Title:    "Secret",
			Hidden:   true,
			Start:    utc(2024, 1, 2, 9),
			Kind:     2,
			Weekdays: []string{"tuesday", "wednesday"},
		},
		{
			ID:    "broken",
			Title: "Broken",
			Start: utc(2024, 1, 2, 9),
			Kind:  17,
		},
		{
			ID:          "bad-ordinal",
			Title:       "Bad ordinal",
			Start:       utc(2024, 1, 2, 9),
			Kind:        4,
			WeekOrdinal: ptr(12),
		},
		{
			ID:    "yearly",
			Title: "Anniversary",
			Start: utc(2024, 1, 3, 9),
			Kind:  5,
		},
	}
}

func newService(m *metrics.Metrics) *Service {
	return NewService(memoryRepo{schedules: fixtures()}, Options{
		Host:      "calendar.example.org",
		ProductID: "-//test//EN",
		Metrics:   m,
	})
}

func TestService_Listing(t *testing.T) {
	svc := newService(metrics.New())

	got, err := svc.Listing(context.Background(), utc(2024, 1, 1, 0), utc(2024, 1, 6, 0))
	require.NoError(t, err)

	var keys []string
	for _, l := range got {
		keys = append(keys, l.ScheduleID+"@"+l.Start.Format("Jan 2"))
	}
	assert.Equal(t, []string{
		"daily@Jan 1",
		"weekly@Jan 1",
		"daily@Jan 4",
		"daily@Jan 5",
	}, keys)

	assert.Equal(t, "Standup", got[1].Title)
	assert.Equal(t, "standup", got[1].EventID)
	assert.Equal(t, utc(2024, 1, 1, 10), got[1].End)
	assert.Equal(t, "daily/2024-01-04T09:00:00Z", got[2].InstanceKey)
}

func TestService_ListingSkipsFailingVisibility(t *testing.T) {
	svc := NewService(memoryRepo{schedules: fixtures()}, Options{
		Visibility: VisibilityFunc(func(_ context.Context, s model.Schedule) bool { return s.ID == "hidden" }),
	})

	got, err := svc.Listing(context.Background(), utc(2024, 1, 1, 0), utc(2024, 1, 4, 0))
	require.NoError(t, err)

	require.Len(t, got, 2)
	for _, l := range got {
		assert.Equal(t, "hidden", l.ScheduleID)
	}
}

func TestService_Calendar(t *testing.T) {
	svc := newService(nil)
	renderedAt := utc(2024, 1, 20, 8)

	doc, err := svc.Calendar(context.Background(), "weekly", renderedAt)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n"))
	assert.Contains(t, doc, "UID:weekly@calendar.example.org\r\n")
	assert.Contains(t, doc, "DTSTART:20240101T090000Z\r\nDTEND:20240101T100000Z\r\nDTSTAMP:20240120T080000Z\r\n")
	assert.Contains(t, doc, `DESCRIPTION:Daily status\, blockers`+"\r\n")
	assert.Contains(t, doc, "ORGANIZER;CN=Jane Doe:MAILTO:jane@example.org\r\n")
	assert.Contains(t, doc, "RRULE:FREQ=WEEKLY;INTERVAL=2;COUNT=10;BYDAY=TU,TH;\r\n")

	cal, err := goical.ParseCalendar(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, cal.Events(), 1)
}

func TestService_CalendarDegradesMalformedToNoRule(t *testing.T) {
	doc, err := newService(nil).Calendar(context.Background(), "broken", utc(2024, 1, 20, 8))
	require.NoError(t, err)

	assert.Contains(t, doc, "SUMMARY:Broken\r\n")
	assert.NotContains(t, doc, "RRULE")
}

func TestService_CalendarYearlyKeepsRule(t *testing.T) {
	doc, err := newService(nil).Calendar(context.Background(), "yearly", utc(2024, 1, 20, 8))
	require.NoError(t, err)

	assert.Contains(t, doc, "RRULE:FREQ=YEARLY;\r\n")
}

func TestService_NotFound(t *testing.T) {
	svc := newService(nil)
	ctx := context.Background()

	_, err := svc.Calendar(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Calendar(ctx, "hidden", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Preview(ctx, "hidden", utc(2024, 1, 1, 0), utc(2024, 2, 1, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_CalendarOccurrences(t *testing.T) {
	doc, err := newService(nil).CalendarOccurrences(context.Background(), "daily",
		utc(2024, 1, 1, 0), utc(2024, 1, 6, 0), utc(2024, 1, 20, 8))
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(doc, "BEGIN:VEVENT\r\n"))
	assert.Contains(t, doc, "UID:daily-20240104T090000Z@calendar.example.org\r\n")
	assert.Contains(t, doc, "DTSTART:20240104T090000Z\r\nDTEND:20240104T110000Z\r\n")
	assert.NotContains(t, doc, "RRULE")
}

func TestService_Preview(t *testing.T) {
	got, err := newService(nil).Preview(context.Background(), "weekly", utc(2024, 1, 1, 0), utc(2024, 1, 10, 0))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(utc(2024, 1, 2, 9)))
	assert.True(t, got[1].Equal(utc(2024, 1, 4, 9)))

	_, err = newService(nil).Preview(context.Background(), "broken", utc(2024, 1, 1, 0), utc(2024, 2, 1, 0))
	assert.Error(t, err)
}

func TestService_OccurrenceCap(t *testing.T) {
	m := metrics.New()
	svc := NewService(memoryRepo{schedules: fixtures()}, Options{MaxOccurrencesPerSchedule: 3, Metrics: m})
	ctx := context.Background()
	from, to := utc(2024, 1, 1, 0), utc(2900, 1, 1, 0)

	got, err := svc.Listing(ctx, from, to)
	require.NoError(t, err)

	perSchedule := map[string]int{}
	for _, l := range got {
		perSchedule[l.ScheduleID]++
	}
	assert.Equal(t, map[string]int{"daily": 3, "weekly": 3}, perSchedule)
	assert.Equal(t, utc(2024, 1, 29, 9), got[len(got)-1].Start)

	doc, err := svc.CalendarOccurrences(ctx, "daily", from, to, utc(2024, 1, 20, 8))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(doc, "BEGIN:VEVENT\r\n"))

	instants, err := svc.Preview(ctx, "daily", from, utc(2025, 1, 1, 0))
	require.NoError(t, err)
	assert.Len(t, instants, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `schedcal_truncated_expansions_total{kind="daily"} 3`)
	assert.Contains(t, rec.Body.String(), `schedcal_truncated_expansions_total{kind="weekly"} 1`)
}

func TestService_DefaultOccurrenceCap(t *testing.T) {
	svc := NewService(memoryRepo{}, Options{MaxOccurrencesPerSchedule: -1})
	assert.Equal(t, DefaultMaxOccurrences, svc.limit)
}
