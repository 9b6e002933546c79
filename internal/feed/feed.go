// Package feed turns stored schedules into occurrence listings and calendar
// documents. It owns the collaborator contracts (repository and visibility)
// and keeps one malformed schedule from affecting the others.
package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"schedcal/internal/ical"
	appLog "schedcal/internal/log"
	"schedcal/internal/metrics"
	"schedcal/internal/model"
	"schedcal/internal/recurrence"
)

// DefaultMaxOccurrences caps the occurrences expanded from one schedule when
// Options.MaxOccurrencesPerSchedule is not set.
const DefaultMaxOccurrences = 5000

// ErrNotFound is returned when a schedule does not exist or is not visible.
var ErrNotFound = errors.New("schedule not found")

// Repository supplies schedule records.
type Repository interface {
	Get(ctx context.Context, id string) (model.Schedule, error)
	List(ctx context.Context) ([]model.Schedule, error)
}

// Visibility decides whether a caller may see a schedule.
type Visibility interface {
	Visible(ctx context.Context, s model.Schedule) bool
}

// VisibilityFunc adapts a function to Visibility.
type VisibilityFunc func(ctx context.Context, s model.Schedule) bool

func (f VisibilityFunc) Visible(ctx context.Context, s model.Schedule) bool {
	return f(ctx, s)
}

// PublicOnly hides schedules flagged as hidden.
var PublicOnly Visibility = VisibilityFunc(func(_ context.Context, s model.Schedule) bool {
	return !s.Hidden
})

// Options configures a Service.
type Options struct {
	// Host is appended to schedule IDs to build globally unique UIDs.
	Host string
	// ProductID is written as the calendar PRODID.
	ProductID string
	// Visibility defaults to PublicOnly.
	Visibility Visibility
	// MaxOccurrencesPerSchedule caps each schedule's expansion; <= 0 means
	// DefaultMaxOccurrences.
	MaxOccurrencesPerSchedule int
	Metrics                   *metrics.Metrics
}

// Service answers listing and calendar queries against a Repository.
type Service struct {
	repo    Repository
	vis     Visibility
	host    string
	builder ical.Builder
	limit   int
	metrics *metrics.Metrics
}

func NewService(repo Repository, opts Options) *Service {
	vis := opts.Visibility
	if vis == nil {
		vis = PublicOnly
	}
	limit := opts.MaxOccurrencesPerSchedule
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	return &Service{
		repo:    repo,
		vis:     vis,
		host:    opts.Host,
		builder: ical.Builder{ProductID: opts.ProductID},
		limit:   limit,
		metrics: opts.Metrics,
	}
}

// Listing expands every visible schedule inside [windowStart, windowEnd)
// and returns the merged occurrences ordered by start, then schedule ID.
// Schedules whose recurrence cannot be decoded are logged and skipped.
func (s *Service) Listing(ctx context.Context, windowStart, windowEnd time.Time) ([]model.Listing, error) {
	began := time.Now()
	defer func() { s.metrics.ObserveListing(time.Since(began)) }()

	schedules, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	out := make([]model.Listing, 0)
	for _, sch := range schedules {
		if !s.vis.Visible(ctx, sch) {
			continue
		}
		p, ok := s.pattern(sch)
		if !ok {
			continue
		}
		occs := s.expand(sch.ID, p, windowStart, windowEnd)
		s.metrics.Occurrences(p.Kind.String(), len(occs))
		for _, occ := range occs {
			out = append(out, listingFor(sch, occ))
		}
	}

	slices.SortStableFunc(out, func(a, b model.Listing) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ScheduleID, b.ScheduleID)
	})

	appLog.Debug("listing built",
		"schedules", len(schedules),
		"occurrences", len(out),
		"range_start", windowStart.Format(time.RFC3339),
		"range_end", windowEnd.Format(time.RFC3339),
	)
	return out, nil
}

// Calendar renders one schedule as a VCALENDAR with a single VEVENT that
// carries the schedule's own start and end plus its encoded RRULE.
func (s *Service) Calendar(ctx context.Context, id string, renderedAt time.Time) (string, error) {
	sch, err := s.visible(ctx, id)
	if err != nil {
		return "", err
	}

	ev := s.event(sch, s.uid(sch.ID))
	ev.Start = sch.Start
	ev.End = sch.End
	if p, ok := s.pattern(sch); ok {
		ev.RRule = recurrence.EncodeRRule(p).OrEmpty()
	}

	s.metrics.FeedRendered("rrule")
	return s.builder.Build(renderedAt, ev), nil
}

// CalendarOccurrences renders one schedule as a VCALENDAR with one VEVENT
// per resolved occurrence in [windowStart, windowEnd) and no RRULE.
func (s *Service) CalendarOccurrences(ctx context.Context, id string, windowStart, windowEnd, renderedAt time.Time) (string, error) {
	sch, err := s.visible(ctx, id)
	if err != nil {
		return "", err
	}

	var events []ical.Event
	if p, ok := s.pattern(sch); ok {
		for _, occ := range s.expand(sch.ID, p, windowStart, windowEnd) {
			ev := s.event(sch, s.uid(sch.ID+"-"+occ.Start.UTC().Format(ical.DateTimeLayout)))
			ev.Start = occ.Start
			ev.End = occ.End
			events = append(events, ev)
		}
	}

	s.metrics.FeedRendered("occurrences")
	return s.builder.Build(renderedAt, events...), nil
}

// Preview returns the instants a calendar client would expand from the
// schedule's RRULE inside [windowStart, windowEnd).
func (s *Service) Preview(ctx context.Context, id string, windowStart, windowEnd time.Time) ([]time.Time, error) {
	sch, err := s.visible(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := sch.Pattern()
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", sch.ID, err)
	}
	instants, err := recurrence.Preview(p, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if len(instants) > s.limit {
		s.metrics.Truncated(p.Kind.String())
		appLog.Warn("occurrence cap reached; truncating", "schedule", sch.ID, "limit", s.limit)
		instants = instants[:s.limit]
	}
	return instants, nil
}

func (s *Service) visible(ctx context.Context, id string) (model.Schedule, error) {
	sch, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Schedule{}, err
	}
	if !s.vis.Visible(ctx, sch) {
		return model.Schedule{}, ErrNotFound
	}
	return sch, nil
}

// pattern decodes sch, logging and counting schedules that cannot be used.
func (s *Service) pattern(sch model.Schedule) (recurrence.Pattern, bool) {
	p, err := sch.Pattern()
	if err == nil {
		err = recurrence.Validate(p)
	}
	if err != nil {
		s.metrics.Malformed()
		appLog.Error("skipping malformed schedule", err, "schedule", sch.ID)
		return recurrence.Pattern{}, false
	}
	return p, true
}

// expand enumerates p within the window, keeping at most s.limit occurrences.
func (s *Service) expand(id string, p recurrence.Pattern, windowStart, windowEnd time.Time) []recurrence.Occurrence {
	occs, truncated := recurrence.EnumerateLimit(p, windowStart, windowEnd, s.limit)
	if truncated {
		s.metrics.Truncated(p.Kind.String())
		appLog.Warn("occurrence cap reached; truncating", "schedule", id, "limit", s.limit)
	}
	return occs
}

func (s *Service) uid(base string) string {
	if s.host == "" {
		return base
	}
	return base + "@" + s.host
}

func (s *Service) event(sch model.Schedule, uid string) ical.Event {
	return ical.Event{
		UID:             uid,
		Created:         sch.Created,
		Summary:         sch.Title,
		Description:     sch.Description,
		HTMLDescription: sch.DescriptionHTML,
		Location:        sch.Location,
		Organizer:       ical.NewOrganizer(sch.OrganizerName, sch.OrganizerEmail),
		URL:             sch.URL,
	}
}

func listingFor(sch model.Schedule, occ recurrence.Occurrence) model.Listing {
	return model.Listing{
		ScheduleID:  sch.ID,
		EventID:     sch.EventID,
		InstanceKey: sch.ID + "/" + occ.Start.UTC().Format(time.RFC3339),
		Title:       sch.Title,
		Location:    sch.Location,
		URL:         sch.URL,
		AllDay:      occ.AllDay,
		Start:       occ.Start,
		End:         occ.End,
	}
}
