// Package sqlstore keeps schedules in SQLite through bun. Each schedule is a
// row in "schedules"; its exceptions live in "schedule_exceptions" and are
// loaded through a has-many relation in list order.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"schedcal/internal/feed"
	"schedcal/internal/model"
)

// Instants are stored as unix seconds.
type scheduleRow struct {
	bun.BaseModel `bun:"table:schedules"`

	ID              string `bun:"id,pk,notnull"`
	EventID         string `bun:"event_id"`
	Title           string `bun:"title,notnull"`
	Description     string `bun:"description"`
	DescriptionHTML string `bun:"description_html"`
	Location        string `bun:"location"`
	URL             string `bun:"url"`
	OrganizerName   string `bun:"organizer_name"`
	OrganizerEmail  string `bun:"organizer_email"`
	Hidden          bool   `bun:"hidden,notnull"`
	CreatedAt       int64  `bun:"created_at"`

	StartsAt    int64  `bun:"starts_at,notnull"`
	EndsAt      *int64 `bun:"ends_at"`
	AllDay      bool   `bun:"all_day,notnull"`
	Kind        int    `bun:"kind,notnull"`
	Interval    *int   `bun:"interval"`
	Weekdays    string `bun:"weekdays"`
	WeekOrdinal *int   `bun:"week_ordinal"`
	MaxCount    *int   `bun:"max_count"`
	Until       *int64 `bun:"until"`

	Exceptions []*exceptionRow `bun:"rel:has-many,join:id=schedule_id"`
}

type exceptionRow struct {
	bun.BaseModel `bun:"table:schedule_exceptions"`

	ID          int64  `bun:"id,pk,autoincrement"`
	ScheduleID  string `bun:"schedule_id,notnull"`
	Position    int    `bun:"position,notnull"`
	Original    *int64 `bun:"original"`
	Rescheduled *int64 `bun:"rescheduled"`
}

// Store is a feed.Repository backed by a bun database.
type Store struct {
	db *bun.DB
}

var _ feed.Repository = (*Store)(nil)

func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has a single writer; an in-memory database also lives on one
	// connection only.
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// CreateSchema creates the tables if they do not exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	if err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, m := range []interface{}{
			(*scheduleRow)(nil),
			(*exceptionRow)(nil),
		} {
			if _, err := tx.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
				return err
			}
		}
		_, err := tx.NewCreateIndex().
			Model((*exceptionRow)(nil)).
			Index("schedule_exceptions_schedule_id_idx").
			Column("schedule_id").
			IfNotExists().
			Exec(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("CreateSchema: %w", err)
	}
	return nil
}

// Put inserts or replaces a schedule together with its exceptions. A schedule
// without an ID gets a random one; the stored schedule is returned.
func (s *Store) Put(ctx context.Context, sch model.Schedule) (model.Schedule, error) {
	if sch.ID == "" {
		sch.ID = uuid.NewString()
	}
	if strings.TrimSpace(sch.Title) == "" {
		return model.Schedule{}, errors.New("Put: title is required")
	}
	if sch.Start.IsZero() {
		return model.Schedule{}, errors.New("Put: start is required")
	}

	row := toRow(sch)
	if err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := deleteRows(ctx, tx, sch.ID); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		if len(row.Exceptions) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&row.Exceptions).Exec(ctx)
		return err
	}); err != nil {
		return model.Schedule{}, fmt.Errorf("Put %s: %w", sch.ID, err)
	}
	return row.schedule(), nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Schedule, error) {
	row := new(scheduleRow)
	err := s.db.NewSelect().
		Model(row).
		Relation("Exceptions", orderExceptions).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, feed.ErrNotFound
	}
	if err != nil {
		return model.Schedule{}, fmt.Errorf("Get %s: %w", id, err)
	}
	return row.schedule(), nil
}

// List returns every schedule ordered by start, then ID.
func (s *Store) List(ctx context.Context) ([]model.Schedule, error) {
	var rows []*scheduleRow
	if err := s.db.NewSelect().
		Model(&rows).
		Relation("Exceptions", orderExceptions).
		Order("starts_at ASC").
		Order("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	out := make([]model.Schedule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.schedule())
	}
	return out, nil
}

// Delete removes a schedule and its exceptions.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*scheduleRow)(nil)).Where("id = ?", id).Exists(ctx)
		if err != nil {
			return fmt.Errorf("Delete %s: %w", id, err)
		}
		if !exists {
			return feed.ErrNotFound
		}
		return deleteRows(ctx, tx, id)
	})
}

func deleteRows(ctx context.Context, tx bun.Tx, id string) error {
	if _, err := tx.NewDelete().
		Model((*exceptionRow)(nil)).
		Where("schedule_id = ?", id).
		Exec(ctx); err != nil {
		return err
	}
	_, err := tx.NewDelete().
		Model((*scheduleRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func orderExceptions(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("position ASC")
}

func toRow(sch model.Schedule) *scheduleRow {
	row := &scheduleRow{
		ID:              sch.ID,
		EventID:         sch.EventID,
		Title:           sch.Title,
		Description:     sch.Description,
		DescriptionHTML: sch.DescriptionHTML,
		Location:        sch.Location,
		URL:             sch.URL,
		OrganizerName:   sch.OrganizerName,
		OrganizerEmail:  sch.OrganizerEmail,
		Hidden:          sch.Hidden,
		StartsAt:        sch.Start.Unix(),
		EndsAt:          unixOrNil(sch.End),
		AllDay:          sch.AllDay,
		Kind:            sch.Kind,
		Interval:        sch.Interval,
		WeekOrdinal:     sch.WeekOrdinal,
		MaxCount:        sch.MaxCount,
	}
	if !sch.Created.IsZero() {
		row.CreatedAt = sch.Created.Unix()
	}
	if sch.Until != nil {
		row.Until = unixOrNil(*sch.Until)
	}

	days := make([]string, 0, len(sch.Weekdays))
	for _, d := range sch.Weekdays {
		days = append(days, strings.ToLower(strings.TrimSpace(d)))
	}
	row.Weekdays = strings.Join(days, ",")

	for i, ex := range sch.Overrides {
		er := &exceptionRow{ScheduleID: sch.ID, Position: i}
		if ex.Original != nil {
			er.Original = unixOrNil(*ex.Original)
		}
		if ex.Rescheduled != nil {
			er.Rescheduled = unixOrNil(*ex.Rescheduled)
		}
		row.Exceptions = append(row.Exceptions, er)
	}
	return row
}

func (r *scheduleRow) schedule() model.Schedule {
	sch := model.Schedule{
		ID:              r.ID,
		EventID:         r.EventID,
		Title:           r.Title,
		Description:     r.Description,
		DescriptionHTML: r.DescriptionHTML,
		Location:        r.Location,
		URL:             r.URL,
		OrganizerName:   r.OrganizerName,
		OrganizerEmail:  r.OrganizerEmail,
		Hidden:          r.Hidden,
		Start:           time.Unix(r.StartsAt, 0).UTC(),
		AllDay:          r.AllDay,
		Kind:            r.Kind,
		Interval:        r.Interval,
		WeekOrdinal:     r.WeekOrdinal,
		MaxCount:        r.MaxCount,
		Until:           timeOrNil(r.Until),
	}
	if r.CreatedAt != 0 {
		sch.Created = time.Unix(r.CreatedAt, 0).UTC()
	}
	if r.EndsAt != nil {
		sch.End = time.Unix(*r.EndsAt, 0).UTC()
	}
	if r.Weekdays != "" {
		sch.Weekdays = strings.Split(r.Weekdays, ",")
	}
	for _, er := range r.Exceptions {
		sch.Overrides = append(sch.Overrides, model.Exception{
			Original:    timeOrNil(er.Original),
			Rescheduled: timeOrNil(er.Rescheduled),
		})
	}
	return sch
}

func unixOrNil(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	v := t.Unix()
	return &v
}

func timeOrNil(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}
