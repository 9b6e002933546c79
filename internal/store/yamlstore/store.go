// Package yamlstore serves schedules from a YAML document that lives on disk
// or behind an HTTP(S) URL. The document is read into an immutable snapshot;
// Reload swaps in a new snapshot only when the whole document decodes.
//
// Document layout:
//
//	schedules:
//	  - id: standup
//	    title: Standup
//	    start: 2024-01-01T09:00:00Z
//	    end: 2024-01-01T09:15:00Z
//	    kind: 3
//	    weekdays: [monday, wednesday]
package yamlstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"schedcal/internal/feed"
	appLog "schedcal/internal/log"
	"schedcal/internal/metrics"
	"schedcal/internal/model"
)

// idNamespace derives stable IDs for schedules that do not declare one.
var idNamespace = uuid.MustParse("0d6c3c5e-4f8e-4c55-9a43-6f7d1b2a9e10")

type document struct {
	Schedules []model.Schedule `yaml:"schedules"`
}

type snapshot struct {
	ordered []model.Schedule
	byID    map[string]int
}

// Store is a feed.Repository backed by a YAML document.
type Store struct {
	location string
	fetcher  *Fetcher
	metrics  *metrics.Metrics

	mu   sync.RWMutex
	snap snapshot
}

var _ feed.Repository = (*Store)(nil)

// New returns an empty store reading from location, which is either a file
// path or an http(s) URL. Call Reload before serving.
func New(location string, fetcher *Fetcher, m *metrics.Metrics) *Store {
	if fetcher == nil {
		fetcher = NewFetcher("", nil)
	}
	return &Store{
		location: location,
		fetcher:  fetcher,
		metrics:  m,
		snap:     snapshot{byID: map[string]int{}},
	}
}

// Reload reads and decodes the document. On failure the previous snapshot
// stays in place.
func (s *Store) Reload(ctx context.Context) error {
	err := s.reload(ctx)
	s.metrics.Reload(err)
	if err != nil {
		appLog.Error("schedule reload failed", err, "source", s.describe())
		return err
	}
	return nil
}

func (s *Store) reload(ctx context.Context) error {
	data, err := s.read(ctx)
	if err != nil {
		return err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode schedules: %w", err)
	}

	next := snapshot{
		ordered: make([]model.Schedule, 0, len(doc.Schedules)),
		byID:    make(map[string]int, len(doc.Schedules)),
	}
	for _, sch := range doc.Schedules {
		if sch.ID == "" {
			sch.ID = derivedID(sch)
		}
		if _, dup := next.byID[sch.ID]; dup {
			appLog.Warn("duplicate schedule id ignored", "schedule", sch.ID)
			continue
		}
		next.byID[sch.ID] = len(next.ordered)
		next.ordered = append(next.ordered, sch)
	}

	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()

	appLog.Info("schedules loaded", "source", s.describe(), "count", len(next.ordered))
	return nil
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	if isRemote(s.location) {
		body, _, err := s.fetcher.Fetch(ctx, s.location)
		return body, err
	}
	return os.ReadFile(s.location)
}

func (s *Store) Get(_ context.Context, id string) (model.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.snap.byID[id]
	if !ok {
		return model.Schedule{}, feed.ErrNotFound
	}
	return s.snap.ordered[i], nil
}

// List returns the schedules in document order.
func (s *Store) List(context.Context) ([]model.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Schedule, len(s.snap.ordered))
	copy(out, s.snap.ordered)
	return out, nil
}

// Watch reloads the store on the given cron schedule until ctx is done.
func (s *Store) Watch(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		_ = s.Reload(ctx)
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("schedule refresh enabled", "cron", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

func (s *Store) describe() string {
	if isRemote(s.location) {
		return redactURL(s.location)
	}
	return s.location
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// derivedID is stable across reloads for an unchanged record.
func derivedID(sch model.Schedule) string {
	key := sch.Title + "\x00" + sch.Start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}
