package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"schedcal/internal/config"
	"schedcal/internal/feed"
	appLog "schedcal/internal/log"
	"schedcal/internal/metrics"
	"schedcal/internal/model"
	"schedcal/internal/recurrence"
)

const (
	listingCacheTTL = 30 * time.Second
	// listingCacheMax bounds the number of distinct windows kept at once.
	listingCacheMax = 64
	calendarType    = "text/calendar; charset=utf-8"
)

// Server exposes occurrence listings, calendar feeds and feed previews over
// HTTP.
type Server struct {
	cfg     *config.Config
	feed    *feed.Service
	metrics *metrics.Metrics
	mux     *http.ServeMux

	// now is replaced in tests.
	now func() time.Time

	// Listings are cached per (days, backfill) to avoid re-expanding every
	// schedule on each request.
	listingMu    sync.RWMutex
	listingCache map[listingKey]*listingCache
}

type listingKey struct {
	days, backfill int
}

type listingCache struct {
	resp      listingResponse
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *feed.Service, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:          cfg,
		feed:         svc,
		metrics:      m,
		mux:          http.NewServeMux(),
		now:          time.Now,
		listingCache: map[listingKey]*listingCache{},
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/schedules/{id}/preview", s.handlePreview)
	s.mux.HandleFunc("GET /calendar/{file}", s.handleCalendar)
	s.mux.HandleFunc("GET /calendar/{id}/occurrences.ics", s.handleCalendarOccurrences)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// listingResponse is the JSON response shape for /api/occurrences.
type listingResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

type occurrenceDTO struct {
	ScheduleID  string    `json:"schedule_id"`
	EventID     string    `json:"event_id,omitempty"`
	InstanceKey string    `json:"instance_key"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	URL         string    `json:"url,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleOccurrences returns the merged occurrence listing of all visible
// schedules.
//
// GET /api/occurrences?days=30&backfill=1
//   - days:     future days to include (default cfg.HorizonDays)
//   - backfill: past days to include (default cfg.BackfillDays)
//
// Both are capped at cfg.MaxHorizonDays.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	key := listingKey{
		days:     s.days(r),
		backfill: s.backfill(r),
	}

	cacheNow := s.now()
	s.listingMu.RLock()
	lc := s.listingCache[key]
	s.listingMu.RUnlock()
	if lc != nil && cacheNow.Sub(lc.updatedAt) < listingCacheTTL {
		writeJSON(w, http.StatusOK, lc.resp)
		return
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	rangeStart, rangeEnd := s.window(loc, key.days, key.backfill)

	appLog.Info("api occurrences request",
		"days", key.days,
		"backfill", key.backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
		"timezone", s.cfg.Timezone,
	)

	listings, err := s.feed.Listing(r.Context(), rangeStart, rangeEnd)
	if err != nil {
		appLog.Error("api occurrences: listing failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list occurrences")
		return
	}

	dtos := make([]occurrenceDTO, 0, len(listings))
	for _, l := range listings {
		dtos = append(dtos, toDTO(l, loc))
	}
	resp := listingResponse{
		Occurrences:     dtos,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}

	s.storeListing(key, resp)

	writeJSON(w, http.StatusOK, resp)
}

// storeListing caches resp under key. Expired entries are swept first; if the
// cache is still full it is reset.
func (s *Server) storeListing(key listingKey, resp listingResponse) {
	now := s.now()

	s.listingMu.Lock()
	defer s.listingMu.Unlock()

	for k, lc := range s.listingCache {
		if now.Sub(lc.updatedAt) >= listingCacheTTL {
			delete(s.listingCache, k)
		}
	}
	if len(s.listingCache) >= listingCacheMax {
		clear(s.listingCache)
	}
	s.listingCache[key] = &listingCache{resp: resp, updatedAt: now}
}

// handleCalendar serves GET /calendar/{id}.ics: one VEVENT carrying the
// schedule's RRULE.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(r.PathValue("file"), ".ics")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}

	doc, err := s.feed.Calendar(r.Context(), id, s.now())
	if err != nil {
		s.writeFeedError(w, r, id, err)
		return
	}
	writeCalendar(w, id, doc)
}

// handleCalendarOccurrences serves GET /calendar/{id}/occurrences.ics: one
// VEVENT per resolved occurrence, for clients that cannot expand rules.
func (s *Server) handleCalendarOccurrences(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	loc := resolveLocationOrLocal(s.cfg.Timezone)
	rangeStart, rangeEnd := s.window(loc, s.days(r), s.backfill(r))

	doc, err := s.feed.CalendarOccurrences(r.Context(), id, rangeStart, rangeEnd, s.now())
	if err != nil {
		s.writeFeedError(w, r, id, err)
		return
	}
	writeCalendar(w, id, doc)
}

type previewResponse struct {
	ScheduleID string      `json:"schedule_id"`
	RangeStart time.Time   `json:"range_start"`
	RangeEnd   time.Time   `json:"range_end"`
	Instants   []time.Time `json:"instants"`
}

// handlePreview shows the instants a calendar client would expand from the
// schedule's RRULE, for comparison with /api/occurrences.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	loc := resolveLocationOrLocal(s.cfg.Timezone)
	rangeStart, rangeEnd := s.window(loc, s.days(r), s.backfill(r))

	instants, err := s.feed.Preview(r.Context(), id, rangeStart, rangeEnd)
	switch {
	case errors.Is(err, feed.ErrNotFound):
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	case errors.Is(err, recurrence.ErrNoRule),
		errors.Is(err, recurrence.ErrUnknownKind),
		errors.Is(err, recurrence.ErrInvalidOrdinal):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		appLog.Error("api preview failed", err, "schedule", id)
		writeError(w, http.StatusInternalServerError, "failed to preview schedule")
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		ScheduleID: id,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Instants:   instants,
	})
}

func (s *Server) writeFeedError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, feed.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	appLog.Error("calendar render failed", err, "schedule", id)
	http.Error(w, "failed to render calendar", http.StatusInternalServerError)
}

func writeCalendar(w http.ResponseWriter, id, doc string) {
	w.Header().Set("Content-Type", calendarType)
	w.Header().Set("Content-Disposition", `inline; filename="`+id+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// window returns [start of today - backfill days, start of today + days) in loc.
func (s *Server) window(loc *time.Location, days, backfill int) (time.Time, time.Time) {
	now := s.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -backfill), today.AddDate(0, 0, days)
}

func (s *Server) days(r *http.Request) int {
	days := parseIntDefault(r.URL.Query().Get("days"), s.cfg.HorizonDays)
	if days <= 0 {
		days = s.cfg.HorizonDays
	}
	return s.clampHorizon(days)
}

func (s *Server) backfill(r *http.Request) int {
	backfill := parseIntDefault(r.URL.Query().Get("backfill"), s.cfg.BackfillDays)
	if backfill < 0 {
		backfill = 0
	}
	return s.clampHorizon(backfill)
}

// clampHorizon limits n to cfg.MaxHorizonDays when that is set.
func (s *Server) clampHorizon(n int) int {
	if limit := s.cfg.MaxHorizonDays; limit > 0 && n > limit {
		return limit
	}
	return n
}

func toDTO(l model.Listing, loc *time.Location) occurrenceDTO {
	return occurrenceDTO{
		ScheduleID:  l.ScheduleID,
		EventID:     l.EventID,
		InstanceKey: l.InstanceKey,
		Title:       l.Title,
		Location:    l.Location,
		URL:         l.URL,
		AllDay:      l.AllDay,
		Start:       l.Start.In(loc),
		End:         l.End.In(loc),
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
