// Package httpapi exposes the mood record store over a small REST surface
// plus a websocket realtime feed.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

type ServerConfig struct {
	// AuthToken, when set, is required as a bearer token on every /v1
	// route. The /health probe stays open.
	AuthToken       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Logger          *zap.Logger
}

type Server struct {
	store       *moodtrace.RecordStore
	events      *moodtrace.EventBus
	cfg         ServerConfig
	rateLimiter *rateLimiter
	realtime    *realtimeHub
	logger      *zap.Logger
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(store *moodtrace.RecordStore, events *moodtrace.EventBus) *Server {
	return NewServerWithConfig(store, events, ServerConfig{})
}

func NewServerWithConfig(store *moodtrace.RecordStore, events *moodtrace.EventBus, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	s := &Server{
		store:       store,
		events:      events,
		cfg:         cfg,
		rateLimiter: limiter,
		logger:      cfg.Logger,
	}
	s.realtime = newRealtimeHub(events, cfg.Logger)
	return s
}

// Close detaches the realtime hub from the event bus and drops its
// subscribers.
func (s *Server) Close() {
	s.realtime.close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	correlationID := getCorrelationID(r)

	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", correlationID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(clientKey(r), time.Now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	if r.URL.Path == "/v1/realtime" && r.Method == http.MethodGet {
		s.realtime.handleSubscribe(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" || parts[1] != "moods" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		s.handleList(w, r, correlationID)
	case len(parts) == 2 && r.Method == http.MethodPost:
		s.handleCreate(w, r, correlationID)
	case len(parts) == 3 && parts[2] == "today" && r.Method == http.MethodGet:
		s.handleToday(w)
	case len(parts) == 3 && parts[2] == "stats" && r.Method == http.MethodGet:
		s.handleStats(w, r, correlationID)
	case len(parts) == 3 && r.Method == http.MethodGet:
		s.handleGet(w, parts[2], correlationID)
	case len(parts) == 3 && r.Method == http.MethodPatch:
		s.handleUpdate(w, r, parts[2], correlationID)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		s.handleDelete(w, parts[2], correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")) == s.cfg.AuthToken
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, correlationID string) {
	filter, ok := parseFilter(w, r, correlationID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.List(filter))
}

func (s *Server) handleToday(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.store.TodaysEntries())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, correlationID string) {
	startDate, ok := parseInt64Param(w, r, "startDate", correlationID)
	if !ok {
		return
	}
	endDate, ok := parseInt64Param(w, r, "endDate", correlationID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.store.Statistics(startDate, endDate))
}

func (s *Server) handleGet(w http.ResponseWriter, id, correlationID string) {
	entry, err := s.store.Get(id)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req struct {
		Category  moodtrace.Category `json:"category"`
		Level     int                `json:"level"`
		Note      string             `json:"note"`
		Timestamp int64              `json:"timestamp"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	entry, err := s.store.Insert(req.Category, req.Level, req.Note, req.Timestamp)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	s.publish(moodtrace.Event{Type: moodtrace.EventCreated, Entry: &entry, EntryID: entry.ID})
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, id, correlationID string) {
	var fields moodtrace.EntryFields
	if !s.decodeJSONBody(w, r, correlationID, &fields) {
		return
	}
	entry, err := s.store.Update(id, fields)
	if err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	s.publish(moodtrace.Event{Type: moodtrace.EventUpdated, Entry: &entry, EntryID: entry.ID})
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDelete(w http.ResponseWriter, id, correlationID string) {
	if err := s.store.Remove(id); err != nil {
		s.writeStoreError(w, err, correlationID)
		return
	}
	s.publish(moodtrace.Event{Type: moodtrace.EventDeleted, EntryID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publish(event moodtrace.Event) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, moodtrace.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, moodtrace.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), correlationID)
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", correlationID)
	}
}

func parseFilter(w http.ResponseWriter, r *http.Request, correlationID string) (moodtrace.Filter, bool) {
	var filter moodtrace.Filter
	q := r.URL.Query()
	startDate, ok := parseInt64Param(w, r, "startDate", correlationID)
	if !ok {
		return filter, false
	}
	endDate, ok := parseInt64Param(w, r, "endDate", correlationID)
	if !ok {
		return filter, false
	}
	filter.StartDate = startDate
	filter.EndDate = endDate
	for _, raw := range q["category"] {
		filter.Categories = append(filter.Categories, moodtrace.Category(raw))
	}
	for _, raw := range q["level"] {
		level, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid level parameter", correlationID)
			return filter, false
		}
		filter.Levels = append(filter.Levels, level)
	}
	return filter, true
}

func parseInt64Param(w http.ResponseWriter, r *http.Request, name, correlationID string) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid "+name+" parameter", correlationID)
		return 0, false
	}
	return value, true
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[key]
	if !ok || now.After(entry.resetAt) {
		rl.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(rl.window),
		}
		return true
	}
	if entry.count >= rl.max {
		return false
	}
	entry.count++
	rl.entries[key] = entry
	return true
}
