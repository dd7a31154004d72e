package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/chorus/internal/observability"
	"github.com/antoniostano/chorus/internal/pipeline"
	"github.com/antoniostano/chorus/internal/transcript"
)

// TaskStatus is the read-only slice of the pipeline task the server exposes.
type TaskStatus interface {
	State() pipeline.State
}

// Presence reports the live participant count.
type Presence interface {
	PresentCount() int
}

// Server exposes health, readiness, metrics and a read-only view of the
// running session. It never mutates the session; control stays with the
// transport's presence events.
type Server struct {
	roomURL   string
	botName   string
	startedAt time.Time
	task      TaskStatus
	presence  Presence
	store     transcript.Store
	metrics   *observability.Metrics
}

func New(roomURL, botName string, task TaskStatus, presence Presence, store transcript.Store, metrics *observability.Metrics) *Server {
	return &Server{
		roomURL:   roomURL,
		botName:   botName,
		startedAt: time.Now().UTC(),
		task:      task,
		presence:  presence,
		store:     store,
		metrics:   metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/session", s.handleSession)
	r.Get("/v1/session/events", s.handleSessionEvents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

// handleReady reports ready only while the pipeline task is actually
// running; a terminated or still-starting session is not ready.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := s.taskState()
	if state != pipeline.StateRunning {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"state":  string(state),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"state":  string(state),
	})
}

type sessionResponse struct {
	RoomURL      string    `json:"room_url"`
	BotName      string    `json:"bot_name"`
	State        string    `json:"state"`
	PresentCount int       `json:"present_count"`
	StartedAt    time.Time `json:"started_at"`
	UptimeMS     int64     `json:"uptime_ms"`
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	count := 0
	if s.presence != nil {
		count = s.presence.PresentCount()
	}
	respondJSON(w, http.StatusOK, sessionResponse{
		RoomURL:      s.roomURL,
		BotName:      s.botName,
		State:        string(s.taskState()),
		PresentCount: count,
		StartedAt:    s.startedAt,
		UptimeMS:     time.Since(s.startedAt).Milliseconds(),
	})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "event store not configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	events, err := s.store.Recent(ctx, s.roomURL, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if events == nil {
		events = []transcript.Event{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"room":   s.roomURL,
		"events": events,
	})
}

func (s *Server) taskState() pipeline.State {
	if s.task == nil {
		return pipeline.StateCreated
	}
	return s.task.State()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
