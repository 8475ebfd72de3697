package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/himanishpuri/acousticlink/pkg/acousticlink"
	"github.com/himanishpuri/acousticlink/pkg/logger"
)

const maxNotifications = 20

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	client acousticlink.Client
	config *ServerConfig
	log    Logger

	mu    sync.Mutex
	notes []acousticlink.Notification
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	ServiceURL     string
	DBPath         string
	DefaultSource  acousticlink.Source
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(config *ServerConfig) *Server {
	return &Server{
		config: config,
		log:    logger.GetLogger().Named("server"),
	}
}

// Attach sets the client served by s.
func (s *Server) Attach(c acousticlink.Client) {
	s.client = c
}

// Notify keeps the most recent notifications for /api/state.
func (s *Server) Notify(n acousticlink.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	if len(s.notes) > maxNotifications {
		s.notes = s.notes[len(s.notes)-maxNotifications:]
	}
}

func (s *Server) notifications() []acousticlink.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]acousticlink.Notification{}, s.notes...)
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondActionError maps controller errors onto HTTP statuses.
func (s *Server) respondActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, acousticlink.ErrInvalidInput):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, acousticlink.ErrBusy), errors.Is(err, acousticlink.ErrNotCapturing):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, acousticlink.ErrNoDevice), errors.Is(err, acousticlink.ErrClosed):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Errorf("action failed: %v", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "acousticlink bridge",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"metrics":       "GET /metrics",
			"state":         "GET /api/state",
			"identifyURL":   "POST /api/identify/url",
			"listen":        "POST /api/identify/listen",
			"stop":          "POST /api/identify/stop",
			"reset":         "POST /api/identify/reset",
			"history":       "GET /api/history",
			"historyEntry":  "GET /api/history/{id}",
			"deleteHistory": "DELETE /api/history/{id}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"state":  string(s.client.State().State),
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleState handles GET /api/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.respondJSON(w, http.StatusOK, StateResponse{
		Snapshot:      s.client.State(),
		Notifications: s.notifications(),
	})
}

// handleIdentifyURL handles POST /api/identify/url
func (s *Server) handleIdentifyURL(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req IdentifyURLRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.client.IdentifyURL(r.Context(), req.URL); err != nil {
		s.respondActionError(w, err)
		return
	}
	s.log.Infof("identifying %s", req.URL)
	s.respondJSON(w, http.StatusAccepted, ActionResponse{
		Message: "Identification started",
		State:   s.client.State().State,
	})
}

// handleListen handles POST /api/identify/listen
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	var req ListenRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	source := s.config.DefaultSource
	if req.Source != "" {
		parsed, err := acousticlink.ParseSource(req.Source)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		source = parsed
	}

	if err := s.client.Listen(r.Context(), source); err != nil {
		s.respondActionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, ActionResponse{
		Message: "Listening",
		State:   s.client.State().State,
	})
}

// handleStop handles POST /api/identify/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.client.StopListening(r.Context()); err != nil {
		s.respondActionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ActionResponse{
		Message: "Stopped",
		State:   s.client.State().State,
	})
}

// handleReset handles POST /api/identify/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.client.Reset(r.Context()); err != nil {
		s.respondActionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ActionResponse{
		Message: "Reset",
		State:   s.client.State().State,
	})
}

// handleHistory handles GET /api/history?limit=n
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.client.History(limit)
	if err != nil {
		if errors.Is(err, acousticlink.ErrHistoryDisabled) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Errorf("Failed to list history: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	if entries == nil {
		entries = []acousticlink.HistoryEntry{}
	}
	s.respondJSON(w, http.StatusOK, ListHistoryResponse{Entries: entries, Count: len(entries)})
}

// handleHistoryEntry handles GET and DELETE on /api/history/{id}
func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/api/history/"):]
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "History ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		entry, err := s.client.HistoryEntry(id)
		if err != nil {
			s.respondHistoryError(w, id, err)
			return
		}
		s.respondJSON(w, http.StatusOK, entry)
	case http.MethodDelete:
		if err := s.client.DeleteHistory(id); err != nil {
			s.respondHistoryError(w, id, err)
			return
		}
		s.log.Infof("deleted history entry %s", id)
		s.respondJSON(w, http.StatusOK, DeleteHistoryResponse{Message: "History entry deleted", ID: id})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) respondHistoryError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, acousticlink.ErrNotFound), errors.Is(err, acousticlink.ErrHistoryDisabled):
		s.respondError(w, http.StatusNotFound, "History entry not found")
	default:
		s.log.Errorf("history %s: %v", id, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to access history")
	}
}
