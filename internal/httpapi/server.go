package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/taskmirror/internal/taskmirror"
)

// Mirror is the engine surface the status API exposes. It is read-mostly:
// the only writes are selection changes, alert acknowledgement and question
// answers, all of which route through the engine's own sequencing.
type Mirror interface {
	Snapshot() taskmirror.State
	Alerts() []taskmirror.Alert
	DismissAlert(id string) bool
	ActivateAlert(id string) bool
	Select(ctx context.Context, taskID string)
	RefreshTasks(ctx context.Context) error
	RefreshStats(ctx context.Context) error
	AnswerQuestion(ctx context.Context, taskID, questionID, answer string) error
}

type ServerConfig struct {
	// APIToken guards every route except /healthz when set.
	APIToken        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// Server is the local status API in front of the mirror engine. It lets
// shells and tooling read the mirrored state and drive selection without
// linking the engine in-process.
type Server struct {
	mirror      Mirror
	cfg         ServerConfig
	rateLimiter *rateLimiter
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

func NewServer(mirror Mirror) *Server {
	return NewServerWithConfig(mirror, ServerConfig{})
}

func NewServerWithConfig(mirror Mirror, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		mirror:      mirror,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if authErr := s.authorize(r); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}
	if s.rateLimiter != nil {
		if !s.rateLimiter.allow(r.RemoteAddr, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "state" && r.Method == http.MethodGet:
		s.handleState(w)
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "alerts" && r.Method == http.MethodGet:
		s.handleAlerts(w)
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "alerts" && parts[3] == "dismiss" && r.Method == http.MethodPost:
		s.handleAlertDismiss(w, parts[2])
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "alerts" && parts[3] == "activate" && r.Method == http.MethodPost:
		s.handleAlertActivate(w, parts[2])
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "select" && r.Method == http.MethodPost:
		s.handleSelect(w, r)
	case len(parts) == 2 && parts[0] == "v1" && parts[1] == "refresh" && r.Method == http.MethodPost:
		s.handleRefresh(w, r)
	case len(parts) == 6 && parts[0] == "v1" && parts[1] == "tasks" && parts[3] == "questions" && parts[5] == "answer" && r.Method == http.MethodPost:
		s.handleAnswer(w, r, parts[2], parts[4])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

type apiError struct {
	status  int
	code    string
	message string
}

func (s *Server) authorize(r *http.Request) *apiError {
	if s.cfg.APIToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &apiError{http.StatusUnauthorized, "unauthorized", "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
		return &apiError{http.StatusUnauthorized, "unauthorized", "invalid bearer token"}
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.mirror.Snapshot())
}

func (s *Server) handleAlerts(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.mirror.Alerts()})
}

func (s *Server) handleAlertDismiss(w http.ResponseWriter, id string) {
	if !s.mirror.DismissAlert(id) {
		writeError(w, http.StatusNotFound, "not_found", "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func (s *Server) handleAlertActivate(w http.ResponseWriter, id string) {
	if !s.mirror.ActivateAlert(id) {
		writeError(w, http.StatusNotFound, "not_found", "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID string `json:"taskId"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	// Selection outlives the request; the poller must not die with it.
	s.mirror.Select(context.Background(), strings.TrimSpace(body.TaskID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "selected", "taskId": body.TaskID})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.mirror.RefreshTasks(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	if err := s.mirror.RefreshStats(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, taskID, questionID string) {
	var body struct {
		Answer string `json:"answer"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Answer) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "answer is required")
		return
	}
	if err := s.mirror.AnswerQuestion(r.Context(), taskID, questionID, body.Answer); err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered"})
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
