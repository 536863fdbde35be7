// Package web exposes a thin JSON status API over the repository: current
// events, a detection run on demand, and stored recommendations.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"campusevents/internal/conflict"
	"campusevents/internal/config"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/store"
)

// Server provides HTTP read access to the event store.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	detector *conflict.Detector
	mux      *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, det *conflict.Detector) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		detector: det,
		mux:      http.NewServeMux(),
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/conflicts", s.handleConflicts)
	s.mux.HandleFunc("/api/recommendations", s.handleRecommendations)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type eventPayload struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
	Venue    string `json:"venue,omitempty"`
	Building string `json:"building,omitempty"`
	Link     string `json:"link"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListAll(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	out := make([]eventPayload, 0, len(events))
	for _, ev := range events {
		p := eventPayload{
			Key:      ev.Key,
			Title:    ev.Title,
			Date:     ev.DateKey(),
			Venue:    ev.Venue,
			Building: ev.Building,
			Link:     ev.Link,
		}
		if ev.Time != nil {
			p.Time = ev.Time.String()
		}
		out = append(out, p)
	}
	writeJSON(w, out)
}

type conflictPayload struct {
	Kind     string   `json:"kind"`
	Severity string   `json:"severity"`
	Date     string   `json:"date"`
	Keys     []string `json:"keys"`
	Detail   string   `json:"detail"`
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListAll(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	conflicts := s.detector.Detect(events)
	out := make([]conflictPayload, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, conflictPayload{
			Kind:     string(c.Kind),
			Severity: c.Severity.String(),
			Date:     c.Date.Format(model.DateLayout),
			Keys:     c.Keys,
			Detail:   c.Detail,
		})
	}
	writeJSON(w, out)
}

type recommendationPayload struct {
	EventKey     string   `json:"event_key"`
	Severity     string   `json:"severity"`
	Action       string   `json:"action"`
	Detail       string   `json:"detail,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListRecommendations(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	out := make([]recommendationPayload, 0, len(recs))
	for _, rec := range recs {
		p := recommendationPayload{
			EventKey: rec.EventKey,
			Severity: rec.Severity.String(),
			Action:   rec.Action,
			Detail:   rec.Detail,
		}
		for _, b := range rec.Alternative {
			p.Alternatives = append(p.Alternatives, b.String())
		}
		out = append(out, p)
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to encode response", err)
	}
}

func httpError(w http.ResponseWriter, err error) {
	appLog.Error("request failed", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Treat empty username or password as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware protects every endpoint except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.BasicAuth.Username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.BasicAuth.Password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="campusevents"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
