// Package admin exposes an operational HTTP surface over the
// processor Manager: listing processors, pausing/resuming/resetting
// them, and querying lag — deliberately not the domain's own
// read/write API, which spec's Non-goals scope out of this engine.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
	"github.com/crabletlabs/dcbengine/pkg/leader"
	"github.com/crabletlabs/dcbengine/pkg/processor"
)

// Server serves the admin HTTP surface.
type Server struct {
	manager           *processor.Manager
	store             dcb.EventStore
	elector           leader.Elector
	lagAlertThreshold int64
	router            chi.Router
}

// New builds the admin router. lagAlertThreshold flags a processor as
// "lagging" in status responses once its lag exceeds it.
func New(manager *processor.Manager, store dcb.EventStore, elector leader.Elector, lagAlertThreshold int64) *Server {
	s := &Server{manager: manager, store: store, elector: elector, lagAlertThreshold: lagAlertThreshold}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/processors", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/reset", s.handleReset)
		})
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"leader": s.elector.IsLeader(),
		"time":   time.Now().UTC(),
	})
}

type processorStatus struct {
	ID      string `json:"id"`
	Lagging bool   `json:"lagging"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var out []processorStatus
	for _, p := range s.manager.All() {
		lag, _ := p.Lag(r.Context(), s.store, dcb.QueryAll())
		out = append(out, processorStatus{ID: p.ID(), Lagging: lag > s.lagAlertThreshold})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown processor")
		return
	}
	lag, err := p.Lag(r.Context(), s.store, dcb.QueryAll())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status, err := p.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            p.ID(),
		"lag":           lag,
		"lagging":       lag > s.lagAlertThreshold,
		"state":         status.State,
		"last_error":    status.LastError,
		"failed_events": status.FailedEvents,
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.withProcessor(w, r, func(p *processor.Processor) error { return p.Pause(r.Context()) })
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.withProcessor(w, r, func(p *processor.Processor) error { return p.Resume(r.Context()) })
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.withProcessor(w, r, func(p *processor.Processor) error { return p.Reset(r.Context()) })
}

func (s *Server) withProcessor(w http.ResponseWriter, r *http.Request, fn func(*processor.Processor) error) {
	id := chi.URLParam(r, "id")
	p, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown processor")
		return
	}
	if err := fn(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
