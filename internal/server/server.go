// Package server exposes the consultation platform over HTTP: patient and
// session management, the streaming conversation surface, and the extraction
// and artifact endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mediloop/mediloop/internal/alerts"
	"github.com/mediloop/mediloop/internal/audit"
	"github.com/mediloop/mediloop/internal/conversation"
	"github.com/mediloop/mediloop/internal/ehr"
	"github.com/mediloop/mediloop/internal/emergency"
	"github.com/mediloop/mediloop/internal/extraction"
	"github.com/mediloop/mediloop/internal/llm"
	"github.com/mediloop/mediloop/internal/render"
	"github.com/mediloop/mediloop/internal/store"
)

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins (dev mode)
}

// Deps bundles the services the server exposes over HTTP.
type Deps struct {
	DB         *store.DB
	Patients   *store.PatientStore
	Sessions   *store.SessionStore
	Artifacts  *store.ArtifactStore
	Audit      *audit.Store
	Alerts     *alerts.Dispatcher
	AlertStore *alerts.Store
	Registry   *conversation.Registry
	Provider   llm.Provider
	Model      string
	Scanner    *emergency.Scanner
	Hydrator   *ehr.Hydrator
	Pipeline   *extraction.Pipeline
	Renderer   *render.Renderer
}

// Server is the mediloop HTTP server.
type Server struct {
	cfg        Config
	deps       Deps
	watchers   *watchHub
	router     chi.Router
	httpServer *http.Server

	// persistMu serializes transcript persistence so overlapping requests
	// for the same session cannot write the same turns twice.
	persistMu sync.Mutex
}

// New creates a server with all dependencies wired.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		watchers: newWatchHub(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/patients", func(r chi.Router) {
		r.Post("/", s.handleCreatePatient)
		r.Get("/{id}", s.handleGetPatient)
		r.Put("/{id}/profile", s.handleUpdateProfile)
		r.Get("/{id}/sessions", s.handleListPatientSessions)
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Get("/{id}/transcript", s.handleTranscript)
		r.Post("/{id}/greeting", s.handleGreeting)
		r.Post("/{id}/messages", s.handleMessages)
		r.Post("/{id}/complete", s.handleComplete)
		r.Get("/{id}/artifacts", s.handleSessionArtifacts)
		r.Get("/{id}/watch", s.handleWatch)
	})

	r.Route("/api/artifacts", func(r chi.Router) {
		r.Get("/{id}", s.handleGetArtifact)
		r.Get("/{id}/html", s.handleArtifactHTML)
	})

	audit.RegisterRoutes(r, s.deps.Audit)
	alerts.RegisterRoutes(r, s.deps.AlertStore)

	return r
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming responses stay open for the length of a model turn.
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("mediloop server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and destroys live engines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.deps.Registry.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps storage and engine errors onto HTTP statuses. A missing
// record is the caller's mistake; anything else is ours.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, conversation.ErrDestroyed):
		http.Error(w, "session is no longer active", http.StatusConflict)
	default:
		log.Printf("server: internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
