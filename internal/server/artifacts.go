package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediloop/mediloop/internal/store"
)

func (s *Server) handleSessionArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Sessions.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	artifacts, err := s.deps.Artifacts.ListBySession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []store.Artifact{}
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.deps.Artifacts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

func (s *Server) handleArtifactHTML(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.deps.Artifacts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	html, err := s.deps.Renderer.HTML(artifact.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}
