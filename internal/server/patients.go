package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediloop/mediloop/internal/store"
)

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		DateOfBirth string `json:"date_of_birth"`
		Sex         string `json:"sex"`
		Phone       string `json:"phone"`
		Language    string `json:"language"`
		Profile     string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	patient, err := s.deps.Patients.Create(r.Context(), store.Patient{
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Sex:         req.Sex,
		Phone:       req.Phone,
		Language:    req.Language,
		Profile:     req.Profile,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

func (s *Server) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	patient, err := s.deps.Patients.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.deps.Patients.UpdateProfile(r.Context(), id, req.Profile); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleListPatientSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Patients.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	sessions, err := s.deps.Sessions.ListByPatient(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}
