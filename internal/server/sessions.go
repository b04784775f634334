package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediloop/mediloop/internal/audit"
	"github.com/mediloop/mediloop/internal/conversation"
	"github.com/mediloop/mediloop/internal/store"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID string `json:"patient_id"`
		Mode      string `json:"mode"`
		Language  string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		http.Error(w, "patient_id is required", http.StatusBadRequest)
		return
	}
	mode := store.SessionMode(req.Mode)
	if mode == "" {
		mode = store.ModeText
	}
	if mode != store.ModeText && mode != store.ModeVoice && mode != store.ModeScribe {
		http.Error(w, "mode must be text, voice, or scribe", http.StatusBadRequest)
		return
	}

	patient, err := s.deps.Patients.Get(r.Context(), req.PatientID)
	if err != nil {
		writeError(w, err)
		return
	}
	language := req.Language
	if language == "" {
		language = patient.Language
	}

	sess, err := s.deps.Sessions.Create(r.Context(), patient.ID, mode, language)
	if err != nil {
		writeError(w, err)
		return
	}

	s.logAudit(r.Context(), audit.Entry{
		ActorType: audit.ActorPatient,
		ActorID:   patient.ID,
		Action:    audit.ActionSessionStarted,
		SessionID: sess.ID,
		PatientID: patient.ID,
	})
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Sessions.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	turns, err := s.deps.Sessions.Transcript(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

// handleGreeting produces the opening assistant turn. A model failure here
// has no partial output to salvage, so it maps to a gateway error.
func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	engine, sess, err := s.engineFor(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	greeting, err := engine.Greeting(r.Context())
	if err != nil {
		var genErr *conversation.GenerationError
		if errors.As(err, &genErr) {
			log.Printf("server: greeting generation failed for session %s: %v", id, genErr)
			http.Error(w, "greeting generation failed", http.StatusBadGateway)
			return
		}
		writeError(w, err)
		return
	}

	s.persistNewTurns(r.Context(), engine, sess)
	writeJSON(w, http.StatusOK, greeting)
}

// handleMessages runs one streaming exchange as server-sent events. Each
// event's data is one JSON chunk; the stream ends after the terminal done or
// error event.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	engine, sess, err := s.engineFor(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	chunks, err := engine.SendMessageStreaming(r.Context(), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		s.watchers.broadcast(id, chunk)
		if err := writeSSE(w, chunk); err != nil {
			// Client went away; drain so the engine goroutine is not left
			// blocked. Best effort: a cancelled request context may end the
			// exchange before the terminal chunk, losing the partial reply.
			for range chunks {
			}
			break
		}
		flusher.Flush()
	}

	// Persistence must survive a client disconnect mid-stream.
	s.persistNewTurns(context.WithoutCancel(r.Context()), engine, sess)
}

// handleComplete ends the session and runs the extraction pipeline. Partial
// extraction failure still returns 200 with the per-stage errors listed.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	// The live engine is done; its state is already persisted per exchange.
	s.deps.Registry.Remove(id)

	result, err := s.deps.Pipeline.Run(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	s.logAudit(r.Context(), audit.Entry{
		ActorType: audit.ActorSystem,
		ActorID:   "extraction",
		Action:    audit.ActionExtractionRan,
		SessionID: id,
		PatientID: sess.PatientID,
		Summary:   fmt.Sprintf("skipped=%v errors=%d", result.Skipped, len(result.Errors)),
	})
	s.logAudit(r.Context(), audit.Entry{
		ActorType: audit.ActorPatient,
		ActorID:   sess.PatientID,
		Action:    audit.ActionSessionCompleted,
		SessionID: id,
		PatientID: sess.PatientID,
	})

	writeJSON(w, http.StatusOK, result)
}

// engineFor returns the live engine for a session, rehydrating it from the
// persisted transcript if needed.
func (s *Server) engineFor(ctx context.Context, sessionID string) (*conversation.Engine, *store.Session, error) {
	sess, err := s.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.Status != store.StatusActive {
		return nil, nil, conversation.ErrDestroyed
	}

	engine, err := s.deps.Registry.GetOrCreate(sessionID, func() (*conversation.Engine, error) {
		turns, err := s.deps.Sessions.Transcript(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		ehrContext := ""
		if s.deps.Hydrator != nil {
			complaint := firstUserContent(turns)
			ehrContext, err = s.deps.Hydrator.Context(ctx, sess.PatientID, complaint)
			if err != nil {
				// Consultations must run even when history is unavailable.
				log.Printf("server: EHR hydration failed for session %s: %v", sessionID, err)
				ehrContext = ""
			}
		}

		return conversation.FromTranscript(conversation.Config{
			Provider:   s.deps.Provider,
			Model:      s.deps.Model,
			Scanner:    s.deps.Scanner,
			EHRContext: ehrContext,
			Language:   sess.Language,
		}, toEngineTurns(turns), toEngineMetadata(sess)), nil
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, sess, nil
}

// persistNewTurns writes engine turns the database has not seen yet, then
// syncs metadata. Engine state is authoritative during a session; the
// database trails it by at most one exchange.
func (s *Server) persistNewTurns(ctx context.Context, engine *conversation.Engine, sess *store.Session) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	stored, err := s.deps.Sessions.Transcript(ctx, sess.ID)
	if err != nil {
		log.Printf("server: loading stored transcript for %s: %v", sess.ID, err)
		return
	}

	live := engine.Transcript()
	for i := len(stored); i < len(live); i++ {
		t := live[i]
		if _, err := s.deps.Sessions.AppendTurn(ctx, store.Turn{
			ID:        t.ID,
			SessionID: sess.ID,
			Role:      store.TurnRole(t.Role),
			Content:   t.Content,
			Language:  t.Language,
		}); err != nil {
			log.Printf("server: persisting turn for %s: %v", sess.ID, err)
			return
		}
	}
	if len(live) > len(stored) {
		s.logAudit(ctx, audit.Entry{
			ActorType: audit.ActorPatient,
			ActorID:   sess.PatientID,
			Action:    audit.ActionTurnExchanged,
			SessionID: sess.ID,
			PatientID: sess.PatientID,
			Summary:   fmt.Sprintf("%d turn(s)", len(live)-len(stored)),
		})
	}

	s.syncMetadata(ctx, engine, sess)
}

// syncMetadata pushes engine-side emergency state and usage into the store
// and raises the emergency alert on the first transition.
func (s *Server) syncMetadata(ctx context.Context, engine *conversation.Engine, sess *store.Session) {
	meta := engine.Metadata()

	if meta.EmergencyFlagged && !sess.EmergencyFlagged {
		if err := s.deps.Sessions.FlagEmergency(ctx, sess.ID, meta.EmergencyDetails, meta.EmergencySource); err != nil {
			log.Printf("server: flagging emergency for %s: %v", sess.ID, err)
		}
		sess.EmergencyFlagged = true
		s.logAudit(ctx, audit.Entry{
			ActorType: audit.ActorSystem,
			ActorID:   meta.EmergencySource,
			Action:    audit.ActionEmergencyFlagged,
			SessionID: sess.ID,
			PatientID: sess.PatientID,
			Summary:   meta.EmergencyDetails,
		})
		if s.deps.Alerts != nil {
			s.deps.Alerts.Emergency(ctx, sess.ID, sess.PatientID, meta.EmergencyDetails, meta.EmergencySource)
		}
	}

	delta := meta.InputTokens + meta.OutputTokens - sess.InputTokens - sess.OutputTokens
	if delta > 0 {
		in := meta.InputTokens - sess.InputTokens
		out := meta.OutputTokens - sess.OutputTokens
		cost := meta.EstimatedCost - sess.EstimatedCost
		if err := s.deps.Sessions.AddUsage(ctx, sess.ID, in, out, cost); err != nil {
			log.Printf("server: recording usage for %s: %v", sess.ID, err)
		}
	}
}

func (s *Server) logAudit(ctx context.Context, entry audit.Entry) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.Log(ctx, entry); err != nil {
		log.Printf("server: audit log failed: %v", err)
	}
}

func writeSSE(w http.ResponseWriter, chunk conversation.Chunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", chunk.Type, data)
	return err
}

func toEngineTurns(turns []store.Turn) []conversation.Turn {
	out := make([]conversation.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, conversation.Turn{
			ID:        t.ID,
			Role:      conversation.Role(t.Role),
			Content:   t.Content,
			Language:  t.Language,
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}

func toEngineMetadata(sess *store.Session) conversation.Metadata {
	meta := conversation.Metadata{
		EmergencyFlagged: sess.EmergencyFlagged,
		EmergencySource:  sess.EmergencySource,
		Notes:            sess.Notes,
		SummaryCache:     sess.SummaryCache,
		InputTokens:      sess.InputTokens,
		OutputTokens:     sess.OutputTokens,
		EstimatedCost:    sess.EstimatedCost,
	}
	if sess.EmergencyDetails != nil {
		meta.EmergencyDetails = *sess.EmergencyDetails
	}
	return meta
}

func firstUserContent(turns []store.Turn) string {
	for _, t := range turns {
		if t.Role == store.RoleUser {
			return t.Content
		}
	}
	return ""
}
