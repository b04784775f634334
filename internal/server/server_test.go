package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

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

// stubProvider answers Complete with reply and streams deltas for
// CompleteStream.
type stubProvider struct {
	mu     sync.Mutex
	reply  string
	deltas []string
	err    error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	reply := p.reply
	if req.JSONMode {
		reply = `[]`
	}
	return &llm.CompletionResponse{Content: reply, InputTokens: 5, OutputTokens: 7}, nil
}

func (p *stubProvider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	deltas := p.deltas
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, d := range deltas {
			out <- llm.StreamChunk{Delta: d}
		}
		out <- llm.StreamChunk{Done: true, InputTokens: 5, OutputTokens: 9}
	}()
	return out, nil
}

// scanStub backs the emergency scanner with a fixed verdict.
type scanStub struct {
	verdict string
}

func (p *scanStub) Name() string { return "scan-stub" }

func (p *scanStub) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: p.verdict}, nil
}

func (p *scanStub) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

type testEnv struct {
	srv      *Server
	engine   *stubProvider
	scan     *scanStub
	sessions *store.SessionStore
	patients *store.PatientStore
	alerts   *alerts.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	patients := store.NewPatientStore(db)
	sessions := store.NewSessionStore(db)
	artifacts := store.NewArtifactStore(db)
	alertStore := alerts.NewStore(db)

	engineProv := &stubProvider{
		reply:  "Hello! What brings you in today?",
		deltas: []string{"How long ", "has this been going on?"},
	}
	extractProv := &stubProvider{reply: "## Document\n\nExtracted content."}
	scan := &scanStub{verdict: `{"is_emergency": false, "details": ""}`}

	registry := conversation.NewRegistry(time.Hour, time.Hour)
	t.Cleanup(registry.Close)

	srv := New(Config{Port: 0}, Deps{
		DB:         db,
		Patients:   patients,
		Sessions:   sessions,
		Artifacts:  artifacts,
		Audit:      audit.NewStore(db),
		Alerts:     alerts.NewDispatcher(alertStore),
		AlertStore: alertStore,
		Registry:   registry,
		Provider:   engineProv,
		Model:      "test-model",
		Scanner:    emergency.NewScanner(scan, "scan-model"),
		Hydrator:   ehr.NewHydrator(patients, artifacts, nil),
		Pipeline:   extraction.NewPipeline(extractProv, "test-model", sessions, patients, artifacts, nil),
		Renderer:   render.New(),
	})

	return &testEnv{srv: srv, engine: engineProv, scan: scan, sessions: sessions, patients: patients, alerts: alertStore}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createPatient(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/patients", map[string]string{"name": "Test Patient"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create patient: %d %s", rec.Code, rec.Body.String())
	}
	var p store.Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode patient: %v", err)
	}
	return p.ID
}

func (e *testEnv) createSession(t *testing.T, patientID string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]string{"patient_id": patientID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rec.Code, rec.Body.String())
	}
	var sess store.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess.ID
}

// parseSSE extracts the JSON chunks from an event stream body.
func parseSSE(t *testing.T, body string) []conversation.Chunk {
	t.Helper()
	var chunks []conversation.Chunk
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var c conversation.Chunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c); err != nil {
			t.Fatalf("bad SSE data %q: %v", line, err)
		}
		chunks = append(chunks, c)
	}
	return chunks
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	sessionID := env.createSession(t, patientID)

	// Greeting.
	rec := env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/greeting", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("greeting: %d %s", rec.Code, rec.Body.String())
	}
	var greeting conversation.Greeting
	if err := json.Unmarshal(rec.Body.Bytes(), &greeting); err != nil {
		t.Fatalf("decode greeting: %v", err)
	}
	if greeting.Content == "" || greeting.IsEmergency {
		t.Errorf("unexpected greeting: %+v", greeting)
	}

	// One streamed exchange.
	rec = env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages",
		map[string]string{"content": "I have a persistent cough"})
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: %q", ct)
	}
	chunks := parseSSE(t, rec.Body.String())
	if len(chunks) < 2 {
		t.Fatalf("expected text + done chunks, got %+v", chunks)
	}
	last := chunks[len(chunks)-1]
	if last.Type != conversation.ChunkDone {
		t.Fatalf("terminal chunk: %+v", last)
	}
	if last.Content != "How long has this been going on?" {
		t.Errorf("done content: %q", last.Content)
	}

	// Transcript persisted: greeting, user message, assistant reply.
	rec = env.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/transcript", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript: %d", rec.Code)
	}
	var turns []store.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Role != store.RoleAssistant || turns[1].Role != store.RoleUser || turns[2].Role != store.RoleAssistant {
		t.Errorf("turn order wrong: %+v", turns)
	}

	// Complete runs extraction.
	rec = env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	var result extraction.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Skipped || result.VisitRecordID == "" || result.SummaryID == "" {
		t.Errorf("unexpected result: %+v", result)
	}

	// Artifacts retrievable, including rendered HTML.
	rec = env.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/artifacts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("artifacts: %d", rec.Code)
	}
	var artifacts []store.Artifact
	if err := json.Unmarshal(rec.Body.Bytes(), &artifacts); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	if len(artifacts) == 0 {
		t.Fatal("no artifacts after extraction")
	}
	rec = env.do(t, http.MethodGet, "/api/artifacts/"+artifacts[0].ID+"/html", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<h2") {
		t.Errorf("artifact html: %d %s", rec.Code, rec.Body.String())
	}

	// Completed sessions reject further messages.
	rec = env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages",
		map[string]string{"content": "one more thing"})
	if rec.Code != http.StatusConflict {
		t.Errorf("message to completed session: %d", rec.Code)
	}
}

func TestEmergencyEscalationFlow(t *testing.T) {
	env := newTestEnv(t)
	env.scan.verdict = `{"is_emergency": true, "details": "possible cardiac event"}`

	patientID := env.createPatient(t)
	sessionID := env.createSession(t, patientID)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages",
		map[string]string{"content": "crushing chest pain and shortness of breath"})
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: %d %s", rec.Code, rec.Body.String())
	}

	chunks := parseSSE(t, rec.Body.String())
	last := chunks[len(chunks)-1]
	if !last.IsEmergency || last.EmergencySource != emergency.SourceScanner {
		t.Errorf("terminal chunk not escalated: %+v", last)
	}
	if !strings.Contains(last.EmergencyDetails, "possible cardiac event") {
		t.Errorf("details: %q", last.EmergencyDetails)
	}

	sess, err := env.sessions.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.EmergencyFlagged || sess.EmergencySource != emergency.SourceScanner {
		t.Errorf("session not flagged: %+v", sess)
	}

	stored, err := env.alerts.List(context.Background(), alerts.ListFilter{SessionID: sessionID})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(stored) != 1 || stored[0].Severity != alerts.SeverityCritical {
		t.Errorf("emergency alert missing: %+v", stored)
	}
}

func TestGreetingFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.engine.err = errors.New("model unavailable")

	patientID := env.createPatient(t)
	sessionID := env.createSession(t, patientID)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/greeting", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("greeting failure: %d", rec.Code)
	}

	// Nothing was persisted.
	rec = env.do(t, http.MethodGet, "/api/sessions/"+sessionID+"/transcript", nil)
	var turns []store.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("failed greeting persisted turns: %+v", turns)
	}
}

func TestUnknownResourcesReturn404(t *testing.T) {
	env := newTestEnv(t)
	paths := []string{
		"/api/patients/nope",
		"/api/sessions/nope",
		"/api/sessions/nope/transcript",
		"/api/artifacts/nope",
	}
	for _, path := range paths {
		if rec := env.do(t, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: %d", path, rec.Code)
		}
	}

	rec := env.do(t, http.MethodPost, "/api/sessions", map[string]string{"patient_id": "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("session for unknown patient: %d", rec.Code)
	}
}

func TestSkippedExtractionStillCompletes(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	sessionID := env.createSession(t, patientID)

	// No exchanges at all.
	rec := env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	var result extraction.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Skipped {
		t.Error("empty session not skipped")
	}

	sess, err := env.sessions.Get(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Status != store.StatusCompleted {
		t.Errorf("session status: %q", sess.Status)
	}
}

func TestAuditTrailWritten(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	sessionID := env.createSession(t, patientID)

	env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/messages",
		map[string]string{"content": "hello"})
	env.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/complete", nil)

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/audit?session_id=%s", sessionID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit query: %d", rec.Code)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}

	seen := map[audit.Action]bool{}
	for _, e := range entries {
		seen[e.Action] = true
	}
	for _, want := range []audit.Action{
		audit.ActionSessionStarted,
		audit.ActionTurnExchanged,
		audit.ActionExtractionRan,
		audit.ActionSessionCompleted,
	} {
		if !seen[want] {
			t.Errorf("audit action %q missing (have %v)", want, entries)
		}
	}
}
