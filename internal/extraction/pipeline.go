package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mediloop/mediloop/internal/llm"
	"github.com/mediloop/mediloop/internal/store"
)

// ContextHydrator supplies the patient-history context used to ground
// extraction. Implemented by ehr.Hydrator.
type ContextHydrator interface {
	Context(ctx context.Context, patientID, presentingComplaint string) (string, error)
}

// Pipeline extracts clinical artifacts from a session transcript.
type Pipeline struct {
	provider  llm.Provider
	model     string
	sessions  *store.SessionStore
	patients  *store.PatientStore
	artifacts *store.ArtifactStore
	hydrator  ContextHydrator
}

// NewPipeline creates an extraction pipeline. hydrator may be nil; extraction
// then runs without patient-history grounding.
func NewPipeline(provider llm.Provider, model string, sessions *store.SessionStore, patients *store.PatientStore, artifacts *store.ArtifactStore, hydrator ContextHydrator) *Pipeline {
	return &Pipeline{
		provider:  provider,
		model:     model,
		sessions:  sessions,
		patients:  patients,
		artifacts: artifacts,
		hydrator:  hydrator,
	}
}

// Run extracts all artifacts for sessionID and marks the session completed.
// A transcript without at least one user/assistant exchange is skipped but
// the session is still completed. Stage failures are collected in the result,
// never fatal; only failures to load or complete the session return an error.
// Re-running replaces the previous run's artifacts.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	transcript, err := p.sessions.Transcript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}

	res := &Result{SessionID: sessionID}

	if !hasExchange(transcript) {
		res.Skipped = true
		log.Printf("extraction: session %s has no complete exchange, skipping", sessionID)
		if err := p.complete(ctx, sess); err != nil {
			return nil, err
		}
		return res, nil
	}

	text := "Transcript:\n" + formatTranscript(transcript)

	// Hydration failure degrades to ungrounded extraction; it is logged but
	// never counted as a stage error.
	if p.hydrator != nil {
		ehrContext, err := p.hydrator.Context(ctx, sess.PatientID, firstUserTurn(transcript))
		if err != nil {
			log.Printf("extraction: EHR hydration failed for session %s, extracting without history: %v", sessionID, err)
		} else if ehrContext != "" {
			text = "Known patient history:\n" + ehrContext + "\n" + text
		}
	}

	if a, err := p.extractArtifact(ctx, sess, text, store.KindVisitRecord, visitRecordPrompt); err != nil {
		res.fail("visit_record", err)
	} else {
		res.VisitRecordID = a.ID
	}

	if a, err := p.extractArtifact(ctx, sess, text, store.KindSOAPNote, soapNotePrompt); err != nil {
		res.fail("soap_note", err)
	} else {
		res.SOAPNoteID = a.ID
	}

	if a, err := p.extractArtifact(ctx, sess, text, store.KindEHREntry, ehrEntryPrompt); err != nil {
		res.fail("ehr_entry", err)
	} else {
		res.EHREntryID = a.ID
	}

	if a, err := p.extractArtifact(ctx, sess, text, store.KindSummary, summaryPrompt); err != nil {
		res.fail("summary", err)
	} else {
		res.SummaryID = a.ID
		if err := p.sessions.UpdateMetadata(ctx, sess.ID, sess.Notes, a.Content); err != nil {
			res.fail("summary_cache", err)
		}
	}

	if ids, err := p.extractLetters(ctx, sess, text); err != nil {
		res.fail("clinical_letters", err)
	} else {
		res.ClinicalLetterIDs = ids
	}

	if updated, err := p.updateProfile(ctx, sess, text); err != nil {
		res.fail("patient_profile", err)
	} else {
		res.PatientUpdated = updated
	}

	if err := p.complete(ctx, sess); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) complete(ctx context.Context, sess *store.Session) error {
	// Re-extraction of an already-completed session is legal; Complete is a
	// no-op then.
	if sess.Status == store.StatusCompleted {
		return nil
	}
	if err := p.sessions.Complete(ctx, sess.ID); err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	return nil
}

// extractArtifact runs one generation stage and upserts its document.
func (p *Pipeline) extractArtifact(ctx context.Context, sess *store.Session, transcript string, kind store.ArtifactKind, prompt string) (*store.Artifact, error) {
	content, err := p.generate(ctx, transcript, prompt, false)
	if err != nil {
		return nil, err
	}
	return p.artifacts.Upsert(ctx, store.Artifact{
		SessionID: sess.ID,
		PatientID: sess.PatientID,
		Kind:      kind,
		Content:   content,
	})
}

type letter struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

func (p *Pipeline) extractLetters(ctx context.Context, sess *store.Session, transcript string) ([]string, error) {
	raw, err := p.generate(ctx, transcript, clinicalLettersPrompt, true)
	if err != nil {
		return nil, err
	}

	var letters []letter
	if err := json.Unmarshal([]byte(raw), &letters); err != nil {
		return nil, fmt.Errorf("parsing letters response: %w", err)
	}

	ids := make([]string, 0, len(letters))
	for _, l := range letters {
		if l.Recipient == "" || strings.TrimSpace(l.Content) == "" {
			continue
		}
		a, err := p.artifacts.Upsert(ctx, store.Artifact{
			SessionID: sess.ID,
			PatientID: sess.PatientID,
			Kind:      store.KindClinicalLetter,
			Recipient: l.Recipient,
			Content:   l.Content,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (p *Pipeline) updateProfile(ctx context.Context, sess *store.Session, transcript string) (bool, error) {
	patient, err := p.patients.Get(ctx, sess.PatientID)
	if err != nil {
		return false, fmt.Errorf("loading patient: %w", err)
	}

	input := profileUpdatePrompt + "\n\nCurrent profile:\n" + patient.Profile + "\n\n" + transcript
	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Model:       p.model,
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: extractionSystemPrompt}, {Role: llm.RoleUser, Content: input}},
		Temperature: 0.2,
	})
	if err != nil {
		return false, err
	}

	updated := strings.TrimSpace(resp.Content)
	if updated == "" || updated == strings.TrimSpace(patient.Profile) {
		return false, nil
	}
	if err := p.patients.UpdateProfile(ctx, patient.ID, updated); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pipeline) generate(ctx context.Context, transcript, prompt string, jsonMode bool) (string, error) {
	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Model:       p.model,
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: extractionSystemPrompt}, {Role: llm.RoleUser, Content: prompt + "\n\n" + transcript}},
		Temperature: 0.2,
		JSONMode:    jsonMode,
	})
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", fmt.Errorf("model returned empty document")
	}
	return content, nil
}

func (r *Result) fail(stage string, err error) {
	msg := fmt.Sprintf("%s: %v", stage, err)
	log.Printf("extraction: stage failed: %s", msg)
	r.Errors = append(r.Errors, msg)
}

// hasExchange reports whether the transcript contains at least one user turn
// and one assistant turn.
func hasExchange(transcript []store.Turn) bool {
	var user, assistant bool
	for _, t := range transcript {
		switch t.Role {
		case store.RoleUser:
			user = true
		case store.RoleAssistant:
			assistant = true
		}
	}
	return user && assistant
}

func firstUserTurn(transcript []store.Turn) string {
	for _, t := range transcript {
		if t.Role == store.RoleUser {
			return t.Content
		}
	}
	return ""
}

func formatTranscript(transcript []store.Turn) string {
	var b strings.Builder
	for _, t := range transcript {
		switch t.Role {
		case store.RoleUser:
			b.WriteString("Patient: ")
		case store.RoleAssistant:
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}
