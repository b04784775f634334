// Package ehr assembles the patient-history context injected into a
// consultation's system prompt. Small histories are included verbatim; large
// ones are narrowed by semantic retrieval against the presenting complaint.
package ehr

import (
	"context"
	"fmt"
	"log"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mediloop/mediloop/internal/embeddings"
	"github.com/mediloop/mediloop/internal/store"
)

// maxVerbatimEntries is the history size above which retrieval kicks in.
const maxVerbatimEntries = 5

// topK is how many history entries retrieval contributes to the context.
const topK = 3

// Hydrator builds the EHR context string for a session.
type Hydrator struct {
	patients  *store.PatientStore
	artifacts *store.ArtifactStore
	embedder  embeddings.Embedder
}

// NewHydrator creates a hydrator. embedder may be nil, in which case large
// histories fall back to the most recent entries.
func NewHydrator(patients *store.PatientStore, artifacts *store.ArtifactStore, embedder embeddings.Embedder) *Hydrator {
	return &Hydrator{
		patients:  patients,
		artifacts: artifacts,
		embedder:  embedder,
	}
}

// Context assembles the history context for patientID. presentingComplaint,
// when non-empty, steers retrieval over a large history. Retrieval failures
// degrade to recency ordering and are logged, not returned; only a missing
// patient is an error.
func (h *Hydrator) Context(ctx context.Context, patientID, presentingComplaint string) (string, error) {
	patient, err := h.patients.Get(ctx, patientID)
	if err != nil {
		return "", fmt.Errorf("load patient: %w", err)
	}

	var b strings.Builder
	writeProfile(&b, patient)

	entries, err := h.artifacts.ListByPatientKind(ctx, patientID, store.KindEHREntry)
	if err != nil {
		log.Printf("ehr: listing history failed, continuing with profile only: %v", err)
		return b.String(), nil
	}
	if len(entries) == 0 {
		return b.String(), nil
	}

	selected := entries
	if len(entries) > maxVerbatimEntries {
		selected = h.narrow(ctx, entries, presentingComplaint)
	}

	b.WriteString("\nPrior visit records:\n")
	for _, a := range selected {
		b.WriteString("---\n")
		b.WriteString(strings.TrimSpace(a.Content))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// narrow picks the history entries most relevant to the presenting
// complaint. Without an embedder or a complaint, or on any retrieval error,
// it returns the most recent entries instead.
func (h *Hydrator) narrow(ctx context.Context, entries []store.Artifact, complaint string) []store.Artifact {
	if h.embedder == nil || strings.TrimSpace(complaint) == "" {
		return recent(entries, topK)
	}

	selected, err := h.retrieve(ctx, entries, complaint)
	if err != nil {
		log.Printf("ehr: semantic retrieval failed, falling back to recency: %v", err)
		return recent(entries, topK)
	}
	return selected
}

func (h *Hydrator) retrieve(ctx context.Context, entries []store.Artifact, complaint string) ([]store.Artifact, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("patient-history", nil, embeddings.ToChromemFunc(h.embedder))
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	byID := make(map[string]store.Artifact, len(entries))
	docs := make([]chromem.Document, 0, len(entries))
	for _, a := range entries {
		byID[a.ID] = a
		docs = append(docs, chromem.Document{ID: a.ID, Content: a.Content})
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("index history: %w", err)
	}

	limit := topK
	if count := col.Count(); limit > count {
		limit = count
	}
	results, err := col.Query(ctx, complaint, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	selected := make([]store.Artifact, 0, len(results))
	for _, r := range results {
		if a, ok := byID[r.ID]; ok {
			selected = append(selected, a)
		}
	}
	return selected, nil
}

// recent returns up to the n newest entries; the store lists oldest first.
func recent(entries []store.Artifact, n int) []store.Artifact {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}

func writeProfile(b *strings.Builder, p *store.Patient) {
	b.WriteString("Patient: ")
	b.WriteString(p.Name)
	if p.DateOfBirth != "" {
		b.WriteString(", born ")
		b.WriteString(p.DateOfBirth)
	}
	if p.Sex != "" {
		b.WriteString(", ")
		b.WriteString(p.Sex)
	}
	b.WriteString("\n")
	if strings.TrimSpace(p.Profile) != "" {
		b.WriteString("Profile:\n")
		b.WriteString(strings.TrimSpace(p.Profile))
		b.WriteString("\n")
	}
}
