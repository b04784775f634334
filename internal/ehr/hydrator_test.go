package ehr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mediloop/mediloop/internal/store"
)

func setup(t *testing.T) (*store.PatientStore, *store.SessionStore, *store.ArtifactStore) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewPatientStore(db), store.NewSessionStore(db), store.NewArtifactStore(db)
}

func addEntry(t *testing.T, sessions *store.SessionStore, artifacts *store.ArtifactStore, patientID, content string) {
	t.Helper()
	sess, err := sessions.Create(context.Background(), patientID, store.ModeText, "en")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, err = artifacts.Upsert(context.Background(), store.Artifact{
		SessionID: sess.ID,
		PatientID: patientID,
		Kind:      store.KindEHREntry,
		Content:   content,
	})
	if err != nil {
		t.Fatalf("upsert artifact: %v", err)
	}
}

func TestContextIncludesProfileAndHistory(t *testing.T) {
	patients, sessions, artifacts := setup(t)
	ctx := context.Background()

	p, err := patients.Create(ctx, store.Patient{
		Name:        "Jamie Doe",
		DateOfBirth: "1985-03-12",
		Profile:     "Allergies: penicillin.\nConditions: asthma.",
	})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	addEntry(t, sessions, artifacts, p.ID, "2026-01-10: wheezing, salbutamol adjusted")

	h := NewHydrator(patients, artifacts, nil)
	got, err := h.Context(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("Context: %v", err)
	}

	for _, want := range []string{"Jamie Doe", "1985-03-12", "penicillin", "salbutamol"} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing %q:\n%s", want, got)
		}
	}
}

func TestContextEmptyHistory(t *testing.T) {
	patients, _, artifacts := setup(t)
	ctx := context.Background()

	p, err := patients.Create(ctx, store.Patient{Name: "New Patient"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}

	h := NewHydrator(patients, artifacts, nil)
	got, err := h.Context(ctx, p.ID, "headache")
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if !strings.Contains(got, "New Patient") {
		t.Errorf("context missing patient name:\n%s", got)
	}
	if strings.Contains(got, "Prior visit records") {
		t.Errorf("empty history produced a records section:\n%s", got)
	}
}

func TestContextUnknownPatient(t *testing.T) {
	patients, _, artifacts := setup(t)

	h := NewHydrator(patients, artifacts, nil)
	_, err := h.Context(context.Background(), "nope", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLargeHistoryFallsBackToRecencyWithoutEmbedder(t *testing.T) {
	patients, sessions, artifacts := setup(t)
	ctx := context.Background()

	p, err := patients.Create(ctx, store.Patient{Name: "Long History"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	entries := []string{
		"visit one: sprained ankle",
		"visit two: flu symptoms",
		"visit three: follow-up ankle",
		"visit four: migraine onset",
		"visit five: migraine recurrence",
		"visit six: blood pressure check",
		"visit seven: medication review",
	}
	for _, e := range entries {
		addEntry(t, sessions, artifacts, p.ID, e)
	}

	h := NewHydrator(patients, artifacts, nil)
	got, err := h.Context(ctx, p.ID, "migraine")
	if err != nil {
		t.Fatalf("Context: %v", err)
	}

	// No embedder: the newest topK entries are kept, the oldest dropped.
	if strings.Contains(got, "sprained ankle") {
		t.Errorf("oldest entry survived narrowing:\n%s", got)
	}
	for _, want := range []string{"migraine recurrence", "blood pressure", "medication review"} {
		if !strings.Contains(got, want) {
			t.Errorf("context missing recent entry %q:\n%s", want, got)
		}
	}
}

func TestRecentKeepsNewestEntries(t *testing.T) {
	entries := []store.Artifact{
		{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
	}
	got := recent(entries, 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "d" {
		t.Errorf("recent returned %+v", got)
	}
	if len(recent(entries, 10)) != 4 {
		t.Error("recent truncated a small history")
	}
}
