package audit

import (
	"context"
	"testing"
	"time"

	"github.com/mediloop/mediloop/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestLogAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []Entry{
		{ActorType: ActorSystem, ActorID: "engine", Action: ActionSessionStarted, SessionID: "s1", PatientID: "p1"},
		{ActorType: ActorPatient, ActorID: "p1", Action: ActionTurnExchanged, SessionID: "s1", PatientID: "p1"},
		{ActorType: ActorSystem, ActorID: "scanner", Action: ActionEmergencyFlagged, SessionID: "s2", PatientID: "p2", Summary: "possible cardiac event"},
	}
	for _, e := range entries {
		if err := s.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	bySession, err := s.Query(ctx, QueryFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(bySession) != 2 {
		t.Errorf("expected 2 entries for s1, got %d", len(bySession))
	}

	byAction, err := s.Query(ctx, QueryFilter{Action: ActionEmergencyFlagged})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byAction) != 1 || byAction[0].Summary != "possible cardiac event" {
		t.Errorf("unexpected entries: %+v", byAction)
	}
}

func TestQueryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Log(ctx, Entry{ActorType: ActorSystem, ActorID: "engine", Action: ActionTurnExchanged, SessionID: "s1"}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	got, err := s.Query(ctx, QueryFilter{SessionID: "s1", Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("limit ignored: got %d entries", len(got))
	}
}

func TestDeleteBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := Entry{ActorType: ActorSystem, ActorID: "engine", Action: ActionSessionStarted,
		Timestamp: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := Entry{ActorType: ActorSystem, ActorID: "engine", Action: ActionSessionStarted}
	if err := s.Log(ctx, old); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := s.Log(ctx, fresh); err != nil {
		t.Fatalf("Log: %v", err)
	}

	n, err := s.DeleteBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d entries, want 1", n)
	}

	remaining, err := s.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("%d entries remain, want 1", len(remaining))
	}
}
