package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

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

func TestCreateAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, Alert{SessionID: "s1", Severity: SeverityCritical, Title: "emergency"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, Alert{SessionID: "s2", Severity: SeverityInfo, Title: "note"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	critical, err := s.List(ctx, ListFilter{Severity: SeverityCritical})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(critical) != 1 || critical[0].Title != "emergency" {
		t.Errorf("unexpected alerts: %+v", critical)
	}
}

func TestDispatchDeliversToMatchingSubscribers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := s.Subscribe(ctx, Subscription{Name: "oncall", WebhookURL: srv.URL, MinSeverity: SeverityCritical}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	d := NewDispatcher(s)

	// Below threshold: stored but not delivered.
	info, err := d.Dispatch(ctx, Alert{Severity: SeverityInfo, Title: "fyi"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if info.Delivered || hits.Load() != 0 {
		t.Error("info alert should not reach a critical-only subscriber")
	}

	// At threshold: delivered and marked.
	crit, err := d.Dispatch(ctx, Alert{Severity: SeverityCritical, Title: "emergency"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !crit.Delivered || hits.Load() != 1 {
		t.Errorf("critical alert not delivered (delivered=%v hits=%d)", crit.Delivered, hits.Load())
	}

	stored, err := s.List(ctx, ListFilter{Severity: SeverityCritical})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 1 || !stored[0].Delivered {
		t.Errorf("delivery not persisted: %+v", stored)
	}
}

func TestDispatchSurvivesWebhookFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := s.Subscribe(ctx, Subscription{Name: "broken", WebhookURL: srv.URL, MinSeverity: SeverityInfo}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	d := NewDispatcher(s)
	a, err := d.Dispatch(ctx, Alert{Severity: SeverityCritical, Title: "emergency"})
	if err != nil {
		t.Fatalf("Dispatch must not fail on webhook error: %v", err)
	}
	if a.Delivered {
		t.Error("failed delivery marked as delivered")
	}

	stored, err := s.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("alert record lost: %+v", stored)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, Subscription{Name: "oncall", WebhookURL: "http://example.invalid/hook"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if sub.MinSeverity != SeverityCritical {
		t.Errorf("default severity: %q", sub.MinSeverity)
	}

	if err := s.Unsubscribe(ctx, sub.ID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := s.Unsubscribe(ctx, sub.ID); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSeverityMeets(t *testing.T) {
	if !severityMeets(SeverityCritical, SeverityInfo) {
		t.Error("critical should meet info threshold")
	}
	if severityMeets(SeverityInfo, SeverityWarning) {
		t.Error("info should not meet warning threshold")
	}
	if !severityMeets(SeverityWarning, SeverityWarning) {
		t.Error("equal severity should meet threshold")
	}
}
