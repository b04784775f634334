package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Dispatcher persists alerts and delivers them to webhook subscribers.
type Dispatcher struct {
	store  *Store
	client *http.Client
}

// NewDispatcher creates a Dispatcher backed by the given store.
func NewDispatcher(store *Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Dispatch persists the alert and sends it to every subscription whose
// minimum severity it meets. Delivery failures are logged per subscriber;
// the alert record survives regardless.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert) (*Alert, error) {
	stored, err := d.store.Create(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("creating alert: %w", err)
	}

	subs, err := d.store.Subscriptions(ctx)
	if err != nil {
		log.Printf("alerts: listing subscriptions failed: %v", err)
		return stored, nil
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return stored, nil
	}

	delivered := false
	for _, sub := range subs {
		if sub.WebhookURL == "" || !severityMeets(stored.Severity, sub.MinSeverity) {
			continue
		}
		if err := d.sendWebhook(ctx, sub.WebhookURL, payload); err != nil {
			log.Printf("alerts: webhook %s failed: %v", sub.Name, err)
			continue
		}
		delivered = true
	}

	if delivered {
		if err := d.store.MarkDelivered(ctx, stored.ID); err != nil {
			log.Printf("alerts: marking alert delivered failed: %v", err)
		}
		stored.Delivered = true
	}
	return stored, nil
}

// Emergency raises the critical alert for a flagged session.
func (d *Dispatcher) Emergency(ctx context.Context, sessionID, patientID, details, source string) {
	_, err := d.Dispatch(ctx, Alert{
		SessionID: sessionID,
		PatientID: patientID,
		Severity:  SeverityCritical,
		Title:     "Emergency flagged during consultation",
		Message:   fmt.Sprintf("%s (flagged by %s)", details, source),
	})
	if err != nil {
		log.Printf("alerts: dispatching emergency alert failed: %v", err)
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// severityMeets reports whether actual is at or above the threshold.
func severityMeets(actual, threshold Severity) bool {
	levels := map[Severity]int{
		SeverityInfo:     0,
		SeverityWarning:  1,
		SeverityCritical: 2,
	}
	return levels[actual] >= levels[threshold]
}
