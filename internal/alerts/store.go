package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediloop/mediloop/internal/store"
)

// Store persists alerts and webhook subscriptions.
type Store struct {
	db *store.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *store.DB) *Store {
	return &Store{db: database}
}

// Create inserts a new alert. If a.ID is empty a UUID is generated.
func (s *Store) Create(ctx context.Context, a Alert) (*Alert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, session_id, patient_id, severity, title, message, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.PatientID, string(a.Severity), a.Title, a.Message, a.Delivered, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting alert: %w", err)
	}
	return &a, nil
}

// MarkDelivered records that the alert reached at least one subscriber.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alerts SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking alert delivered: %w", err)
	}
	return nil
}

// ListFilter controls which alerts List returns.
type ListFilter struct {
	SessionID string
	Severity  Severity
	Since     *time.Time
	Limit     int
}

// List returns alerts matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Alert, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, session_id, patient_id, severity, title, message, delivered, created_at FROM alerts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var severity string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.PatientID, &severity, &a.Title, &a.Message, &a.Delivered, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Severity = Severity(severity)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Subscribe registers a webhook subscription.
func (s *Store) Subscribe(ctx context.Context, sub Subscription) (*Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.MinSeverity == "" {
		sub.MinSeverity = SeverityCritical
	}
	sub.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_subscriptions (id, name, webhook_url, min_severity, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.WebhookURL, string(sub.MinSeverity), sub.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return &sub, nil
}

// Unsubscribe removes a webhook subscription.
func (s *Store) Unsubscribe(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Subscriptions returns all registered subscriptions.
func (s *Store) Subscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, webhook_url, min_severity, created_at FROM alert_subscriptions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var sev string
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.WebhookURL, &sev, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.MinSeverity = Severity(sev)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
