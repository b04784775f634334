// Package alerts records clinician-facing alerts and delivers them to
// webhook subscribers. The main producer is the emergency path: a flagged
// session raises a critical alert so on-call staff hear about it outside the
// patient's own stream.
package alerts

import "time"

// Severity indicates the importance of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single clinician-facing alert record.
type Alert struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription registers a webhook that receives alerts at or above a
// minimum severity.
type Subscription struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	WebhookURL  string    `json:"webhook_url"`
	MinSeverity Severity  `json:"min_severity"`
	CreatedAt   time.Time `json:"created_at"`
}
