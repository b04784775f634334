package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist. Callers
// branch on it to distinguish a missing record from a storage failure.
var ErrNotFound = errors.New("not found")

// SessionMode describes how a consultation is conducted.
type SessionMode string

const (
	ModeText   SessionMode = "text"
	ModeVoice  SessionMode = "voice"
	ModeScribe SessionMode = "scribe"
)

// SessionStatus is the lifecycle state of a session. Transitions are
// monotonic: active -> completed, never reversed.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Patient is one patient known to the platform.
type Patient struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DateOfBirth string    `json:"date_of_birth,omitempty"`
	Sex         string    `json:"sex,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Language    string    `json:"language"`
	Profile     string    `json:"profile,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Session identifies one consultation.
type Session struct {
	ID               string        `json:"id"`
	PatientID        string        `json:"patient_id"`
	Mode             SessionMode   `json:"mode"`
	Language         string        `json:"language"`
	Status           SessionStatus `json:"status"`
	EmergencyFlagged bool          `json:"emergency_flagged"`
	EmergencyDetails *string       `json:"emergency_details,omitempty"`
	EmergencySource  string        `json:"emergency_source,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	SummaryCache     string        `json:"summary_cache,omitempty"`
	InputTokens      int           `json:"input_tokens"`
	OutputTokens     int           `json:"output_tokens"`
	EstimatedCost    float64       `json:"estimated_cost"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
}

// TurnRole describes who authored a transcript turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one transcript entry. Seq is the position in conversation order;
// the (session, seq) pair is unique and append-only.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactKind categorises a clinical document produced by extraction.
type ArtifactKind string

const (
	KindVisitRecord    ArtifactKind = "visit_record"
	KindSOAPNote       ArtifactKind = "soap_note"
	KindEHREntry       ArtifactKind = "ehr_entry"
	KindSummary        ArtifactKind = "summary"
	KindClinicalLetter ArtifactKind = "clinical_letter"
)

// Artifact is a structured clinical document derived from a session
// transcript. At most one artifact exists per (session, kind, recipient).
type Artifact struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	PatientID   string       `json:"patient_id"`
	Kind        ArtifactKind `json:"kind"`
	Recipient   string       `json:"recipient,omitempty"`
	Content     string       `json:"content"`
	ContentType string       `json:"content_type"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
