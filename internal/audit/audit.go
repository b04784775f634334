// Package audit records who did what to a session. Clinical platforms need a
// reviewable trail; every state transition on a session writes one entry.
package audit

import "time"

// ActorType identifies who performed an action.
type ActorType string

const (
	ActorPatient   ActorType = "patient"
	ActorClinician ActorType = "clinician"
	ActorSystem    ActorType = "system"
)

// Action describes what was done.
type Action string

const (
	ActionSessionStarted   Action = "session_started"
	ActionTurnExchanged    Action = "turn_exchanged"
	ActionEmergencyFlagged Action = "emergency_flagged"
	ActionSessionCompleted Action = "session_completed"
	ActionExtractionRan    Action = "extraction_ran"
	ActionProfileUpdated   Action = "profile_updated"
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ActorType ActorType `json:"actor_type"`
	ActorID   string    `json:"actor_id"`
	Action    Action    `json:"action"`
	SessionID string    `json:"session_id,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}
