package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStore provides persistence for sessions and their transcripts.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a SessionStore backed by the given database.
func NewSessionStore(database *DB) *SessionStore {
	return &SessionStore{db: database}
}

// Create inserts a new active session for the given patient.
func (s *SessionStore) Create(ctx context.Context, patientID string, mode SessionMode, language string) (*Session, error) {
	if language == "" {
		language = "en"
	}
	sess := Session{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Mode:      mode,
		Language:  language,
		Status:    StatusActive,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, patient_id, mode, language, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.PatientID, string(sess.Mode), sess.Language, string(sess.Status), sess.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return &sess, nil
}

// Get retrieves a session by ID. Returns ErrNotFound if absent.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var details sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, mode, language, status, emergency_flagged, emergency_details,
		        emergency_source, notes, summary_cache, input_tokens, output_tokens, estimated_cost,
		        started_at, ended_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.PatientID, &sess.Mode, &sess.Language, &sess.Status,
		&sess.EmergencyFlagged, &details, &sess.EmergencySource, &sess.Notes, &sess.SummaryCache,
		&sess.InputTokens, &sess.OutputTokens, &sess.EstimatedCost, &sess.StartedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if details.Valid {
		sess.EmergencyDetails = &details.String
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

// ListByPatient returns all sessions for a patient, most recent first.
func (s *SessionStore) ListByPatient(ctx context.Context, patientID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, mode, language, status, emergency_flagged, emergency_details,
		        emergency_source, notes, summary_cache, input_tokens, output_tokens, estimated_cost,
		        started_at, ended_at
		 FROM sessions WHERE patient_id = ? ORDER BY started_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var details sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.PatientID, &sess.Mode, &sess.Language, &sess.Status,
			&sess.EmergencyFlagged, &details, &sess.EmergencySource, &sess.Notes, &sess.SummaryCache,
			&sess.InputTokens, &sess.OutputTokens, &sess.EstimatedCost, &sess.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if details.Valid {
			sess.EmergencyDetails = &details.String
		}
		if endedAt.Valid {
			t := endedAt.Time
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ListCompleted returns the IDs of all completed sessions, oldest first.
func (s *SessionStore) ListCompleted(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status = 'completed' ORDER BY ended_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing completed sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Complete marks a session completed. The transition is monotonic: completing
// an already-completed session is a no-op, and ended_at is never overwritten.
func (s *SessionStore) Complete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = ?
		 WHERE id = ? AND status = 'active'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either already completed (fine) or missing (not found).
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// FlagEmergency escalates the session's emergency state. The flag only
// transitions false -> true; a session already flagged keeps its original
// details and source.
func (s *SessionStore) FlagEmergency(ctx context.Context, id, details, source string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET emergency_flagged = 1, emergency_details = ?, emergency_source = ?
		 WHERE id = ? AND emergency_flagged = 0`,
		details, source, id,
	)
	if err != nil {
		return fmt.Errorf("flagging emergency: %w", err)
	}
	return nil
}

// UpdateMetadata stores the engine's free-form notes and cached summary.
func (s *SessionStore) UpdateMetadata(ctx context.Context, id, notes, summaryCache string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET notes = ?, summary_cache = ? WHERE id = ?`,
		notes, summaryCache, id,
	)
	if err != nil {
		return fmt.Errorf("updating session metadata: %w", err)
	}
	return nil
}

// AddUsage accumulates token usage and estimated cost for a session.
func (s *SessionStore) AddUsage(ctx context.Context, id string, inputTokens, outputTokens int, cost float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ?,
		        estimated_cost = estimated_cost + ?
		 WHERE id = ?`,
		inputTokens, outputTokens, cost, id,
	)
	if err != nil {
		return fmt.Errorf("recording session usage: %w", err)
	}
	return nil
}

// AppendTurn durably appends a turn at the end of the session's transcript.
// Seq is assigned from the current transcript length, so turns read back in
// exactly the order they were appended.
func (s *SessionStore) AppendTurn(ctx context.Context, t Turn) (*Turn, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?`, t.SessionID,
	).Scan(&t.Seq)
	if err != nil {
		return nil, fmt.Errorf("assigning turn seq: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, seq, role, content, language, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Seq, string(t.Role), t.Content, t.Language, t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting turn: %w", err)
	}
	return &t, nil
}

// Transcript returns the full ordered transcript for a session.
func (s *SessionStore) Transcript(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, seq, role, content, language, created_at
		 FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Role, &t.Content, &t.Language, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
