package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArtifactStore persists clinical artifacts produced by the extraction
// pipeline. Upsert keys on (session, kind, recipient) so re-running
// extraction for a session replaces artifacts instead of duplicating them.
type ArtifactStore struct {
	db *DB
}

// NewArtifactStore creates an ArtifactStore backed by the given database.
func NewArtifactStore(database *DB) *ArtifactStore {
	return &ArtifactStore{db: database}
}

// Upsert inserts the artifact, or replaces the content of the existing
// artifact with the same (session, kind, recipient) key. Returns the stored
// artifact with its identifier.
func (s *ArtifactStore) Upsert(ctx context.Context, a Artifact) (*Artifact, error) {
	now := time.Now().UTC()
	if a.ContentType == "" {
		a.ContentType = "markdown"
	}

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM artifacts WHERE session_id = ? AND kind = ? AND recipient = ?`,
		a.SessionID, string(a.Kind), a.Recipient,
	).Scan(&existingID)

	if err == nil {
		a.ID = existingID
		a.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			`UPDATE artifacts SET content = ?, content_type = ?, updated_at = ? WHERE id = ?`,
			a.Content, a.ContentType, a.UpdatedAt, a.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("updating artifact: %w", err)
		}
		return &a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checking existing artifact: %w", err)
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, session_id, patient_id, kind, recipient, content, content_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.PatientID, string(a.Kind), a.Recipient, a.Content, a.ContentType, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting artifact: %w", err)
	}
	return &a, nil
}

// Get retrieves an artifact by ID. Returns ErrNotFound if absent.
func (s *ArtifactStore) Get(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, patient_id, kind, recipient, content, content_type, created_at, updated_at
		 FROM artifacts WHERE id = ?`, id,
	).Scan(&a.ID, &a.SessionID, &a.PatientID, &a.Kind, &a.Recipient, &a.Content, &a.ContentType, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting artifact: %w", err)
	}
	return &a, nil
}

// ListBySession returns all artifacts for a session.
func (s *ArtifactStore) ListBySession(ctx context.Context, sessionID string) ([]Artifact, error) {
	return s.list(ctx, `SELECT id, session_id, patient_id, kind, recipient, content, content_type, created_at, updated_at
		 FROM artifacts WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
}

// ListByPatientKind returns a patient's artifacts of one kind, oldest first.
// Used by the EHR hydrator to assemble the longitudinal record.
func (s *ArtifactStore) ListByPatientKind(ctx context.Context, patientID string, kind ArtifactKind) ([]Artifact, error) {
	return s.list(ctx, `SELECT id, session_id, patient_id, kind, recipient, content, content_type, created_at, updated_at
		 FROM artifacts WHERE patient_id = ? AND kind = ? ORDER BY created_at ASC`, patientID, string(kind))
}

func (s *ArtifactStore) list(ctx context.Context, query string, args ...any) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.SessionID, &a.PatientID, &a.Kind, &a.Recipient, &a.Content, &a.ContentType, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
