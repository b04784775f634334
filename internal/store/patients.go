package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PatientStore provides CRUD operations for patients.
type PatientStore struct {
	db *DB
}

// NewPatientStore creates a PatientStore backed by the given database.
func NewPatientStore(database *DB) *PatientStore {
	return &PatientStore{db: database}
}

// Create inserts a new patient. If p.ID is empty a UUID is generated.
func (s *PatientStore) Create(ctx context.Context, p Patient) (*Patient, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Language == "" {
		p.Language = "en"
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, name, date_of_birth, sex, phone, language, profile, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.DateOfBirth, p.Sex, p.Phone, p.Language, p.Profile, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting patient: %w", err)
	}
	return &p, nil
}

// Get retrieves a patient by ID. Returns ErrNotFound if absent.
func (s *PatientStore) Get(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, date_of_birth, sex, phone, language, profile, created_at, updated_at
		 FROM patients WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.DateOfBirth, &p.Sex, &p.Phone, &p.Language, &p.Profile, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return &p, nil
}

// UpdateProfile replaces the longitudinal profile text for a patient.
func (s *PatientStore) UpdateProfile(ctx context.Context, id, profile string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE patients SET profile = ?, updated_at = ? WHERE id = ?`,
		profile, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating patient profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
