package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/service"
)

type ProfileRepository struct {
	db *pgxpool.Pool
}

func NewProfileRepository(db *pgxpool.Pool) service.ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetByUserID возвращает медицинскую карту пользователя
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.MedicalProfile, error) {
	query := `
		SELECT user_id, date_of_birth, blood_type, allergies, medications, conditions, emergency_contacts, created_at, updated_at
		FROM medical_profiles
		WHERE user_id = $1;
	`
	profile := &models.MedicalProfile{}
	var contacts []byte
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.DateOfBirth,
		&profile.BloodType,
		&profile.Allergies,
		&profile.Medications,
		&profile.Conditions,
		&contacts,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("medical profile for user %s: %w", userID, service.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get medical profile: %w", err)
	}

	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &profile.EmergencyContacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal emergency contacts: %w", err)
		}
	}
	return profile, nil
}

// Upsert создает или заменяет медицинскую карту
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.MedicalProfile) error {
	emergencyContacts := profile.EmergencyContacts
	if emergencyContacts == nil {
		emergencyContacts = []models.EmergencyContact{}
	}
	contacts, err := json.Marshal(emergencyContacts)
	if err != nil {
		return fmt.Errorf("failed to marshal emergency contacts: %w", err)
	}

	query := `
		INSERT INTO medical_profiles (user_id, date_of_birth, blood_type, allergies, medications, conditions, emergency_contacts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			date_of_birth = EXCLUDED.date_of_birth,
			blood_type = EXCLUDED.blood_type,
			allergies = EXCLUDED.allergies,
			medications = EXCLUDED.medications,
			conditions = EXCLUDED.conditions,
			emergency_contacts = EXCLUDED.emergency_contacts,
			updated_at = NOW()
		RETURNING created_at, updated_at;
	`
	err = r.db.QueryRow(ctx, query,
		profile.UserID,
		profile.DateOfBirth,
		profile.BloodType,
		profile.Allergies,
		profile.Medications,
		profile.Conditions,
		string(contacts),
	).Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert medical profile: %w", err)
	}
	return nil
}
