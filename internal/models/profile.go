package models

import (
	"time"

	"github.com/google/uuid"
)

// EmergencyContact - контакт для связи в экстренной ситуации
type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// MedicalProfile - медицинская карта пользователя.
// Списки хранятся нормализованными (TEXT[] и JSONB), без разбора строк при чтении.
type MedicalProfile struct {
	UserID            uuid.UUID          `json:"user_id"`
	DateOfBirth       *time.Time         `json:"date_of_birth,omitempty"`
	BloodType         string             `json:"blood_type"`
	Allergies         []string           `json:"allergies"`
	Medications       string             `json:"medications"`
	Conditions        []string           `json:"conditions"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
