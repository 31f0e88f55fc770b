package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
)

// CreateAlertRequest DTO для SOS или сообщения о другом человеке
// @Description DTO для SOS или сообщения о другом человеке
type CreateAlertRequest struct {
	Type        string   `json:"type" validate:"required,oneof=sos report"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Address     string   `json:"address,omitempty" validate:"max=500"`
	PatientName string   `json:"patient_name,omitempty" validate:"max=255"`
	Condition   string   `json:"condition,omitempty" validate:"max=255"`
	Details     string   `json:"details,omitempty" validate:"max=2000"`
	Notes       string   `json:"notes,omitempty" validate:"max=2000"`
}

// UpdateIncidentRequest DTO для явного изменения инцидента сотрудником
// @Description DTO для явного изменения инцидента сотрудником
type UpdateIncidentRequest struct {
	Status     *string `json:"status,omitempty" validate:"omitempty,oneof=IN_PROGRESS RESOLVED CANCELLED"`
	FacilityID *string `json:"facility_id,omitempty" validate:"omitempty,uuid"`
	Notes      *string `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

// ReporterResponse DTO автора обращения
type ReporterResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID          uuid.UUID         `json:"id"`
	DisplayID   string            `json:"display_id"`
	ReporterID  uuid.UUID         `json:"reporter_id"`
	Reporter    *ReporterResponse `json:"reporter,omitempty"`
	FacilityID  *uuid.UUID        `json:"facility_id,omitempty"`
	Facility    *FacilityResponse `json:"facility,omitempty"`
	AssignedTo  *uuid.UUID        `json:"assigned_to,omitempty"`
	Status      string            `json:"status"`
	Priority    string            `json:"priority"`
	Source      string            `json:"source"`
	Latitude    *float64          `json:"latitude,omitempty"`
	Longitude   *float64          `json:"longitude,omitempty"`
	Address     string            `json:"address,omitempty"`
	Description string            `json:"description,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	PersonName  string            `json:"person_name,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	AcceptedAt  *time.Time        `json:"accepted_at,omitempty"`
	ResolvedAt  *time.Time        `json:"resolved_at,omitempty"`
}

// AlertResponse DTO ответа на обращение: инцидент, кандидаты и предупреждение подбора
// @Description DTO ответа на обращение
type AlertResponse struct {
	Incident   *IncidentResponse         `json:"incident"`
	Facilities []*RankedFacilityResponse `json:"facilities"`
	Warning    *models.MatchWarning      `json:"warning,omitempty"`
}

// CreateFacilityRequest DTO для регистрации учреждения
// @Description DTO для регистрации учреждения
type CreateFacilityRequest struct {
	Name       string   `json:"name" validate:"required,min=2,max=255"`
	Address    string   `json:"address,omitempty" validate:"max=500"`
	City       string   `json:"city,omitempty" validate:"max=100"`
	State      string   `json:"state,omitempty" validate:"max=100"`
	PostalCode string   `json:"postal_code,omitempty" validate:"max=20"`
	Phone      string   `json:"phone,omitempty" validate:"max=50"`
	Latitude   *float64 `json:"latitude" validate:"required,latitude"`
	Longitude  *float64 `json:"longitude" validate:"required,longitude"`
}

// FacilityResponse DTO учреждения
type FacilityResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address,omitempty"`
	City       string    `json:"city,omitempty"`
	State      string    `json:"state,omitempty"`
	PostalCode string    `json:"postal_code,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
}

// RankedFacilityResponse DTO кандидата подбора
type RankedFacilityResponse struct {
	Facility       *FacilityResponse `json:"facility"`
	DistanceMeters float64           `json:"distance_meters"`
}

// EmergencyContactDTO DTO экстренного контакта
type EmergencyContactDTO struct {
	Name         string `json:"name" validate:"required,max=255"`
	Phone        string `json:"phone" validate:"required,max=50"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Relationship string `json:"relationship,omitempty" validate:"max=100"`
}

// ProfileRequest DTO медицинской карты
// @Description DTO медицинской карты
type ProfileRequest struct {
	DateOfBirth       string                `json:"date_of_birth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BloodType         string                `json:"blood_type,omitempty" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	Allergies         []string              `json:"allergies,omitempty" validate:"max=50,dive,max=100"`
	Medications       string                `json:"medications,omitempty" validate:"max=2000"`
	Conditions        []string              `json:"conditions,omitempty" validate:"max=50,dive,max=100"`
	EmergencyContacts []EmergencyContactDTO `json:"emergency_contacts,omitempty" validate:"max=5,dive"`
}

// ProfileResponse DTO медицинской карты в ответе
type ProfileResponse struct {
	UserID            uuid.UUID             `json:"user_id"`
	DateOfBirth       string                `json:"date_of_birth,omitempty"`
	BloodType         string                `json:"blood_type,omitempty"`
	Allergies         []string              `json:"allergies"`
	Medications       string                `json:"medications,omitempty"`
	Conditions        []string              `json:"conditions"`
	EmergencyContacts []EmergencyContactDTO `json:"emergency_contacts"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// RegisterRequest DTO регистрации
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest DTO входа
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserResponse DTO пользователя
type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  string    `json:"role"`
}

// TokenResponse DTO токена доступа
type TokenResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int64         `json:"expires_in"`
	User        *UserResponse `json:"user"`
}

// StatsResponse DTO для ответа со статистикой
// @Description DTO для ответа со статистикой
type StatsResponse struct {
	WindowMinutes int            `json:"window_minutes"`
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
}

// ErrorResponse DTO ошибки; error_id совпадает с X-Request-ID
type ErrorResponse struct {
	Error   string `json:"error"`
	ErrorID string `json:"error_id,omitempty"`
}
