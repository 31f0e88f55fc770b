package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/sirupsen/logrus"
)

// ProfileRepository определяет контракт хранения медицинских карт
type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.MedicalProfile, error)
	Upsert(ctx context.Context, profile *models.MedicalProfile) error
}

// ProfileService - чтение и запись медицинской карты вызывающего
type ProfileService interface {
	GetProfile(ctx context.Context, caller models.Caller) (*models.MedicalProfile, error)
	UpdateProfile(ctx context.Context, caller models.Caller, profile *models.MedicalProfile) (*models.MedicalProfile, error)
}

type profileService struct {
	repo   ProfileRepository
	logger *logrus.Logger
}

func NewProfileService(repo ProfileRepository, logger *logrus.Logger) ProfileService {
	return &profileService{
		repo:   repo,
		logger: logger,
	}
}

// GetProfile возвращает медицинскую карту вызывающего
func (s *profileService) GetProfile(ctx context.Context, caller models.Caller) (*models.MedicalProfile, error) {
	if !caller.IsAuthenticated() {
		return nil, NewUnauthenticatedError("unauthorized")
	}
	log := s.logger.WithFields(logrus.Fields{
		"service": "profile",
		"method":  "GetProfile",
		"user_id": caller.UserID,
	})

	profile, err := s.repo.GetByUserID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewNotFoundError("medical profile not found")
		}
		log.WithError(err).Error("Failed to get medical profile from repository")
		return nil, NewUpstreamError("could not get medical profile", err)
	}
	return profile, nil
}

// UpdateProfile создаёт или заменяет медицинскую карту вызывающего
func (s *profileService) UpdateProfile(ctx context.Context, caller models.Caller, profile *models.MedicalProfile) (*models.MedicalProfile, error) {
	if !caller.IsAuthenticated() {
		return nil, NewUnauthenticatedError("unauthorized")
	}
	log := s.logger.WithFields(logrus.Fields{
		"service": "profile",
		"method":  "UpdateProfile",
		"user_id": caller.UserID,
	})

	profile.UserID = caller.UserID
	profile.Allergies = normalizeList(profile.Allergies)
	profile.Conditions = normalizeList(profile.Conditions)
	contacts := make([]models.EmergencyContact, 0, len(profile.EmergencyContacts))
	for _, c := range profile.EmergencyContacts {
		if strings.TrimSpace(c.Name) == "" && strings.TrimSpace(c.Phone) == "" {
			continue
		}
		contacts = append(contacts, c)
	}
	profile.EmergencyContacts = contacts

	if err := s.repo.Upsert(ctx, profile); err != nil {
		log.WithError(err).Error("Failed to upsert medical profile")
		return nil, NewUpstreamError("could not update medical profile", err)
	}
	log.Info("Medical profile updated")
	return profile, nil
}

// normalizeList убирает пустые и повторяющиеся элементы, сохраняя порядок
func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// SummarizeProfile сворачивает медицинскую карту в строку для заметок инцидента,
// чтобы бригада видела контекст без отдельного запроса.
func SummarizeProfile(profile *models.MedicalProfile) string {
	if profile == nil {
		return ""
	}

	var parts []string
	if profile.BloodType != "" {
		parts = append(parts, "Blood Type: "+profile.BloodType)
	}
	if profile.DateOfBirth != nil {
		parts = append(parts, "Date of Birth: "+profile.DateOfBirth.Format(time.DateOnly))
	}
	if len(profile.Allergies) > 0 {
		parts = append(parts, "Allergies: "+strings.Join(profile.Allergies, ", "))
	}
	if profile.Medications != "" {
		parts = append(parts, "Medications: "+profile.Medications)
	}
	if len(profile.Conditions) > 0 {
		parts = append(parts, "Conditions: "+strings.Join(profile.Conditions, ", "))
	}
	for _, c := range profile.EmergencyContacts {
		if c.Name != "" && c.Phone != "" {
			parts = append(parts, fmt.Sprintf("Emergency Contact: %s (%s)", c.Name, c.Phone))
			break
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return "Medical Profile: " + strings.Join(parts, "; ")
}
