package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/geo"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/sirupsen/logrus"
)

// FacilityRepository определяет контракт для работы с бд медучреждений
type FacilityRepository interface {
	Create(ctx context.Context, facility *models.Facility) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Facility, error)
	List(ctx context.Context) ([]*models.Facility, error)
	Nearest(ctx context.Context, lat, lon float64, limit int) ([]models.RankedFacility, error)
}

// FacilityService - реестр учреждений и подбор ближайших
type FacilityService interface {
	CreateFacility(ctx context.Context, caller models.Caller, facility *models.Facility) error
	GetFacility(ctx context.Context, id uuid.UUID) (*models.Facility, error)
	ListFacilities(ctx context.Context) ([]*models.Facility, error)
	Match(ctx context.Context, lat, lon float64, limit int) ([]models.RankedFacility, error)
}

type facilityService struct {
	repo   FacilityRepository
	logger *logrus.Logger
	cfg    *config.Config
}

func NewFacilityService(repo FacilityRepository, logger *logrus.Logger, cfg *config.Config) FacilityService {
	return &facilityService{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
	}
}

// CreateFacility регистрирует учреждение (только сотрудники)
func (s *facilityService) CreateFacility(ctx context.Context, caller models.Caller, facility *models.Facility) error {
	if !caller.IsAuthenticated() {
		return NewUnauthenticatedError("unauthorized")
	}
	if !caller.IsStaff() {
		return NewForbiddenError("hospital staff role required")
	}
	if strings.TrimSpace(facility.Name) == "" {
		return NewValidationError("facility name is required")
	}
	if !geo.ValidPoint(facility.Latitude, facility.Longitude) {
		return NewValidationError("facility coordinates must be valid degrees")
	}

	log := s.logger.WithFields(logrus.Fields{
		"service": "facility",
		"method":  "CreateFacility",
		"name":    facility.Name,
	})

	if err := s.repo.Create(ctx, facility); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return NewConflictError("facility with this name already exists", err)
		}
		log.WithError(err).Error("Failed to create facility in repository")
		return NewUpstreamError("could not create facility", err)
	}
	log.WithField("facility_id", facility.ID).Info("Facility created successfully")
	return nil
}

// GetFacility возвращает учреждение по ID
func (s *facilityService) GetFacility(ctx context.Context, id uuid.UUID) (*models.Facility, error) {
	facility, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewNotFoundError("facility not found")
		}
		return nil, NewUpstreamError("could not get facility", err)
	}
	return facility, nil
}

// ListFacilities возвращает все учреждения
func (s *facilityService) ListFacilities(ctx context.Context) ([]*models.Facility, error) {
	facilities, err := s.repo.List(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("method", "ListFacilities").Error("Failed to list facilities")
		return nil, NewUpstreamError("could not list facilities", err)
	}
	return facilities, nil
}

// MaxMatchLimit - верхняя граница числа кандидатов в одном ответе подбора
const MaxMatchLimit = 50

// Match ранжирует учреждения по расстоянию до точки.
// Стратегия postgis сортирует в базе, scan загружает реестр и ранжирует в памяти.
func (s *facilityService) Match(ctx context.Context, lat, lon float64, limit int) ([]models.RankedFacility, error) {
	if !geo.ValidPoint(lat, lon) {
		return nil, NewValidationError("latitude and longitude must be finite degrees")
	}
	if limit < 1 {
		limit = s.cfg.MatchLimit
	}
	if limit > MaxMatchLimit {
		limit = MaxMatchLimit
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":  "facility",
		"method":   "Match",
		"strategy": s.cfg.MatchStrategy,
	})

	var (
		ranked []models.RankedFacility
		err    error
	)
	switch s.cfg.MatchStrategy {
	case config.MatchStrategyScan:
		var facilities []*models.Facility
		facilities, err = s.repo.List(ctx)
		if err == nil {
			ranked = geo.Rank(lat, lon, facilities, limit)
		}
	default:
		ranked, err = s.repo.Nearest(ctx, lat, lon, limit)
	}
	if err != nil {
		log.WithError(err).Error("Failed to rank facilities")
		return nil, NewUpstreamError("could not find nearby facilities", err)
	}

	log.WithField("count", len(ranked)).Debug("Facilities ranked")
	return ranked, nil
}
