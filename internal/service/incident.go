package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/geo"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/webhook"
	"github.com/sirupsen/logrus"
)

// IncidentRepository определяет контракт для работы с бд инцидентов
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error)
	// ApplyUpdate атомарно применяет изменения, только если текущий статус входит в from.
	// false - ни одна строка не изменена (статус уже другой или инцидента нет).
	ApplyUpdate(ctx context.Context, id uuid.UUID, from []models.Status, update models.IncidentUpdate) (bool, error)
	AssignFacility(ctx context.Context, id, facilityID uuid.UUID) error
	CountByStatus(ctx context.Context, since time.Time) ([]models.IncidentStatusCount, error)

	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// IncidentService определяет контракт для бизнес-логики жизненного цикла инцидентов
type IncidentService interface {
	CreateAlert(ctx context.Context, caller models.Caller, input models.AlertInput) (*models.AlertResult, error)
	GetIncident(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, caller models.Caller, filter models.IncidentFilter) ([]*models.Incident, error)
	Accept(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error)
	Dispatch(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error)
	Resolve(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error)
	Cancel(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error)
	UpdateIncident(ctx context.Context, caller models.Caller, id uuid.UUID, update models.IncidentUpdate) (*models.Incident, error)
	GetStats(ctx context.Context, caller models.Caller) ([]models.IncidentStatusCount, error)
}

type incidentService struct {
	repo       IncidentRepository
	facilities FacilityService
	profiles   ProfileRepository
	publisher  webhook.WebhookPublisher
	priority   PriorityPolicy
	logger     *logrus.Logger
	cfg        *config.Config
	now        func() time.Time
}

func NewIncidentService(
	repo IncidentRepository,
	facilities FacilityService,
	profiles ProfileRepository,
	publisher webhook.WebhookPublisher,
	logger *logrus.Logger,
	cfg *config.Config,
) IncidentService {
	return &incidentService{
		repo:       repo,
		facilities: facilities,
		profiles:   profiles,
		publisher:  publisher,
		priority:   KeywordPriorityPolicy,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// CreateAlert создаёт инцидент из SOS или сообщения о другом человеке и назначает ближайшее учреждение.
// Сбой подбора не отменяет создание: инцидент остаётся без учреждения, а результат содержит предупреждение.
func (s *incidentService) CreateAlert(ctx context.Context, caller models.Caller, input models.AlertInput) (*models.AlertResult, error) {
	if !caller.IsAuthenticated() {
		return nil, NewUnauthenticatedError("unauthorized")
	}
	if err := validateAlert(input); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":    "incident",
		"method":     "CreateAlert",
		"alert_type": input.Type,
		"user_id":    caller.UserID,
	})
	log.Info("Attempting to create a new incident")

	incident := &models.Incident{
		ReporterID:  caller.UserID,
		Status:      models.StatusPending,
		Priority:    s.priority(input),
		Source:      models.AlertSourceUser,
		Location:    input.Location,
		Address:     strings.TrimSpace(input.Address),
		Description: buildDescription(input),
		PersonName:  strings.TrimSpace(input.PatientName),
	}
	if input.Type == models.AlertTypeReport {
		incident.Source = models.AlertSourceSamaritan
	}
	incident.Notes = s.buildNotes(ctx, log, caller, input)

	if err := s.repo.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return nil, NewUpstreamError("could not create incident", err)
	}
	log = log.WithField("incident_id", incident.ID)
	log.WithField("priority", incident.Priority).Info("Incident created successfully")

	result := &models.AlertResult{
		Incident:   incident,
		Facilities: []models.RankedFacility{},
	}

	if incident.Location != nil {
		s.matchFacility(ctx, log, result)
	}

	s.publish(ctx, log, webhook.EventIncidentCreated, "", incident)
	return result, nil
}

// matchFacility ранжирует учреждения и назначает ближайшее
func (s *incidentService) matchFacility(ctx context.Context, log *logrus.Entry, result *models.AlertResult) {
	incident := result.Incident
	ranked, err := s.facilities.Match(ctx, incident.Location.Latitude, incident.Location.Longitude, s.cfg.MatchLimit)
	if err != nil {
		log.WithError(err).Warn("Facility matching failed, incident left unassigned")
		result.Warning = &models.MatchWarning{
			Code:    models.WarningMatchingUnavailable,
			Message: "incident created but facility matching is temporarily unavailable",
		}
		return
	}
	result.Facilities = ranked

	if len(ranked) == 0 {
		log.Warn("No facilities registered, incident left unassigned")
		result.Warning = &models.MatchWarning{
			Code:    models.WarningNoFacilities,
			Message: "incident created but no facilities are available",
		}
		return
	}

	nearest := ranked[0].Facility
	if err := s.repo.AssignFacility(ctx, incident.ID, nearest.ID); err != nil {
		log.WithError(err).Warn("Failed to assign nearest facility, incident left unassigned")
		result.Warning = &models.MatchWarning{
			Code:    models.WarningMatchingUnavailable,
			Message: "incident created but facility assignment failed",
		}
		return
	}
	incident.FacilityID = &nearest.ID
	incident.Facility = nearest
	log.WithFields(logrus.Fields{
		"facility_id":     nearest.ID,
		"distance_meters": ranked[0].DistanceMeters,
	}).Info("Nearest facility assigned")
}

func validateAlert(input models.AlertInput) error {
	switch input.Type {
	case models.AlertTypeSOS, models.AlertTypeReport:
	default:
		return NewValidationError(fmt.Sprintf("unknown alert type %q", input.Type))
	}
	if input.Location == nil {
		if input.Type == models.AlertTypeSOS {
			return NewValidationError("location is required for SOS alerts")
		}
		return nil
	}
	if !geo.ValidPoint(input.Location.Latitude, input.Location.Longitude) {
		return NewValidationError("location must contain valid latitude and longitude")
	}
	return nil
}

func buildDescription(input models.AlertInput) string {
	condition := strings.TrimSpace(input.Condition)
	details := strings.TrimSpace(input.Details)
	switch {
	case condition != "" && details != "":
		return condition + ": " + details
	case condition != "":
		return condition
	case details != "":
		return details
	case input.Type == models.AlertTypeSOS:
		return "Emergency SOS Alert"
	}
	return ""
}

// buildNotes собирает заметки для бригады: сводку медкарты для SOS или данные пострадавшего
func (s *incidentService) buildNotes(ctx context.Context, log *logrus.Entry, caller models.Caller, input models.AlertInput) string {
	var parts []string

	switch input.Type {
	case models.AlertTypeSOS:
		profile, err := s.profiles.GetByUserID(ctx, caller.UserID)
		switch {
		case err == nil:
			if summary := SummarizeProfile(profile); summary != "" {
				parts = append(parts, summary)
			}
		case errors.Is(err, ErrNotFound):
		default:
			log.WithError(err).Warn("Failed to load medical profile, continuing without it")
		}
	case models.AlertTypeReport:
		if name := strings.TrimSpace(input.PatientName); name != "" {
			parts = append(parts, fmt.Sprintf("Patient: %s, Condition: %s", name, strings.TrimSpace(input.Condition)))
		}
	}

	if notes := strings.TrimSpace(input.Notes); notes != "" {
		parts = append(parts, notes)
	}
	return strings.Join(parts, "\n")
}

// GetIncident получает инцидент по ID (сначала из кеша)
func (s *incidentService) GetIncident(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error) {
	if !caller.IsAuthenticated() {
		return nil, NewUnauthenticatedError("unauthorized")
	}
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})

	incident, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident cache")
	}
	if incident == nil {
		incident, err = s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		// Кешируются только терминальные инциденты: они больше не меняются,
		// и чтение не может вернуть в кеш устаревший статус после invalidate
		if incident.Status.IsTerminal() {
			if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
				log.WithError(err).Warn("Failed to cache incident")
			}
		}
	}

	if !caller.IsStaff() && incident.ReporterID != caller.UserID {
		return nil, NewForbiddenError("incident belongs to another user")
	}
	return incident, nil
}

// load читает инцидент из хранилища, минуя кеш
func (s *incidentService) load(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewNotFoundError("incident not found")
		}
		s.logger.WithError(err).WithField("incident_id", id).Error("Failed to get incident in repository")
		return nil, NewUpstreamError("could not get incident", err)
	}
	return incident, nil
}

// ListIncidents возвращает инциденты: сначала срочные, затем новые
func (s *incidentService) ListIncidents(ctx context.Context, caller models.Caller, filter models.IncidentFilter) ([]*models.Incident, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown status %q", *filter.Status))
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":   "incident",
		"method":    "ListIncidents",
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})

	incidents, err := s.repo.List(ctx, filter)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, NewUpstreamError("could not list incidents", err)
	}

	log.WithField("count", len(incidents)).Info("Incidents listed successfully")
	return incidents, nil
}

// Accept: PENDING -> ASSIGNED
func (s *incidentService) Accept(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, id, models.ActionAccept)
}

// Dispatch: ASSIGNED -> IN_PROGRESS
func (s *incidentService) Dispatch(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, id, models.ActionDispatch)
}

// Resolve: IN_PROGRESS -> RESOLVED
func (s *incidentService) Resolve(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, id, models.ActionResolve)
}

// Cancel: любой нетерминальный статус -> CANCELLED. Доступно сотрудникам и автору обращения.
func (s *incidentService) Cancel(ctx context.Context, caller models.Caller, id uuid.UUID) (*models.Incident, error) {
	if !caller.IsAuthenticated() {
		return nil, NewUnauthenticatedError("unauthorized")
	}
	if !caller.IsStaff() {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.ReporterID != caller.UserID {
			return nil, NewForbiddenError("only hospital staff or the reporter can cancel an incident")
		}
	}
	return s.transition(ctx, caller, id, models.ActionCancel)
}

// UpdateIncident применяет явные изменения сотрудника: переназначение учреждения, заметки, статус
func (s *incidentService) UpdateIncident(ctx context.Context, caller models.Caller, id uuid.UUID, update models.IncidentUpdate) (*models.Incident, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	if update.Status == nil && update.FacilityID == nil && update.Notes == nil {
		return nil, NewValidationError("nothing to update")
	}

	var action models.Action
	if update.Status != nil {
		var ok bool
		action, ok = models.ActionForTarget(*update.Status)
		if !ok {
			return nil, NewValidationError(fmt.Sprintf("status %q cannot be set directly; allowed: IN_PROGRESS, RESOLVED, CANCELLED", *update.Status))
		}
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "UpdateIncident",
		"incident_id": id,
	})

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	// Все поля пишутся одним условным UPDATE
	from := models.ActiveStatuses
	change := models.IncidentUpdate{FacilityID: update.FacilityID}
	if update.Notes != nil {
		notes := strings.TrimSpace(*update.Notes)
		change.Notes = &notes
	}
	if update.Status != nil {
		next, err := models.Next(current.Status, action)
		if err != nil {
			return nil, NewConflictError(err.Error(), err)
		}
		t, _ := models.TransitionFor(action)
		from = t.From
		change.Status = &next
	} else if current.Status.IsTerminal() {
		return nil, NewConflictError(fmt.Sprintf("incident already %s", current.Status), nil)
	}

	if update.FacilityID != nil {
		if _, err := s.facilities.GetFacility(ctx, *update.FacilityID); err != nil {
			return nil, err
		}
	}

	applied, err := s.repo.ApplyUpdate(ctx, id, from, change)
	if err != nil {
		log.WithError(err).Error("Failed to update incident in repository")
		return nil, NewUpstreamError("could not update incident", err)
	}
	s.invalidate(ctx, log, id)

	if !applied {
		latest, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		log.WithField("current_status", latest.Status).Warn("Update lost a concurrent transition")
		if update.Status != nil {
			terr := &models.TransitionError{Action: action, Current: latest.Status}
			return nil, NewConflictError(terr.Error(), terr)
		}
		return nil, NewConflictError(fmt.Sprintf("incident already %s", latest.Status), nil)
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.FacilityID != nil {
		log.WithField("facility_id", *update.FacilityID).Info("Facility reassigned")
	}
	if update.Status != nil {
		log.WithField("status", updated.Status).Info("Incident status changed")
		s.publish(ctx, log, webhook.EventTypeFor(action), current.Status, updated)
	}
	return updated, nil
}

// transition проверяет предусловие и применяет переход через условный UPDATE.
// Если параллельный запрос успел изменить статус, возвращается конфликт с актуальным статусом.
func (s *incidentService) transition(ctx context.Context, caller models.Caller, id uuid.UUID, action models.Action) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "transition",
		"action":      action,
		"incident_id": id,
		"user_id":     caller.UserID,
	})

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	log = log.WithField("prior_status", current.Status)

	next, err := models.Next(current.Status, action)
	if err != nil {
		log.WithError(err).Warn("Transition rejected")
		return nil, NewConflictError(err.Error(), err)
	}

	t, _ := models.TransitionFor(action)
	change := models.IncidentUpdate{Status: &next}
	if action == models.ActionAccept {
		change.AssignedTo = &caller.UserID
	}
	applied, err := s.repo.ApplyUpdate(ctx, id, t.From, change)
	if err != nil {
		log.WithError(err).Error("Failed to apply transition in repository")
		return nil, NewUpstreamError("could not update incident status", err)
	}
	s.invalidate(ctx, log, id)

	if !applied {
		latest, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		terr := &models.TransitionError{Action: action, Current: latest.Status}
		log.WithField("current_status", latest.Status).Warn("Transition lost a concurrent update")
		return nil, NewConflictError(terr.Error(), terr)
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	log.WithField("status", updated.Status).Info("Incident status changed")

	s.publish(ctx, log, webhook.EventTypeFor(action), current.Status, updated)
	return updated, nil
}

// GetStats возвращает число инцидентов по статусам за окно STATS_TIME_WINDOW_MINUTES
func (s *incidentService) GetStats(ctx context.Context, caller models.Caller) ([]models.IncidentStatusCount, error) {
	if err := requireStaff(caller); err != nil {
		return nil, err
	}
	since := s.now().Add(-time.Duration(s.cfg.StatsTimeWindowMinutes) * time.Minute)
	counts, err := s.repo.CountByStatus(ctx, since)
	if err != nil {
		s.logger.WithError(err).WithField("method", "GetStats").Error("Failed to count incidents")
		return nil, NewUpstreamError("could not get stats", err)
	}
	return counts, nil
}

func (s *incidentService) invalidate(ctx context.Context, log *logrus.Entry, id uuid.UUID) {
	if err := s.repo.InvalidateIncidentCache(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
}

// publish ставит событие в очередь вебхуков; сбой очереди не влияет на результат операции
func (s *incidentService) publish(ctx context.Context, log *logrus.Entry, eventType string, previous models.Status, incident *models.Incident) {
	event := webhook.WebhookEvent{
		Type:           eventType,
		IncidentID:     incident.ID,
		DisplayID:      incident.DisplayID(s.cfg.DisplayIDPrefix),
		Status:         incident.Status,
		PreviousStatus: previous,
		Priority:       incident.Priority,
		FacilityID:     incident.FacilityID,
		Timestamp:      s.now().UTC(),
		Incident:       incident,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.WithError(err).Warn("Failed to publish incident event")
	}
}

func requireStaff(caller models.Caller) error {
	if !caller.IsAuthenticated() {
		return NewUnauthenticatedError("unauthorized")
	}
	if !caller.IsStaff() {
		return NewForbiddenError("hospital staff role required")
	}
	return nil
}
