package service

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/service/mocks"
	"github.com/shenikar/emergency_response_system/internal/webhook"
	webhook_mocks "github.com/shenikar/emergency_response_system/internal/webhook/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type incidentMocks struct {
	repo         *mocks.MockIncidentRepository
	facilityRepo *mocks.MockFacilityRepository
	profiles     *mocks.MockProfileRepository
	publisher    *webhook_mocks.MockWebhookPublisher
}

func newTestConfig() *config.Config {
	return &config.Config{
		StatsTimeWindowMinutes: 60,
		MatchLimit:             5,
		MatchStrategy:          config.MatchStrategyScan,
		DisplayIDPrefix:        "LAG",
	}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах
	return logger
}

// newTestIncidentService - вспомогательная функция для создания инстанса сервиса с моками.
// Подбор учреждений настоящий (стратегия scan), замокан только его репозиторий.
func newTestIncidentService(t *testing.T) (*incidentService, incidentMocks) {
	ctrl := gomock.NewController(t)
	m := incidentMocks{
		repo:         mocks.NewMockIncidentRepository(ctrl),
		facilityRepo: mocks.NewMockFacilityRepository(ctrl),
		profiles:     mocks.NewMockProfileRepository(ctrl),
		publisher:    webhook_mocks.NewMockWebhookPublisher(ctrl),
	}

	logger := newTestLogger()
	cfg := newTestConfig()
	facilities := NewFacilityService(m.facilityRepo, logger, cfg)

	svc := NewIncidentService(m.repo, facilities, m.profiles, m.publisher, logger, cfg)
	return svc.(*incidentService), m
}

var (
	testUser  = models.Caller{UserID: uuid.New(), Role: models.RoleUser, Name: "Ada Obi"}
	testStaff = models.Caller{UserID: uuid.New(), Role: models.RoleHospitalStaff, Name: "Dr. Bello"}
)

func lagosFacilities() []*models.Facility {
	return []*models.Facility{
		{ID: uuid.New(), Name: "Lagos University Teaching Hospital", Latitude: 6.5158, Longitude: 3.3540},
		{ID: uuid.New(), Name: "Lekki Central Clinic", Latitude: 6.4385, Longitude: 3.4735},
		{ID: uuid.New(), Name: "Victoria Island Medical Centre", Latitude: 6.4281, Longitude: 3.4219},
	}
}

func TestCreateAlert_Unauthenticated(t *testing.T) {
	// Подготовка
	service, _ := newTestIncidentService(t)

	// Действие: никаких вызовов репозитория не ожидается
	result, err := service.CreateAlert(context.Background(), models.Caller{}, models.AlertInput{
		Type:     models.AlertTypeSOS,
		Location: &models.GeoPoint{Latitude: 6.44, Longitude: 3.475},
	})

	// Проверки
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestCreateAlert_SOSAssignsNearestFacility(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	facilities := lagosFacilities()
	nearest := facilities[1]

	// Ожидания
	m.profiles.EXPECT().GetByUserID(ctx, testUser.UserID).Return(nil, ErrNotFound)
	m.repo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			incident.ID = incidentID
			return nil
		})
	m.facilityRepo.EXPECT().List(ctx).Return(facilities, nil)
	m.repo.EXPECT().AssignFacility(ctx, incidentID, nearest.ID).Return(nil)
	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, event webhook.WebhookEvent) error {
			assert.Equal(t, webhook.EventIncidentCreated, event.Type)
			assert.Regexp(t, `^LAG-[0-9A-F]{8}$`, event.DisplayID)
			return nil
		})

	// Действие
	result, err := service.CreateAlert(ctx, testUser, models.AlertInput{
		Type:     models.AlertTypeSOS,
		Location: &models.GeoPoint{Latitude: 6.4400, Longitude: 3.4750},
	})

	// Проверки
	require.NoError(t, err)
	require.NotNil(t, result.Incident.FacilityID)
	assert.Equal(t, nearest.ID, *result.Incident.FacilityID)
	assert.Equal(t, models.StatusPending, result.Incident.Status)
	assert.Equal(t, models.PriorityHigh, result.Incident.Priority)
	assert.Equal(t, models.AlertSourceUser, result.Incident.Source)
	assert.Equal(t, "Emergency SOS Alert", result.Incident.Description)
	assert.Nil(t, result.Warning)

	require.Len(t, result.Facilities, 3)
	assert.Equal(t, nearest.ID, result.Facilities[0].Facility.ID)
	assert.Less(t, result.Facilities[0].DistanceMeters, result.Facilities[1].DistanceMeters)
}

func TestCreateAlert_SOSWithoutLocation(t *testing.T) {
	// Подготовка
	service, _ := newTestIncidentService(t)

	// Действие
	result, err := service.CreateAlert(context.Background(), testUser, models.AlertInput{Type: models.AlertTypeSOS})

	// Проверки
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCreateAlert_InvalidCoordinates(t *testing.T) {
	service, _ := newTestIncidentService(t)

	_, err := service.CreateAlert(context.Background(), testUser, models.AlertInput{
		Type:     models.AlertTypeSOS,
		Location: &models.GeoPoint{Latitude: 91, Longitude: 3.4},
	})

	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCreateAlert_ReportWithoutLocation(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()

	// Ожидания: без координат подбор не запускается
	m.repo.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			incident.ID = uuid.New()
			return nil
		})
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	// Действие
	result, err := service.CreateAlert(ctx, testUser, models.AlertInput{
		Type:        models.AlertTypeReport,
		Address:     "12 Admiralty Way, Lekki",
		PatientName: "John Doe",
		Condition:   "Chest pain",
		Details:     "collapsed near the bus stop",
		Notes:       "wearing a red shirt",
	})

	// Проверки
	require.NoError(t, err)
	incident := result.Incident
	assert.Equal(t, models.AlertSourceSamaritan, incident.Source)
	assert.Equal(t, models.PriorityCritical, incident.Priority)
	assert.Equal(t, "Chest pain: collapsed near the bus stop", incident.Description)
	assert.Equal(t, "Patient: John Doe, Condition: Chest pain\nwearing a red shirt", incident.Notes)
	assert.Equal(t, "John Doe", incident.PersonName)
	assert.Nil(t, incident.FacilityID)
	assert.Empty(t, result.Facilities)
	assert.Nil(t, result.Warning)
}

func TestCreateAlert_IncludesMedicalProfile(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	profile := &models.MedicalProfile{
		UserID:    testUser.UserID,
		BloodType: "O+",
		Allergies: []string{"Penicillin"},
		EmergencyContacts: []models.EmergencyContact{
			{Name: "Chidi Obi", Phone: "+2348030000000"},
		},
	}

	// Ожидания
	m.profiles.EXPECT().GetByUserID(ctx, testUser.UserID).Return(profile, nil)
	m.repo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	m.facilityRepo.EXPECT().List(ctx).Return(nil, nil)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil)

	// Действие
	result, err := service.CreateAlert(ctx, testUser, models.AlertInput{
		Type:     models.AlertTypeSOS,
		Location: &models.GeoPoint{Latitude: 6.44, Longitude: 3.475},
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t,
		"Medical Profile: Blood Type: O+; Allergies: Penicillin; Emergency Contact: Chidi Obi (+2348030000000)",
		result.Incident.Notes)
	require.NotNil(t, result.Warning)
	assert.Equal(t, models.WarningNoFacilities, result.Warning.Code)
	assert.Nil(t, result.Incident.FacilityID)
}

func TestCreateAlert_MatchingUnavailable(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()

	// Ожидания
	m.profiles.EXPECT().GetByUserID(ctx, testUser.UserID).Return(nil, errors.New("connection reset"))
	m.repo.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	m.facilityRepo.EXPECT().List(ctx).Return(nil, errors.New("timeout"))
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(errors.New("redis down"))

	// Действие
	result, err := service.CreateAlert(ctx, testUser, models.AlertInput{
		Type:      models.AlertTypeSOS,
		Location:  &models.GeoPoint{Latitude: 6.44, Longitude: 3.475},
		Condition: "Unconscious",
	})

	// Проверки: инцидент создан, подбор деградировал до предупреждения
	require.NoError(t, err)
	require.NotNil(t, result.Warning)
	assert.Equal(t, models.WarningMatchingUnavailable, result.Warning.Code)
	assert.Equal(t, models.PriorityCritical, result.Incident.Priority)
	assert.Empty(t, result.Incident.Notes)
}

func TestCreateAlert_RepositoryError(t *testing.T) {
	service, m := newTestIncidentService(t)
	ctx := context.Background()

	m.repo.EXPECT().Create(ctx, gomock.Any()).Return(errors.New("db error"))

	result, err := service.CreateAlert(ctx, testUser, models.AlertInput{Type: models.AlertTypeReport})

	assert.Nil(t, result)
	assert.Equal(t, KindUpstream, KindOf(err))
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{ID: incidentID, ReporterID: testUser.UserID, Status: models.StatusPending}

	// Ожидания
	m.repo.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)

	// Действие
	incident, err := service.GetIncident(ctx, testUser, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{ID: incidentID, ReporterID: testUser.UserID, Status: models.StatusAssigned}

	// Ожидания
	// 1. Промах кеша
	m.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, nil)
	// 2. Попадание в БД; активный инцидент в кеш не пишется
	m.repo.EXPECT().GetByID(ctx, incidentID).Return(expectedIncident, nil)

	// Действие: сотрудник видит чужой инцидент
	incident, err := service.GetIncident(ctx, testStaff, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
}

func TestGetIncident_TerminalIsCached(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	resolved := &models.Incident{ID: incidentID, ReporterID: testUser.UserID, Status: models.StatusResolved}

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, nil)
	m.repo.EXPECT().GetByID(ctx, incidentID).Return(resolved, nil)
	m.repo.EXPECT().SetIncidentCache(ctx, resolved).Return(nil)

	// Действие
	incident, err := service.GetIncident(ctx, testUser, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, resolved, incident)
}

func TestGetIncident_ConcurrentAcceptDoesNotLeaveStaleCache(t *testing.T) {
	// Подготовка
	ctrl := gomock.NewController(t)
	publisher := webhook_mocks.NewMockWebhookPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	ctx := context.Background()

	repo := newInterleavingIncidentRepository()
	incident := &models.Incident{ReporterID: testUser.UserID, Status: models.StatusPending}
	require.NoError(t, repo.Create(ctx, incident))
	svc := NewIncidentService(repo, nil, nil, publisher, newTestLogger(), newTestConfig())

	// Принятие завершается между чтением PENDING из БД и записью в кеш
	repo.afterLoad = func() {
		_, err := svc.Accept(ctx, testStaff, incident.ID)
		require.NoError(t, err)
	}

	// Действие
	first, err := svc.GetIncident(ctx, testStaff, incident.ID)
	require.NoError(t, err)
	second, err := svc.GetIncident(ctx, testStaff, incident.ID)
	require.NoError(t, err)

	// Проверки
	assert.Equal(t, models.StatusPending, first.Status)
	assert.NotContains(t, repo.cache, incident.ID)
	assert.Equal(t, models.StatusAssigned, second.Status)

	// Терминальный инцидент кешируется
	_, err = svc.Dispatch(ctx, testStaff, incident.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, testStaff, incident.ID)
	require.NoError(t, err)
	resolved, err := svc.GetIncident(ctx, testStaff, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	require.Contains(t, repo.cache, incident.ID)
	assert.Equal(t, models.StatusResolved, repo.cache[incident.ID].Status)
}

func TestGetIncident_NotFound(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания
	m.repo.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, nil)
	m.repo.EXPECT().GetByID(ctx, incidentID).Return(nil, ErrNotFound)

	// Действие
	incident, err := service.GetIncident(ctx, testUser, incidentID)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, incident)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestGetIncident_ForbiddenForOtherUser(t *testing.T) {
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	m.repo.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(&models.Incident{ID: incidentID, ReporterID: uuid.New()}, nil)

	_, err := service.GetIncident(ctx, testUser, incidentID)

	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestListIncidents_DefaultsPaging(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	status := models.StatusPending
	expected := []*models.Incident{{ID: uuid.New()}, {ID: uuid.New()}}

	// Ожидания
	m.repo.EXPECT().
		List(ctx, models.IncidentFilter{Status: &status, Page: 1, PageSize: 20}).
		Return(expected, nil)

	// Действие
	incidents, err := service.ListIncidents(ctx, testStaff, models.IncidentFilter{Status: &status, PageSize: 500})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expected, incidents)
}

func TestListIncidents_RequiresStaff(t *testing.T) {
	service, _ := newTestIncidentService(t)

	_, err := service.ListIncidents(context.Background(), testUser, models.IncidentFilter{})
	assert.Equal(t, KindForbidden, KindOf(err))

	_, err = service.ListIncidents(context.Background(), models.Caller{}, models.IncidentFilter{})
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestListIncidents_UnknownStatus(t *testing.T) {
	service, _ := newTestIncidentService(t)
	status := models.Status("ARCHIVED")

	_, err := service.ListIncidents(context.Background(), testStaff, models.IncidentFilter{Status: &status})

	assert.Equal(t, KindValidation, KindOf(err))
}

func TestAccept_InProgressConflict(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания: условный UPDATE не выполняется
	m.repo.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{ID: incidentID, Status: models.StatusInProgress}, nil)

	// Действие
	incident, err := service.Accept(ctx, testStaff, incidentID)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, incident)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "IN_PROGRESS")
}

func TestAccept_LostRaceReportsCurrentStatus(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	assigned := models.StatusAssigned

	// Ожидания: между чтением и UPDATE другой сотрудник успел принять инцидент
	gomock.InOrder(
		m.repo.EXPECT().
			GetByID(ctx, incidentID).
			Return(&models.Incident{ID: incidentID, Status: models.StatusPending}, nil),
		m.repo.EXPECT().
			ApplyUpdate(ctx, incidentID, []models.Status{models.StatusPending}, models.IncidentUpdate{
				Status:     &assigned,
				AssignedTo: &testStaff.UserID,
			}).
			Return(false, nil),
		m.repo.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil),
		m.repo.EXPECT().
			GetByID(ctx, incidentID).
			Return(&models.Incident{ID: incidentID, Status: models.StatusAssigned}, nil),
	)

	// Действие
	_, err := service.Accept(ctx, testStaff, incidentID)

	// Проверки
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "ASSIGNED")

	var terr *models.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, models.StatusAssigned, terr.Current)
}

func TestAccept_RequiresStaff(t *testing.T) {
	service, _ := newTestIncidentService(t)

	_, err := service.Accept(context.Background(), testUser, uuid.New())

	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestDispatch_RequiresAccept(t *testing.T) {
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	m.repo.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{ID: incidentID, Status: models.StatusPending}, nil)

	_, err := service.Dispatch(ctx, testStaff, incidentID)

	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "accepted first")
}

func TestCancel_ByReporter(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	pending := &models.Incident{ID: incidentID, ReporterID: testUser.UserID, Status: models.StatusPending}
	cancelled := &models.Incident{ID: incidentID, ReporterID: testUser.UserID, Status: models.StatusCancelled}
	cancelledStatus := models.StatusCancelled

	// Ожидания
	gomock.InOrder(
		m.repo.EXPECT().GetByID(ctx, incidentID).Return(pending, nil).Times(2),
		m.repo.EXPECT().
			ApplyUpdate(ctx, incidentID, models.ActiveStatuses, models.IncidentUpdate{Status: &cancelledStatus}).
			Return(true, nil),
		m.repo.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil),
		m.repo.EXPECT().GetByID(ctx, incidentID).Return(cancelled, nil),
	)
	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, event webhook.WebhookEvent) error {
			assert.Equal(t, "incident.cancelled", event.Type)
			assert.Equal(t, models.StatusPending, event.PreviousStatus)
			return nil
		})

	// Действие
	incident, err := service.Cancel(ctx, testUser, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, incident.Status)
}

func TestCancel_ForbiddenForOtherUser(t *testing.T) {
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	m.repo.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{ID: incidentID, ReporterID: uuid.New(), Status: models.StatusPending}, nil)

	_, err := service.Cancel(ctx, testUser, incidentID)

	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestUpdateIncident_RejectsUnsupportedStatus(t *testing.T) {
	service, _ := newTestIncidentService(t)
	status := models.StatusAssigned

	_, err := service.UpdateIncident(context.Background(), testStaff, uuid.New(), models.IncidentUpdate{Status: &status})

	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUpdateIncident_Empty(t *testing.T) {
	service, _ := newTestIncidentService(t)

	_, err := service.UpdateIncident(context.Background(), testStaff, uuid.New(), models.IncidentUpdate{})

	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUpdateIncident_ReassignFacilityAndNotes(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	facility := lagosFacilities()[0]
	notes := "  patient stable  "
	trimmed := "patient stable"
	updated := &models.Incident{ID: incidentID, Status: models.StatusAssigned, FacilityID: &facility.ID, Notes: "patient stable"}

	// Ожидания
	gomock.InOrder(
		m.repo.EXPECT().
			GetByID(ctx, incidentID).
			Return(&models.Incident{ID: incidentID, Status: models.StatusAssigned}, nil),
		m.facilityRepo.EXPECT().GetByID(ctx, facility.ID).Return(facility, nil),
		m.repo.EXPECT().
			ApplyUpdate(ctx, incidentID, models.ActiveStatuses, models.IncidentUpdate{
				FacilityID: &facility.ID,
				Notes:      &trimmed,
			}).
			Return(true, nil),
		m.repo.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil),
		m.repo.EXPECT().GetByID(ctx, incidentID).Return(updated, nil),
	)

	// Действие
	incident, err := service.UpdateIncident(ctx, testStaff, incidentID, models.IncidentUpdate{
		FacilityID: &facility.ID,
		Notes:      &notes,
	})

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, updated, incident)
}

func TestUpdateIncident_TerminalIncident(t *testing.T) {
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	notes := "late note"

	m.repo.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{ID: incidentID, Status: models.StatusResolved}, nil)

	_, err := service.UpdateIncident(ctx, testStaff, incidentID, models.IncidentUpdate{Notes: &notes})

	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "RESOLVED")
}

func TestUpdateIncident_ConcurrentTransitionWritesNothing(t *testing.T) {
	// Подготовка
	ctrl := gomock.NewController(t)
	facilityRepo := mocks.NewMockFacilityRepository(ctrl)
	publisher := webhook_mocks.NewMockWebhookPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	logger := newTestLogger()
	cfg := newTestConfig()
	ctx := context.Background()

	repo := newInterleavingIncidentRepository()
	incident := &models.Incident{ReporterID: testUser.UserID, Status: models.StatusAssigned, Notes: "initial"}
	require.NoError(t, repo.Create(ctx, incident))
	facility := lagosFacilities()[1]
	facilityRepo.EXPECT().GetByID(gomock.Any(), facility.ID).Return(facility, nil)
	svc := NewIncidentService(repo, NewFacilityService(facilityRepo, logger, cfg), nil, publisher, logger, cfg)

	// Другой сотрудник переводит инцидент в IN_PROGRESS сразу после первого чтения
	repo.afterLoad = func() {
		_, err := svc.Dispatch(ctx, testStaff, incident.ID)
		require.NoError(t, err)
	}
	status := models.StatusInProgress
	notes := "moved to trauma unit"

	// Действие
	_, err := svc.UpdateIncident(ctx, testStaff, incident.ID, models.IncidentUpdate{
		Status:     &status,
		FacilityID: &facility.ID,
		Notes:      &notes,
	})

	// Проверки
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "IN_PROGRESS")

	stored, err := repo.GetByID(ctx, incident.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.FacilityID)
	assert.Equal(t, "initial", stored.Notes)
	assert.Equal(t, models.StatusInProgress, stored.Status)
}

func TestUpdateIncident_UnknownFacility(t *testing.T) {
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	facilityID := uuid.New()

	m.repo.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{ID: incidentID, Status: models.StatusPending}, nil)
	m.facilityRepo.EXPECT().GetByID(ctx, facilityID).Return(nil, ErrNotFound)

	_, err := service.UpdateIncident(ctx, testStaff, incidentID, models.IncidentUpdate{FacilityID: &facilityID})

	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestGetStats_UsesTimeWindow(t *testing.T) {
	// Подготовка
	service, m := newTestIncidentService(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }
	expected := []models.IncidentStatusCount{{Status: models.StatusPending, Count: 3}}

	// Ожидания
	m.repo.EXPECT().CountByStatus(ctx, now.Add(-60*time.Minute)).Return(expected, nil)

	// Действие
	counts, err := service.GetStats(ctx, testStaff)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expected, counts)
}

// memoryIncidentRepository - хранилище в памяти с той же семантикой условного перехода, что и у postgres
type memoryIncidentRepository struct {
	mu        sync.Mutex
	incidents map[uuid.UUID]models.Incident
	now       func() time.Time
}

func newMemoryIncidentRepository() *memoryIncidentRepository {
	return &memoryIncidentRepository{
		incidents: make(map[uuid.UUID]models.Incident),
		now:       time.Now,
	}
}

func (r *memoryIncidentRepository) Create(_ context.Context, incident *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident.ID = uuid.New()
	incident.CreatedAt = r.now()
	incident.UpdatedAt = incident.CreatedAt
	r.incidents[incident.ID] = *incident
	return nil
}

func (r *memoryIncidentRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &incident, nil
}

func (r *memoryIncidentRepository) List(_ context.Context, _ models.IncidentFilter) ([]*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Incident, 0, len(r.incidents))
	for _, incident := range r.incidents {
		incident := incident
		out = append(out, &incident)
	}
	return out, nil
}

func (r *memoryIncidentRepository) ApplyUpdate(_ context.Context, id uuid.UUID, from []models.Status, update models.IncidentUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok || !slices.Contains(from, incident.Status) {
		return false, nil
	}
	now := r.now()
	incident.UpdatedAt = now
	if update.Status != nil {
		incident.Status = *update.Status
		if incident.Status == models.StatusAssigned && incident.AcceptedAt == nil {
			incident.AcceptedAt = &now
		}
		if incident.Status == models.StatusResolved && incident.ResolvedAt == nil {
			incident.ResolvedAt = &now
		}
	}
	if update.FacilityID != nil {
		facilityID := *update.FacilityID
		incident.FacilityID = &facilityID
	}
	if update.Notes != nil {
		incident.Notes = *update.Notes
	}
	if update.AssignedTo != nil {
		assignee := *update.AssignedTo
		incident.AssignedTo = &assignee
	}
	r.incidents[id] = incident
	return true, nil
}

func (r *memoryIncidentRepository) AssignFacility(_ context.Context, id, facilityID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok {
		return ErrNotFound
	}
	incident.FacilityID = &facilityID
	r.incidents[id] = incident
	return nil
}

func (r *memoryIncidentRepository) CountByStatus(_ context.Context, _ time.Time) ([]models.IncidentStatusCount, error) {
	return nil, nil
}

func (r *memoryIncidentRepository) GetIncidentFromCache(context.Context, uuid.UUID) (*models.Incident, error) {
	return nil, nil
}

func (r *memoryIncidentRepository) SetIncidentCache(context.Context, *models.Incident) error {
	return nil
}

func (r *memoryIncidentRepository) InvalidateIncidentCache(context.Context, uuid.UUID) error {
	return nil
}

// interleavingIncidentRepository добавляет кеш в памяти и вызывает afterLoad один раз
// сразу после первого чтения из хранилища
type interleavingIncidentRepository struct {
	*memoryIncidentRepository
	cache     map[uuid.UUID]models.Incident
	afterLoad func()
}

func newInterleavingIncidentRepository() *interleavingIncidentRepository {
	return &interleavingIncidentRepository{
		memoryIncidentRepository: newMemoryIncidentRepository(),
		cache:                    make(map[uuid.UUID]models.Incident),
	}
}

func (r *interleavingIncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	incident, err := r.memoryIncidentRepository.GetByID(ctx, id)
	if hook := r.afterLoad; hook != nil {
		r.afterLoad = nil
		hook()
	}
	return incident, err
}

func (r *interleavingIncidentRepository) GetIncidentFromCache(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	incident, ok := r.cache[id]
	if !ok {
		return nil, nil
	}
	return &incident, nil
}

func (r *interleavingIncidentRepository) SetIncidentCache(_ context.Context, incident *models.Incident) error {
	r.cache[incident.ID] = *incident
	return nil
}

func (r *interleavingIncidentRepository) InvalidateIncidentCache(_ context.Context, id uuid.UUID) error {
	delete(r.cache, id)
	return nil
}

func TestIncidentLifecycle(t *testing.T) {
	// Подготовка
	ctrl := gomock.NewController(t)
	facilityRepo := mocks.NewMockFacilityRepository(ctrl)
	profiles := mocks.NewMockProfileRepository(ctrl)
	publisher := webhook_mocks.NewMockWebhookPublisher(ctrl)
	logger := newTestLogger()
	cfg := newTestConfig()

	repo := newMemoryIncidentRepository()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	svc := NewIncidentService(repo, NewFacilityService(facilityRepo, logger, cfg), profiles, publisher, logger, cfg)
	ctx := context.Background()

	var events []string
	facilityRepo.EXPECT().List(gomock.Any()).Return(lagosFacilities(), nil)
	profiles.EXPECT().GetByUserID(gomock.Any(), testUser.UserID).Return(nil, ErrNotFound)
	publisher.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event webhook.WebhookEvent) error {
			events = append(events, event.Type)
			return nil
		}).
		Times(4)

	// Создание
	result, err := svc.CreateAlert(ctx, testUser, models.AlertInput{
		Type:     models.AlertTypeSOS,
		Location: &models.GeoPoint{Latitude: 6.4400, Longitude: 3.4750},
	})
	require.NoError(t, err)
	id := result.Incident.ID

	incident, err := svc.GetIncident(ctx, testUser, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, incident.Status)
	assert.NotNil(t, incident.FacilityID)
	assert.Nil(t, incident.AcceptedAt)

	// Принятие
	_, err = svc.Accept(ctx, testStaff, id)
	require.NoError(t, err)
	incident, err = svc.GetIncident(ctx, testUser, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, incident.Status)
	require.NotNil(t, incident.AcceptedAt)
	require.NotNil(t, incident.AssignedTo)
	assert.Equal(t, testStaff.UserID, *incident.AssignedTo)
	acceptedAt := *incident.AcceptedAt

	// Повторное принятие отклоняется
	_, err = svc.Accept(ctx, testStaff, id)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Contains(t, err.Error(), "ASSIGNED")

	// Выезд
	_, err = svc.Dispatch(ctx, testStaff, id)
	require.NoError(t, err)
	incident, err = svc.GetIncident(ctx, testUser, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, incident.Status)
	assert.Equal(t, acceptedAt, *incident.AcceptedAt)

	// Завершение
	_, err = svc.Resolve(ctx, testStaff, id)
	require.NoError(t, err)
	incident, err = svc.GetIncident(ctx, testUser, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, incident.Status)
	require.NotNil(t, incident.ResolvedAt)
	assert.Equal(t, acceptedAt, *incident.AcceptedAt)

	// Из терминального статуса переходов нет
	_, err = svc.Cancel(ctx, testStaff, id)
	assert.Equal(t, KindConflict, KindOf(err))

	assert.Equal(t, []string{"incident.created", "incident.accepted", "incident.dispatched", "incident.resolved"}, events)
}

func TestIncidentLifecycle_ConcurrentAccept(t *testing.T) {
	// Подготовка
	ctrl := gomock.NewController(t)
	publisher := webhook_mocks.NewMockWebhookPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	logger := newTestLogger()
	cfg := newTestConfig()

	repo := newMemoryIncidentRepository()
	incident := &models.Incident{ReporterID: testUser.UserID, Status: models.StatusPending}
	require.NoError(t, repo.Create(context.Background(), incident))
	svc := NewIncidentService(repo, nil, nil, publisher, logger, cfg)

	// Действие: несколько сотрудников одновременно принимают один инцидент
	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Accept(context.Background(), testStaff, incident.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if KindOf(err) == KindConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	// Проверки
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}
