package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestFacilityService(t *testing.T, strategy string) (FacilityService, *mocks.MockFacilityRepository) {
	ctrl := gomock.NewController(t)
	repoMock := mocks.NewMockFacilityRepository(ctrl)
	cfg := newTestConfig()
	cfg.MatchStrategy = strategy
	return NewFacilityService(repoMock, newTestLogger(), cfg), repoMock
}

func TestMatch_ScanRanksInMemory(t *testing.T) {
	// Подготовка
	service, repoMock := newTestFacilityService(t, config.MatchStrategyScan)
	ctx := context.Background()
	facilities := lagosFacilities()

	// Ожидания
	repoMock.EXPECT().List(ctx).Return(facilities, nil)

	// Действие
	ranked, err := service.Match(ctx, 6.4400, 3.4750, 2)

	// Проверки
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "Lekki Central Clinic", ranked[0].Facility.Name)
	assert.LessOrEqual(t, ranked[0].DistanceMeters, ranked[1].DistanceMeters)
}

func TestMatch_PostGISUsesRepository(t *testing.T) {
	// Подготовка
	service, repoMock := newTestFacilityService(t, config.MatchStrategyPostGIS)
	ctx := context.Background()
	expected := []models.RankedFacility{{Facility: lagosFacilities()[1], DistanceMeters: 235}}

	// Ожидания: лимит по умолчанию берётся из конфигурации
	repoMock.EXPECT().Nearest(ctx, 6.44, 3.475, 5).Return(expected, nil)

	// Действие
	ranked, err := service.Match(ctx, 6.44, 3.475, 0)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expected, ranked)
}

func TestMatch_LimitCapped(t *testing.T) {
	service, repoMock := newTestFacilityService(t, config.MatchStrategyPostGIS)
	ctx := context.Background()

	// Ожидания: огромный лимит от клиента не доходит до репозитория
	repoMock.EXPECT().Nearest(ctx, 6.44, 3.475, MaxMatchLimit).Return([]models.RankedFacility{}, nil)

	ranked, err := service.Match(ctx, 6.44, 3.475, 1<<40)

	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestMatch_ScanLimitCapped(t *testing.T) {
	service, repoMock := newTestFacilityService(t, config.MatchStrategyScan)
	ctx := context.Background()

	many := make([]*models.Facility, 0, MaxMatchLimit+10)
	for i := 0; i < MaxMatchLimit+10; i++ {
		many = append(many, &models.Facility{ID: uuid.New(), Latitude: 6.4 + float64(i)*0.001, Longitude: 3.4})
	}
	repoMock.EXPECT().List(ctx).Return(many, nil)

	ranked, err := service.Match(ctx, 6.4, 3.4, math.MaxInt)

	require.NoError(t, err)
	assert.Len(t, ranked, MaxMatchLimit)
}

func TestMatch_InvalidPoint(t *testing.T) {
	service, _ := newTestFacilityService(t, config.MatchStrategyScan)

	_, err := service.Match(context.Background(), math.NaN(), 3.4, 1)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = service.Match(context.Background(), 6.4, 181, 1)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestMatch_RepositoryError(t *testing.T) {
	service, repoMock := newTestFacilityService(t, config.MatchStrategyPostGIS)
	ctx := context.Background()

	repoMock.EXPECT().Nearest(ctx, 6.44, 3.475, 3).Return(nil, errors.New("db error"))

	_, err := service.Match(ctx, 6.44, 3.475, 3)
	assert.Equal(t, KindUpstream, KindOf(err))
}

func TestCreateFacility(t *testing.T) {
	service, repoMock := newTestFacilityService(t, config.MatchStrategyScan)
	ctx := context.Background()
	facility := &models.Facility{Name: "Ikoyi Clinic", Latitude: 6.45, Longitude: 3.43}

	// Пользователь без роли сотрудника
	err := service.CreateFacility(ctx, testUser, facility)
	assert.Equal(t, KindForbidden, KindOf(err))

	// Некорректные координаты
	err = service.CreateFacility(ctx, testStaff, &models.Facility{Name: "Nowhere", Latitude: 100})
	assert.Equal(t, KindValidation, KindOf(err))

	// Дубликат имени
	repoMock.EXPECT().Create(ctx, facility).Return(ErrAlreadyExists)
	err = service.CreateFacility(ctx, testStaff, facility)
	assert.Equal(t, KindConflict, KindOf(err))

	// Успех
	repoMock.EXPECT().Create(ctx, facility).Return(nil)
	assert.NoError(t, service.CreateFacility(ctx, testStaff, facility))
}

func TestGetFacility_NotFound(t *testing.T) {
	service, repoMock := newTestFacilityService(t, config.MatchStrategyScan)
	ctx := context.Background()
	facility := lagosFacilities()[0]

	repoMock.EXPECT().GetByID(ctx, facility.ID).Return(nil, ErrNotFound)

	_, err := service.GetFacility(ctx, facility.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}
