package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
)

// DTOToAlertInput преобразует запрос обращения во входные данные сервиса
func DTOToAlertInput(dto CreateAlertRequest) models.AlertInput {
	input := models.AlertInput{
		Type:        models.AlertType(dto.Type),
		Address:     dto.Address,
		PatientName: dto.PatientName,
		Condition:   dto.Condition,
		Details:     dto.Details,
		Notes:       dto.Notes,
	}
	if dto.Latitude != nil && dto.Longitude != nil {
		input.Location = &models.GeoPoint{Latitude: *dto.Latitude, Longitude: *dto.Longitude}
	}
	return input
}

// DTOToIncidentUpdate преобразует PATCH-запрос; facility_id уже проверен валидатором
func DTOToIncidentUpdate(dto UpdateIncidentRequest) models.IncidentUpdate {
	update := models.IncidentUpdate{Notes: dto.Notes}
	if dto.Status != nil {
		status := models.Status(*dto.Status)
		update.Status = &status
	}
	if dto.FacilityID != nil {
		if id, err := uuid.Parse(*dto.FacilityID); err == nil {
			update.FacilityID = &id
		}
	}
	return update
}

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident, displayPrefix string) *IncidentResponse {
	resp := &IncidentResponse{
		ID:          model.ID,
		DisplayID:   model.DisplayID(displayPrefix),
		ReporterID:  model.ReporterID,
		FacilityID:  model.FacilityID,
		AssignedTo:  model.AssignedTo,
		Status:      string(model.Status),
		Priority:    string(model.Priority),
		Source:      string(model.Source),
		Address:     model.Address,
		Description: model.Description,
		Notes:       model.Notes,
		PersonName:  model.PersonName,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
		AcceptedAt:  model.AcceptedAt,
		ResolvedAt:  model.ResolvedAt,
	}
	if model.Location != nil {
		lat, lon := model.Location.Latitude, model.Location.Longitude
		resp.Latitude, resp.Longitude = &lat, &lon
	}
	if model.Reporter != nil {
		resp.Reporter = &ReporterResponse{
			ID:    model.Reporter.ID,
			Name:  model.Reporter.Name,
			Email: model.Reporter.Email,
		}
	}
	if model.Facility != nil {
		resp.Facility = ModelToFacilityResponse(model.Facility)
	}
	return resp
}

// ModelsToIncidentResponses преобразует слайс моделей в слайс DTO
func ModelsToIncidentResponses(incidents []*models.Incident, displayPrefix string) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(incidents))
	for i, model := range incidents {
		responses[i] = ModelToIncidentResponse(model, displayPrefix)
	}
	return responses
}

// ModelToAlertResponse преобразует результат обращения
func ModelToAlertResponse(result *models.AlertResult, displayPrefix string) *AlertResponse {
	return &AlertResponse{
		Incident:   ModelToIncidentResponse(result.Incident, displayPrefix),
		Facilities: ModelsToRankedResponses(result.Facilities),
		Warning:    result.Warning,
	}
}

// DTOToFacilityModel преобразует запрос регистрации учреждения
func DTOToFacilityModel(dto CreateFacilityRequest) *models.Facility {
	return &models.Facility{
		Name:       dto.Name,
		Address:    dto.Address,
		City:       dto.City,
		State:      dto.State,
		PostalCode: dto.PostalCode,
		Phone:      dto.Phone,
		Latitude:   *dto.Latitude,
		Longitude:  *dto.Longitude,
	}
}

func ModelToFacilityResponse(model *models.Facility) *FacilityResponse {
	return &FacilityResponse{
		ID:         model.ID,
		Name:       model.Name,
		Address:    model.Address,
		City:       model.City,
		State:      model.State,
		PostalCode: model.PostalCode,
		Phone:      model.Phone,
		Latitude:   model.Latitude,
		Longitude:  model.Longitude,
	}
}

func ModelsToFacilityResponses(facilities []*models.Facility) []*FacilityResponse {
	responses := make([]*FacilityResponse, len(facilities))
	for i, model := range facilities {
		responses[i] = ModelToFacilityResponse(model)
	}
	return responses
}

func ModelsToRankedResponses(ranked []models.RankedFacility) []*RankedFacilityResponse {
	responses := make([]*RankedFacilityResponse, len(ranked))
	for i, r := range ranked {
		responses[i] = &RankedFacilityResponse{
			Facility:       ModelToFacilityResponse(r.Facility),
			DistanceMeters: r.DistanceMeters,
		}
	}
	return responses
}

// DTOToProfileModel преобразует запрос медицинской карты; дата уже проверена валидатором
func DTOToProfileModel(dto ProfileRequest) *models.MedicalProfile {
	profile := &models.MedicalProfile{
		BloodType:   dto.BloodType,
		Allergies:   dto.Allergies,
		Medications: dto.Medications,
		Conditions:  dto.Conditions,
	}
	if dto.DateOfBirth != "" {
		if dob, err := time.Parse(time.DateOnly, dto.DateOfBirth); err == nil {
			profile.DateOfBirth = &dob
		}
	}
	for _, c := range dto.EmergencyContacts {
		profile.EmergencyContacts = append(profile.EmergencyContacts, models.EmergencyContact{
			Name:         c.Name,
			Phone:        c.Phone,
			Email:        c.Email,
			Relationship: c.Relationship,
		})
	}
	return profile
}

func ModelToProfileResponse(model *models.MedicalProfile) *ProfileResponse {
	resp := &ProfileResponse{
		UserID:            model.UserID,
		BloodType:         model.BloodType,
		Allergies:         nonNil(model.Allergies),
		Medications:       model.Medications,
		Conditions:        nonNil(model.Conditions),
		EmergencyContacts: make([]EmergencyContactDTO, 0, len(model.EmergencyContacts)),
		UpdatedAt:         model.UpdatedAt,
	}
	if model.DateOfBirth != nil {
		resp.DateOfBirth = model.DateOfBirth.Format(time.DateOnly)
	}
	for _, c := range model.EmergencyContacts {
		resp.EmergencyContacts = append(resp.EmergencyContacts, EmergencyContactDTO{
			Name:         c.Name,
			Phone:        c.Phone,
			Email:        c.Email,
			Relationship: c.Relationship,
		})
	}
	return resp
}

func ModelToUserResponse(model *models.User) *UserResponse {
	return &UserResponse{
		ID:    model.ID,
		Email: model.Email,
		Name:  model.Name,
		Role:  string(model.Role),
	}
}

// ModelsToStatsResponse сворачивает счётчики; статусы без инцидентов выводятся с нулём
func ModelsToStatsResponse(counts []models.IncidentStatusCount, windowMinutes int) *StatsResponse {
	resp := &StatsResponse{
		WindowMinutes: windowMinutes,
		ByStatus:      make(map[string]int, len(models.AllStatuses)),
	}
	for _, s := range models.AllStatuses {
		resp.ByStatus[string(s)] = 0
	}
	for _, c := range counts {
		resp.ByStatus[string(c.Status)] += c.Count
		resp.Total += c.Count
	}
	return resp
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
