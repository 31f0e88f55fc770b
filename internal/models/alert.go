package models

import "github.com/google/uuid"

// AlertType - тип входящего обращения
type AlertType string

const (
	AlertTypeSOS    AlertType = "sos"
	AlertTypeReport AlertType = "report"
)

// AlertInput - данные обращения SOS или сообщения о другом человеке
type AlertInput struct {
	Type        AlertType
	Location    *GeoPoint
	Address     string
	PatientName string
	Condition   string
	Details     string
	Notes       string
}

// Коды предупреждений подбора: инцидент создан, но учреждение не назначено
const (
	WarningNoFacilities        = "NO_FACILITIES_AVAILABLE"
	WarningMatchingUnavailable = "MATCHING_UNAVAILABLE"
)

// MatchWarning сообщает, почему инцидент остался без учреждения
type MatchWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AlertResult - созданный инцидент и ранжированный список кандидатов
type AlertResult struct {
	Incident   *Incident
	Facilities []RankedFacility
	Warning    *MatchWarning
}

// IncidentFilter - фильтры и пагинация списка инцидентов
type IncidentFilter struct {
	Status     *Status
	FacilityID *uuid.UUID
	Page       int
	PageSize   int
}

// IncidentUpdate - явное изменение инцидента сотрудником.
// AssignedTo заполняет только сервис: принявший инцидент сотрудник.
type IncidentUpdate struct {
	Status     *Status
	FacilityID *uuid.UUID
	Notes      *string
	AssignedTo *uuid.UUID
}
