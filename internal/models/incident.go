package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status - статус инцидента
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusCancelled  Status = "CANCELLED"
)

// AllStatuses перечисляет статусы в порядке жизненного цикла
var AllStatuses = []Status{StatusPending, StatusAssigned, StatusInProgress, StatusResolved, StatusCancelled}

// ActiveStatuses - статусы, в которых инцидент еще можно менять
var ActiveStatuses = []Status{StatusPending, StatusAssigned, StatusInProgress}

// IsTerminal сообщает, что из статуса больше нет переходов
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Valid проверяет, что статус известен системе
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// Priority - срочность инцидента
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank возвращает вес приоритета для сортировки (больше - срочнее)
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// AlertSource - кто сообщил об инциденте
type AlertSource string

const (
	AlertSourceUser      AlertSource = "USER"
	AlertSourceSamaritan AlertSource = "SAMARITAN"
)

// Action - действие над инцидентом, меняющее его статус
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDispatch Action = "dispatch"
	ActionResolve  Action = "resolve"
	ActionCancel   Action = "cancel"
)

// Transition описывает допустимый переход состояния
type Transition struct {
	From []Status
	To   Status
}

// transitions - единственное определение машины состояний инцидента.
// Dispatch допустим только после accept.
var transitions = map[Action]Transition{
	ActionAccept:   {From: []Status{StatusPending}, To: StatusAssigned},
	ActionDispatch: {From: []Status{StatusAssigned}, To: StatusInProgress},
	ActionResolve:  {From: []Status{StatusInProgress}, To: StatusResolved},
	ActionCancel:   {From: ActiveStatuses, To: StatusCancelled},
}

// TransitionFor возвращает описание перехода для действия
func TransitionFor(action Action) (Transition, bool) {
	t, ok := transitions[action]
	return t, ok
}

// Next возвращает статус после применения действия к текущему статусу.
// Ошибка *TransitionError, если переход не разрешен.
func Next(current Status, action Action) (Status, error) {
	t, ok := transitions[action]
	if !ok {
		return current, fmt.Errorf("unknown action %q", action)
	}
	if !slices.Contains(t.From, current) {
		return current, &TransitionError{Action: action, Current: current}
	}
	return t.To, nil
}

// ActionForTarget сопоставляет целевой статус PATCH-запроса действию
func ActionForTarget(target Status) (Action, bool) {
	switch target {
	case StatusInProgress:
		return ActionDispatch, true
	case StatusResolved:
		return ActionResolve, true
	case StatusCancelled:
		return ActionCancel, true
	}
	return "", false
}

// TransitionError - попытка недопустимого перехода
type TransitionError struct {
	Action  Action
	Current Status
}

func (e *TransitionError) Error() string {
	if e.Action == ActionDispatch && e.Current == StatusPending {
		return "incident must be accepted first (current status PENDING)"
	}
	return fmt.Sprintf("cannot %s incident: incident already %s", e.Action, e.Current)
}

// GeoPoint - координаты в градусах
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ReporterSummary - краткие сведения об авторе обращения
type ReporterSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Incident - один экстренный случай от обращения до закрытия
type Incident struct {
	ID          uuid.UUID        `json:"id"`
	ReporterID  uuid.UUID        `json:"reporter_id"`
	Reporter    *ReporterSummary `json:"reporter,omitempty"`
	FacilityID  *uuid.UUID       `json:"facility_id,omitempty"`
	Facility    *Facility        `json:"facility,omitempty"`
	AssignedTo  *uuid.UUID       `json:"assigned_to,omitempty"`
	Status      Status           `json:"status"`
	Priority    Priority         `json:"priority"`
	Source      AlertSource      `json:"source"`
	Location    *GeoPoint        `json:"location,omitempty"`
	Address     string           `json:"address"`
	Description string           `json:"description"`
	Notes       string           `json:"notes"`
	PersonName  string           `json:"person_name"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	AcceptedAt  *time.Time       `json:"accepted_at,omitempty"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// DisplayID формирует короткий читаемый идентификатор, например LAG-1A2B3C4D
func (i *Incident) DisplayID(prefix string) string {
	id := strings.ReplaceAll(i.ID.String(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(id[len(id)-8:]))
}

// IncidentStatusCount - количество инцидентов в статусе
type IncidentStatusCount struct {
	Status Status `json:"status"`
	Count  int    `json:"count"`
}
