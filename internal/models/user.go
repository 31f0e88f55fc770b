package models

import (
	"time"

	"github.com/google/uuid"
)

// Role - роль пользователя
type Role string

const (
	RoleUser          Role = "USER"
	RoleHospitalStaff Role = "HOSPITAL_STAFF"
)

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Caller - аутентифицированный вызывающий, явно передаётся в каждую операцию ядра
type Caller struct {
	UserID uuid.UUID
	Role   Role
	Name   string
}

// IsAuthenticated сообщает, что личность вызывающего установлена
func (c Caller) IsAuthenticated() bool {
	return c.UserID != uuid.Nil
}

// IsStaff сообщает, что вызывающий - сотрудник больницы
func (c Caller) IsStaff() bool {
	return c.Role == RoleHospitalStaff
}
