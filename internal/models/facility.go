package models

import (
	"time"

	"github.com/google/uuid"
)

// Facility - медицинское учреждение с фиксированными координатами
type Facility struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	City       string    `json:"city"`
	State      string    `json:"state"`
	PostalCode string    `json:"postal_code"`
	Phone      string    `json:"phone"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RankedFacility - кандидат подбора с расстоянием в метрах
type RankedFacility struct {
	Facility       *Facility `json:"facility"`
	DistanceMeters float64   `json:"distance_meters"`
}
