package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/service"
)

const facilityColumns = `
	id,
	name,
	address,
	city,
	state,
	postal_code,
	phone,
	ST_Y(location::geometry) as latitude,
	ST_X(location::geometry) as longitude,
	created_at,
	updated_at`

type FacilityRepository struct {
	db *pgxpool.Pool
}

func NewFacilityRepository(db *pgxpool.Pool) service.FacilityRepository {
	return &FacilityRepository{db: db}
}

// Create регистрирует учреждение; имя уникально
func (r *FacilityRepository) Create(ctx context.Context, facility *models.Facility) error {
	query := `
		INSERT INTO facilities (name, address, city, state, postal_code, phone, location)
		VALUES ($1, $2, $3, $4, $5, $6, ST_SetSRID(ST_MakePoint($7, $8), 4326))
		RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRow(ctx, query,
		facility.Name,
		facility.Address,
		facility.City,
		facility.State,
		facility.PostalCode,
		facility.Phone,
		facility.Longitude,
		facility.Latitude,
	).Scan(&facility.ID, &facility.CreatedAt, &facility.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("facility %q: %w", facility.Name, service.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create facility: %w", err)
	}
	return nil
}

func scanFacility(row pgx.Row, dest ...any) (*models.Facility, error) {
	f := &models.Facility{}
	targets := []any{
		&f.ID,
		&f.Name,
		&f.Address,
		&f.City,
		&f.State,
		&f.PostalCode,
		&f.Phone,
		&f.Latitude,
		&f.Longitude,
		&f.CreatedAt,
		&f.UpdatedAt,
	}
	if err := row.Scan(append(targets, dest...)...); err != nil {
		return nil, err
	}
	return f, nil
}

// GetByID возвращает учреждение по UUID
func (r *FacilityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Facility, error) {
	query := `SELECT ` + facilityColumns + ` FROM facilities WHERE id = $1;`

	facility, err := scanFacility(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("facility with id %s: %w", id, service.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get facility by id: %w", err)
	}
	return facility, nil
}

// List возвращает весь реестр учреждений
func (r *FacilityRepository) List(ctx context.Context) ([]*models.Facility, error) {
	query := `SELECT ` + facilityColumns + ` FROM facilities ORDER BY name;`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	defer rows.Close()

	facilities := make([]*models.Facility, 0)
	for rows.Next() {
		facility, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan facility row: %w", err)
		}
		facilities = append(facilities, facility)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration: %w", err)
	}
	return facilities, nil
}

// Nearest ранжирует учреждения по расстоянию до точки средствами PostGIS
func (r *FacilityRepository) Nearest(ctx context.Context, lat, lon float64, limit int) ([]models.RankedFacility, error) {
	query := `
		SELECT ` + facilityColumns + `,
			ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance_meters
		FROM facilities
		ORDER BY distance_meters, id
		LIMIT $3;
	`
	rows, err := r.db.Query(ctx, query, lon, lat, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearest facilities: %w", err)
	}
	defer rows.Close()

	var ranked []models.RankedFacility
	for rows.Next() {
		var distance float64
		facility, err := scanFacility(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan facility row in Nearest: %w", err)
		}
		ranked = append(ranked, models.RankedFacility{Facility: facility, DistanceMeters: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in Nearest: %w", err)
	}
	if ranked == nil {
		ranked = []models.RankedFacility{}
	}
	return ranked, nil
}
