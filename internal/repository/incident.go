package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/service"
)

var dialect = goqu.Dialect("postgres")

// priorityOrder сортирует CRITICAL первым
var priorityOrder = goqu.L("CASE i.priority WHEN 'CRITICAL' THEN 1 WHEN 'HIGH' THEN 2 WHEN 'MEDIUM' THEN 3 ELSE 4 END")

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client, cacheTTL time.Duration) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

// Create создает новую запись об инциденте в бд
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (reporter_id, status, priority, source, location, address, description, notes, person_name)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5::float8, $6::float8), 4326), $7, $8, $9, $10)
		RETURNING id, created_at, updated_at;
	`
	var lon, lat *float64
	if incident.Location != nil {
		lon, lat = &incident.Location.Longitude, &incident.Location.Latitude
	}

	err := r.db.QueryRow(ctx, query,
		incident.ReporterID,
		string(incident.Status),
		string(incident.Priority),
		string(incident.Source),
		lon,
		lat,
		incident.Address,
		incident.Description,
		incident.Notes,
		incident.PersonName,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// incidentSelect - общий SELECT инцидента с автором и назначенным учреждением
func incidentSelect() *goqu.SelectDataset {
	return dialect.From(goqu.T("incidents").As("i")).
		Prepared(true).
		Select(
			goqu.I("i.id"),
			goqu.I("i.reporter_id"),
			goqu.I("i.facility_id"),
			goqu.I("i.assigned_to"),
			goqu.I("i.status"),
			goqu.I("i.priority"),
			goqu.I("i.source"),
			goqu.L("ST_Y(i.location::geometry)"),
			goqu.L("ST_X(i.location::geometry)"),
			goqu.I("i.address"),
			goqu.I("i.description"),
			goqu.I("i.notes"),
			goqu.I("i.person_name"),
			goqu.I("i.created_at"),
			goqu.I("i.updated_at"),
			goqu.I("i.accepted_at"),
			goqu.I("i.resolved_at"),
			goqu.I("u.name"),
			goqu.I("u.email"),
			goqu.I("f.name"),
			goqu.I("f.address"),
			goqu.I("f.city"),
			goqu.I("f.state"),
			goqu.I("f.postal_code"),
			goqu.I("f.phone"),
			goqu.L("ST_Y(f.location::geometry)"),
			goqu.L("ST_X(f.location::geometry)"),
		).
		LeftJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("i.reporter_id")))).
		LeftJoin(goqu.T("facilities").As("f"), goqu.On(goqu.I("f.id").Eq(goqu.I("i.facility_id"))))
}

// BuildListQuery строит запрос списка: фильтры, сортировка по срочности, затем новые первыми
func BuildListQuery(filter models.IncidentFilter) (string, []interface{}, error) {
	ds := incidentSelect()
	if filter.Status != nil {
		ds = ds.Where(goqu.Ex{"i.status": string(*filter.Status)})
	}
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.Ex{"i.facility_id": filter.FacilityID.String()})
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	ds = ds.Order(priorityOrder.Asc(), goqu.I("i.created_at").Desc()).
		Limit(uint(pageSize)).
		Offset(uint((page - 1) * pageSize))
	return ds.ToSQL()
}

// scanIncident читает строку incidentSelect; поля LEFT JOIN могут быть NULL
func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	var (
		lat, lon, fLat, fLon                            *float64
		reporterName, reporterEmail                     *string
		fName, fAddress, fCity, fState, fPostal, fPhone *string
		status, priority, source                        string
	)

	err := row.Scan(
		&incident.ID,
		&incident.ReporterID,
		&incident.FacilityID,
		&incident.AssignedTo,
		&status,
		&priority,
		&source,
		&lat,
		&lon,
		&incident.Address,
		&incident.Description,
		&incident.Notes,
		&incident.PersonName,
		&incident.CreatedAt,
		&incident.UpdatedAt,
		&incident.AcceptedAt,
		&incident.ResolvedAt,
		&reporterName,
		&reporterEmail,
		&fName,
		&fAddress,
		&fCity,
		&fState,
		&fPostal,
		&fPhone,
		&fLat,
		&fLon,
	)
	if err != nil {
		return nil, err
	}

	incident.Status = models.Status(status)
	incident.Priority = models.Priority(priority)
	incident.Source = models.AlertSource(source)
	if lat != nil && lon != nil {
		incident.Location = &models.GeoPoint{Latitude: *lat, Longitude: *lon}
	}
	if reporterName != nil {
		incident.Reporter = &models.ReporterSummary{
			ID:    incident.ReporterID,
			Name:  *reporterName,
			Email: deref(reporterEmail),
		}
	}
	if incident.FacilityID != nil && fName != nil {
		incident.Facility = &models.Facility{
			ID:         *incident.FacilityID,
			Name:       *fName,
			Address:    deref(fAddress),
			City:       deref(fCity),
			State:      deref(fState),
			PostalCode: deref(fPostal),
			Phone:      deref(fPhone),
		}
		if fLat != nil && fLon != nil {
			incident.Facility.Latitude, incident.Facility.Longitude = *fLat, *fLon
		}
	}
	return incident, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query, args, err := incidentSelect().Where(goqu.Ex{"i.id": id.String()}).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build incident query: %w", err)
	}

	incident, err := scanIncident(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s: %w", id, service.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// List возвращает страницу инцидентов по фильтру
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	query, args, err := BuildListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration: %w", err)
	}
	return incidents, nil
}

// ApplyUpdate применяет статус, учреждение, заметки и исполнителя одним условным UPDATE.
// Строка меняется, только если текущий статус входит в from; nil-поля update не трогаются.
// accepted_at и resolved_at выставляются один раз и больше не перезаписываются.
func (r *IncidentRepository) ApplyUpdate(ctx context.Context, id uuid.UUID, from []models.Status, update models.IncidentUpdate) (bool, error) {
	query := `
		UPDATE incidents SET
			status = COALESCE($2::text, status),
			facility_id = COALESCE($3::uuid, facility_id),
			notes = COALESCE($4::text, notes),
			assigned_to = COALESCE($5::uuid, assigned_to),
			updated_at = NOW(),
			accepted_at = CASE WHEN $2::text = 'ASSIGNED' THEN COALESCE(accepted_at, NOW()) ELSE accepted_at END,
			resolved_at = CASE WHEN $2::text = 'RESOLVED' THEN COALESCE(resolved_at, NOW()) ELSE resolved_at END
		WHERE id = $1 AND status = ANY($6);
	`
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	var status *string
	if update.Status != nil {
		v := string(*update.Status)
		status = &v
	}

	cmdTag, err := r.db.Exec(ctx, query, id, status, update.FacilityID, update.Notes, update.AssignedTo, allowed)
	if err != nil {
		return false, fmt.Errorf("failed to update incident: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// AssignFacility назначает учреждение инциденту
func (r *IncidentRepository) AssignFacility(ctx context.Context, id, facilityID uuid.UUID) error {
	query := `
		UPDATE incidents SET
			facility_id = $2,
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, facilityID)
	if err != nil {
		return fmt.Errorf("failed to assign facility: %w", err)
	}

	// RowsAffected() == 0 значит инцидента с таким id не существует
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("incident with id %s: %w", id, service.ErrNotFound)
	}
	return nil
}

// CountByStatus возвращает количество инцидентов по статусам, созданных после since
func (r *IncidentRepository) CountByStatus(ctx context.Context, since time.Time) ([]models.IncidentStatusCount, error) {
	query, args, err := dialect.From("incidents").
		Prepared(true).
		Select(goqu.C("status"), goqu.COUNT("*")).
		Where(goqu.C("created_at").Gte(since)).
		GroupBy(goqu.C("status")).
		Order(goqu.C("status").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build stats query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident stats: %w", err)
	}
	defer rows.Close()

	counts := make([]models.IncidentStatusCount, 0, len(models.AllStatuses))
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		counts = append(counts, models.IncidentStatusCount{Status: models.Status(status), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error stats iteration: %w", err)
	}
	return counts, nil
}

func incidentCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("incident:%s", id.String())
}

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	val, err := r.redisClient.Get(ctx, incidentCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	if err := r.redisClient.Set(ctx, incidentCacheKey(incident.ID), val, r.cacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	if err := r.redisClient.Del(ctx, incidentCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}
