package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/service"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	incidentService service.IncidentService
	facilityService service.FacilityService
	profileService  service.ProfileService
	authService     service.AuthService
	logger          *logrus.Logger
	validate        *validator.Validate
	cfg             *config.Config
}

func NewHandler(
	incidentService service.IncidentService,
	facilityService service.FacilityService,
	profileService service.ProfileService,
	authService service.AuthService,
	logger *logrus.Logger,
	cfg *config.Config,
) *Handler {
	return &Handler{
		incidentService: incidentService,
		facilityService: facilityService,
		profileService:  profileService,
		authService:     authService,
		logger:          logger,
		validate:        validator.New(),
		cfg:             cfg,
	}
}

// respondError переводит ошибку сервиса в HTTP-ответ.
// Внутренние детали не уходят клиенту: вместо них error_id, по которому ищется запись в логах.
func (h *Handler) respondError(c *gin.Context, log *logrus.Entry, err error) {
	requestID := c.GetString(requestIDKey)
	kind := service.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case service.KindUnauthenticated:
		status = http.StatusUnauthorized
	case service.KindForbidden:
		status = http.StatusForbidden
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindConflict:
		status = http.StatusConflict
	}

	log = log.WithFields(logrus.Fields{"request_id": requestID, "kind": kind})
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed in service")
		c.JSON(status, ErrorResponse{Error: service.MessageOf(err), ErrorID: requestID})
		return
	}
	log.WithError(err).Warn("Request rejected by service")
	c.JSON(status, ErrorResponse{Error: service.MessageOf(err)})
}

// bindAndValidate разбирает JSON тела и проверяет его тегами validate
func (h *Handler) bindAndValidate(c *gin.Context, log *logrus.Entry, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

func parseIncidentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid incident ID"})
		return uuid.Nil, false
	}
	return id, true
}

// @Summary Create an emergency alert
// @Description Raise an SOS for the caller or report an emergency for someone else. The incident is created PENDING and assigned to the nearest facility when a location is given.
// @Tags Alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param alert body CreateAlertRequest true "Alert request"
// @Success 201 {object} AlertResponse
// @Failure 400 {object} ErrorResponse "Invalid request body or validation error"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /alerts [post]
func (h *Handler) createAlert(c *gin.Context) {
	var input CreateAlertRequest
	log := h.logger.WithField("method", "createAlert")

	if !h.bindAndValidate(c, log, &input) {
		return
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "latitude and longitude must be provided together"})
		return
	}

	result, err := h.incidentService.CreateAlert(c.Request.Context(), callerFrom(c), DTOToAlertInput(input))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToAlertResponse(result, h.cfg.DisplayIDPrefix))
}

// @Summary Get a list of incidents
// @Description Get a paginated list of incidents, most urgent first. Hospital staff only.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter" Enums(PENDING, ASSIGNED, IN_PROGRESS, RESOLVED, CANCELLED)
// @Param facility_id query string false "Facility ID filter"
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Number of items per page" default(20)
// @Success 200 {array} IncidentResponse
// @Failure 400 {object} ErrorResponse "Invalid filter"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	filter := models.IncidentFilter{Page: page, PageSize: pageSize}
	if s := c.Query("status"); s != "" {
		status := models.Status(s)
		filter.Status = &status
	}
	if f := c.Query("facility_id"); f != "" {
		facilityID, err := uuid.Parse(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid facility ID"})
			return
		}
		filter.FacilityID = &facilityID
	}

	incidents, err := h.incidentService.ListIncidents(c.Request.Context(), callerFrom(c), filter)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents, h.cfg.DisplayIDPrefix))
}

// @Summary Get incident by ID
// @Description Get a single incident with its facility and reporter. Available to hospital staff and to the reporter.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Invalid incident ID"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 404 {object} ErrorResponse "Incident not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, ok := parseIncidentID(c)
	if !ok {
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, err := h.incidentService.GetIncident(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident, h.cfg.DisplayIDPrefix))
}

type transitionFunc func(h *Handler, c *gin.Context, id uuid.UUID) (*models.Incident, error)

// transition - общий обработчик POST /incidents/{id}/<action>
func (h *Handler) transition(method string, apply transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIncidentID(c)
		if !ok {
			return
		}
		log := h.logger.WithField("method", method).WithField("id", id)

		incident, err := apply(h, c, id)
		if err != nil {
			h.respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, ModelToIncidentResponse(incident, h.cfg.DisplayIDPrefix))
	}
}

// @Summary Accept an incident
// @Description Move a PENDING incident to ASSIGNED. Hospital staff only.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 404 {object} ErrorResponse "Incident not found"
// @Failure 409 {object} ErrorResponse "Incident is not PENDING"
// @Router /incidents/{id}/accept [post]
func acceptIncident(h *Handler, c *gin.Context, id uuid.UUID) (*models.Incident, error) {
	return h.incidentService.Accept(c.Request.Context(), callerFrom(c), id)
}

// @Summary Dispatch a response team
// @Description Move an ASSIGNED incident to IN_PROGRESS. Hospital staff only.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 409 {object} ErrorResponse "Incident is not ASSIGNED"
// @Router /incidents/{id}/dispatch [post]
func dispatchIncident(h *Handler, c *gin.Context, id uuid.UUID) (*models.Incident, error) {
	return h.incidentService.Dispatch(c.Request.Context(), callerFrom(c), id)
}

// @Summary Resolve an incident
// @Description Move an IN_PROGRESS incident to RESOLVED. Hospital staff only.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 409 {object} ErrorResponse "Incident is not IN_PROGRESS"
// @Router /incidents/{id}/resolve [post]
func resolveIncident(h *Handler, c *gin.Context, id uuid.UUID) (*models.Incident, error) {
	return h.incidentService.Resolve(c.Request.Context(), callerFrom(c), id)
}

// @Summary Cancel an incident
// @Description Cancel a non-terminal incident. Available to hospital staff and to the reporter.
// @Tags Incidents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 409 {object} ErrorResponse "Incident already terminal"
// @Router /incidents/{id}/cancel [post]
func cancelIncident(h *Handler, c *gin.Context, id uuid.UUID) (*models.Incident, error) {
	return h.incidentService.Cancel(c.Request.Context(), callerFrom(c), id)
}

// @Summary Update an incident
// @Description Reassign the facility, replace notes or move the status (IN_PROGRESS, RESOLVED, CANCELLED). Hospital staff only.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Param incident body UpdateIncidentRequest true "Incident update request"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} ErrorResponse "Invalid incident ID or request body"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 404 {object} ErrorResponse "Incident or facility not found"
// @Failure 409 {object} ErrorResponse "Transition not allowed"
// @Router /incidents/{id} [patch]
func (h *Handler) updateIncident(c *gin.Context) {
	id, ok := parseIncidentID(c)
	if !ok {
		return
	}
	log := h.logger.WithField("method", "updateIncident").WithField("id", id)

	var input UpdateIncidentRequest
	if !h.bindAndValidate(c, log, &input) {
		return
	}

	incident, err := h.incidentService.UpdateIncident(c.Request.Context(), callerFrom(c), id, DTOToIncidentUpdate(input))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident, h.cfg.DisplayIDPrefix))
}

// @Summary Get incident statistics
// @Description Get incident counts per status created within the configured time window. Hospital staff only.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} StatsResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /incidents/stats [get]
func (h *Handler) getStats(c *gin.Context) {
	log := h.logger.WithField("method", "getStats")

	counts, err := h.incidentService.GetStats(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToStatsResponse(counts, h.cfg.StatsTimeWindowMinutes))
}

// @Summary List facilities
// @Tags Facilities
// @Produce json
// @Security BearerAuth
// @Success 200 {array} FacilityResponse
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /facilities [get]
func (h *Handler) listFacilities(c *gin.Context) {
	log := h.logger.WithField("method", "listFacilities")

	facilities, err := h.facilityService.ListFacilities(c.Request.Context())
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToFacilityResponses(facilities))
}

// @Summary Find nearest facilities
// @Description Rank facilities by distance from a point without creating an incident. An empty list is a valid answer.
// @Tags Facilities
// @Produce json
// @Security BearerAuth
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Param limit query int false "Maximum number of facilities"
// @Success 200 {array} RankedFacilityResponse
// @Failure 400 {object} ErrorResponse "Invalid coordinates"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /facilities/nearest [get]
func (h *Handler) nearestFacilities(c *gin.Context) {
	log := h.logger.WithField("method", "nearestFacilities")

	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lng query parameters are required"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	ranked, err := h.facilityService.Match(c.Request.Context(), lat, lng, limit)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelsToRankedResponses(ranked))
}

// @Summary Register a facility
// @Description Add a facility to the registry. Hospital staff only.
// @Tags Facilities
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param facility body CreateFacilityRequest true "Facility"
// @Success 201 {object} FacilityResponse
// @Failure 400 {object} ErrorResponse "Validation error"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 409 {object} ErrorResponse "Facility already exists"
// @Router /facilities [post]
func (h *Handler) createFacility(c *gin.Context) {
	var input CreateFacilityRequest
	log := h.logger.WithField("method", "createFacility")

	if !h.bindAndValidate(c, log, &input) {
		return
	}

	facility := DTOToFacilityModel(input)
	if err := h.facilityService.CreateFacility(c.Request.Context(), callerFrom(c), facility); err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToFacilityResponse(facility))
}

// @Summary Get the caller's medical profile
// @Tags Profile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} ProfileResponse
// @Failure 404 {object} ErrorResponse "Profile not found"
// @Router /profile [get]
func (h *Handler) getProfile(c *gin.Context) {
	log := h.logger.WithField("method", "getProfile")

	profile, err := h.profileService.GetProfile(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToProfileResponse(profile))
}

// @Summary Create or replace the caller's medical profile
// @Tags Profile
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param profile body ProfileRequest true "Medical profile"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} ErrorResponse "Validation error"
// @Router /profile [put]
func (h *Handler) updateProfile(c *gin.Context) {
	var input ProfileRequest
	log := h.logger.WithField("method", "updateProfile")

	if !h.bindAndValidate(c, log, &input) {
		return
	}

	profile, err := h.profileService.UpdateProfile(c.Request.Context(), callerFrom(c), DTOToProfileModel(input))
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, ModelToProfileResponse(profile))
}

// @Summary Register a user
// @Tags Auth
// @Accept json
// @Produce json
// @Param user body RegisterRequest true "Registration"
// @Success 201 {object} UserResponse
// @Failure 400 {object} ErrorResponse "Validation error"
// @Failure 409 {object} ErrorResponse "Email already registered"
// @Router /auth/register [post]
func (h *Handler) register(c *gin.Context) {
	var input RegisterRequest
	log := h.logger.WithField("method", "register")

	if !h.bindAndValidate(c, log, &input) {
		return
	}

	user, err := h.authService.Register(c.Request.Context(), input.Email, input.Name, input.Password)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusCreated, ModelToUserResponse(user))
}

// @Summary Log in
// @Description Exchange email and password for a bearer token.
// @Tags Auth
// @Accept json
// @Produce json
// @Param credentials body LoginRequest true "Credentials"
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse "Invalid email or password"
// @Router /auth/login [post]
func (h *Handler) login(c *gin.Context) {
	var input LoginRequest
	log := h.logger.WithField("method", "login")

	if !h.bindAndValidate(c, log, &input) {
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), input.Email, input.Password)
	if err != nil {
		h.respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.cfg.JWTTTL.Seconds()),
		User:        ModelToUserResponse(user),
	})
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
