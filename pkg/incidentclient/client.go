package incidentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/sirupsen/logrus"
)

const defaultTimeout = 10 * time.Second

// Facility - учреждение в ответе API
type Facility struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Incident - инцидент в том виде, в каком его видит автор обращения
type Incident struct {
	ID         uuid.UUID     `json:"id"`
	DisplayID  string        `json:"display_id"`
	Status     models.Status `json:"status"`
	Priority   string        `json:"priority"`
	FacilityID *uuid.UUID    `json:"facility_id,omitempty"`
	Facility   *Facility     `json:"facility,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	AcceptedAt *time.Time    `json:"accepted_at,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// AlertRequest - тело POST /alerts
type AlertRequest struct {
	Type        string   `json:"type"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	Address     string   `json:"address,omitempty"`
	PatientName string   `json:"patient_name,omitempty"`
	Condition   string   `json:"condition,omitempty"`
	Details     string   `json:"details,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// RankedFacility - кандидат подбора
type RankedFacility struct {
	Facility       Facility `json:"facility"`
	DistanceMeters float64  `json:"distance_meters"`
}

// AlertResponse - результат POST /alerts
type AlertResponse struct {
	Incident   Incident             `json:"incident"`
	Facilities []RankedFacility     `json:"facilities"`
	Warning    *models.MatchWarning `json:"warning,omitempty"`
}

// APIError - ответ сервера с кодом вне 2xx
type APIError struct {
	StatusCode int
	Message    string
	ErrorID    string
}

func (e *APIError) Error() string {
	if e.ErrorID != "" {
		return fmt.Sprintf("incident api returned status %d: %s (error_id %s)", e.StatusCode, e.Message, e.ErrorID)
	}
	return fmt.Sprintf("incident api returned status %d: %s", e.StatusCode, e.Message)
}

// Client - HTTP-клиент API инцидентов от имени одного пользователя
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient создает клиент; baseURL включает префикс /api/v1
func NewClient(baseURL, token string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// CreateAlert отправляет SOS или сообщение о другом человеке
func (c *Client) CreateAlert(ctx context.Context, req AlertRequest) (*AlertResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}

	out := &AlertResponse{}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/alerts", bytes.NewReader(body), out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetIncident читает текущее состояние инцидента
func (c *Client) GetIncident(ctx context.Context, id uuid.UUID) (*Incident, error) {
	out := &Incident{}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/incidents/"+id.String(), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error   string `json:"error"`
			ErrorID string `json:"error_id"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.ErrorID = payload.ErrorID
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
