package incidentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestClient_CreateAlert(t *testing.T) {
	incidentID := uuid.New()
	lat, lng := 6.44, 3.475

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/alerts", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req AlertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sos", req.Type)
		require.NotNil(t, req.Latitude)
		assert.Equal(t, lat, *req.Latitude)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(AlertResponse{
			Incident: Incident{ID: incidentID, DisplayID: "LAG-1A2B3C4D", Status: models.StatusPending},
			Facilities: []RankedFacility{
				{Facility: Facility{Name: "Lekki Central Clinic"}, DistanceMeters: 235},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/api/v1/", "user-token", newTestLogger())
	resp, err := client.CreateAlert(context.Background(), AlertRequest{Type: "sos", Latitude: &lat, Longitude: &lng})

	require.NoError(t, err)
	assert.Equal(t, incidentID, resp.Incident.ID)
	assert.Equal(t, models.StatusPending, resp.Incident.Status)
	require.Len(t, resp.Facilities, 1)
	assert.Equal(t, "Lekki Central Clinic", resp.Facilities[0].Facility.Name)
	assert.Nil(t, resp.Warning)
}

func TestClient_GetIncident_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error","error_id":"req-7"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "user-token", newTestLogger())
	_, err := client.GetIncident(context.Background(), uuid.New())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "internal server error", apiErr.Message)
	assert.Equal(t, "req-7", apiErr.ErrorID)
}

func TestClient_GetIncident_NotFoundWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := NewClient(srv.URL, "", newTestLogger())
	_, err := client.GetIncident(context.Background(), uuid.New())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
