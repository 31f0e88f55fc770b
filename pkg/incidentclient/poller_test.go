package incidentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusServer отдает статусы по очереди; пустая строка означает ответ 500
func statusServer(t *testing.T, id uuid.UUID, statuses ...string) *httptest.Server {
	var mu sync.Mutex
	calls := 0

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/incidents/"+id.String(), r.URL.Path)

		mu.Lock()
		status := statuses[min(calls, len(statuses)-1)]
		calls++
		mu.Unlock()

		if status == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Incident{ID: id, Status: models.Status(status)})
	}))
}

func newTestPoller(url string) *Poller {
	poller := NewPoller(NewClient(url, "user-token", newTestLogger()), newTestLogger())
	poller.Interval = 5 * time.Millisecond
	return poller
}

func TestPoller_AdvancesThroughStages(t *testing.T) {
	id := uuid.New()
	srv := statusServer(t, id, "PENDING", "PENDING", "", "ASSIGNED", "ASSIGNED", "IN_PROGRESS", "RESOLVED")
	defer srv.Close()

	var stages []models.Stage
	err := newTestPoller(srv.URL).Watch(context.Background(), id, func(stage models.Stage, incident *Incident) {
		assert.Equal(t, id, incident.ID)
		stages = append(stages, stage)
	})

	require.NoError(t, err)
	assert.Equal(t, []models.Stage{models.StageAccepted, models.StageEnRoute, models.StageInCare}, stages)
}

func TestPoller_SkippedStagesFireOnce(t *testing.T) {
	id := uuid.New()
	srv := statusServer(t, id, "PENDING", "RESOLVED")
	defer srv.Close()

	var stages []models.Stage
	err := newTestPoller(srv.URL).Watch(context.Background(), id, func(stage models.Stage, _ *Incident) {
		stages = append(stages, stage)
	})

	require.NoError(t, err)
	assert.Equal(t, []models.Stage{models.StageInCare}, stages)
}

func TestPoller_StopsOnCancelled(t *testing.T) {
	id := uuid.New()
	srv := statusServer(t, id, "ASSIGNED", "CANCELLED")
	defer srv.Close()

	var stages []models.Stage
	err := newTestPoller(srv.URL).Watch(context.Background(), id, func(stage models.Stage, _ *Incident) {
		stages = append(stages, stage)
	})

	require.NoError(t, err)
	assert.Equal(t, []models.Stage{models.StageAccepted, models.StageCancelled}, stages)
}

func TestPoller_ContextCancelStopsPolling(t *testing.T) {
	id := uuid.New()
	srv := statusServer(t, id, "PENDING")
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	called := false
	err := newTestPoller(srv.URL).Watch(ctx, id, func(models.Stage, *Incident) {
		called = true
	})

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, called)
}

type fakeFetcher struct {
	incidents []*Incident
	calls     int
}

func (f *fakeFetcher) GetIncident(context.Context, uuid.UUID) (*Incident, error) {
	incident := f.incidents[min(f.calls, len(f.incidents)-1)]
	f.calls++
	return incident, nil
}

func TestPoller_UnknownStatusIgnored(t *testing.T) {
	fetcher := &fakeFetcher{incidents: []*Incident{
		{Status: "ON_HOLD"},
		{Status: models.StatusInProgress},
		{Status: models.StatusResolved},
	}}
	poller := NewPoller(fetcher, newTestLogger())
	poller.Interval = time.Millisecond

	var stages []models.Stage
	err := poller.Watch(context.Background(), uuid.New(), func(stage models.Stage, _ *Incident) {
		stages = append(stages, stage)
	})

	require.NoError(t, err)
	assert.Equal(t, []models.Stage{models.StageEnRoute, models.StageInCare}, stages)
	assert.Equal(t, 3, fetcher.calls)
}
