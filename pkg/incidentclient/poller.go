package incidentclient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 3 * time.Second

// IncidentFetcher читает инцидент по id; *Client реализует его
type IncidentFetcher interface {
	GetIncident(ctx context.Context, id uuid.UUID) (*Incident, error)
}

// StageFunc вызывается при переходе инцидента на следующий этап
type StageFunc func(stage models.Stage, incident *Incident)

// Poller опрашивает статус инцидента, пока тот не дойдет до финального этапа
type Poller struct {
	fetcher  IncidentFetcher
	Interval time.Duration
	logger   *logrus.Logger
}

func NewPoller(fetcher IncidentFetcher, logger *logrus.Logger) *Poller {
	return &Poller{
		fetcher:  fetcher,
		Interval: DefaultPollInterval,
		logger:   logger,
	}
}

// Watch опрашивает инцидент каждые Interval и вызывает fn только когда этап продвигается.
// Ошибки чтения временные: опрос продолжается. Возвращает nil на финальном этапе
// и ctx.Err() при отмене контекста; после отмены fn больше не вызывается.
func (p *Poller) Watch(ctx context.Context, id uuid.UUID, fn StageFunc) error {
	log := p.logger.WithFields(logrus.Fields{
		"component":   "poller",
		"incident_id": id,
	})

	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	current := models.StageMatching
	for {
		if done := p.poll(ctx, log, id, &current, fn); done {
			log.WithField("stage", current.String()).Info("Incident reached final stage, polling stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			log.Debug("Polling cancelled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll выполняет один опрос и сообщает, достигнут ли финальный этап
func (p *Poller) poll(ctx context.Context, log *logrus.Entry, id uuid.UUID, current *models.Stage, fn StageFunc) bool {
	incident, err := p.fetcher.GetIncident(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("Failed to fetch incident, will retry")
		}
		return false
	}

	stage, ok := models.StageFor(incident.Status)
	if !ok {
		log.WithField("status", incident.Status).Warn("Unknown incident status")
		return false
	}

	if stage > *current {
		// Отмена во время запроса: этап не сообщаем
		if ctx.Err() != nil {
			return false
		}
		log.WithFields(logrus.Fields{
			"from": current.String(),
			"to":   stage.String(),
		}).Info("Incident stage advanced")
		*current = stage
		fn(stage, incident)
	}
	return current.IsFinal()
}
