package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/models"
)

const (
	webhookQueueKey = "incident_webhook_events"
	// maxQueueLength ограничивает очередь, если воркер отстает или недоступен
	maxQueueLength int64 = 10000
)

// Типы событий жизненного цикла инцидента
const (
	EventIncidentCreated = "incident.created"
)

// EventTypeFor возвращает тип события для действия над инцидентом
func EventTypeFor(action models.Action) string {
	switch action {
	case models.ActionAccept:
		return "incident.accepted"
	case models.ActionDispatch:
		return "incident.dispatched"
	case models.ActionResolve:
		return "incident.resolved"
	case models.ActionCancel:
		return "incident.cancelled"
	}
	return "incident.updated"
}

// WebhookEvent - событие для учреждения, которому назначен инцидент
type WebhookEvent struct {
	Type           string           `json:"type"`
	IncidentID     uuid.UUID        `json:"incident_id"`
	DisplayID      string           `json:"display_id"`
	Status         models.Status    `json:"status"`
	PreviousStatus models.Status    `json:"previous_status,omitempty"`
	Priority       models.Priority  `json:"priority"`
	FacilityID     *uuid.UUID       `json:"facility_id,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Incident       *models.Incident `json:"incident,omitempty"`
}

// WebhookPublisher - интерфейс для публикации вебхуков
type WebhookPublisher interface {
	Publish(ctx context.Context, event WebhookEvent) error
}

// NewPublisher выбирает реализацию: без WEBHOOK_URL очередь никто не читает, события отбрасываются
func NewPublisher(client *redis.Client, cfg *config.Config) WebhookPublisher {
	if cfg.WebhookURL == "" {
		return NopPublisher{}
	}
	return NewRedisWebhookPublisher(client)
}

// NopPublisher отбрасывает события, когда доставка вебхуков отключена
type NopPublisher struct{}

// Publish ничего не делает
func (NopPublisher) Publish(context.Context, WebhookEvent) error {
	return nil
}

// RedisWebhookPublisher - реализация WebhookPublisher, использующая Redis
type RedisWebhookPublisher struct {
	redisClient *redis.Client
	maxLen      int64
}

// NewRedisWebhookPublisher создает новый RedisWebhookPublisher
func NewRedisWebhookPublisher(client *redis.Client) *RedisWebhookPublisher {
	return &RedisWebhookPublisher{
		redisClient: client,
		maxLen:      maxQueueLength,
	}
}

// Publish публикует событие вебхука в очередь Redis.
// Очередь обрезается до maxLen: при переполнении теряются самые старые события.
func (p *RedisWebhookPublisher) Publish(ctx context.Context, event WebhookEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	// LPUSH в левую часть списка, воркер забирает справа через BRPOP
	pipe := p.redisClient.Pipeline()
	pipe.LPush(ctx, webhookQueueKey, payload)
	pipe.LTrim(ctx, webhookQueueKey, 0, p.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish webhook event to Redis: %w", err)
	}
	return nil
}
