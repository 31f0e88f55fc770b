package service

import (
	"strings"

	"github.com/shenikar/emergency_response_system/internal/models"
)

// PriorityPolicy назначает приоритет новому обращению.
// Это эвристика для сортировки очереди, а не клиническая сортировка пациентов.
type PriorityPolicy func(input models.AlertInput) models.Priority

// urgencyKeywords - слова в описании состояния, поднимающие приоритет до CRITICAL
var urgencyKeywords = []string{
	"severe",
	"critical",
	"chest pain",
	"breathing",
	"unconscious",
	"bleeding",
}

// KeywordPriorityPolicy: SOS - HIGH, сообщение о другом человеке - MEDIUM,
// совпадение с urgencyKeywords - CRITICAL.
func KeywordPriorityPolicy(input models.AlertInput) models.Priority {
	priority := models.PriorityMedium
	if input.Type == models.AlertTypeSOS {
		priority = models.PriorityHigh
	}

	text := strings.ToLower(input.Condition + " " + input.Details)
	for _, keyword := range urgencyKeywords {
		if strings.Contains(text, keyword) {
			return models.PriorityCritical
		}
	}
	return priority
}
