package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka.
const (
	TopicCatalogEvents = "storefront.catalog.events"
	TopicDeadLetter    = "storefront.catalog.dlq" // события, исчерпавшие попытки доставки
)

// Kafka headers, которыми сопровождается каждое событие.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
)

// CatalogEvent описывает конверт события, уходящего в Kafka.
type CatalogEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewCatalogEvent оборачивает outbox-сообщение в конверт.
func NewCatalogEvent(msg domain.OutboxMessage) *CatalogEvent {
	var payload json.RawMessage
	if len(msg.Payload) > 0 {
		payload = json.RawMessage(msg.Payload)
	}
	return &CatalogEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}
}

// Key возвращает ключ партиционирования: события одного агрегата попадают в одну партицию.
func (e *CatalogEvent) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

func (e *CatalogEvent) headers() map[string]string {
	return map[string]string{
		HeaderEventType:     e.EventType,
		HeaderAggregateType: e.AggregateType,
	}
}
