package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// HeaderReplayedFrom помечает событие, повторно отправленное из dead-letter topic.
const HeaderReplayedFrom = "x-replayed-from"

// DeadLetter описывает payload события, которое outbox не смог доставить.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	DeadLetterAt  time.Time       `json:"dead_letter_at"`
}

var errNotDeadLetter = errors.New("message is not a catalog dead letter")

// ParseDeadLetter разбирает сообщение dead-letter topic и восстанавливает исходное событие каталога.
func ParseDeadLetter(value []byte) (*CatalogEvent, DeadLetter, error) {
	var envelope CatalogEvent
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, DeadLetter{}, fmt.Errorf("decode dead letter envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return nil, DeadLetter{}, errNotDeadLetter
	}

	var dead DeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return nil, DeadLetter{}, fmt.Errorf("decode dead letter payload: %w", err)
	}
	if len(dead.Payload) == 0 || dead.EventType == "" {
		return nil, DeadLetter{}, errNotDeadLetter
	}

	return &CatalogEvent{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     dead.EventType,
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}, dead, nil
}

// Replay повторно публикует восстановленное событие в topic, сохраняя ключ партиционирования.
func (p *Producer) Replay(topic, sourceTopic string, event *CatalogEvent) error {
	if event == nil {
		return errors.New("replay event is nil")
	}
	headers := event.headers()
	headers[HeaderReplayedFrom] = sourceTopic
	return p.PublishEvent(topic, event.Key(), event, headers)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
