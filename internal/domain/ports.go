package domain

import "time"

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// Типы агрегатов и событий каталога.
const (
	AggregateProduct = "product"
	AggregateCatalog = "catalog"

	EventProductCreated           = "product.created"
	EventProductUpdated           = "product.updated"
	EventProductDeleted           = "product.deleted"
	EventProductDuplicated        = "product.duplicated"
	EventProductVisibilityChanged = "product.visibility_changed"
	EventCatalogReordered         = "catalog.reordered"
	EventCatalogOrderRepaired     = "catalog.order_repaired"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
