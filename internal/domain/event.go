package domain

import "time"

// SaleEventType описывает тип записи в журнале событий продаж.
type SaleEventType string

const (
	SaleEventCreated SaleEventType = "SaleCreated"
	SaleEventUpdated SaleEventType = "SaleUpdated"
	SaleEventDeleted SaleEventType = "SaleDeleted"
)

// SaleEventVersion - версия схемы записи журнала.
const SaleEventVersion = 1

// AggregateTypeSale используется в outbox для продаж.
const AggregateTypeSale = "sale"

// Типы outbox-сообщений. Совпадают с названием доменного события в брокере.
const (
	OutboxEventSaleCreated = "sale.created"
	OutboxEventSaleUpdated = "sale.updated"
	OutboxEventSaleDeleted = "sale.deleted"
)

var outboxToEventType = map[string]SaleEventType{
	OutboxEventSaleCreated: SaleEventCreated,
	OutboxEventSaleUpdated: SaleEventUpdated,
	OutboxEventSaleDeleted: SaleEventDeleted,
}

// EventTypeFromOutbox сопоставляет тип outbox-сообщения с типом записи журнала.
func EventTypeFromOutbox(eventType string) (SaleEventType, error) {
	t, ok := outboxToEventType[eventType]
	if !ok {
		return "", ErrUnknownEventType
	}
	return t, nil
}

// SaleEventData - снимок продажи на момент события.
type SaleEventData struct {
	SaleID      string    `json:"sale_id" bson:"sale_id"`
	CustomerID  int64     `json:"customer_id" bson:"customer_id"`
	SaleDate    time.Time `json:"sale_date" bson:"sale_date"`
	TotalAmount int64     `json:"total_amount" bson:"total_amount"`
	ItemCount   int32     `json:"item_count" bson:"item_count"`
}

// SaleEvent - неизменяемая запись журнала событий.
type SaleEvent struct {
	// ID совпадает с идентификатором outbox-сообщения и служит ключом дедупликации.
	ID      string        `json:"id" bson:"_id"`
	Type    SaleEventType `json:"type" bson:"type"`
	Data    SaleEventData `json:"data" bson:"data"`
	Version int           `json:"version" bson:"version"`
	Date    time.Time     `json:"date" bson:"date"`
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
