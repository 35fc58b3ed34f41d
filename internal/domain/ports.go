package domain

import (
	"context"
	"time"
)

// SaleRepository описывает требования к хранилищу продаж.
type SaleRepository interface {
	// Create сохраняет новую продажу и события outbox в одной транзакции.
	// Возвращает ErrSaleAlreadyExists, если запись с таким ID уже существует.
	Create(ctx context.Context, sale Sale, events ...OutboxMessage) error
	// Get возвращает продажу по идентификатору или ErrSaleNotFound, если её нет.
	Get(ctx context.Context, id string) (Sale, error)
	// List возвращает страницу продаж по фильтрам запроса.
	List(ctx context.Context, query ListQuery) (SalePage, error)
	// Save применяет обновления к продаже с учётом optimistic locking и
	// атомарно добавляет события outbox.
	Save(ctx context.Context, sale Sale, events ...OutboxMessage) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// EventLogRepository - append-only журнал событий продаж.
type EventLogRepository interface {
	// Append добавляет событие; повторная запись с тем же ID игнорируется.
	Append(ctx context.Context, event SaleEvent) error
	// ListBySale возвращает события продажи в порядке их даты.
	ListBySale(ctx context.Context, saleID string) ([]SaleEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
