package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	operationCreate = "create"
	operationGet    = "get"
	operationUpdate = "update"
	operationCancel = "cancel"
	operationList   = "list"
	operationEvents = "events"

	// maxSaveAttempts - первая попытка и одна повторная после конфликта версий.
	maxSaveAttempts = 2
)

// Notifier получает сигнал о новых сообщениях в outbox.
type Notifier interface {
	Notify()
}

// ItemInput описывает позицию во входных данных продажи.
type ItemInput struct {
	ProductID   int64
	ProductName string
	Quantity    int32
	UnitPrice   int64
}

// CreateInput - данные для регистрации продажи.
type CreateInput struct {
	SaleDate     time.Time
	CustomerID   int64
	CustomerName string
	BranchID     int64
	BranchName   string
	Items        []ItemInput
}

// UpdateInput - новые значения заголовка и полный список позиций продажи.
type UpdateInput CreateInput

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики операций.
func WithMetrics(m *metrics.SalesMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier будит публикацию outbox после каждой записи.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service реализует операции над продажами поверх репозиториев.
type Service struct {
	repo     domain.SaleRepository
	eventLog domain.EventLogRepository
	notifier Notifier
	metrics  *metrics.SalesMetrics
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис продаж. eventLog может быть nil, тогда Events
// возвращает пустой журнал.
func NewService(repo domain.SaleRepository, eventLog domain.EventLogRepository, options ...Option) *Service {
	s := &Service{
		repo:     repo,
		eventLog: eventLog,
		logger:   log.WithField("component", "sales-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Create регистрирует продажу, рассчитывает скидки и ставит событие SaleCreated в outbox.
func (s *Service) Create(ctx context.Context, in CreateInput) (sale domain.Sale, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(operationCreate, started, err) }()

	now := s.now()
	sale = domain.Sale{
		ID:         uuid.NewString(),
		SaleNumber: domain.NewSaleNumber(now),
		Status:     domain.SaleStatusActive,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyInput(&sale, in)

	if err := s.prepare(&sale, now); err != nil {
		return domain.Sale{}, err
	}

	msg, err := newOutboxMessage(sale, domain.OutboxEventSaleCreated, now)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.repo.Create(ctx, sale, msg); err != nil {
		s.logger.WithError(err).WithField("sale_id", sale.ID).Error("failed to create sale")
		return domain.Sale{}, fmt.Errorf("create sale: %w", err)
	}

	s.metrics.RecordSaleCreated(sale.TotalAmountBeforeDiscount, sale.TotalAmount)
	s.notify()
	s.logger.WithFields(log.Fields{
		"sale_id":      sale.ID,
		"sale_number":  sale.SaleNumber,
		"total_amount": sale.TotalAmount,
	}).Info("sale created")
	return sale, nil
}

// Get возвращает продажу по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (sale domain.Sale, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(operationGet, started, err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, domain.ErrSaleIDRequired
	}
	return s.repo.Get(ctx, id)
}

// Update заменяет заголовок и позиции активной продажи и пересчитывает скидки.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (sale domain.Sale, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(operationUpdate, started, err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, domain.ErrSaleIDRequired
	}
	if len(in.Items) == 0 {
		return domain.Sale{}, domain.ErrItemsRequired
	}

	sale, err = s.mutate(ctx, id, domain.OutboxEventSaleUpdated, func(sale *domain.Sale, now time.Time) error {
		if !sale.IsActive() {
			return domain.ErrSaleNotActive
		}
		applyInput(sale, CreateInput(in))
		return s.prepare(sale, now)
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.RecordSaleUpdated()
	s.logger.WithFields(log.Fields{
		"sale_id":      sale.ID,
		"version":      sale.Version,
		"total_amount": sale.TotalAmount,
	}).Info("sale updated")
	return sale, nil
}

// Cancel отменяет продажу. Для отсутствующей или уже отменённой продажи
// возвращает ErrSaleNotActive.
func (s *Service) Cancel(ctx context.Context, id string) (sale domain.Sale, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(operationCancel, started, err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, domain.ErrSaleIDRequired
	}

	sale, err = s.mutate(ctx, id, domain.OutboxEventSaleDeleted, func(sale *domain.Sale, now time.Time) error {
		return sale.Cancel(now)
	})
	if errors.Is(err, domain.ErrSaleNotFound) {
		return domain.Sale{}, domain.ErrSaleNotActive
	}
	if err != nil {
		return domain.Sale{}, err
	}

	s.metrics.RecordSaleCancelled()
	s.logger.WithField("sale_id", sale.ID).Info("sale cancelled")
	return sale, nil
}

// List возвращает страницу продаж по фильтрам.
func (s *Service) List(ctx context.Context, query domain.ListQuery) (page domain.SalePage, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(operationList, started, err) }()

	query, err = query.Normalize()
	if err != nil {
		return domain.SalePage{}, err
	}
	return s.repo.List(ctx, query)
}

// Events возвращает журнал событий продажи.
func (s *Service) Events(ctx context.Context, id string) (events []domain.SaleEvent, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveOperation(operationEvents, started, err) }()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrSaleIDRequired
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.eventLog == nil {
		return []domain.SaleEvent{}, nil
	}

	events, err = s.eventLog.ListBySale(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list sale events: %w", err)
	}
	if events == nil {
		events = []domain.SaleEvent{}
	}
	return events, nil
}

// mutate читает продажу, применяет change и сохраняет её вместе с событием.
// При конфликте версий изменение повторяется один раз на свежей копии.
func (s *Service) mutate(
	ctx context.Context,
	id string,
	eventType string,
	change func(sale *domain.Sale, now time.Time) error,
) (domain.Sale, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		sale, err := s.repo.Get(ctx, id)
		if err != nil {
			return domain.Sale{}, err
		}

		now := s.now()
		if err := change(&sale, now); err != nil {
			return domain.Sale{}, err
		}
		sale.UpdatedAt = now

		msg, err := newOutboxMessage(sale, eventType, now)
		if err != nil {
			return domain.Sale{}, err
		}

		err = s.repo.Save(ctx, sale, msg)
		if err == nil {
			sale.Version++
			s.notify()
			return sale, nil
		}
		if !domain.IsVersionConflict(err) {
			s.logger.WithError(err).WithFields(log.Fields{
				"sale_id":    id,
				"event_type": eventType,
			}).Error("failed to save sale")
			return domain.Sale{}, fmt.Errorf("save sale: %w", err)
		}

		lastErr = err
		s.logger.WithFields(log.Fields{
			"sale_id": id,
			"attempt": attempt,
		}).Warn("sale version conflict, reloading")
	}
	return domain.Sale{}, lastErr
}

// prepare проверяет продажу и пересчитывает скидки и итоги.
func (s *Service) prepare(sale *domain.Sale, now time.Time) error {
	errs := sale.ValidateInvariants()
	if !sale.SaleDate.IsZero() && sale.SaleDate.After(now) {
		errs = append(errs, domain.ErrSaleDateInFuture)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return sale.Recalculate()
}

func (s *Service) notify() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

func applyInput(sale *domain.Sale, in CreateInput) {
	sale.SaleDate = in.SaleDate.UTC()
	sale.CustomerID = in.CustomerID
	sale.CustomerName = strings.TrimSpace(in.CustomerName)
	sale.BranchID = in.BranchID
	sale.BranchName = strings.TrimSpace(in.BranchName)

	sale.Items = make([]domain.SaleItem, 0, len(in.Items))
	for _, item := range in.Items {
		sale.Items = append(sale.Items, domain.SaleItem{
			ID:          uuid.NewString(),
			ProductID:   item.ProductID,
			ProductName: strings.TrimSpace(item.ProductName),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
}

func newOutboxMessage(sale domain.Sale, eventType string, now time.Time) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(sale.EventData())
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.AggregateTypeSale,
		AggregateID:   sale.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
	}, nil
}
