package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// eventLogRepositoryInMemory хранит журнал событий в памяти (для разработки/тестов).
type eventLogRepositoryInMemory struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	events map[string][]domain.SaleEvent
}

// NewEventLogRepository создаёт in-memory реализацию EventLogRepository.
func NewEventLogRepository() domain.EventLogRepository {
	return &eventLogRepositoryInMemory{
		seen:   make(map[string]struct{}),
		events: make(map[string][]domain.SaleEvent),
	}
}

// Append добавляет событие; дубликат по ID молча пропускается.
func (r *eventLogRepositoryInMemory) Append(ctx context.Context, event domain.SaleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		return domain.ErrEventIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen[event.ID]; dup {
		return nil
	}
	r.seen[event.ID] = struct{}{}

	saleID := event.Data.SaleID
	r.events[saleID] = append(r.events[saleID], event)
	sort.SliceStable(r.events[saleID], func(i, j int) bool {
		return r.events[saleID][i].Date.Before(r.events[saleID][j].Date)
	})
	return nil
}

// ListBySale возвращает события продажи в хронологическом порядке.
func (r *eventLogRepositoryInMemory) ListBySale(ctx context.Context, saleID string) ([]domain.SaleEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[saleID]
	result := make([]domain.SaleEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.EventLogRepository = (*eventLogRepositoryInMemory)(nil)
