package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// saleRepositoryInMemory - простая in-memory реализация SaleRepository.
type saleRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Sale
	outbox domain.OutboxRepository
}

// NewSaleRepository возвращает in-memory репозиторий для локальной разработки и тестов.
// События outbox складываются в переданный репозиторий под той же блокировкой,
// что и сама продажа; outbox может быть nil.
func NewSaleRepository(outbox domain.OutboxRepository) domain.SaleRepository {
	return &saleRepositoryInMemory{
		items:  make(map[string]domain.Sale),
		outbox: outbox,
	}
}

// Create сохраняет новую продажу, если ID ещё не занят.
func (r *saleRepositoryInMemory) Create(ctx context.Context, sale domain.Sale, events ...domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sale.ID == "" {
		return domain.ErrSaleIDRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sale.ID]; exists {
		return domain.ErrSaleAlreadyExists
	}
	if err := r.enqueue(events); err != nil {
		return err
	}
	r.items[sale.ID] = cloneSale(sale)
	return nil
}

// Get возвращает продажу или ErrSaleNotFound, если её нет.
func (r *saleRepositoryInMemory) Get(ctx context.Context, id string) (domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return domain.Sale{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

// List фильтрует, сортирует по дате продажи и режет выборку на страницы.
func (r *saleRepositoryInMemory) List(ctx context.Context, query domain.ListQuery) (domain.SalePage, error) {
	if err := ctx.Err(); err != nil {
		return domain.SalePage{}, err
	}
	query, err := query.Normalize()
	if err != nil {
		return domain.SalePage{}, err
	}

	r.mu.RLock()
	matched := make([]domain.Sale, 0, len(r.items))
	for _, sale := range r.items {
		if query.Matches(sale) {
			matched = append(matched, sale)
		}
	}
	r.mu.RUnlock()

	desc := query.Order == domain.SortDesc
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.SaleDate.Equal(b.SaleDate) {
			if desc {
				return a.SaleDate.After(b.SaleDate)
			}
			return a.SaleDate.Before(b.SaleDate)
		}
		return a.ID < b.ID
	})

	page := domain.SalePage{
		TotalCount:  len(matched),
		CurrentPage: query.Page,
		PageSize:    query.Size,
		Items:       []domain.Sale{},
	}

	start := query.Offset()
	if start < 0 || start >= len(matched) {
		return page, nil
	}
	end := start + query.Size
	if end > len(matched) || end < start {
		end = len(matched)
	}
	for _, sale := range matched[start:end] {
		page.Items = append(page.Items, cloneSale(sale))
	}
	return page, nil
}

// Save перезаписывает продажу, проверяя версию (optimistic locking).
func (r *saleRepositoryInMemory) Save(ctx context.Context, sale domain.Sale, events ...domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[sale.ID]
	if !ok {
		return domain.ErrSaleNotFound
	}
	if current.Version != sale.Version {
		return domain.ErrSaleVersionConflict
	}
	if err := r.enqueue(events); err != nil {
		return err
	}
	sale.Version++
	r.items[sale.ID] = cloneSale(sale)
	return nil
}

func (r *saleRepositoryInMemory) enqueue(events []domain.OutboxMessage) error {
	if r.outbox == nil {
		return nil
	}
	for _, event := range events {
		if _, err := r.outbox.Enqueue(event); err != nil {
			return err
		}
	}
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = append([]domain.SaleItem(nil), src.Items...)
	return dst
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)
