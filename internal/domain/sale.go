package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxNameLength ограничивает длину имён клиента, филиала и товара.
const MaxNameLength = 200

// SaleStatus описывает жизненный цикл продажи.
type SaleStatus string

const (
	// SaleStatusActive - продажа действует и может изменяться.
	SaleStatusActive SaleStatus = "active"
	// SaleStatusCancelled - продажа отменена (мягкое удаление).
	SaleStatusCancelled SaleStatus = "cancelled"
)

// SaleItem представляет одну позицию продажи.
type SaleItem struct {
	ID          string
	ProductID   int64
	ProductName string
	Quantity    int32
	// UnitPrice - цена за единицу в минимальных денежных единицах.
	UnitPrice int64
	// Discount вычисляется по таблице скидок, не задаётся клиентом.
	Discount    int64
	TotalAmount int64
}

// GrossAmount - стоимость позиции без скидки.
// Возвращает ErrAmountOverflow, если произведение не помещается в int64.
func (i SaleItem) GrossAmount() (int64, error) {
	return mulAmount(int64(i.Quantity), i.UnitPrice)
}

// Sale агрегирует продажу и её позиции.
type Sale struct {
	ID                        string
	SaleNumber                string
	SaleDate                  time.Time
	CustomerID                int64
	CustomerName              string
	BranchID                  int64
	BranchName                string
	Items                     []SaleItem
	TotalAmountBeforeDiscount int64
	TotalAmount               int64
	Status                    SaleStatus
	Version                   int64
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// NewSaleNumber формирует человекочитаемый номер вида S-20240131-1A2B3C4D.
func NewSaleNumber(now time.Time) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("S-%s-%s", now.UTC().Format("20060102"), strings.ToUpper(raw[:8]))
}

// IsActive сообщает, можно ли изменять или отменять продажу.
func (s *Sale) IsActive() bool {
	return s.Status == SaleStatusActive
}

// ItemCount возвращает суммарное количество единиц во всех позициях.
func (s *Sale) ItemCount() int32 {
	var total int32
	for _, item := range s.Items {
		total += item.Quantity
	}
	return total
}

// Cancel переводит продажу в отменённое состояние.
func (s *Sale) Cancel(now time.Time) error {
	if !s.IsActive() {
		return ErrSaleNotActive
	}
	s.Status = SaleStatusCancelled
	s.UpdatedAt = now
	return nil
}

// productQuantities суммирует количество по каждому товару.
func (s *Sale) productQuantities() map[int64]int32 {
	totals := make(map[int64]int32, len(s.Items))
	for _, item := range s.Items {
		totals[item.ProductID] += item.Quantity
	}
	return totals
}

// ApplyDiscounts пересчитывает скидки позиций.
// Ступень выбирается по суммарному количеству товара во всей продаже.
func (s *Sale) ApplyDiscounts() error {
	totals := s.productQuantities()
	rates := make(map[int64]int64, len(totals))
	for productID, qty := range totals {
		rate, err := DiscountRate(qty)
		if err != nil {
			return fmt.Errorf("product %d: %w", productID, err)
		}
		rates[productID] = rate
	}

	for i := range s.Items {
		item := &s.Items[i]
		discount, err := discountAmount(item.Quantity, item.UnitPrice, rates[item.ProductID])
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		item.Discount = discount
	}
	return nil
}

// CalculateTotals пересчитывает суммы позиций и продажи.
// При переполнении суммы продажи не меняются.
func (s *Sale) CalculateTotals() error {
	var gross, net int64
	for i := range s.Items {
		item := &s.Items[i]
		itemGross, err := item.GrossAmount()
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		item.TotalAmount = itemGross - item.Discount
		if gross, err = addAmount(gross, itemGross); err != nil {
			return err
		}
		if net, err = addAmount(net, item.TotalAmount); err != nil {
			return err
		}
	}
	s.TotalAmountBeforeDiscount = gross
	s.TotalAmount = net
	return nil
}

// Recalculate применяет скидки и пересчитывает итоги.
func (s *Sale) Recalculate() error {
	if err := s.ApplyDiscounts(); err != nil {
		return err
	}
	return s.CalculateTotals()
}

// ValidateInvariants проверяет базовые инварианты продажи и возвращает список замечаний.
func (s *Sale) ValidateInvariants() []error {
	var errs []error

	if s.CustomerID <= 0 {
		errs = append(errs, ErrCustomerRequired)
	}
	errs = appendNameErrors(errs, s.CustomerName, ErrCustomerNameRequired, ErrCustomerNameTooLong)
	if s.BranchID <= 0 {
		errs = append(errs, ErrBranchRequired)
	}
	errs = appendNameErrors(errs, s.BranchName, ErrBranchNameRequired, ErrBranchNameTooLong)
	if s.SaleDate.IsZero() {
		errs = append(errs, ErrSaleDateRequired)
	}
	if len(s.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	for _, item := range s.Items {
		if item.ProductID <= 0 {
			errs = append(errs, ErrProductRequired)
		}
		errs = appendNameErrors(errs, item.ProductName, ErrProductNameRequired, ErrProductNameTooLong)
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		switch {
		case item.UnitPrice <= 0:
			errs = append(errs, ErrItemPriceInvalid)
		case item.UnitPrice > MaxUnitPrice:
			errs = append(errs, ErrItemPriceTooLarge)
		}
	}

	for _, qty := range s.productQuantities() {
		if qty > MaxIdenticalItems {
			errs = append(errs, ErrQuantityLimitExceeded)
			break
		}
	}

	return errs
}

// Validate объединяет нарушения инвариантов в одну ошибку.
func (s *Sale) Validate() error {
	return errors.Join(s.ValidateInvariants()...)
}

// EventData возвращает снимок продажи для журнала событий.
func (s *Sale) EventData() SaleEventData {
	return SaleEventData{
		SaleID:      s.ID,
		CustomerID:  s.CustomerID,
		SaleDate:    s.SaleDate,
		TotalAmount: s.TotalAmount,
		ItemCount:   s.ItemCount(),
	}
}

func appendNameErrors(errs []error, name string, required, tooLong error) []error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return append(errs, required)
	case utf8.RuneCountInString(trimmed) > MaxNameLength:
		return append(errs, tooLong)
	default:
		return errs
	}
}
