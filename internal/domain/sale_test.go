package domain_test

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// helper для создания базовой продажи с одной позицией.
func makeSale() domain.Sale {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	return domain.Sale{
		ID:           "sale-1",
		SaleNumber:   "S-20250115-ABCDEF12",
		SaleDate:     now,
		CustomerID:   1,
		CustomerName: "John Doe",
		BranchID:     7,
		BranchName:   "Downtown",
		Items: []domain.SaleItem{
			{
				ID:          "item-1",
				ProductID:   100,
				ProductName: "Beer",
				Quantity:    2,
				UnitPrice:   1050,
			},
		},
		Status:    domain.SaleStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaleValidateInvariants_Ok(t *testing.T) {
	sale := makeSale()
	if errs := sale.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestSaleValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(s *domain.Sale)
		want error
	}{
		{name: "no customer", mut: func(s *domain.Sale) { s.CustomerID = 0 }, want: domain.ErrCustomerRequired},
		{name: "blank customer name", mut: func(s *domain.Sale) { s.CustomerName = "  " }, want: domain.ErrCustomerNameRequired},
		{name: "long customer name", mut: func(s *domain.Sale) { s.CustomerName = strings.Repeat("a", 201) }, want: domain.ErrCustomerNameTooLong},
		{name: "no branch", mut: func(s *domain.Sale) { s.BranchID = -1 }, want: domain.ErrBranchRequired},
		{name: "blank branch name", mut: func(s *domain.Sale) { s.BranchName = "" }, want: domain.ErrBranchNameRequired},
		{name: "no date", mut: func(s *domain.Sale) { s.SaleDate = time.Time{} }, want: domain.ErrSaleDateRequired},
		{name: "no items", mut: func(s *domain.Sale) { s.Items = nil }, want: domain.ErrItemsRequired},
		{name: "no product", mut: func(s *domain.Sale) { s.Items[0].ProductID = 0 }, want: domain.ErrProductRequired},
		{name: "long product name", mut: func(s *domain.Sale) { s.Items[0].ProductName = strings.Repeat("п", 201) }, want: domain.ErrProductNameTooLong},
		{name: "qty invalid", mut: func(s *domain.Sale) { s.Items[0].Quantity = 0 }, want: domain.ErrItemQtyInvalid},
		{name: "price invalid", mut: func(s *domain.Sale) { s.Items[0].UnitPrice = 0 }, want: domain.ErrItemPriceInvalid},
		{name: "price above limit", mut: func(s *domain.Sale) { s.Items[0].UnitPrice = domain.MaxUnitPrice + 1 }, want: domain.ErrItemPriceTooLarge},
		{
			name: "same product split across lines exceeds cap",
			mut: func(s *domain.Sale) {
				s.Items[0].Quantity = 15
				s.Items = append(s.Items, domain.SaleItem{ID: "item-2", ProductID: 100, ProductName: "Beer", Quantity: 6, UnitPrice: 1050})
			},
			want: domain.ErrQuantityLimitExceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sale := makeSale()
			tc.mut(&sale)
			errs := sale.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors")
			}
			if !errors.Is(sale.Validate(), tc.want) {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestSaleNameLengthCountsRunes(t *testing.T) {
	sale := makeSale()
	sale.CustomerName = strings.Repeat("я", 200)
	if errs := sale.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("200 runes must be accepted, got %v", errs)
	}
}

func TestSaleRecalculate(t *testing.T) {
	sale := makeSale()
	sale.Items = []domain.SaleItem{
		{ID: "a", ProductID: 1, ProductName: "A", Quantity: 3, UnitPrice: 1000},
		{ID: "b", ProductID: 2, ProductName: "B", Quantity: 5, UnitPrice: 1000},
		{ID: "c", ProductID: 3, ProductName: "C", Quantity: 12, UnitPrice: 250},
	}

	if err := sale.Recalculate(); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	type line struct{ Discount, Total int64 }
	got := make([]line, 0, len(sale.Items))
	for _, item := range sale.Items {
		got = append(got, line{Discount: item.Discount, Total: item.TotalAmount})
	}
	want := []line{
		{Discount: 0, Total: 3000},
		{Discount: 500, Total: 4500},
		{Discount: 600, Total: 2400},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("line totals mismatch (-want +got):\n%s", diff)
	}
	if sale.TotalAmountBeforeDiscount != 11000 {
		t.Fatalf("expected gross 11000, got %d", sale.TotalAmountBeforeDiscount)
	}
	if sale.TotalAmount != 9900 {
		t.Fatalf("expected total 9900, got %d", sale.TotalAmount)
	}
	if sale.ItemCount() != 20 {
		t.Fatalf("expected item count 20, got %d", sale.ItemCount())
	}
}

func TestSaleRecalculate_TierBySummedQuantity(t *testing.T) {
	sale := makeSale()
	sale.Items = []domain.SaleItem{
		{ID: "a", ProductID: 1, ProductName: "A", Quantity: 2, UnitPrice: 100},
		{ID: "b", ProductID: 1, ProductName: "A", Quantity: 2, UnitPrice: 100},
	}

	if err := sale.Recalculate(); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	for _, item := range sale.Items {
		if item.Discount != 20 {
			t.Fatalf("expected 10%% discount on each line, got %d", item.Discount)
		}
	}
	if sale.TotalAmount != 360 {
		t.Fatalf("expected total 360, got %d", sale.TotalAmount)
	}
}

func TestSaleRecalculate_RoundsHalfUp(t *testing.T) {
	sale := makeSale()
	sale.Items = []domain.SaleItem{{ID: "a", ProductID: 1, ProductName: "A", Quantity: 5, UnitPrice: 333}}

	if err := sale.Recalculate(); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	// 5 * 333 = 1665, 10% = 166.5 -> 167
	if sale.Items[0].Discount != 167 {
		t.Fatalf("expected discount 167, got %d", sale.Items[0].Discount)
	}
}

func TestSaleRecalculate_RejectsOverCap(t *testing.T) {
	sale := makeSale()
	sale.Items[0].Quantity = 21
	if err := sale.Recalculate(); !errors.Is(err, domain.ErrQuantityLimitExceeded) {
		t.Fatalf("expected ErrQuantityLimitExceeded, got %v", err)
	}
}

func TestSaleRecalculate_Overflow(t *testing.T) {
	sale := makeSale()
	sale.Items = []domain.SaleItem{{ID: "a", ProductID: 1, ProductName: "A", Quantity: 20, UnitPrice: 9e16}}

	err := sale.Recalculate()
	if !errors.Is(err, domain.ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if !domain.IsValidationError(err) {
		t.Fatalf("overflow must be reported as a validation error")
	}
	if sale.TotalAmount != 0 || sale.TotalAmountBeforeDiscount != 0 {
		t.Fatalf("totals must stay untouched, got %d / %d", sale.TotalAmountBeforeDiscount, sale.TotalAmount)
	}
}

func TestSaleRecalculate_LargestPrices(t *testing.T) {
	sale := makeSale()
	sale.Items = []domain.SaleItem{
		{ID: "a", ProductID: 1, ProductName: "A", Quantity: 20, UnitPrice: domain.MaxUnitPrice},
		{ID: "b", ProductID: 2, ProductName: "B", Quantity: 3, UnitPrice: domain.MaxUnitPrice},
	}
	if errs := sale.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("largest price must be accepted, got %v", errs)
	}

	if err := sale.Recalculate(); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if sale.TotalAmountBeforeDiscount != 23*domain.MaxUnitPrice {
		t.Fatalf("unexpected gross %d", sale.TotalAmountBeforeDiscount)
	}
	if sale.TotalAmount != 19*domain.MaxUnitPrice {
		t.Fatalf("unexpected total %d", sale.TotalAmount)
	}
}

func TestSaleCancel(t *testing.T) {
	sale := makeSale()
	at := sale.UpdatedAt.Add(time.Hour)

	if err := sale.Cancel(at); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sale.Status != domain.SaleStatusCancelled || !sale.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected state after cancel: %+v", sale)
	}
	if err := sale.Cancel(at); !errors.Is(err, domain.ErrSaleNotActive) {
		t.Fatalf("expected ErrSaleNotActive on second cancel, got %v", err)
	}
}

func TestNewSaleNumber(t *testing.T) {
	at := time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)
	number := domain.NewSaleNumber(at)
	if !regexp.MustCompile(`^S-20240229-[0-9A-F]{8}$`).MatchString(number) {
		t.Fatalf("unexpected sale number %q", number)
	}
}

func TestSaleEventData(t *testing.T) {
	sale := makeSale()
	if err := sale.Recalculate(); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	want := domain.SaleEventData{
		SaleID:      "sale-1",
		CustomerID:  1,
		SaleDate:    sale.SaleDate,
		TotalAmount: 2100,
		ItemCount:   2,
	}
	if diff := cmp.Diff(want, sale.EventData()); diff != "" {
		t.Fatalf("event data mismatch (-want +got):\n%s", diff)
	}
}
