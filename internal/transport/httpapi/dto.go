package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
)

// SaleItemRequest - позиция продажи во входящем запросе.
// UnitPrice валидируется через decimalValue, верхняя граница совпадает с domain.MaxUnitPrice.
type SaleItemRequest struct {
	ProductID   int64           `json:"productId" binding:"required,gt=0"`
	ProductName string          `json:"productName" binding:"required,max=200"`
	Quantity    int32           `json:"quantity" binding:"required,min=1,max=20"`
	UnitPrice   decimal.Decimal `json:"unitPrice" binding:"required,gt=0,lte=10000000"`
}

// SaleRequest - тело POST и PUT запросов.
type SaleRequest struct {
	SaleDate     time.Time         `json:"saleDate" binding:"required"`
	CustomerID   int64             `json:"customerId" binding:"required,gt=0"`
	CustomerName string            `json:"customerName" binding:"required,max=200"`
	BranchID     int64             `json:"branchId" binding:"required,gt=0"`
	BranchName   string            `json:"branchName" binding:"required,max=200"`
	Items        []SaleItemRequest `json:"items" binding:"required,min=1,dive"`
}

// SaleItemResponse - позиция продажи в ответе.
type SaleItemResponse struct {
	ID          string          `json:"id"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Discount    decimal.Decimal `json:"discount"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// SaleResponse - представление продажи в ответах API.
type SaleResponse struct {
	ID                        string             `json:"id"`
	SaleNumber                string             `json:"saleNumber"`
	SaleDate                  time.Time          `json:"saleDate"`
	CustomerID                int64              `json:"customerId"`
	CustomerName              string             `json:"customerName"`
	BranchID                  int64              `json:"branchId"`
	BranchName                string             `json:"branchName"`
	TotalAmountBeforeDiscount decimal.Decimal    `json:"totalAmountBeforeDiscount"`
	TotalAmount               decimal.Decimal    `json:"totalAmount"`
	IsCancelled               bool               `json:"isCancelled"`
	Version                   int64              `json:"version"`
	CreatedAt                 time.Time          `json:"createdAt"`
	UpdatedAt                 time.Time          `json:"updatedAt"`
	Items                     []SaleItemResponse `json:"items"`
}

// SaleEventResponse - запись журнала событий продажи.
type SaleEventResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	SaleID      string          `json:"saleId"`
	CustomerID  int64           `json:"customerId"`
	SaleDate    time.Time       `json:"saleDate"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ItemCount   int32           `json:"itemCount"`
	Version     int             `json:"version"`
	Date        time.Time       `json:"date"`
}

var hundred = decimal.NewFromInt(100)

// toMinorUnits переводит денежную сумму в копейки, округляя половину от нуля.
// Сумма должна быть уже ограничена валидацией: IntPart не сообщает о переполнении.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func (r SaleRequest) toCreateInput() sales.CreateInput {
	items := make([]sales.ItemInput, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, sales.ItemInput{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   toMinorUnits(item.UnitPrice),
		})
	}
	return sales.CreateInput{
		SaleDate:     r.SaleDate,
		CustomerID:   r.CustomerID,
		CustomerName: r.CustomerName,
		BranchID:     r.BranchID,
		BranchName:   r.BranchName,
		Items:        items,
	}
}

func (r SaleRequest) toUpdateInput() sales.UpdateInput {
	return sales.UpdateInput(r.toCreateInput())
}

func toSaleResponse(sale domain.Sale) SaleResponse {
	items := make([]SaleItemResponse, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, SaleItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   fromMinorUnits(item.UnitPrice),
			Discount:    fromMinorUnits(item.Discount),
			TotalAmount: fromMinorUnits(item.TotalAmount),
		})
	}
	return SaleResponse{
		ID:                        sale.ID,
		SaleNumber:                sale.SaleNumber,
		SaleDate:                  sale.SaleDate,
		CustomerID:                sale.CustomerID,
		CustomerName:              sale.CustomerName,
		BranchID:                  sale.BranchID,
		BranchName:                sale.BranchName,
		TotalAmountBeforeDiscount: fromMinorUnits(sale.TotalAmountBeforeDiscount),
		TotalAmount:               fromMinorUnits(sale.TotalAmount),
		IsCancelled:               sale.Status == domain.SaleStatusCancelled,
		Version:                   sale.Version,
		CreatedAt:                 sale.CreatedAt,
		UpdatedAt:                 sale.UpdatedAt,
		Items:                     items,
	}
}

func toSaleResponses(list []domain.Sale) []SaleResponse {
	out := make([]SaleResponse, 0, len(list))
	for _, sale := range list {
		out = append(out, toSaleResponse(sale))
	}
	return out
}

func toEventResponses(events []domain.SaleEvent) []SaleEventResponse {
	out := make([]SaleEventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, SaleEventResponse{
			ID:          event.ID,
			Type:        string(event.Type),
			SaleID:      event.Data.SaleID,
			CustomerID:  event.Data.CustomerID,
			SaleDate:    event.Data.SaleDate,
			TotalAmount: fromMinorUnits(event.Data.TotalAmount),
			ItemCount:   event.Data.ItemCount,
			Version:     event.Version,
			Date:        event.Date,
		})
	}
	return out
}
