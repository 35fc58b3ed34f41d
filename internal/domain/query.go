package domain

import (
	"math"
	"strings"
	"time"
)

const (
	// DefaultPageSize используется, если размер страницы не задан.
	DefaultPageSize = 10
	// MaxPageSize ограничивает размер страницы.
	MaxPageSize = 100
	// MaxPage - последний номер страницы, для которого смещение помещается в int.
	MaxPage = math.MaxInt / MaxPageSize
)

// SortOrder задаёт направление сортировки по дате продажи.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListQuery описывает параметры постраничной выборки продаж.
type ListQuery struct {
	Page  int
	Size  int
	Order SortOrder

	CustomerName  string
	BranchName    string
	SaleDate      *time.Time
	SaleDateStart *time.Time
	SaleDateEnd   *time.Time
	// IsCancelled: nil - все продажи, true - только отменённые, false - только активные.
	IsCancelled *bool
}

// Normalize заполняет значения по умолчанию и проверяет параметры выборки.
func (q ListQuery) Normalize() (ListQuery, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 0 {
		return q, ErrInvalidPage
	}
	if q.Page > MaxPage {
		return q, ErrPageTooLarge
	}
	if q.Size == 0 {
		q.Size = DefaultPageSize
	}
	if q.Size < 0 || q.Size > MaxPageSize {
		return q, ErrInvalidPageSize
	}

	q.Order = SortOrder(strings.ToLower(strings.TrimSpace(string(q.Order))))
	switch q.Order {
	case "":
		q.Order = SortAsc
	case SortAsc, SortDesc:
	default:
		return q, ErrInvalidOrder
	}

	q.CustomerName = CleanNameFilter(q.CustomerName)
	q.BranchName = CleanNameFilter(q.BranchName)

	if q.SaleDateStart != nil && q.SaleDateEnd != nil && StartOfDay(*q.SaleDateStart).After(StartOfDay(*q.SaleDateEnd)) {
		return q, ErrInvalidDateRange
	}
	return q, nil
}

// Offset возвращает количество пропускаемых записей.
func (q ListQuery) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.Size
}

// Matches проверяет продажу против фильтров запроса (без пагинации).
func (q ListQuery) Matches(s Sale) bool {
	if q.CustomerName != "" && !containsFold(s.CustomerName, q.CustomerName) {
		return false
	}
	if q.BranchName != "" && !containsFold(s.BranchName, q.BranchName) {
		return false
	}
	day := StartOfDay(s.SaleDate)
	if q.SaleDate != nil && !day.Equal(StartOfDay(*q.SaleDate)) {
		return false
	}
	if q.SaleDateStart != nil && day.Before(StartOfDay(*q.SaleDateStart)) {
		return false
	}
	if q.SaleDateEnd != nil && day.After(StartOfDay(*q.SaleDateEnd)) {
		return false
	}
	if q.IsCancelled != nil && (s.Status == SaleStatusCancelled) != *q.IsCancelled {
		return false
	}
	return true
}

// SalePage - страница результатов выборки.
type SalePage struct {
	Items       []Sale
	TotalCount  int
	CurrentPage int
	PageSize    int
}

// TotalPages вычисляет количество страниц.
func (p SalePage) TotalPages() int {
	if p.PageSize <= 0 || p.TotalCount == 0 {
		return 0
	}
	return (p.TotalCount + p.PageSize - 1) / p.PageSize
}

// CleanNameFilter убирает служебные символы '*' и пробелы по краям.
func CleanNameFilter(v string) string {
	return strings.TrimSpace(strings.ReplaceAll(v, "*", ""))
}

// StartOfDay обрезает время до начала суток в UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
