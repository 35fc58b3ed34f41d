package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
)

const (
	operationCreate = "create"
	operationGet    = "get"
	operationUpdate = "update"
	operationCancel = "cancel"
	operationList   = "list"
	operationEvents = "events"
)

// SaleService - операции над продажами, которые нужны HTTP API.
type SaleService interface {
	Create(ctx context.Context, in sales.CreateInput) (domain.Sale, error)
	Get(ctx context.Context, id string) (domain.Sale, error)
	Update(ctx context.Context, id string, in sales.UpdateInput) (domain.Sale, error)
	Cancel(ctx context.Context, id string) (domain.Sale, error)
	List(ctx context.Context, query domain.ListQuery) (domain.SalePage, error)
	Events(ctx context.Context, id string) ([]domain.SaleEvent, error)
}

var _ SaleService = (*sales.Service)(nil)

// Handler обслуживает ресурс /api/sales.
type Handler struct {
	service SaleService
	logger  *log.Entry
}

// NewHandler создаёт обработчик продаж.
func NewHandler(service SaleService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "sales-http")
	}
	return &Handler{service: service, logger: logger}
}

// Register регистрирует маршруты продаж в группе.
// Middleware из idempotent применяется только к изменяющим запросам.
func (h *Handler) Register(group gin.IRouter, idempotent ...gin.HandlerFunc) {
	mutating := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(idempotent)+1)
		chain = append(chain, idempotent...)
		return append(chain, handler)
	}

	group.POST("", mutating(h.createSale)...)
	group.GET("", h.listSales)
	group.GET("/:id", h.getSale)
	group.PUT("/:id", mutating(h.updateSale)...)
	group.DELETE("/:id", mutating(h.cancelSale)...)
	group.GET("/:id/events", h.listSaleEvents)
}

func (h *Handler) createSale(c *gin.Context) {
	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, messageValidationFailed, bindErrorDetails(err)...)
		return
	}

	sale, err := h.service.Create(c.Request.Context(), req.toCreateInput())
	if err != nil {
		h.respondServiceError(c, operationCreate, "", err)
		return
	}

	c.Header("Location", "/api/sales/"+sale.ID)
	respondData(c, http.StatusCreated, "Sale created successfully", toSaleResponse(sale))
}

func (h *Handler) getSale(c *gin.Context) {
	id, ok := saleIDParam(c)
	if !ok {
		return
	}

	sale, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, operationGet, id, err)
		return
	}
	respondData(c, http.StatusOK, "", toSaleResponse(sale))
}

func (h *Handler) updateSale(c *gin.Context) {
	id, ok := saleIDParam(c)
	if !ok {
		return
	}

	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, messageValidationFailed, bindErrorDetails(err)...)
		return
	}

	sale, err := h.service.Update(c.Request.Context(), id, req.toUpdateInput())
	if err != nil {
		h.respondServiceError(c, operationUpdate, id, err)
		return
	}
	respondData(c, http.StatusOK, "Sale updated successfully", toSaleResponse(sale))
}

func (h *Handler) cancelSale(c *gin.Context) {
	id, ok := saleIDParam(c)
	if !ok {
		return
	}

	if _, err := h.service.Cancel(c.Request.Context(), id); err != nil {
		h.respondServiceError(c, operationCancel, id, err)
		return
	}
	respondData(c, http.StatusOK, "Sale cancelled successfully", true)
}

func (h *Handler) listSales(c *gin.Context) {
	query, err := parseListQuery(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, messageValidationFailed, ErrorDetail{Error: "InvalidQuery", Detail: err.Error()})
		return
	}

	page, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		h.respondServiceError(c, operationList, "", err)
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Success:     true,
		Data:        toSaleResponses(page.Items),
		CurrentPage: page.CurrentPage,
		TotalPages:  page.TotalPages(),
		TotalCount:  page.TotalCount,
	})
}

func (h *Handler) listSaleEvents(c *gin.Context) {
	id, ok := saleIDParam(c)
	if !ok {
		return
	}

	events, err := h.service.Events(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, operationEvents, id, err)
		return
	}
	respondData(c, http.StatusOK, "", toEventResponses(events))
}

// saleIDParam проверяет, что :id - UUID, и отвечает 400 в противном случае.
func saleIDParam(c *gin.Context) (string, bool) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid sale id", ErrorDetail{
			Error:  "InvalidId",
			Detail: fmt.Sprintf("%q is not a valid UUID", raw),
		})
		return "", false
	}
	return id.String(), true
}

// parseListQuery читает параметры списка. Фильтры принимаются как плоские
// параметры (customerName=...) и как словарь filters[CustomerName]=....
func parseListQuery(c *gin.Context) (domain.ListQuery, error) {
	var query domain.ListQuery

	values := make(map[string]string)
	for key, value := range c.QueryMap("filters") {
		values[strings.ToLower(key)] = value
	}
	for key, list := range c.Request.URL.Query() {
		if len(list) > 0 && !strings.HasPrefix(key, "filters[") {
			values[strings.ToLower(key)] = list[0]
		}
	}

	var err error
	if query.Page, err = intParam(values, "page"); err != nil {
		return query, err
	}
	if query.Size, err = intParam(values, "size"); err != nil {
		return query, err
	}
	query.Order = domain.SortOrder(values["order"])
	query.CustomerName = values["customername"]
	query.BranchName = values["branchname"]

	if query.SaleDate, err = dateParam(values, "saledate", "saleDate"); err != nil {
		return query, err
	}
	if query.SaleDateStart, err = dateParam(values, "saledatestart", "saleDateStart"); err != nil {
		return query, err
	}
	if query.SaleDateEnd, err = dateParam(values, "saledateend", "saleDateEnd"); err != nil {
		return query, err
	}

	if raw := strings.TrimSpace(values["iscancelled"]); raw != "" {
		cancelled, err := strconv.ParseBool(raw)
		if err != nil {
			return query, errors.New("isCancelled must be true or false")
		}
		query.IsCancelled = &cancelled
	}
	return query, nil
}

func intParam(values map[string]string, name string) (int, error) {
	raw := strings.TrimSpace(values[name])
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func dateParam(values map[string]string, key, name string) (*time.Time, error) {
	raw := strings.TrimSpace(values[key])
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be a date in YYYY-MM-DD or RFC3339 format", name)
}
