package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	messageValidationFailed = "Validation failed"
	messageInternalError    = "An unexpected error occurred"
)

// ErrorDetail описывает одну ошибку в ответе.
type ErrorDetail struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// APIResponse - общий конверт ответов API.
type APIResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Data    any           `json:"data,omitempty"`
	Errors  []ErrorDetail `json:"errors,omitempty"`
}

// PaginatedResponse - конверт ответа со страницей продаж.
type PaginatedResponse struct {
	Success     bool           `json:"success"`
	Data        []SaleResponse `json:"data"`
	CurrentPage int            `json:"currentPage"`
	TotalPages  int            `json:"totalPages"`
	TotalCount  int            `json:"totalCount"`
}

func respondData(c *gin.Context, status int, message string, data any) {
	c.JSON(status, APIResponse{Success: true, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, message string, details ...ErrorDetail) {
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Message: message, Errors: details})
}

// respondServiceError переводит ошибку сервиса продаж в HTTP-ответ.
// Для cancel ErrSaleNotActive означает «не найдена или уже отменена» и отдаётся как 404.
func (h *Handler) respondServiceError(c *gin.Context, operation, saleID string, err error) {
	switch {
	case domain.IsValidationError(err):
		respondError(c, http.StatusBadRequest, messageValidationFailed, domainErrorDetails(err)...)
	case errors.Is(err, domain.ErrSaleNotFound):
		respondError(c, http.StatusNotFound, fmt.Sprintf("Sale with ID %s not found", saleID))
	case errors.Is(err, domain.ErrSaleNotActive) && operation == operationCancel:
		respondError(c, http.StatusNotFound, fmt.Sprintf("Sale with ID %s not found or already cancelled", saleID))
	case errors.Is(err, domain.ErrSaleNotActive):
		respondError(c, http.StatusConflict, fmt.Sprintf("Sale with ID %s is cancelled", saleID))
	case domain.IsVersionConflict(err):
		respondError(c, http.StatusConflict, "Sale was modified concurrently, retry the request")
	case errors.Is(err, domain.ErrSaleAlreadyExists):
		respondError(c, http.StatusConflict, "Sale already exists")
	default:
		h.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"sale_id":   saleID,
		}).Error("sales request failed")
		respondError(c, http.StatusInternalServerError, messageInternalError)
	}
}

// domainErrorDetails раскрывает errors.Join из валидации продажи.
func domainErrorDetails(err error) []ErrorDetail {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	details := make([]ErrorDetail, 0, len(errs))
	for _, e := range errs {
		details = append(details, ErrorDetail{Error: "ValidationError", Detail: e.Error()})
	}
	return details
}

// bindErrorDetails формирует детали ошибок привязки тела запроса.
func bindErrorDetails(err error) []ErrorDetail {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return []ErrorDetail{{Error: "InvalidBody", Detail: err.Error()}}
	}

	details := make([]ErrorDetail, 0, len(validationErrs))
	for _, fe := range validationErrs {
		details = append(details, ErrorDetail{
			Error:  fieldPath(fe),
			Detail: fieldMessage(fe),
		})
	}
	return details
}

// fieldPath возвращает путь поля без имени корневой структуры: items[0].quantity.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty.", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s.", field, fe.Param())
	case "min":
		if fe.Kind().String() == "slice" {
			return fmt.Sprintf("%s must contain at least %s element(s).", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s.", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s.", field, fe.Param())
	case "max":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s must not exceed %s characters.", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s.", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s).", field, fe.Tag())
	}
}
