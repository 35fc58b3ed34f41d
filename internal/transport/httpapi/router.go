package httpapi

import (
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/idempotency"
)

// BasePath - префикс ресурса продаж.
const BasePath = "/api/sales"

// RouterConfig описывает зависимости HTTP API.
type RouterConfig struct {
	Service SaleService
	// Guard включает обработку Idempotency-Key; nil отключает её.
	Guard   *idempotency.Guard
	Metrics *metrics.HTTPMetrics
	Logger  *log.Entry
}

var registerValidatorOnce sync.Once

// NewRouter собирает gin.Engine с middleware и маршрутами продаж.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	registerValidatorOnce.Do(configureBinding)

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(RequestID(), Recovery(logger), Metrics(cfg.Metrics), AccessLog(logger))

	router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "Resource not found")
	})
	router.NoMethod(func(c *gin.Context) {
		respondError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	handler := NewHandler(cfg.Service, logger.WithField("layer", "http"))
	handler.Register(router.Group(BasePath), Idempotency(cfg.Guard, logger))
	return router
}

// configureBinding заставляет validator сообщать имена полей из json-тегов
// и проверять decimal.Decimal числовыми тегами gt/lte.
func configureBinding() {
	// Денежные суммы в ответах остаются JSON-числами.
	decimal.MarshalJSONWithoutQuotes = true

	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	engine.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	engine.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
}

// decimalValue отдаёт validator значение суммы как float64.
// Точность здесь не нужна: число только сравнивается с границами тегов.
func decimalValue(field reflect.Value) any {
	amount, ok := field.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	return amount.InexactFloat64()
}
