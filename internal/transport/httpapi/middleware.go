package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/idempotency"
)

const (
	// HeaderRequestID - заголовок корреляции запроса.
	HeaderRequestID = "X-Request-ID"
	// HeaderIdempotencyKey - ключ идемпотентности изменяющих запросов.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется на ответах, отданных из кеша.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	contextKeyRequestID = "request_id"

	maxRequestBodyBytes = 1 << 20
)

// RequestID присваивает запросу идентификатор, если клиент его не передал.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// AccessLog пишет строку лога на каждый обработанный запрос.
func AccessLog(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(log.Fields{
			"request_id": c.GetString(contextKeyRequestID),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      c.FullPath(),
			"status":     status,
			"latency_ms": time.Since(started).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("http request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("http request rejected")
		default:
			entry.Info("http request served")
		}
	}
}

// Metrics фиксирует метрики запроса по шаблону маршрута.
func Metrics(m *metrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		m.Started()
		c.Next()
		m.Finished(c.Request.Method, c.FullPath(), c.Writer.Status(), started)
	}
}

// Recovery превращает panic обработчика в ответ 500.
func Recovery(logger *log.Entry) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithFields(log.Fields{
			"request_id": c.GetString(contextKeyRequestID),
			"path":       c.Request.URL.Path,
			"panic":      recovered,
		}).Error("panic in http handler")
		respondError(c, http.StatusInternalServerError, messageInternalError)
	})
}

// Idempotency обслуживает заголовок Idempotency-Key. Запросы без ключа
// проходят без изменений. Повтор с тем же ключом и телом получает
// сохранённый ответ, с другим телом 422, параллельный повтор 409.
func Idempotency(guard *idempotency.Guard, logger *log.Entry) gin.HandlerFunc {
	if logger == nil {
		logger = log.WithField("component", "http-idempotency")
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" || guard == nil {
			c.Next()
			return
		}

		// Лишний байт отличает тело ровно в лимит от более длинного.
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodyBytes+1))
		if err != nil {
			respondError(c, http.StatusBadRequest, "Failed to read request body")
			return
		}
		if len(body) > maxRequestBodyBytes {
			respondError(c, http.StatusRequestEntityTooLarge, "Request body is too large")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		hash := idempotency.RequestHash(c.Request.Method, c.Request.URL.Path, body)
		replay, err := guard.Begin(key, hash)
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			respondError(c, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request")
			return
		case errors.Is(err, domain.ErrIdempotencyInProgress):
			respondError(c, http.StatusConflict, "A request with this Idempotency-Key is still being processed")
			return
		case err != nil:
			logger.WithError(err).WithField("idempotency_key", key).Error("idempotency check failed")
			respondError(c, http.StatusInternalServerError, messageInternalError)
			return
		}

		if replay != nil {
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(replay.Status, "application/json; charset=utf-8", replay.Body)
			c.Abort()
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		defer func() {
			// Упавший обработчик переводит ключ в failed с ответом 500, повторы его получают.
			if recovered := recover(); recovered != nil {
				guard.Complete(key, http.StatusInternalServerError, internalErrorBody)
				panic(recovered)
			}
		}()
		c.Next()

		guard.Complete(key, recorder.Status(), recorder.body.Bytes())
	}
}

// internalErrorBody - тело 500, которое сохраняется для ключа, если обработчик упал с panic.
var internalErrorBody, _ = json.Marshal(APIResponse{Success: false, Message: messageInternalError})

// responseRecorder дублирует тело ответа для сохранения по idempotency-key.
type responseRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}

func (r *responseRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
