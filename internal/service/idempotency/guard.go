package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Response - сохранённый ответ, который отдаётся при повторе запроса с тем же ключом.
type Response struct {
	Status int
	Body   []byte
}

// Guard реализует протокол idempotency-key поверх IdempotencyRepository:
// первый запрос занимает ключ, повторы получают сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl <= 0 заменяется на domain.DefaultIdempotencyTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = domain.DefaultIdempotencyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// RequestHash строит отпечаток запроса из метода, пути и тела.
func RequestHash(method, path string, body []byte) string {
	payload := make([]byte, 0, len(method)+len(path)+2+len(body))
	payload = append(payload, method...)
	payload = append(payload, ' ')
	payload = append(payload, path...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Begin занимает ключ под запрос.
//
// Возвращает (nil, nil), если запрос нужно выполнить; сохранённый ответ, если
// запрос с этим ключом уже завершён; ErrIdempotencyHashMismatch, если ключ
// использован с другим запросом; ErrIdempotencyInProgress, пока первый запрос
// не завершился.
func (g *Guard) Begin(key, requestHash string) (*Response, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(key, requestHash, g.now().Add(g.ttl))
	if err == nil {
		return nil, nil
	}

	if !domain.IsIdempotencyConflict(err) {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to create idempotency record")
		return nil, fmt.Errorf("begin idempotent request: %w", err)
	}
	if errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		return nil, err
	}

	switch record.Status {
	case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
		status := record.HTTPStatus
		if status == 0 {
			status = http.StatusOK
		}
		return &Response{Status: status, Body: append([]byte(nil), record.ResponseBody...)}, nil
	default:
		return nil, domain.ErrIdempotencyInProgress
	}
}

// Complete сохраняет ответ запроса. Успешные ответы помечают ключ как done,
// ответы с ошибкой как failed; оба варианта отдаются повторным запросам.
func (g *Guard) Complete(key string, status int, body []byte) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	var err error
	if status >= http.StatusOK && status < http.StatusBadRequest {
		err = g.repo.MarkDone(key, body, status)
	} else {
		err = g.repo.MarkFailed(key, body, status)
	}
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": key,
			"http_status":     status,
		}).Warn("failed to store idempotent response")
	}
}
