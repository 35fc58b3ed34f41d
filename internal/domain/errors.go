package domain

import "errors"

var (
	// Ошибка отсутствующего или некорректного идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id must be greater than zero")
	// Ошибка пустого имени клиента.
	ErrCustomerNameRequired = errors.New("customer_name is required")
	// Ошибка слишком длинного имени клиента.
	ErrCustomerNameTooLong = errors.New("customer_name must not exceed 200 characters")
	// Ошибка отсутствующего или некорректного идентификатора филиала.
	ErrBranchRequired = errors.New("branch_id must be greater than zero")
	// Ошибка пустого названия филиала.
	ErrBranchNameRequired = errors.New("branch_name is required")
	// Ошибка слишком длинного названия филиала.
	ErrBranchNameTooLong = errors.New("branch_name must not exceed 200 characters")
	// Ошибка отсутствующей даты продажи.
	ErrSaleDateRequired = errors.New("sale_date is required")
	// Дата продажи не может быть в будущем.
	ErrSaleDateInFuture = errors.New("sale_date cannot be in the future")
	// Ошибка отсутствия хотя бы одной позиции в продаже.
	ErrItemsRequired = errors.New("sale must contain at least one item")
	// Ошибка некорректного идентификатора товара.
	ErrProductRequired = errors.New("product_id must be greater than zero")
	// Ошибка пустого названия товара.
	ErrProductNameRequired = errors.New("product_name is required")
	// Ошибка слишком длинного названия товара.
	ErrProductNameTooLong = errors.New("product_name must not exceed 200 characters")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции не положительная.
	ErrItemPriceInvalid = errors.New("item unit_price must be greater than zero")
	// ErrItemPriceTooLarge - цена позиции выше MaxUnitPrice.
	ErrItemPriceTooLarge = errors.New("item unit_price must not exceed 10000000.00")
	// ErrAmountOverflow - сумма продажи не помещается в поддерживаемый диапазон.
	ErrAmountOverflow = errors.New("sale amount exceeds the supported range")
	// ErrQuantityLimitExceeded - более 20 одинаковых товаров в одной продаже.
	ErrQuantityLimitExceeded = errors.New("cannot sell more than 20 identical items")

	// ErrSaleIDRequired возвращается при пустом идентификаторе продажи.
	ErrSaleIDRequired = errors.New("sale id is required")
	// ErrSaleNotFound возвращается, если продажа не найдена в репозитории.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrSaleNotActive - операция допустима только для активной продажи.
	ErrSaleNotActive = errors.New("sale not found or already cancelled")
	// ErrSaleAlreadyExists - запись с таким ID уже сохранена.
	ErrSaleAlreadyExists = errors.New("sale already exists")
	// ErrSaleVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrSaleVersionConflict = errors.New("sale version conflict")

	// ErrInvalidPage - номер страницы меньше единицы.
	ErrInvalidPage = errors.New("page must be greater than zero")
	// ErrPageTooLarge - номер страницы больше MaxPage.
	ErrPageTooLarge = errors.New("page is too large")
	// ErrInvalidPageSize - размер страницы вне допустимого диапазона.
	ErrInvalidPageSize = errors.New("size must be between 1 and 100")
	// ErrInvalidOrder - порядок сортировки отличается от asc/desc.
	ErrInvalidOrder = errors.New("order must be asc or desc")
	// ErrInvalidDateRange - начало периода позже конца.
	ErrInvalidDateRange = errors.New("sale_date_start must not be after sale_date_end")

	// ErrIdempotencyKeyRequired - пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired - пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound - ключ не найден или истёк.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists - ключ уже используется тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch - ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyInProgress - запрос с этим ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with the same idempotency key is already processing")

	// ErrEventIDRequired - событие журнала без идентификатора.
	ErrEventIDRequired = errors.New("event id is required")
	// ErrUnknownEventType - тип события не поддерживается журналом.
	ErrUnknownEventType = errors.New("unknown sale event type")
	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var validationErrors = []error{
	ErrCustomerRequired,
	ErrCustomerNameRequired,
	ErrCustomerNameTooLong,
	ErrBranchRequired,
	ErrBranchNameRequired,
	ErrBranchNameTooLong,
	ErrSaleDateRequired,
	ErrSaleDateInFuture,
	ErrItemsRequired,
	ErrProductRequired,
	ErrProductNameRequired,
	ErrProductNameTooLong,
	ErrItemQtyInvalid,
	ErrItemPriceInvalid,
	ErrItemPriceTooLarge,
	ErrAmountOverflow,
	ErrQuantityLimitExceeded,
	ErrSaleIDRequired,
	ErrInvalidPage,
	ErrPageTooLarge,
	ErrInvalidPageSize,
	ErrInvalidOrder,
	ErrInvalidDateRange,
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrSaleVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsValidationError сообщает, что ошибка вызвана некорректными входными данными.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
