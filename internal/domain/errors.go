package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия обязательных полей адреса доставки.
	ErrAddressRequired = errors.New("address line1 and city are required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка неизвестного статуса доставки или оплаты.
	ErrUnknownStatus = errors.New("unknown status value")
	// ErrIllegalTransition возвращается при попытке прямого перехода,
	// который не является ни следующим шагом, ни отменой.
	ErrIllegalTransition = errors.New("status transition is not allowed")
	// ErrPartnerRequired — статус требует назначенного партнёра, но его нет.
	ErrPartnerRequired = errors.New("assigned partner is required for this status")
	// ErrPartnerNotAllowed — заказ ещё не назначен, но партнёр уже выставлен.
	ErrPartnerNotAllowed = errors.New("partner must not be set before assignment")
	// ErrPartnerEmailRequired — у партнёра отсутствует email (идентичность).
	ErrPartnerEmailRequired = errors.New("partner email is required")
	// ErrPartnerNameRequired — у партнёра отсутствует имя.
	ErrPartnerNameRequired = errors.New("partner name is required")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrPartnerNotFound возвращается, если партнёр не найден в репозитории.
	ErrPartnerNotFound = errors.New("delivery partner not found")
	// ErrCustomerNotFound возвращается, если зеркальная запись клиента отсутствует.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrOrderAlreadyAssigned — гонка принятия проиграна: заказ уже забрал
	// другой партнёр. Для вызывающего это ожидаемый исход, а не сбой.
	ErrOrderAlreadyAssigned = errors.New("order already assigned")
	// ErrPartnerUnavailable — партнёр уже везёт другой заказ и не может принять новый.
	ErrPartnerUnavailable = errors.New("partner is not available")

	// ErrDuplicateEvent — событие с таким idempotency-key уже обработано.
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrMalformedEvent — payload события не разбирается; сообщение дропается.
	ErrMalformedEvent = errors.New("malformed event payload")
	// ErrInfraUnavailable — временная недоступность инфраструктуры (БД, брокер);
	// операцию можно повторить.
	ErrInfraUnavailable = errors.New("infrastructure temporarily unavailable")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// validationErrs — ошибки, которые REST-слой транслирует в 400.
var validationErrs = []error{
	ErrCustomerRequired, ErrAddressRequired, ErrItemsRequired, ErrAmountNegative,
	ErrItemQtyInvalid, ErrItemPriceInvalid, ErrAmountMismatch, ErrOrderIDRequired,
	ErrUnknownStatus, ErrPartnerRequired, ErrPartnerNotAllowed,
	ErrPartnerEmailRequired, ErrPartnerNameRequired,
}

// IsValidation проверяет, относится ли ошибка к классу ошибок валидации запроса.
func IsValidation(err error) bool {
	for _, v := range validationErrs {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// IsNotFound проверяет, относится ли ошибка к классу «сущность не найдена».
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPartnerNotFound) ||
		errors.Is(err, ErrCustomerNotFound)
}

// IsConflict проверяет, относится ли ошибка к классу конфликтов (гонка
// принятия, конфликт версий, нелегальный переход).
func IsConflict(err error) bool {
	return errors.Is(err, ErrOrderAlreadyAssigned) ||
		errors.Is(err, ErrOrderVersionConflict) ||
		errors.Is(err, ErrPartnerUnavailable) ||
		errors.Is(err, ErrIllegalTransition)
}

// IsTransient проверяет, стоит ли повторять операцию. Консьюмеры событий
// по транзиентным ошибкам уходят в retry, по остальным — ack-and-drop.
func IsTransient(err error) bool {
	return errors.Is(err, ErrInfraUnavailable)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
