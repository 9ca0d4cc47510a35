package domain

import "time"

// OrderStatus описывает жизненный цикл заказа на доставку.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ждёт, пока его примет партнёр по доставке.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAssigned — заказ закреплён за партнёром по доставке.
	OrderStatusAssigned OrderStatus = "assigned"
	// OrderStatusPickedUp — партнёр забрал заказ у продавца.
	OrderStatusPickedUp OrderStatus = "picked_up"
	// OrderStatusOnTheWay — партнёр везёт заказ клиенту.
	OrderStatusOnTheWay OrderStatus = "on_the_way"
	// OrderStatusDelivered — заказ доставлен клиенту (терминальный статус).
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до доставки (терминальный статус).
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus описывает состояние оплаты заказа.
// Ось оплаты полностью независима от оси доставки.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// statusRank задаёт каноническую последовательность статусов доставки.
// cancelled в последовательность не входит: он достижим из любого нетерминального статуса.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusAssigned:  1,
	OrderStatusPickedUp:  2,
	OrderStatusOnTheWay:  3,
	OrderStatusDelivered: 4,
}

// KnownStatus сообщает, является ли строка валидным статусом доставки.
func KnownStatus(s OrderStatus) bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// KnownPaymentStatus сообщает, является ли строка валидным статусом оплаты.
func KnownPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	}
	return false
}

// IsTerminal сообщает, достиг ли заказ терминального статуса.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransition проверяет легальность прямого перехода: следующий статус
// в канонической последовательности либо отмена нетерминального заказа.
func CanTransition(from, to OrderStatus) bool {
	if to == OrderStatusCancelled {
		return !from.IsTerminal()
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank == fromRank+1
}

// IsForward сообщает, является ли to строго более поздним статусом, чем from.
// Используется консьюмерами событий: редоставленное или переупорядоченное
// событие со «старым» статусом игнорируется, а не откатывает заказ назад.
func IsForward(from, to OrderStatus) bool {
	if from == OrderStatusCancelled || to == OrderStatusCancelled {
		return to == OrderStatusCancelled && !from.IsTerminal()
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank > fromRank
}

// StatusRequiresPartner сообщает, обязан ли заказ в данном статусе иметь партнёра.
func StatusRequiresPartner(s OrderStatus) bool {
	rank, ok := statusRank[s]
	return ok && rank >= statusRank[OrderStatusAssigned]
}

// OrderItem представляет одну позицию заказа (снимок товара на момент покупки).
type OrderItem struct {
	// ProductID — внешний идентификатор товара в каталоге.
	ProductID string
	// Name — название товара на момент оформления.
	Name string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
}

// GeoPoint — координата для геолокации партнёра и адреса доставки.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Address — структурированный адрес доставки.
type Address struct {
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Location   *GeoPoint
}

// Order агрегирует каноническое состояние заказа.
// Владелец записи — order-service; dispatch-service держит собственную
// зеркальную копию и никогда не читает эту напрямую.
type Order struct {
	ID            string
	CustomerID    string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	// PartnerID — email принявшего партнёра; пустая строка означает «не назначен».
	PartnerID   string
	Items       []OrderItem
	AmountMinor int64
	Address     Address
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Address.Line1 == "" || o.Address.City == "" {
		errs = append(errs, ErrAddressRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.AmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if calc != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	// Инвариант назначения: партнёр выставлен тогда и только тогда,
	// когда заказ находится в статусе assigned или позже.
	if StatusRequiresPartner(o.Status) && o.PartnerID == "" {
		errs = append(errs, ErrPartnerRequired)
	}
	if !StatusRequiresPartner(o.Status) && o.Status != OrderStatusCancelled && o.PartnerID != "" {
		errs = append(errs, ErrPartnerNotAllowed)
	}

	return errs
}
